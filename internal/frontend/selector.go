package frontend

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Selector resolves a request's (origin, path) to a frontend. It is
// immutable once built; the collection swaps whole selectors on mutation.
type Selector struct {
	origins  map[string]*pathTrie
	pathOnly *pathTrie
	def      *Frontend
}

// buildSelector indexes the given frontends. Insertion order does not
// affect resolution; conflicts keep the first registration and warn.
func buildSelector(frontends []*Frontend) *Selector {
	s := &Selector{
		origins:  make(map[string]*pathTrie),
		pathOnly: newPathTrie(),
	}
	for _, f := range frontends {
		s.add(f)
	}
	return s
}

// TODO: surface duplicate-registration conflicts to the operator instead of
// only warning here.
func (s *Selector) add(f *Frontend) {
	if f.DefaultFrontend {
		if s.def != nil {
			log.WithFields(log.Fields{
				"frontend": f.Name,
				"existing": s.def.Name,
			}).Warn("duplicate default frontend dropped")
			return
		}
		s.def = f
	}
	if f.MatchingOrigin == "" && f.MatchingPath == "" {
		if !f.DefaultFrontend {
			log.WithField("frontend", f.Name).Warn("frontend has no selection criteria and is not the default, dropped")
		}
		return
	}

	trie := s.pathOnly
	if f.MatchingOrigin != "" {
		origin := strings.ToLower(f.MatchingOrigin)
		trie = s.origins[origin]
		if trie == nil {
			trie = newPathTrie()
			s.origins[origin] = trie
		}
	}
	if !trie.insert(f.MatchingPath, f) {
		log.WithFields(log.Fields{
			"frontend": f.Name,
			"origin":   f.MatchingOrigin,
			"path":     f.MatchingPath,
		}).Warn("duplicate frontend selection criteria dropped")
	}
}

// Select resolves host and path to the most specific frontend: the origin's
// trie first, then the path-only trie, then the default. It returns nil when
// nothing matches.
func (s *Selector) Select(host, path string) *Frontend {
	if trie, ok := s.origins[strings.ToLower(host)]; ok {
		if f := trie.lookup(path); f != nil {
			return f
		}
	}
	if f := s.pathOnly.lookup(path); f != nil {
		return f
	}
	return s.def
}
