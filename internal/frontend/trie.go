package frontend

import "strings"

// pathTrie maps path prefixes onto frontends, one node per path segment.
type pathTrie struct {
	root *trieNode
}

type trieNode struct {
	children map[string]*trieNode
	frontend *Frontend
}

func newPathTrie() *pathTrie {
	return &pathTrie{root: &trieNode{}}
}

// splitPath breaks a request path into segments; "/" and "" yield none.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// insert stores f under path. It reports false when the slot is already
// taken; the first registration wins.
func (t *pathTrie) insert(path string, f *Frontend) bool {
	node := t.root
	for _, segment := range splitPath(path) {
		if node.children == nil {
			node.children = make(map[string]*trieNode)
		}
		child, ok := node.children[segment]
		if !ok {
			child = &trieNode{}
			node.children[segment] = child
		}
		node = child
	}
	if node.frontend != nil {
		return false
	}
	node.frontend = f
	return true
}

// lookup walks the trie along path, keeping the deepest node with a stored
// frontend as the best match so far. A query deeper than any stored prefix
// still matches that prefix.
func (t *pathTrie) lookup(path string) *Frontend {
	node := t.root
	best := node.frontend
	for _, segment := range splitPath(path) {
		child, ok := node.children[segment]
		if !ok {
			break
		}
		node = child
		if node.frontend != nil {
			best = node.frontend
		}
	}
	return best
}
