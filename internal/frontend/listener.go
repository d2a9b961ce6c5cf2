package frontend

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// CacheInvalidator owns the per-frontend caches derived from registry state:
// resolved authentication-scheme options and proxied index pages, both keyed
// by frontend name. It drains the registry's change queue serially from one
// background goroutine, so invalidation work is bounded to one event at a
// time without ever blocking the publisher.
type CacheInvalidator struct {
	events *EventQueue

	mu            sync.RWMutex
	schemeOptions map[string]*SchemeOptions
	indexPages    map[string][]byte
}

// SchemeOptions are a frontend's fully-resolved authentication settings.
type SchemeOptions struct {
	Oidc   OidcOptions
	Cookie CookieOptions
}

// NewCacheInvalidator builds the cache layer over a registry's event queue.
func NewCacheInvalidator(events *EventQueue) *CacheInvalidator {
	return &CacheInvalidator{
		events:        events,
		schemeOptions: make(map[string]*SchemeOptions),
		indexPages:    make(map[string][]byte),
	}
}

// Run drains the change queue until it closes. Call from a dedicated
// goroutine.
func (l *CacheInvalidator) Run() {
	for {
		event, ok := l.events.Pop()
		if !ok {
			return
		}
		l.evict(event.Frontend.Name)
		log.WithFields(log.Fields{
			"frontend": event.Frontend.Name,
			"kind":     event.Kind.String(),
		}).Debug("frontend caches invalidated")
	}
}

func (l *CacheInvalidator) evict(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.schemeOptions, name)
	delete(l.indexPages, name)
}

// ResolveSchemeOptions returns the frontend's authentication-scheme options,
// running its option delegates at most once until the next invalidation.
func (l *CacheInvalidator) ResolveSchemeOptions(f *Frontend) *SchemeOptions {
	l.mu.RLock()
	cached, ok := l.schemeOptions[f.Name]
	l.mu.RUnlock()
	if ok {
		return cached
	}

	opts := &SchemeOptions{}
	if f.ConfigureOidc != nil {
		f.ConfigureOidc(&opts.Oidc)
	}
	if f.ConfigureCookie != nil {
		f.ConfigureCookie(&opts.Cookie)
	}

	l.mu.Lock()
	l.schemeOptions[f.Name] = opts
	l.mu.Unlock()
	return opts
}

// IndexPage returns a cached proxied index response for the frontend.
func (l *CacheInvalidator) IndexPage(name string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	body, ok := l.indexPages[name]
	return body, ok
}

// StoreIndexPage caches a proxied index response for the frontend.
func (l *CacheInvalidator) StoreIndexPage(name string, body []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indexPages[name] = body
}
