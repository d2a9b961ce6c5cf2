package frontend

import "net/http"

// OidcOptions are the per-frontend OIDC authentication settings a frontend
// may customize through its delegate.
type OidcOptions struct {
	Authority    string   `json:"authority,omitempty"`
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// CookieOptions are the per-frontend session cookie settings.
type CookieOptions struct {
	Name     string        `json:"name,omitempty"`
	Secure   bool          `json:"secure,omitempty"`
	SameSite http.SameSite `json:"-"`
}

// Frontend is one virtual-host/path routing rule of the BFF. A frontend with
// neither origin nor path can only be selected as the default.
type Frontend struct {
	Name string

	// MatchingOrigin is "host" or "host:port"; empty means path-only.
	MatchingOrigin string

	// MatchingPath is the path prefix; empty matches any path on the origin.
	MatchingPath string

	// DefaultFrontend marks the registry-wide fallback.
	DefaultFrontend bool

	// Option delegates. Their presence (not their behavior) feeds change
	// detection: a delegate's effect cannot be compared, so any non-nil
	// delegate makes the frontend count as changed on reload.
	ConfigureOidc   func(*OidcOptions)
	ConfigureCookie func(*CookieOptions)
}

// selectable reports whether the frontend has any selection criteria at all.
func (f *Frontend) selectable() bool {
	return f.MatchingOrigin != "" || f.MatchingPath != "" || f.DefaultFrontend
}

// hasOptionDelegates reports whether either option delegate is set.
func (f *Frontend) hasOptionDelegates() bool {
	return f.ConfigureOidc != nil || f.ConfigureCookie != nil
}

// ChangeKind classifies a registry change event.
type ChangeKind int

const (
	FrontendAdded ChangeKind = iota
	FrontendChanged
	FrontendRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case FrontendAdded:
		return "added"
	case FrontendChanged:
		return "changed"
	case FrontendRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent is one registry mutation, consumed by cache-invalidation
// listeners.
type ChangeEvent struct {
	Kind     ChangeKind
	Frontend *Frontend
}

// isUpdated approximates "did this frontend change between reloads". Any
// option delegate on either side counts as changed even when both sides are
// semantically identical: over-invalidating a cache is recoverable,
// serving stale scheme options is not.
func isUpdated(old, updated *Frontend) bool {
	if old.hasOptionDelegates() || updated.hasOptionDelegates() {
		return true
	}
	return old.MatchingOrigin != updated.MatchingOrigin ||
		old.MatchingPath != updated.MatchingPath ||
		old.DefaultFrontend != updated.DefaultFrontend
}
