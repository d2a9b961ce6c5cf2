package frontend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// frontendConfig is the on-disk shape of one frontend entry.
type frontendConfig struct {
	Name            string         `json:"name"`
	MatchingOrigin  string         `json:"matchingOrigin,omitempty"`
	MatchingPath    string         `json:"matchingPath,omitempty"`
	DefaultFrontend bool           `json:"defaultFrontend,omitempty"`
	Oidc            *OidcOptions   `json:"oidc,omitempty"`
	Cookie          *cookieConfig  `json:"cookie,omitempty"`
}

type cookieConfig struct {
	Name     string `json:"name,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// LoadConfig reads a JSON array of frontend entries from path. Entries with
// an oidc or cookie section get the matching option delegate; entries without
// one leave the delegate nil so reload change detection stays cheap for them.
func LoadConfig(path string) ([]*Frontend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frontend config: %w", err)
	}

	var entries []frontendConfig
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse frontend config: %w", err)
	}

	frontends := make([]*Frontend, 0, len(entries))
	for i, entry := range entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("frontend config entry %d has no name", i)
		}
		frontends = append(frontends, entry.toFrontend())
	}
	return frontends, nil
}

// Reload re-reads path and replaces the collection's contents, emitting
// change events for the diff.
func Reload(c *Collection, path string) error {
	frontends, err := LoadConfig(path)
	if err != nil {
		return err
	}
	c.Load(frontends)
	return nil
}

func (e frontendConfig) toFrontend() *Frontend {
	f := &Frontend{
		Name:            e.Name,
		MatchingOrigin:  e.MatchingOrigin,
		MatchingPath:    e.MatchingPath,
		DefaultFrontend: e.DefaultFrontend,
	}
	if e.Oidc != nil {
		oidc := *e.Oidc
		f.ConfigureOidc = func(o *OidcOptions) { *o = oidc }
	}
	if e.Cookie != nil {
		cookie := *e.Cookie
		f.ConfigureCookie = func(o *CookieOptions) {
			o.Name = cookie.Name
			o.Secure = cookie.Secure
			o.SameSite = parseSameSite(cookie.SameSite)
		}
	}
	return f
}

func parseSameSite(v string) http.SameSite {
	switch v {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax", "":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}
