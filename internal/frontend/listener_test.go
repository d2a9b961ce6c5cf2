package frontend

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSchemeOptionsCachesDelegateResults(t *testing.T) {
	c := NewCollection()
	inv := NewCacheInvalidator(c.Events())

	calls := 0
	f := &Frontend{
		Name:         "app",
		MatchingPath: "/app",
		ConfigureOidc: func(o *OidcOptions) {
			calls++
			o.ClientID = "client-app"
		},
		ConfigureCookie: func(o *CookieOptions) {
			o.Name = "app.session"
		},
	}

	opts := inv.ResolveSchemeOptions(f)
	assert.Equal(t, "client-app", opts.Oidc.ClientID)
	assert.Equal(t, "app.session", opts.Cookie.Name)

	inv.ResolveSchemeOptions(f)
	assert.Equal(t, 1, calls)
}

func TestRunEvictsOnChangeEvents(t *testing.T) {
	c := NewCollection()
	inv := NewCacheInvalidator(c.Events())

	f := &Frontend{
		Name:          "app",
		MatchingPath:  "/app",
		ConfigureOidc: func(o *OidcOptions) { o.ClientID = "v1" },
	}
	inv.ResolveSchemeOptions(f)
	inv.StoreIndexPage("app", []byte("<html/>"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		inv.Run()
	}()

	c.Add(f)
	c.Close()
	wg.Wait()

	_, cached := inv.IndexPage("app")
	assert.False(t, cached)

	// The next resolve re-runs the delegates.
	f.ConfigureOidc = func(o *OidcOptions) { o.ClientID = "v2" }
	opts := inv.ResolveSchemeOptions(f)
	assert.Equal(t, "v2", opts.Oidc.ClientID)
}

func TestIndexPageRoundTrip(t *testing.T) {
	inv := NewCacheInvalidator(NewCollection().Events())

	_, ok := inv.IndexPage("app")
	assert.False(t, ok)

	inv.StoreIndexPage("app", []byte("cached"))
	body, ok := inv.IndexPage("app")
	require.True(t, ok)
	assert.Equal(t, []byte("cached"), body)
}

func TestResolveSchemeOptionsWithoutDelegates(t *testing.T) {
	inv := NewCacheInvalidator(NewCollection().Events())
	opts := inv.ResolveSchemeOptions(&Frontend{Name: "plain", MatchingPath: "/plain"})
	assert.Equal(t, &SchemeOptions{}, opts)
}
