package frontend

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareAnnotatesAndStripsPrefix(t *testing.T) {
	c := NewCollection()
	c.Add(&Frontend{Name: "app", MatchingPath: "/app"})

	var gotFrontend *Frontend
	var gotPath string
	handler := Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrontend = FromContext(r.Context())
		gotPath = r.URL.Path
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "http://host.example.com/app/cart", nil))
	require.NotNil(t, gotFrontend)
	assert.Equal(t, "app", gotFrontend.Name)
	assert.Equal(t, "/cart", gotPath)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "http://host.example.com/app", nil))
	assert.Equal(t, "/", gotPath)
}

func TestMiddlewareNoMatchPassesThrough(t *testing.T) {
	c := NewCollection()
	c.Add(&Frontend{Name: "app", MatchingPath: "/app"})

	var gotFrontend *Frontend
	var gotPath string
	handler := Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrontend = FromContext(r.Context())
		gotPath = r.URL.Path
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "http://host.example.com/other", nil))
	assert.Nil(t, gotFrontend)
	assert.Equal(t, "/other", gotPath)
}

func TestStripPrefixSegmentBoundaries(t *testing.T) {
	tests := []struct {
		path, prefix, want string
		ok                 bool
	}{
		{"/app", "/app", "/", true},
		{"/app/x", "/app", "/x", true},
		{"/application", "/app", "/application", false},
		{"/app/x", "app", "/x", true},
	}
	for _, tc := range tests {
		got, ok := stripPrefix(tc.path, tc.prefix)
		assert.Equal(t, tc.want, got, tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
	}
}

func TestFromContextWithoutSelection(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, FromContext(r.Context()))
}
