package saml

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStateCookie(t *testing.T) *SigninStateCookie {
	t.Helper()
	return &SigninStateCookie{
		Name:     "fedgate.signin",
		Path:     "/",
		Audience: "signin",
		Issuer:   "https://idp.example.com",
		MaxAge:   15 * time.Minute,
		Key:      newTestSigner(t).RSAPrivateKey(),
	}
}

func setCookieRequest(t *testing.T, w *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	r := httptest.NewRequest("GET", "/saml/sso/callback", nil)
	r.AddCookie(cookies[0])
	return r
}

func TestStateCookieRoundTrip(t *testing.T) {
	c := testStateCookie(t)
	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, "state-42"))

	cookie := w.Result().Cookies()[0]
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotEqual(t, "state-42", cookie.Value)

	stateID, err := c.Read(setCookieRequest(t, w))
	require.NoError(t, err)
	assert.Equal(t, "state-42", stateID)
}

func TestStateCookieMissing(t *testing.T) {
	c := testStateCookie(t)
	_, err := c.Read(httptest.NewRequest("GET", "/", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signin state cookie")
}

func TestStateCookieRejectsForeignKey(t *testing.T) {
	c := testStateCookie(t)
	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, "state-42"))

	other := testStateCookie(t)
	_, err := other.Read(setCookieRequest(t, w))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid state cookie")
}

func TestStateCookieRejectsWrongAudience(t *testing.T) {
	c := testStateCookie(t)
	w := httptest.NewRecorder()
	require.NoError(t, c.Set(w, "state-42"))

	c.Audience = "logout"
	_, err := c.Read(setCookieRequest(t, w))
	require.Error(t, err)
}

func TestStateCookieClear(t *testing.T) {
	c := testStateCookie(t)
	w := httptest.NewRecorder()
	c.Clear(w)

	cookie := w.Result().Cookies()[0]
	assert.Equal(t, -1, cookie.MaxAge)
	assert.Empty(t, cookie.Value)
}
