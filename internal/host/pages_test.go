package host

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedgate/fedgate/internal/crypto"
	"github.com/fedgate/fedgate/internal/saml"
	"github.com/fedgate/fedgate/internal/store"
)

type spStoreFake map[string]*saml.ServiceProvider

func (s spStoreFake) FindByEntityID(_ context.Context, entityID string) (*saml.ServiceProvider, error) {
	return s[entityID], nil
}

func (s spStoreFake) All(context.Context) ([]*saml.ServiceProvider, error) {
	out := make([]*saml.ServiceProvider, 0, len(s))
	for _, sp := range s {
		out = append(out, sp)
	}
	return out, nil
}

type logoutStoreFake struct {
	records map[string]*saml.LogoutMessage
	seq     int
}

func newLogoutStoreFake() *logoutStoreFake {
	return &logoutStoreFake{records: make(map[string]*saml.LogoutMessage)}
}

func (s *logoutStoreFake) Store(_ context.Context, msg *saml.LogoutMessage) (string, error) {
	s.seq++
	id := fmt.Sprintf("lm-%d", s.seq)
	s.records[id] = msg
	return id, nil
}

func (s *logoutStoreFake) Take(_ context.Context, id string) (*saml.LogoutMessage, error) {
	msg := s.records[id]
	delete(s.records, id)
	return msg, nil
}

func (s *logoutStoreFake) Peek(_ context.Context, id string) (*saml.LogoutMessage, error) {
	return s.records[id], nil
}

type fixedIssuer string

func (i fixedIssuer) Current(context.Context) (string, error) { return string(i), nil }

func redirectSP(entityID, sloURL string) *saml.ServiceProvider {
	return &saml.ServiceProvider{
		EntityID:                   entityID,
		Enabled:                    true,
		SingleLogoutServiceURL:     sloURL,
		SingleLogoutServiceBinding: saml.BindingHTTPRedirect,
	}
}

func newTestPages(t *testing.T, sessions *store.SessionManager, sps spStoreFake, logouts *logoutStoreFake) *Pages {
	t.Helper()
	signer, err := crypto.NewKeySet("test-idp")
	require.NoError(t, err)
	notifier := saml.NewLogoutNotifier(sps, fixedIssuer("https://idp.example.com/saml/metadata"), signer, nil)
	return NewPages(NewDirectory(), sessions, sps, logouts, notifier, saml.Options{
		SigninCallbackURL: "/saml/sso/callback",
		LogoutCallbackURL: "/saml/slo/callback",
	})
}

func submitLogout(t *testing.T, p *Pages, sessionID, logoutID string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if logoutID != "" {
		form.Set("logoutId", logoutID)
	}
	r := httptest.NewRequest("POST", PathLogout, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(&http.Cookie{Name: store.SessionCookieName, Value: sessionID})
	w := httptest.NewRecorder()
	p.handleLogoutSubmit(w, r)
	return w
}

func TestLogoutSubmitSkipsInitiatingSP(t *testing.T) {
	ctx := context.Background()
	initiator := redirectSP("https://sp1.example.org/metadata", "https://sp1.example.org/slo")
	bystander := redirectSP("https://sp2.example.org/metadata", "https://sp2.example.org/slo")
	sps := spStoreFake{initiator.EntityID: initiator, bystander.EntityID: bystander}

	logouts := newLogoutStoreFake()
	logoutID, err := logouts.Store(ctx, &saml.LogoutMessage{
		SubjectID:               "u-alice",
		ServiceProviderEntityID: initiator.EntityID,
		LogoutRequestID:         "_logout-1",
	})
	require.NoError(t, err)

	sessions := store.NewSessionManager(false)
	sessionID, session := sessions.Establish(&saml.Identity{SubjectID: "u-alice", Username: "alice"})
	require.NoError(t, session.AddSpSession(ctx, saml.SpSession{EntityID: initiator.EntityID, SessionIndex: "sess-1"}))
	require.NoError(t, session.AddSpSession(ctx, saml.SpSession{EntityID: bystander.EntityID, SessionIndex: "sess-2"}))

	p := newTestPages(t, sessions, sps, logouts)
	w := submitLogout(t, p, sessionID, logoutID)

	body := w.Body.String()
	// The initiator gets its LogoutResponse through the protocol callback,
	// not a second LogoutRequest in the fan-out.
	assert.NotContains(t, body, "https://sp1.example.org/slo")
	assert.Contains(t, body, "https://sp2.example.org/slo")
	assert.Contains(t, body, "/saml/slo/callback?logoutId="+logoutID)

	// Peek must leave the message for the callback.
	msg, err := logouts.Take(ctx, logoutID)
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestLogoutSubmitIdpInitiatedNotifiesAll(t *testing.T) {
	ctx := context.Background()
	sp1 := redirectSP("https://sp1.example.org/metadata", "https://sp1.example.org/slo")
	sp2 := redirectSP("https://sp2.example.org/metadata", "https://sp2.example.org/slo")
	sps := spStoreFake{sp1.EntityID: sp1, sp2.EntityID: sp2}

	sessions := store.NewSessionManager(false)
	sessionID, session := sessions.Establish(&saml.Identity{SubjectID: "u-alice", Username: "alice"})
	require.NoError(t, session.AddSpSession(ctx, saml.SpSession{EntityID: sp1.EntityID, SessionIndex: "sess-1"}))
	require.NoError(t, session.AddSpSession(ctx, saml.SpSession{EntityID: sp2.EntityID, SessionIndex: "sess-2"}))

	p := newTestPages(t, sessions, sps, newLogoutStoreFake())
	w := submitLogout(t, p, sessionID, "")

	body := w.Body.String()
	assert.Contains(t, body, "https://sp1.example.org/slo")
	assert.Contains(t, body, "https://sp2.example.org/slo")
	assert.NotContains(t, body, "logoutId=")

	// Session is gone either way.
	identity, err := sessions.Session(sessionID).Identity(ctx)
	require.NoError(t, err)
	assert.Nil(t, identity)
}
