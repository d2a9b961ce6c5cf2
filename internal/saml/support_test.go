package saml

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fedgate/fedgate/internal/crypto"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

const (
	testSPEntityID = "https://sp.example.org/metadata"
	testACSURL     = "https://sp.example.org/acs"
	testACSURL2    = "https://sp.example.org/acs2"
	testSLOURL     = "https://sp.example.org/slo"
)

func testOptions() Options {
	return Options{
		EntityID:            "https://idp.example.com/saml/metadata",
		ClockSkew:           2 * time.Minute,
		RequestLifetime:     5 * time.Minute,
		MaxRelayStateLength: 80,
		SupportedNameIDFormats: []string{
			NameIDFormatUnspecified,
			NameIDFormatEmail,
			NameIDFormatPersistent,
			NameIDFormatTransient,
		},
		DefaultNameIDFormat: NameIDFormatUnspecified,
		SigninURL:           "https://idp.example.com/saml/sso",
		SigninCallbackURL:   "/saml/sso/callback",
		LogoutURL:           "https://idp.example.com/saml/slo",
		LogoutCallbackURL:   "/saml/slo/callback",
		LoginURL:            "/login",
		ConsentURL:          "/consent",
		HostLogoutURL:       "/logout",
	}
}

func testSP() *ServiceProvider {
	return &ServiceProvider{
		EntityID:                     testSPEntityID,
		Enabled:                      true,
		AssertionConsumerServiceURLs: []string{testACSURL, testACSURL2},
		SingleLogoutServiceURL:       testSLOURL,
		SingleLogoutServiceBinding:   BindingHTTPPost,
	}
}

func newTestSigner(t *testing.T) *crypto.KeySet {
	t.Helper()
	ks, err := crypto.NewKeySet("test-idp")
	require.NoError(t, err)
	return ks
}

// ============================================================================
// In-Memory Fakes
// ============================================================================

type memSPStore struct {
	sps map[string]*ServiceProvider
}

func newMemSPStore(sps ...*ServiceProvider) *memSPStore {
	s := &memSPStore{sps: make(map[string]*ServiceProvider)}
	for _, sp := range sps {
		s.sps[sp.EntityID] = sp
	}
	return s
}

func (s *memSPStore) FindByEntityID(_ context.Context, entityID string) (*ServiceProvider, error) {
	return s.sps[entityID], nil
}

func (s *memSPStore) All(context.Context) ([]*ServiceProvider, error) {
	var out []*ServiceProvider
	for _, sp := range s.sps {
		out = append(out, sp)
	}
	return out, nil
}

type memStore[T any] struct {
	records map[string]*T
	seq     int
}

func newMemStore[T any]() *memStore[T] {
	return &memStore[T]{records: make(map[string]*T)}
}

func (s *memStore[T]) Store(_ context.Context, value *T) (string, error) {
	s.seq++
	id := fmt.Sprintf("id-%d", s.seq)
	s.records[id] = value
	return id, nil
}

func (s *memStore[T]) Take(_ context.Context, id string) (*T, error) {
	value, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	delete(s.records, id)
	return value, nil
}

func (s *memStore[T]) Peek(_ context.Context, id string) (*T, error) {
	return s.records[id], nil
}

type fakeSession struct {
	identity   *Identity
	sessionID  string
	spSessions []SpSession
	clientIDs  []string
	signedOut  bool
}

func (s *fakeSession) Identity(context.Context) (*Identity, error) { return s.identity, nil }
func (s *fakeSession) SessionID(context.Context) (string, error)   { return s.sessionID, nil }
func (s *fakeSession) SpSessions(context.Context) ([]SpSession, error) {
	return s.spSessions, nil
}
func (s *fakeSession) AddSpSession(_ context.Context, spSession SpSession) error {
	s.spSessions = append(s.spSessions, spSession)
	return nil
}
func (s *fakeSession) ClientIDs(context.Context) ([]string, error) { return s.clientIDs, nil }
func (s *fakeSession) SignOut(context.Context) error {
	s.signedOut = true
	s.identity = nil
	s.spSessions = nil
	return nil
}

func testIdentity() *Identity {
	return &Identity{
		SubjectID: "u-1",
		Username:  "alice",
		Email:     "alice@example.com",
		Name:      "Alice",
	}
}

type staticIssuer string

func (s staticIssuer) Current(context.Context) (string, error) { return string(s), nil }

// ============================================================================
// Message Builders
// ============================================================================

func baseAuthnRequest() *AuthnRequest {
	return &AuthnRequest{
		ID:           "_req-1",
		Version:      "2.0",
		IssueInstant: FormatTime(testNow),
		Destination:  "https://idp.example.com/saml/sso",
		Issuer:       &Issuer{Value: testSPEntityID},
	}
}

func authnRequestXML(t *testing.T, mutate func(*AuthnRequest)) []byte {
	t.Helper()
	req := baseAuthnRequest()
	if mutate != nil {
		mutate(req)
	}
	data, err := Marshal(req)
	require.NoError(t, err)
	return data
}

func baseLogoutRequest() *LogoutRequest {
	return &LogoutRequest{
		ID:           "_logout-1",
		Version:      "2.0",
		IssueInstant: FormatTime(testNow),
		Destination:  "https://idp.example.com/saml/slo",
		Issuer:       &Issuer{Value: testSPEntityID},
		NameID:       &NameID{Value: "alice@example.com", Format: NameIDFormatEmail},
		SessionIndex: []string{"sess-1"},
	}
}

func logoutRequestXML(t *testing.T, mutate func(*LogoutRequest)) []byte {
	t.Helper()
	req := baseLogoutRequest()
	if mutate != nil {
		mutate(req)
	}
	data, err := Marshal(req)
	require.NoError(t, err)
	return data
}

func postMessage(xmlData []byte, relayState string) *ReceivedMessage {
	return &ReceivedMessage{
		XML:        xmlData,
		RelayState: relayState,
		Binding:    BindingTypePost,
	}
}
