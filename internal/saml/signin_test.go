package saml

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigninProcessor(t *testing.T, sps *memSPStore, states *memStore[SigninState]) *SigninProcessor {
	t.Helper()
	return NewSigninProcessor(sps, states, staticIssuer("https://idp.example.com/saml/metadata"),
		newTestSigner(t), testOptions(), fixedNow)
}

func TestProcessRequestNotSignedIn(t *testing.T) {
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(testSP()), states)

	result, err := p.ProcessRequest(context.Background(), postMessage(authnRequestXML(t, nil), "rs-1"), &fakeSession{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	outcome := result.Value()
	require.NotNil(t, outcome.Redirect)
	assert.Equal(t, "/login", outcome.Redirect.URL)
	assert.Equal(t, "id-1", outcome.Redirect.StateID)

	state := states.records["id-1"]
	require.NotNil(t, state)
	assert.Equal(t, testSPEntityID, state.ServiceProviderEntityID)
	assert.Equal(t, testACSURL, state.AssertionConsumerServiceURL)
	assert.Equal(t, "rs-1", state.RelayState)
	assert.Equal(t, "_req-1", state.Request.ID)
	assert.Equal(t, testNow, state.CreatedUTC)
}

func TestProcessRequestSignedInSkipsLogin(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())
	session := &fakeSession{identity: testIdentity()}

	result, err := p.ProcessRequest(context.Background(), postMessage(authnRequestXML(t, nil), ""), session)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, "/saml/sso/callback", result.Value().Redirect.URL)
	assert.False(t, session.signedOut)
}

func TestProcessRequestForceAuthnSignsOutFirst(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())
	session := &fakeSession{identity: testIdentity()}

	xmlData := authnRequestXML(t, func(r *AuthnRequest) { r.ForceAuthn = true })
	result, err := p.ProcessRequest(context.Background(), postMessage(xmlData, ""), session)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, "/login", result.Value().Redirect.URL)
	assert.True(t, session.signedOut)
}

func TestProcessRequestConsentRequired(t *testing.T) {
	sp := testSP()
	sp.RequireConsent = true
	p := newSigninProcessor(t, newMemSPStore(sp), newMemStore[SigninState]())

	result, err := p.ProcessRequest(context.Background(), postMessage(authnRequestXML(t, nil), ""), &fakeSession{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, "/consent", result.Value().Redirect.URL)
}

func TestProcessRequestPassiveDeliversErrorResponse(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())

	xmlData := authnRequestXML(t, func(r *AuthnRequest) { r.IsPassive = true })
	result, err := p.ProcessRequest(context.Background(), postMessage(xmlData, "rs"), &fakeSession{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	outcome := result.Value()
	require.NotNil(t, outcome.Error)
	assert.Nil(t, outcome.Redirect)
	assert.Equal(t, BindingTypePost, outcome.Error.Binding)
	assert.Equal(t, testACSURL, outcome.Error.Destination)
	assert.Equal(t, StatusResponder, outcome.Error.Status)
	assert.Equal(t, "_req-1", outcome.Error.InResponseTo)
	assert.Equal(t, "rs", outcome.Error.RelayState)
	assert.NotEmpty(t, outcome.Error.HTML)
}

func TestProcessRequestUnsupportedNameIDFormat(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())

	xmlData := authnRequestXML(t, func(r *AuthnRequest) {
		r.NameIDPolicy = &NameIDPolicy{Format: NameIDFormatEntity}
	})
	result, err := p.ProcessRequest(context.Background(), postMessage(xmlData, ""), &fakeSession{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	require.NotNil(t, result.Value().Error)
	assert.Equal(t, StatusResponder, result.Value().Error.Status)
}

func TestProcessRequestUnregisteredACSURL(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())

	xmlData := authnRequestXML(t, func(r *AuthnRequest) {
		r.AssertionConsumerServiceURL = "https://evil.example.net/acs"
	})
	result, err := p.ProcessRequest(context.Background(), postMessage(xmlData, ""), &fakeSession{})
	require.NoError(t, err)
	require.False(t, result.Succeeded())
	assert.Equal(t, ClassValidation, result.Err().Class)
	assert.Contains(t, result.Err().Message, "not registered")
}

func TestProcessRequestACSIndexSelection(t *testing.T) {
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(testSP()), states)

	xmlData := authnRequestXML(t, func(r *AuthnRequest) { r.AssertionConsumerServiceIndex = "1" })
	result, err := p.ProcessRequest(context.Background(), postMessage(xmlData, ""), &fakeSession{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, testACSURL2, states.records["id-1"].AssertionConsumerServiceURL)

	xmlData = authnRequestXML(t, func(r *AuthnRequest) { r.AssertionConsumerServiceIndex = "9" })
	result, err = p.ProcessRequest(context.Background(), postMessage(xmlData, ""), &fakeSession{})
	require.NoError(t, err)
	require.False(t, result.Succeeded())
	assert.Contains(t, result.Err().Message, "out of range")
}

func TestProcessRequestRelayStateTooLong(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())

	relay := strings.Repeat("x", testOptions().MaxRelayStateLength+1)
	result, err := p.ProcessRequest(context.Background(), postMessage(authnRequestXML(t, nil), relay), &fakeSession{})
	require.NoError(t, err)
	require.False(t, result.Succeeded())
	assert.Equal(t, ClassValidation, result.Err().Class)
}

func TestProcessRequestMalformedXML(t *testing.T) {
	p := newSigninProcessor(t, newMemSPStore(testSP()), newMemStore[SigninState]())

	_, err := p.ProcessRequest(context.Background(), postMessage([]byte("<broken"), ""), &fakeSession{})
	require.Error(t, err)
}

func TestProcessIdpInitiated(t *testing.T) {
	sp := testSP()
	sp.AllowIdpInitiated = true
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(sp), states)
	session := &fakeSession{identity: testIdentity()}

	result, err := p.ProcessIdpInitiated(context.Background(), testSPEntityID, "rs", session)
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, "/saml/sso/callback", result.Value().Redirect.URL)

	state := states.records["id-1"]
	require.NotNil(t, state)
	assert.True(t, state.IdpInitiated)
	assert.Nil(t, state.Request)
	assert.Equal(t, testACSURL, state.AssertionConsumerServiceURL)
}

func TestProcessIdpInitiatedRejects(t *testing.T) {
	sp := testSP()
	p := newSigninProcessor(t, newMemSPStore(sp), newMemStore[SigninState]())
	session := &fakeSession{identity: testIdentity()}

	t.Run("missing entity id", func(t *testing.T) {
		result, err := p.ProcessIdpInitiated(context.Background(), "", "", session)
		require.NoError(t, err)
		require.False(t, result.Succeeded())
		assert.Contains(t, result.Err().Message, "required")
	})

	t.Run("unknown service provider", func(t *testing.T) {
		result, err := p.ProcessIdpInitiated(context.Background(), "https://other.example.org", "", session)
		require.NoError(t, err)
		require.False(t, result.Succeeded())
	})

	t.Run("idp-initiated not allowed", func(t *testing.T) {
		result, err := p.ProcessIdpInitiated(context.Background(), testSPEntityID, "", session)
		require.NoError(t, err)
		require.False(t, result.Succeeded())
		assert.Contains(t, result.Err().Message, "does not allow")
	})
}

func TestProcessCallbackCompletes(t *testing.T) {
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(testSP()), states)
	session := &fakeSession{identity: testIdentity(), sessionID: "sess-1"}

	req, err := ParseAuthnRequest(authnRequestXML(t, nil))
	require.NoError(t, err)
	stateID, err := states.Store(context.Background(), &SigninState{
		Request:                     req,
		RelayState:                  "rs",
		ServiceProviderEntityID:     testSPEntityID,
		AssertionConsumerServiceURL: testACSURL,
		CreatedUTC:                  testNow,
	})
	require.NoError(t, err)

	result, err := p.ProcessCallback(context.Background(), stateID, session)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	completed := result.Value().Completed
	require.NotNil(t, completed)
	assert.Equal(t, BindingTypePost, completed.Binding)
	assert.Equal(t, testACSURL, completed.Destination)
	assert.Equal(t, "_req-1", completed.InResponseTo)
	assert.Equal(t, StatusSuccess, completed.Status)
	assert.Equal(t, "rs", completed.RelayState)
	assert.NotEmpty(t, completed.HTML)

	require.Len(t, session.spSessions, 1)
	assert.Equal(t, testSPEntityID, session.spSessions[0].EntityID)
	assert.NotEmpty(t, session.spSessions[0].SessionIndex)

	// The state is consumed; replaying the callback fails.
	replay, err := p.ProcessCallback(context.Background(), stateID, session)
	require.NoError(t, err)
	require.False(t, replay.Succeeded())
	assert.Contains(t, replay.Err().Message, "unknown or expired")
}

func TestProcessCallbackSessionExpiredMidFlow(t *testing.T) {
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(testSP()), states)

	stateID, err := states.Store(context.Background(), &SigninState{
		ServiceProviderEntityID:     testSPEntityID,
		AssertionConsumerServiceURL: testACSURL,
		CreatedUTC:                  testNow,
	})
	require.NoError(t, err)

	result, err := p.ProcessCallback(context.Background(), stateID, &fakeSession{})
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	outcome := result.Value()
	require.NotNil(t, outcome.Redirect)
	assert.Nil(t, outcome.Completed)
	assert.Equal(t, "/login", outcome.Redirect.URL)
	assert.NotEqual(t, stateID, outcome.Redirect.StateID)
	assert.NotNil(t, states.records[outcome.Redirect.StateID])
}

func TestProcessCallbackReusesSessionIndex(t *testing.T) {
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(testSP()), states)
	session := &fakeSession{
		identity:   testIdentity(),
		sessionID:  "sess-1",
		spSessions: []SpSession{{EntityID: testSPEntityID, SessionIndex: "idx-prior"}},
	}

	stateID, err := states.Store(context.Background(), &SigninState{
		ServiceProviderEntityID:     testSPEntityID,
		AssertionConsumerServiceURL: testACSURL,
		IdpInitiated:                true,
		CreatedUTC:                  testNow,
	})
	require.NoError(t, err)

	result, err := p.ProcessCallback(context.Background(), stateID, session)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	require.Len(t, session.spSessions, 2)
	assert.Equal(t, "idx-prior", session.spSessions[1].SessionIndex)
}

func TestProcessCallbackDisabledServiceProvider(t *testing.T) {
	sp := testSP()
	sp.Enabled = false
	states := newMemStore[SigninState]()
	p := newSigninProcessor(t, newMemSPStore(sp), states)

	stateID, err := states.Store(context.Background(), &SigninState{
		ServiceProviderEntityID:     testSPEntityID,
		AssertionConsumerServiceURL: testACSURL,
		CreatedUTC:                  testNow,
	})
	require.NoError(t, err)

	result, err := p.ProcessCallback(context.Background(), stateID, &fakeSession{identity: testIdentity()})
	require.NoError(t, err)
	require.False(t, result.Succeeded())
	assert.Contains(t, result.Err().Message, "disabled")
}
