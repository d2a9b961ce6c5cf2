package saml

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughRules applies no message-specific checks.
type passthroughRules struct {
	signatureRequired bool
}

func (r passthroughRules) RequireSignature(*ServiceProvider) bool { return r.signatureRequired }
func (r passthroughRules) ValidateSpecific(*ServiceProvider, Message) *RequestError {
	return nil
}

func parsedAuthnRequest(t *testing.T, mutate func(*AuthnRequest)) *AuthnRequestData {
	t.Helper()
	req, err := ParseAuthnRequest(authnRequestXML(t, mutate))
	require.NoError(t, err)
	return req
}

func TestValidateResolvesServiceProvider(t *testing.T) {
	opts := testOptions()
	validator := NewValidator(newMemSPStore(testSP()), opts, fixedNow)
	req := parsedAuthnRequest(t, nil)

	sp, reqErr := validator.Validate(context.Background(), req, postMessage(authnRequestXML(t, nil), ""), opts.SigninURL, passthroughRules{})
	require.Nil(t, reqErr)
	require.NotNil(t, sp)
	assert.Equal(t, testSPEntityID, sp.EntityID)
}

func TestValidateUnknownIssuer(t *testing.T) {
	opts := testOptions()
	validator := NewValidator(newMemSPStore(), opts, fixedNow)
	req := parsedAuthnRequest(t, nil)

	sp, reqErr := validator.Validate(context.Background(), req, postMessage(nil, ""), opts.SigninURL, passthroughRules{})
	assert.Nil(t, sp)
	require.NotNil(t, reqErr)
	assert.Equal(t, ClassValidation, reqErr.Class)
}

func TestValidateDisabledServiceProvider(t *testing.T) {
	opts := testOptions()
	sp := testSP()
	sp.Enabled = false
	validator := NewValidator(newMemSPStore(sp), opts, fixedNow)
	req := parsedAuthnRequest(t, nil)

	_, reqErr := validator.Validate(context.Background(), req, postMessage(nil, ""), opts.SigninURL, passthroughRules{})
	require.NotNil(t, reqErr)
	assert.Equal(t, ClassValidation, reqErr.Class)
	assert.Contains(t, reqErr.Message, "disabled")
}

func TestValidateDestinationMismatch(t *testing.T) {
	opts := testOptions()
	validator := NewValidator(newMemSPStore(testSP()), opts, fixedNow)
	req := parsedAuthnRequest(t, func(r *AuthnRequest) {
		r.Destination = "https://evil.example.net/saml/sso"
	})

	sp, reqErr := validator.Validate(context.Background(), req, postMessage(nil, ""), opts.SigninURL, passthroughRules{})
	require.NotNil(t, sp)
	require.NotNil(t, reqErr)
	assert.Equal(t, ClassProtocol, reqErr.Class)
	assert.Equal(t, StatusRequester, reqErr.StatusCode)
}

func TestValidateEmptyDestinationAccepted(t *testing.T) {
	opts := testOptions()
	validator := NewValidator(newMemSPStore(testSP()), opts, fixedNow)
	req := parsedAuthnRequest(t, func(r *AuthnRequest) { r.Destination = "" })

	_, reqErr := validator.Validate(context.Background(), req, postMessage(nil, ""), opts.SigninURL, passthroughRules{})
	assert.Nil(t, reqErr)
}

func TestValidateTemporalWindow(t *testing.T) {
	opts := testOptions()
	skew := opts.ClockSkew
	lifetime := opts.RequestLifetime

	tests := []struct {
		name         string
		issueInstant time.Time
		wantErr      string
	}{
		{"exactly now", testNow, ""},
		{"at future boundary", testNow.Add(skew), ""},
		{"past future boundary", testNow.Add(skew + time.Second), "future"},
		{"at expiry boundary", testNow.Add(-(skew + lifetime)), ""},
		{"past expiry boundary", testNow.Add(-(skew + lifetime + time.Second)), "expired"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validator := NewValidator(newMemSPStore(testSP()), opts, fixedNow)
			req := parsedAuthnRequest(t, func(r *AuthnRequest) {
				r.IssueInstant = FormatTime(tc.issueInstant)
			})

			_, reqErr := validator.Validate(context.Background(), req, postMessage(nil, ""), opts.SigninURL, passthroughRules{})
			if tc.wantErr == "" {
				assert.Nil(t, reqErr)
				return
			}
			require.NotNil(t, reqErr)
			assert.Equal(t, ClassProtocol, reqErr.Class)
			assert.Equal(t, StatusRequester, reqErr.StatusCode)
			assert.Contains(t, reqErr.Message, tc.wantErr)
		})
	}
}

func TestValidatePerSPClockSkewOverride(t *testing.T) {
	opts := testOptions()
	sp := testSP()
	sp.ClockSkew = 10 * time.Minute
	validator := NewValidator(newMemSPStore(sp), opts, fixedNow)

	// Five minutes in the future: outside the global skew, inside the SP's.
	req := parsedAuthnRequest(t, func(r *AuthnRequest) {
		r.IssueInstant = FormatTime(testNow.Add(5 * time.Minute))
	})

	_, reqErr := validator.Validate(context.Background(), req, postMessage(nil, ""), opts.SigninURL, passthroughRules{})
	assert.Nil(t, reqErr)
}

func TestValidateSignatureRequiredButMissing(t *testing.T) {
	opts := testOptions()
	validator := NewValidator(newMemSPStore(testSP()), opts, fixedNow)
	req := parsedAuthnRequest(t, nil)

	// Unsigned POST body with a signature-requiring policy.
	sp, reqErr := validator.Validate(context.Background(), req,
		postMessage(authnRequestXML(t, nil), ""), opts.SigninURL, passthroughRules{signatureRequired: true})
	require.NotNil(t, sp)
	require.NotNil(t, reqErr)
	assert.Equal(t, ClassProtocol, reqErr.Class)
	assert.Equal(t, StatusRequester, reqErr.StatusCode)
	assert.Contains(t, reqErr.Message, "signature required")
}

func TestValidateSignedPostAccepted(t *testing.T) {
	opts := testOptions()
	signer := newTestSigner(t)
	sp := testSP()
	sp.SigningCertificates = certsOf(signer)
	validator := NewValidator(newMemSPStore(sp), opts, fixedNow)

	xmlData := authnRequestXML(t, nil)
	signed, err := SignEnvelopedXML(signer, xmlData)
	require.NoError(t, err)
	req, err := ParseAuthnRequest(signed)
	require.NoError(t, err)

	_, reqErr := validator.Validate(context.Background(), req, postMessage(signed, ""), opts.SigninURL, passthroughRules{signatureRequired: true})
	assert.Nil(t, reqErr)
}

func TestValidateInvalidPostSignature(t *testing.T) {
	opts := testOptions()
	signer := newTestSigner(t)
	sp := testSP()
	sp.SigningCertificates = certsOf(newTestSigner(t))
	validator := NewValidator(newMemSPStore(sp), opts, fixedNow)

	signed, err := SignEnvelopedXML(signer, authnRequestXML(t, nil))
	require.NoError(t, err)
	req, err := ParseAuthnRequest(signed)
	require.NoError(t, err)

	// Even an optional signature must verify once present.
	_, reqErr := validator.Validate(context.Background(), req, postMessage(signed, ""), opts.SigninURL, passthroughRules{})
	require.NotNil(t, reqErr)
	assert.Equal(t, ClassProtocol, reqErr.Class)
	assert.Contains(t, reqErr.Message, "invalid request signature")
}

func TestValidateSignedRedirectAccepted(t *testing.T) {
	opts := testOptions()
	signer := newTestSigner(t)
	sp := testSP()
	sp.SigningCertificates = certsOf(signer)
	validator := NewValidator(newMemSPStore(sp), opts, fixedNow)

	xmlData := authnRequestXML(t, nil)
	redirectURL, err := BuildRedirectURL(opts.SigninURL, xmlData, "rs", true, signer)
	require.NoError(t, err)
	parsed, err := url.Parse(redirectURL)
	require.NoError(t, err)

	received := &ReceivedMessage{
		XML:         xmlData,
		RelayState:  "rs",
		Binding:     BindingTypeRedirect,
		RawQuery:    parsed.RawQuery,
		QuerySigned: true,
	}
	req, err := ParseAuthnRequest(xmlData)
	require.NoError(t, err)

	_, reqErr := validator.Validate(context.Background(), req, received, opts.SigninURL, passthroughRules{signatureRequired: true})
	assert.Nil(t, reqErr)
}

func TestValidateRelayStateLength(t *testing.T) {
	opts := testOptions()
	validator := NewValidator(newMemSPStore(testSP()), opts, fixedNow)

	assert.Nil(t, validator.ValidateRelayState(strings.Repeat("x", opts.MaxRelayStateLength)))

	reqErr := validator.ValidateRelayState(strings.Repeat("x", opts.MaxRelayStateLength+1))
	require.NotNil(t, reqErr)
	assert.Equal(t, ClassValidation, reqErr.Class)
}

func TestNameIDFormatSupported(t *testing.T) {
	opts := testOptions()
	assert.True(t, opts.NameIDFormatSupported(NameIDFormatEmail))
	assert.False(t, opts.NameIDFormatSupported(NameIDFormatEntity))
}
