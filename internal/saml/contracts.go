package saml

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/beevik/etree"
)

// ============================================================================
// Service Provider Trust Configuration
// ============================================================================

// ServiceProvider is the externally-stored trust configuration for one
// relying party. It is read-only to the protocol core.
type ServiceProvider struct {
	EntityID string
	Enabled  bool

	// Ordered, index-addressable list of assertion consumer endpoints.
	AssertionConsumerServiceURLs []string

	// Front-channel logout endpoint; empty means the SP does not take part
	// in single logout.
	SingleLogoutServiceURL     string
	SingleLogoutServiceBinding string

	// Certificates accepted for inbound request signatures.
	SigningCertificates []*x509.Certificate

	RequireSignedAuthnRequests bool
	AllowIdpInitiated          bool
	RequireConsent             bool

	DefaultNameIDFormat       string
	PersistentNameIDClaimType string

	// Per-SP clock skew override; zero means use the global setting.
	ClockSkew time.Duration
}

// ACSURLRegistered reports whether u is one of the SP's registered assertion
// consumer endpoints.
func (sp *ServiceProvider) ACSURLRegistered(u string) bool {
	for _, registered := range sp.AssertionConsumerServiceURLs {
		if registered == u {
			return true
		}
	}
	return false
}

// ServiceProviderStore resolves SP trust configuration.
// FindByEntityID returns (nil, nil) for an unknown entity id.
type ServiceProviderStore interface {
	FindByEntityID(ctx context.Context, entityID string) (*ServiceProvider, error)
	All(ctx context.Context) ([]*ServiceProvider, error)
}

// ============================================================================
// In-Flight State
// ============================================================================

// SigninState is the in-flight signin correlation record, persisted between
// the inbound request and the post-login callback.
type SigninState struct {
	Request                     *AuthnRequestData `json:"request,omitempty"`
	RelayState                  string            `json:"relayState,omitempty"`
	ServiceProviderEntityID     string            `json:"serviceProviderEntityId"`
	AssertionConsumerServiceURL string            `json:"assertionConsumerServiceUrl"`
	IdpInitiated                bool              `json:"idpInitiated,omitempty"`
	CreatedUTC                  time.Time         `json:"createdUtc"`
}

// SigninStateStore keeps SigninState records keyed by an opaque state id.
// Take is destructive: a second Take for the same id returns (nil, nil).
type SigninStateStore interface {
	Store(ctx context.Context, state *SigninState) (string, error)
	Take(ctx context.Context, stateID string) (*SigninState, error)
}

// SpSession records one SP's established session under the current IdP
// session. SessionIndex is the join key logout requests correlate on.
type SpSession struct {
	EntityID     string `json:"entityId"`
	SessionIndex string `json:"sessionIndex"`
	NameID       string `json:"nameId"`
	NameIDFormat string `json:"nameIdFormat"`
}

// LogoutMessage snapshots everything needed to finish a logout after the
// host application has torn the session down.
type LogoutMessage struct {
	SubjectID               string      `json:"subjectId"`
	SessionID               string      `json:"sessionId"`
	ClientIDs               []string    `json:"clientIds,omitempty"`
	ServiceProviderEntityID string      `json:"serviceProviderEntityId"`
	SpSessions              []SpSession `json:"spSessions,omitempty"`
	LogoutRequestID         string      `json:"logoutRequestId"`
	RelayState              string      `json:"relayState,omitempty"`
	PostLogoutRedirectURI   string      `json:"postLogoutRedirectUri,omitempty"`
}

// LogoutMessageStore keeps LogoutMessage records keyed by an opaque logout id.
// Take is destructive, matching SigninStateStore. Peek reads without
// consuming; the host logout page uses it to identify the initiating SP
// before the protocol callback takes the record.
type LogoutMessageStore interface {
	Store(ctx context.Context, msg *LogoutMessage) (string, error)
	Take(ctx context.Context, logoutID string) (*LogoutMessage, error)
	Peek(ctx context.Context, logoutID string) (*LogoutMessage, error)
}

// ============================================================================
// User Session
// ============================================================================

// Identity is the authenticated principal as the host application knows it.
type Identity struct {
	SubjectID string            `json:"subjectId"`
	Username  string            `json:"username"`
	Email     string            `json:"email,omitempty"`
	Name      string            `json:"name,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// Claim returns a claim value, falling back through the well-known fields for
// the standard claim types.
func (id *Identity) Claim(claimType string) string {
	switch claimType {
	case "sub":
		return id.SubjectID
	case "email":
		return id.Email
	case "name":
		return id.Name
	}
	if id.Claims != nil {
		return id.Claims[claimType]
	}
	return ""
}

// UserSession is the processors' view of the current browser session.
// Identity returns (nil, nil) when nobody is signed in.
type UserSession interface {
	Identity(ctx context.Context) (*Identity, error)
	SessionID(ctx context.Context) (string, error)
	SpSessions(ctx context.Context) ([]SpSession, error)
	AddSpSession(ctx context.Context, s SpSession) error
	ClientIDs(ctx context.Context) ([]string, error)
	SignOut(ctx context.Context) error
}

// ============================================================================
// Issuer + Signing
// ============================================================================

// IssuerNameService yields the IdP's issuer entity id for the current
// request; it may vary per tenant.
type IssuerNameService interface {
	Current(ctx context.Context) (string, error)
}

// SigningService signs outbound messages with the IdP key.
type SigningService interface {
	// SignQuery signs the ordered redirect-binding query octets and returns
	// the signature algorithm URI plus the raw signature.
	SignQuery(octets string) (sigAlg string, signature []byte, err error)

	// SignEnveloped returns el with an enveloped XML signature attached.
	SignEnveloped(el *etree.Element) (*etree.Element, error)

	// Certificate is the active signing certificate, published in metadata.
	Certificate() *x509.Certificate
}
