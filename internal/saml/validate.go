package saml

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Options carries the protocol-level tuning knobs shared by the validator,
// processors and builders.
type Options struct {
	// Issuer entity id fallback when the issuer name service has no
	// per-tenant answer.
	EntityID string

	ClockSkew       time.Duration
	RequestLifetime time.Duration

	// Upper bound, in bytes, on an accepted RelayState value.
	MaxRelayStateLength int

	SupportedNameIDFormats []string
	DefaultNameIDFormat    string

	// Absolute URLs of our own protocol endpoints, used for Destination
	// validation and for building callback redirects.
	SigninURL         string
	SigninCallbackURL string
	LogoutURL         string
	LogoutCallbackURL string

	// Host application surfaces the processors redirect to.
	LoginURL      string
	ConsentURL    string
	HostLogoutURL string
}

func (o Options) skewFor(sp *ServiceProvider) time.Duration {
	if sp != nil && sp.ClockSkew > 0 {
		return sp.ClockSkew
	}
	return o.ClockSkew
}

// Message is the slice of a parsed protocol message the shared validator
// needs. Both request models implement it.
type Message interface {
	MessageID() string
	MessageIssuer() string
	MessageIssueInstant() time.Time
	MessageDestination() string
}

func (r *AuthnRequestData) MessageID() string               { return r.ID }
func (r *AuthnRequestData) MessageIssuer() string           { return r.Issuer }
func (r *AuthnRequestData) MessageIssueInstant() time.Time  { return r.IssueInstant }
func (r *AuthnRequestData) MessageDestination() string      { return r.Destination }
func (r *LogoutRequestData) MessageID() string              { return r.ID }
func (r *LogoutRequestData) MessageIssuer() string          { return r.Issuer }
func (r *LogoutRequestData) MessageIssueInstant() time.Time { return r.IssueInstant }
func (r *LogoutRequestData) MessageDestination() string     { return r.Destination }

// MessageRules is the per-message-type strategy plugged into the shared
// validation pipeline.
type MessageRules interface {
	// RequireSignature decides whether an unsigned message from this SP is
	// acceptable.
	RequireSignature(sp *ServiceProvider) bool

	// ValidateSpecific applies message-type-specific checks after the shared
	// ones passed.
	ValidateSpecific(sp *ServiceProvider, msg Message) *RequestError
}

// Validator runs the checks shared by every inbound protocol message:
// issuer resolution, destination, temporal window, signature policy, then
// the message-specific rules.
type Validator struct {
	sps  ServiceProviderStore
	opts Options
	now  func() time.Time
}

// NewValidator builds a Validator. now is overridable for tests; nil means
// time.Now.
func NewValidator(sps ServiceProviderStore, opts Options, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{sps: sps, opts: opts, now: now}
}

// Validate resolves the SP and applies the shared pipeline. On success the
// resolved SP is returned for the processor to continue with.
//
// Failures before the SP is resolved are Validation-classified (there is no
// trustworthy endpoint to answer); once the SP is known they are
// Protocol-classified so a signed SAML error response can be delivered.
func (v *Validator) Validate(ctx context.Context, msg Message, received *ReceivedMessage, endpoint string, rules MessageRules) (*ServiceProvider, *RequestError) {
	issuer := msg.MessageIssuer()

	sp, err := v.sps.FindByEntityID(ctx, issuer)
	if err != nil {
		log.WithError(err).WithField("issuer", issuer).Error("service provider lookup failed")
		return nil, ValidationError("failed to resolve service provider %q", issuer)
	}
	if sp == nil {
		return nil, ValidationError("unknown service provider %q", issuer)
	}
	if !sp.Enabled {
		return nil, ValidationError("service provider %q is disabled", issuer)
	}

	now := v.now()
	skew := v.opts.skewFor(sp)

	if dest := msg.MessageDestination(); dest != "" && dest != endpoint {
		return sp, ProtocolError(StatusRequester, "", "invalid destination %q", dest)
	}

	issueInstant := msg.MessageIssueInstant()
	if issueInstant.After(now.Add(skew)) {
		return sp, ProtocolError(StatusRequester, "", "request issued in the future")
	}
	if issueInstant.Before(now.Add(-(skew + v.opts.RequestLifetime))) {
		return sp, ProtocolError(StatusRequester, "", "request has expired")
	}

	if reqErr := v.validateSignature(sp, received, rules.RequireSignature(sp)); reqErr != nil {
		return sp, reqErr
	}

	if reqErr := rules.ValidateSpecific(sp, msg); reqErr != nil {
		return sp, reqErr
	}

	log.WithFields(log.Fields{
		"requestId": msg.MessageID(),
		"issuer":    issuer,
	}).Debug("request validated")
	return sp, nil
}

func (v *Validator) validateSignature(sp *ServiceProvider, received *ReceivedMessage, required bool) *RequestError {
	switch received.Binding {
	case BindingTypeRedirect:
		if !received.QuerySigned {
			if required {
				return ProtocolError(StatusRequester, "", "request signature required but missing")
			}
			return nil
		}
		if err := VerifyRedirectSignature(received.RawQuery, true, sp.SigningCertificates); err != nil {
			return ProtocolError(StatusRequester, "", "invalid request signature: %v", err)
		}
	case BindingTypePost:
		if !IsSigned(received.XML) {
			if required {
				return ProtocolError(StatusRequester, "", "request signature required but missing")
			}
			return nil
		}
		if err := VerifyEnvelopedXML(received.XML, sp.SigningCertificates); err != nil {
			return ProtocolError(StatusRequester, "", "invalid request signature: %v", err)
		}
	}
	return nil
}

// ValidateRelayState enforces the configured RelayState length cap.
func (v *Validator) ValidateRelayState(relayState string) *RequestError {
	if v.opts.MaxRelayStateLength > 0 && len(relayState) > v.opts.MaxRelayStateLength {
		return ValidationError("RelayState exceeds maximum length of %d bytes", v.opts.MaxRelayStateLength)
	}
	return nil
}

// NameIDFormatSupported reports whether the IdP can mint the given format.
func (o Options) NameIDFormatSupported(format string) bool {
	for _, supported := range o.SupportedNameIDFormats {
		if supported == format {
			return true
		}
	}
	return false
}
