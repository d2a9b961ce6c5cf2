package saml

import (
	"context"
	"fmt"
	"time"

	"github.com/dchest/uniuri"
	log "github.com/sirupsen/logrus"
)

// InteractionRedirect tells the handler where to send the user agent next
// and which state id to carry in the signin cookie.
type InteractionRedirect struct {
	URL     string
	StateID string
}

// SigninOutcome is the processor's answer for an inbound signin request.
// Exactly one field is set: either the user agent continues to an
// interaction page, or a protocol error response goes back to the SP.
type SigninOutcome struct {
	Redirect *InteractionRedirect
	Error    *ResponseDelivery
}

// CallbackOutcome is the answer for the post-login callback: either the
// completed response delivery, or a redirect back to login when the session
// evaporated mid-flow.
type CallbackOutcome struct {
	Redirect  *InteractionRedirect
	Completed *ResponseDelivery
}

// SigninProcessor orchestrates parse, validate, interaction decision and
// response building for SP-initiated and IdP-initiated signin.
type SigninProcessor struct {
	sps       ServiceProviderStore
	states    SigninStateStore
	issuer    IssuerNameService
	validator *Validator
	nameIDs   *NameIDGenerator
	deliver   deliverer
	opts      Options
	now       func() time.Time
	log       *log.Entry
}

// NewSigninProcessor wires a signin processor. now is overridable for tests;
// nil means time.Now.
func NewSigninProcessor(sps ServiceProviderStore, states SigninStateStore, issuer IssuerNameService, signer SigningService, opts Options, now func() time.Time) *SigninProcessor {
	if now == nil {
		now = time.Now
	}
	return &SigninProcessor{
		sps:       sps,
		states:    states,
		issuer:    issuer,
		validator: NewValidator(sps, opts, now),
		nameIDs:   NewNameIDGenerator(opts),
		deliver:   deliverer{signer: signer},
		opts:      opts,
		now:       now,
		log:       log.WithField("component", "saml.signin"),
	}
}

// authnRules is the message-specific strategy for AuthnRequests.
type authnRules struct {
	opts Options
}

func (r authnRules) RequireSignature(sp *ServiceProvider) bool {
	return sp.RequireSignedAuthnRequests
}

func (r authnRules) ValidateSpecific(sp *ServiceProvider, msg Message) *RequestError {
	req := msg.(*AuthnRequestData)
	if req.NameIDPolicy != nil && req.NameIDPolicy.Format != "" {
		if !r.opts.NameIDFormatSupported(req.NameIDPolicy.Format) {
			return ProtocolError(StatusResponder, StatusInvalidNameIDPolicy,
				"unsupported NameID format %q", req.NameIDPolicy.Format)
		}
	}
	return nil
}

// ProcessRequest handles an SP-initiated signin. Parse failures and
// infrastructure errors come back as a plain error (the handler answers
// 400/500); everything protocol-shaped lands in the Result.
func (p *SigninProcessor) ProcessRequest(ctx context.Context, received *ReceivedMessage, session UserSession) (Result[*SigninOutcome], error) {
	var zero Result[*SigninOutcome]

	req, err := ParseAuthnRequest(received.XML)
	if err != nil {
		return zero, err
	}

	if reqErr := p.validator.ValidateRelayState(received.RelayState); reqErr != nil {
		return Fail[*SigninOutcome](reqErr), nil
	}

	sp, reqErr := p.validator.Validate(ctx, req, received, p.opts.SigninURL, authnRules{opts: p.opts})
	if reqErr != nil {
		return p.signinError(ctx, sp, req, received.RelayState, reqErr)
	}

	acsURL, reqErr := resolveACSURL(sp, req)
	if reqErr != nil {
		return Fail[*SigninOutcome](reqErr), nil
	}

	identity, err := session.Identity(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to read session: %w", err)
	}

	interaction, reqErr := DetermineInteraction(identity != nil, req.ForceAuthn, req.IsPassive, sp, req.Consent)
	if reqErr != nil {
		return p.signinError(ctx, sp, req, received.RelayState, reqErr)
	}
	if interaction.SignOutFirst {
		if err := session.SignOut(ctx); err != nil {
			return zero, fmt.Errorf("failed to sign out for forced reauthentication: %w", err)
		}
	}

	stateID, err := p.states.Store(ctx, &SigninState{
		Request:                     req,
		RelayState:                  received.RelayState,
		ServiceProviderEntityID:     sp.EntityID,
		AssertionConsumerServiceURL: acsURL,
		CreatedUTC:                  p.now().UTC(),
	})
	if err != nil {
		return zero, fmt.Errorf("failed to store signin state: %w", err)
	}

	p.log.WithFields(log.Fields{
		"requestId":   req.ID,
		"issuer":      req.Issuer,
		"interaction": interaction.Kind.String(),
	}).Info("signin request accepted")

	return Ok(&SigninOutcome{
		Redirect: &InteractionRedirect{
			URL:     p.interactionURL(interaction.Kind),
			StateID: stateID,
		},
	}), nil
}

// ProcessIdpInitiated handles an unsolicited signin for the SP named in the
// query string. There is no AuthnRequest, so signature, NameIDPolicy and
// ForceAuthn logic do not apply.
func (p *SigninProcessor) ProcessIdpInitiated(ctx context.Context, spEntityID, relayState string, session UserSession) (Result[*SigninOutcome], error) {
	var zero Result[*SigninOutcome]

	if spEntityID == "" {
		return Fail[*SigninOutcome](ValidationError("spEntityId is required")), nil
	}
	if reqErr := p.validator.ValidateRelayState(relayState); reqErr != nil {
		return Fail[*SigninOutcome](reqErr), nil
	}

	sp, err := p.sps.FindByEntityID(ctx, spEntityID)
	if err != nil {
		return zero, fmt.Errorf("failed to resolve service provider: %w", err)
	}
	if sp == nil || !sp.Enabled {
		return Fail[*SigninOutcome](ValidationError("unknown or disabled service provider %q", spEntityID)), nil
	}
	if !sp.AllowIdpInitiated {
		return Fail[*SigninOutcome](ValidationError("service provider %q does not allow IdP-initiated signin", spEntityID)), nil
	}
	if len(sp.AssertionConsumerServiceURLs) == 0 {
		return Fail[*SigninOutcome](ValidationError("service provider %q has no assertion consumer service", spEntityID)), nil
	}

	identity, err := session.Identity(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to read session: %w", err)
	}

	interaction, reqErr := DetermineInteraction(identity != nil, false, false, sp, "")
	if reqErr != nil {
		// Unreachable without ForceAuthn/IsPassive, but kept symmetric.
		return Fail[*SigninOutcome](reqErr), nil
	}

	stateID, err := p.states.Store(ctx, &SigninState{
		RelayState:                  relayState,
		ServiceProviderEntityID:     sp.EntityID,
		AssertionConsumerServiceURL: sp.AssertionConsumerServiceURLs[0],
		IdpInitiated:                true,
		CreatedUTC:                  p.now().UTC(),
	})
	if err != nil {
		return zero, fmt.Errorf("failed to store signin state: %w", err)
	}

	p.log.WithFields(log.Fields{
		"issuer":      sp.EntityID,
		"interaction": interaction.Kind.String(),
	}).Info("idp-initiated signin accepted")

	return Ok(&SigninOutcome{
		Redirect: &InteractionRedirect{
			URL:     p.interactionURL(interaction.Kind),
			StateID: stateID,
		},
	}), nil
}

// ProcessCallback resumes a signin after the interactive step. The state is
// taken destructively; a second callback with the same id finds nothing.
func (p *SigninProcessor) ProcessCallback(ctx context.Context, stateID string, session UserSession) (Result[*CallbackOutcome], error) {
	var zero Result[*CallbackOutcome]

	state, err := p.states.Take(ctx, stateID)
	if err != nil {
		return zero, fmt.Errorf("failed to load signin state: %w", err)
	}
	if state == nil {
		return Fail[*CallbackOutcome](ValidationError("unknown or expired signin state")), nil
	}

	identity, err := session.Identity(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to read session: %w", err)
	}
	if identity == nil {
		// Session expired mid-flow. Not an error: re-store the state under a
		// fresh id and send the user back to login.
		freshID, err := p.states.Store(ctx, state)
		if err != nil {
			return zero, fmt.Errorf("failed to re-store signin state: %w", err)
		}
		return Ok(&CallbackOutcome{
			Redirect: &InteractionRedirect{URL: p.opts.LoginURL, StateID: freshID},
		}), nil
	}

	sp, err := p.sps.FindByEntityID(ctx, state.ServiceProviderEntityID)
	if err != nil {
		return zero, fmt.Errorf("failed to resolve service provider: %w", err)
	}
	if sp == nil || !sp.Enabled {
		return Fail[*CallbackOutcome](ValidationError("unknown or disabled service provider %q", state.ServiceProviderEntityID)), nil
	}

	sessionIndex, err := p.resolveSessionIndex(ctx, session, sp.EntityID)
	if err != nil {
		return zero, err
	}

	requestedFormat := ""
	inResponseTo := ""
	if state.Request != nil {
		inResponseTo = state.Request.ID
		if state.Request.NameIDPolicy != nil {
			requestedFormat = state.Request.NameIDPolicy.Format
		}
	}

	nameID, err := p.nameIDs.Generate(identity, sp, requestedFormat)
	if err != nil {
		return zero, fmt.Errorf("failed to generate NameID: %w", err)
	}

	issuer, err := p.issuer.Current(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to resolve issuer: %w", err)
	}

	now := p.now()
	response := NewSuccessResponse(issuer, state.AssertionConsumerServiceURL, inResponseTo, now)
	response.Assertions = []*Assertion{
		NewAssertion(issuer, sp.EntityID, state.AssertionConsumerServiceURL, inResponseTo, nameID, sessionIndex, identity, now),
	}

	delivery, err := p.deliver.deliver(response, BindingTypePost, state.AssertionConsumerServiceURL, inResponseTo, StatusSuccess, state.RelayState, false)
	if err != nil {
		return zero, fmt.Errorf("failed to build response: %w", err)
	}

	if err := session.AddSpSession(ctx, SpSession{
		EntityID:     sp.EntityID,
		SessionIndex: sessionIndex,
		NameID:       nameID.Value,
		NameIDFormat: nameID.Format,
	}); err != nil {
		return zero, fmt.Errorf("failed to record SP session: %w", err)
	}

	p.log.WithFields(log.Fields{
		"issuer":       sp.EntityID,
		"inResponseTo": inResponseTo,
	}).Info("signin completed")

	return Ok(&CallbackOutcome{Completed: delivery}), nil
}

// resolveSessionIndex reuses the session index from an existing SP session
// for this (session, SP) pair; a step-up keeps the index stable. Otherwise a
// fresh one is minted.
func (p *SigninProcessor) resolveSessionIndex(ctx context.Context, session UserSession, entityID string) (string, error) {
	existing, err := session.SpSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list SP sessions: %w", err)
	}
	for _, s := range existing {
		if s.EntityID == entityID {
			return s.SessionIndex, nil
		}
	}
	return uniuri.NewLen(24), nil
}

// interactionURL maps an interaction decision onto the next hop.
func (p *SigninProcessor) interactionURL(kind InteractionKind) string {
	switch kind {
	case InteractionConsent:
		return p.opts.ConsentURL
	case InteractionNone:
		return p.opts.SigninCallbackURL
	default:
		return p.opts.LoginURL
	}
}

// signinError turns a RequestError into the right outward shape: protocol
// errors become a signed error response to the SP's ACS when one is
// addressable, validation errors surface directly.
func (p *SigninProcessor) signinError(ctx context.Context, sp *ServiceProvider, req *AuthnRequestData, relayState string, reqErr *RequestError) (Result[*SigninOutcome], error) {
	if reqErr.Class != ClassProtocol || sp == nil {
		return Fail[*SigninOutcome](reqErr), nil
	}

	destination := req.AssertionConsumerServiceURL
	if destination == "" || !sp.ACSURLRegistered(destination) {
		if len(sp.AssertionConsumerServiceURLs) == 0 {
			return Fail[*SigninOutcome](ValidationError("%s", reqErr.Message)), nil
		}
		destination = sp.AssertionConsumerServiceURLs[0]
	}

	issuer, err := p.issuer.Current(ctx)
	if err != nil {
		return Result[*SigninOutcome]{}, fmt.Errorf("failed to resolve issuer: %w", err)
	}

	response := NewErrorResponse(issuer, destination, req.ID, reqErr, p.now())
	delivery, err := p.deliver.deliver(response, BindingTypePost, destination, req.ID, reqErr.StatusCode, relayState, false)
	if err != nil {
		p.log.WithError(err).Warn("failed to build SAML error response, degrading to validation error")
		return Fail[*SigninOutcome](ValidationError("%s", reqErr.Message)), nil
	}

	p.log.WithFields(log.Fields{
		"requestId": req.ID,
		"issuer":    req.Issuer,
		"status":    reqErr.StatusCode,
		"subStatus": reqErr.SubStatusCode,
	}).Warn("signin request rejected")

	return Ok(&SigninOutcome{Error: delivery}), nil
}

// resolveACSURL applies the ACS selection rules: an explicit URL must be
// registered, an explicit index must be in bounds, otherwise the SP's first
// registered endpoint wins.
func resolveACSURL(sp *ServiceProvider, req *AuthnRequestData) (string, *RequestError) {
	if req.AssertionConsumerServiceURL != "" {
		if !sp.ACSURLRegistered(req.AssertionConsumerServiceURL) {
			return "", ValidationError("assertion consumer service URL %q is not registered for %q",
				req.AssertionConsumerServiceURL, sp.EntityID)
		}
		return req.AssertionConsumerServiceURL, nil
	}
	if req.AssertionConsumerServiceIndex != nil {
		idx := *req.AssertionConsumerServiceIndex
		if idx < 0 || idx >= len(sp.AssertionConsumerServiceURLs) {
			return "", ValidationError("assertion consumer service index %d is out of range for %q", idx, sp.EntityID)
		}
		return sp.AssertionConsumerServiceURLs[idx], nil
	}
	if len(sp.AssertionConsumerServiceURLs) == 0 {
		return "", ValidationError("service provider %q has no assertion consumer service", sp.EntityID)
	}
	return sp.AssertionConsumerServiceURLs[0], nil
}
