package saml

import (
	"context"
	"fmt"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

// HostLogoutRedirect sends the user agent to the host application's logout
// page, which owns the actual session teardown.
type HostLogoutRedirect struct {
	URL      string
	LogoutID string
}

// LogoutOutcome is the processor's answer for an inbound logout request.
// Exactly one field is set.
type LogoutOutcome struct {
	// Redirect continues to the host logout page.
	Redirect *HostLogoutRedirect
	// Completed is an immediate LogoutResponse when there is nothing to
	// terminate.
	Completed *ResponseDelivery
	// Error is a protocol error response back to the SP.
	Error *ResponseDelivery
}

// LogoutProcessor orchestrates SP-initiated single logout.
type LogoutProcessor struct {
	sps       ServiceProviderStore
	messages  LogoutMessageStore
	issuer    IssuerNameService
	validator *Validator
	deliver   deliverer
	opts      Options
	now       func() time.Time
	log       *log.Entry
}

// NewLogoutProcessor wires a logout processor. now is overridable for tests;
// nil means time.Now.
func NewLogoutProcessor(sps ServiceProviderStore, messages LogoutMessageStore, issuer IssuerNameService, signer SigningService, opts Options, now func() time.Time) *LogoutProcessor {
	if now == nil {
		now = time.Now
	}
	return &LogoutProcessor{
		sps:       sps,
		messages:  messages,
		issuer:    issuer,
		validator: NewValidator(sps, opts, now),
		deliver:   deliverer{signer: signer},
		opts:      opts,
		now:       now,
		log:       log.WithField("component", "saml.logout"),
	}
}

// logoutRules is the message-specific strategy for LogoutRequests. Unlike
// AuthnRequests, signatures are unconditionally required.
type logoutRules struct {
	opts Options
	now  func() time.Time
}

func (r logoutRules) RequireSignature(*ServiceProvider) bool { return true }

func (r logoutRules) ValidateSpecific(sp *ServiceProvider, msg Message) *RequestError {
	req := msg.(*LogoutRequestData)
	if req.NotOnOrAfter != nil {
		// The request must still be valid a full clock-skew into the future;
		// NotOnOrAfter exactly at now+skew is the last instant that passes.
		if req.NotOnOrAfter.Before(r.now().Add(r.opts.skewFor(sp))) {
			return ProtocolError(StatusRequester, "", "logout request has expired")
		}
	}
	return nil
}

// ProcessRequest handles an SP-initiated logout request.
func (p *LogoutProcessor) ProcessRequest(ctx context.Context, received *ReceivedMessage, session UserSession) (Result[*LogoutOutcome], error) {
	var zero Result[*LogoutOutcome]

	req, err := ParseLogoutRequest(received.XML)
	if err != nil {
		return zero, err
	}

	if reqErr := p.validator.ValidateRelayState(received.RelayState); reqErr != nil {
		return Fail[*LogoutOutcome](reqErr), nil
	}

	sp, reqErr := p.validator.Validate(ctx, req, received, p.opts.LogoutURL, logoutRules{opts: p.opts, now: p.now})
	if reqErr != nil {
		return p.logoutError(ctx, sp, req, received.RelayState, reqErr)
	}

	identity, err := session.Identity(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to read session: %w", err)
	}
	if identity == nil {
		// No IdP session: nothing to terminate. A success response here is
		// deliberate; an error would leak whether a session exists.
		return p.nothingToDo(ctx, sp, req, received.RelayState)
	}

	spSessions, err := session.SpSessions(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to list SP sessions: %w", err)
	}
	current := findSpSession(spSessions, sp.EntityID)
	if current == nil || (req.SessionIndex() != "" && req.SessionIndex() != current.SessionIndex) {
		// The SP is terminating a session we do not hold. Same anti-oracle
		// rationale as above.
		return p.nothingToDo(ctx, sp, req, received.RelayState)
	}

	sessionID, err := session.SessionID(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to read session id: %w", err)
	}
	clientIDs, err := session.ClientIDs(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to list client ids: %w", err)
	}

	logoutID, err := p.messages.Store(ctx, &LogoutMessage{
		SubjectID:               identity.SubjectID,
		SessionID:               sessionID,
		ClientIDs:               clientIDs,
		ServiceProviderEntityID: sp.EntityID,
		SpSessions:              spSessions,
		LogoutRequestID:         req.ID,
		RelayState:              received.RelayState,
		PostLogoutRedirectURI:   p.opts.LogoutCallbackURL,
	})
	if err != nil {
		return zero, fmt.Errorf("failed to store logout message: %w", err)
	}

	p.log.WithFields(log.Fields{
		"requestId": req.ID,
		"issuer":    req.Issuer,
	}).Info("logout request accepted")

	return Ok(&LogoutOutcome{
		Redirect: &HostLogoutRedirect{
			URL:      p.opts.HostLogoutURL + "?logoutId=" + url.QueryEscape(logoutID),
			LogoutID: logoutID,
		},
	}), nil
}

// ProcessCallback finishes a logout after the host tore the session down.
// The message is taken destructively; replaying the callback finds nothing.
func (p *LogoutProcessor) ProcessCallback(ctx context.Context, logoutID string) (Result[*ResponseDelivery], error) {
	var zero Result[*ResponseDelivery]

	if logoutID == "" {
		return Fail[*ResponseDelivery](ValidationError("logoutId is required")), nil
	}

	msg, err := p.messages.Take(ctx, logoutID)
	if err != nil {
		return zero, fmt.Errorf("failed to load logout message: %w", err)
	}
	if msg == nil {
		return Fail[*ResponseDelivery](ValidationError("unknown or expired logout")), nil
	}
	if msg.ServiceProviderEntityID == "" || msg.LogoutRequestID == "" {
		return Fail[*ResponseDelivery](ValidationError("logout message does not describe a SAML logout")), nil
	}

	sp, err := p.sps.FindByEntityID(ctx, msg.ServiceProviderEntityID)
	if err != nil {
		return zero, fmt.Errorf("failed to resolve service provider: %w", err)
	}
	if sp == nil || !sp.Enabled {
		return Fail[*ResponseDelivery](ValidationError("unknown or disabled service provider %q", msg.ServiceProviderEntityID)), nil
	}
	if sp.SingleLogoutServiceURL == "" {
		return Fail[*ResponseDelivery](ValidationError("service provider %q has no single logout service", sp.EntityID)), nil
	}

	delivery, err := p.successResponse(ctx, sp, msg.LogoutRequestID, msg.RelayState)
	if err != nil {
		return zero, err
	}

	p.log.WithFields(log.Fields{
		"issuer":       sp.EntityID,
		"inResponseTo": msg.LogoutRequestID,
	}).Info("logout completed")

	return Ok(delivery), nil
}

// nothingToDo answers a logout request with an immediate success response.
func (p *LogoutProcessor) nothingToDo(ctx context.Context, sp *ServiceProvider, req *LogoutRequestData, relayState string) (Result[*LogoutOutcome], error) {
	delivery, err := p.successResponse(ctx, sp, req.ID, relayState)
	if err != nil {
		return Result[*LogoutOutcome]{}, err
	}
	p.log.WithFields(log.Fields{
		"requestId": req.ID,
		"issuer":    req.Issuer,
	}).Debug("logout request matched no session, answering success")
	return Ok(&LogoutOutcome{Completed: delivery}), nil
}

func (p *LogoutProcessor) successResponse(ctx context.Context, sp *ServiceProvider, inResponseTo, relayState string) (*ResponseDelivery, error) {
	if sp.SingleLogoutServiceURL == "" {
		return nil, fmt.Errorf("service provider %q has no single logout service", sp.EntityID)
	}
	binding, err := BindingTypeFromURN(sp.SingleLogoutServiceBinding)
	if err != nil {
		return nil, fmt.Errorf("service provider %q: %w", sp.EntityID, err)
	}
	issuer, err := p.issuer.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve issuer: %w", err)
	}

	response := NewLogoutResponseMessage(issuer, sp.SingleLogoutServiceURL, inResponseTo, StatusSuccess, p.now())
	return p.deliver.deliver(response, binding, sp.SingleLogoutServiceURL, inResponseTo, StatusSuccess, relayState, false)
}

// logoutError turns a RequestError into the right outward shape, mirroring
// the signin processor.
func (p *LogoutProcessor) logoutError(ctx context.Context, sp *ServiceProvider, req *LogoutRequestData, relayState string, reqErr *RequestError) (Result[*LogoutOutcome], error) {
	if reqErr.Class != ClassProtocol || sp == nil || sp.SingleLogoutServiceURL == "" {
		return Fail[*LogoutOutcome](reqErr), nil
	}

	binding, err := BindingTypeFromURN(sp.SingleLogoutServiceBinding)
	if err != nil {
		return Fail[*LogoutOutcome](ValidationError("%s", reqErr.Message)), nil
	}
	issuer, err := p.issuer.Current(ctx)
	if err != nil {
		return Result[*LogoutOutcome]{}, fmt.Errorf("failed to resolve issuer: %w", err)
	}

	response := NewLogoutErrorResponse(issuer, sp.SingleLogoutServiceURL, req.ID, reqErr, p.now())
	delivery, err := p.deliver.deliver(response, binding, sp.SingleLogoutServiceURL, req.ID, reqErr.StatusCode, relayState, false)
	if err != nil {
		p.log.WithError(err).Warn("failed to build SAML error response, degrading to validation error")
		return Fail[*LogoutOutcome](ValidationError("%s", reqErr.Message)), nil
	}

	p.log.WithFields(log.Fields{
		"requestId": req.ID,
		"issuer":    req.Issuer,
		"status":    reqErr.StatusCode,
	}).Warn("logout request rejected")

	return Ok(&LogoutOutcome{Error: delivery}), nil
}

func findSpSession(sessions []SpSession, entityID string) *SpSession {
	for i := range sessions {
		if sessions[i].EntityID == entityID {
			return &sessions[i]
		}
	}
	return nil
}
