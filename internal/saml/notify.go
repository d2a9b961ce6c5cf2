package saml

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// FrontChannelLogout is one successfully-built logout notification, ready
// for the host to render as an iframe (redirect) or auto-submitting form
// (POST).
type FrontChannelLogout struct {
	EntityID    string
	Binding     BindingType
	RedirectURL string
	HTML        []byte
}

// LogoutNotificationContext describes the terminating principal's SP
// sessions.
type LogoutNotificationContext struct {
	SubjectID string
	SessionID string
	// ExcludeEntityID skips the SP that initiated the logout; it is answered
	// with the LogoutResponse instead.
	ExcludeEntityID string
	SpSessions      []SpSession
}

// LogoutNotifier fans front-channel logout requests out to every SP holding
// a session for a terminating principal.
type LogoutNotifier struct {
	sps     ServiceProviderStore
	issuer  IssuerNameService
	deliver deliverer
	now     func() time.Time
	log     *log.Entry
}

// NewLogoutNotifier wires a notifier. now is overridable for tests; nil
// means time.Now.
func NewLogoutNotifier(sps ServiceProviderStore, issuer IssuerNameService, signer SigningService, now func() time.Time) *LogoutNotifier {
	if now == nil {
		now = time.Now
	}
	return &LogoutNotifier{
		sps:     sps,
		issuer:  issuer,
		deliver: deliverer{signer: signer},
		now:     now,
		log:     log.WithField("component", "saml.notify"),
	}
}

// Build produces one front-channel logout descriptor per notifiable SP
// session. Per-SP failures are logged and skipped; one SP failing must never
// abort notification to the rest, so Build itself cannot fail.
func (n *LogoutNotifier) Build(ctx context.Context, notification LogoutNotificationContext) []FrontChannelLogout {
	issuer, err := n.issuer.Current(ctx)
	if err != nil {
		n.log.WithError(err).Error("failed to resolve issuer, skipping logout fan-out")
		return nil
	}

	var out []FrontChannelLogout
	for _, spSession := range notification.SpSessions {
		if spSession.EntityID == notification.ExcludeEntityID {
			continue
		}
		fcl, err := n.buildOne(ctx, issuer, spSession)
		if err != nil {
			n.log.WithError(err).WithField("entityId", spSession.EntityID).
				Warn("failed to build front-channel logout, continuing with remaining SPs")
			continue
		}
		if fcl == nil {
			continue
		}
		out = append(out, *fcl)
	}

	n.log.WithFields(log.Fields{
		"subjectId": notification.SubjectID,
		"built":     len(out),
		"sessions":  len(notification.SpSessions),
	}).Debug("front-channel logout fan-out built")
	return out
}

// buildOne returns (nil, nil) for SPs that simply do not take part in
// single logout; that is not a failure.
func (n *LogoutNotifier) buildOne(ctx context.Context, issuer string, spSession SpSession) (*FrontChannelLogout, error) {
	sp, err := n.sps.FindByEntityID(ctx, spSession.EntityID)
	if err != nil {
		return nil, err
	}
	if sp == nil || !sp.Enabled {
		n.log.WithField("entityId", spSession.EntityID).Debug("skipping unknown or disabled SP")
		return nil, nil
	}
	if sp.SingleLogoutServiceURL == "" {
		n.log.WithField("entityId", spSession.EntityID).Debug("skipping SP without single logout service")
		return nil, nil
	}

	binding, err := BindingTypeFromURN(sp.SingleLogoutServiceBinding)
	if err != nil {
		return nil, err
	}

	request := NewLogoutRequestMessage(issuer, sp.SingleLogoutServiceURL, spSession, n.now())
	delivery, err := n.deliver.deliver(request, binding, sp.SingleLogoutServiceURL, "", "", "", true)
	if err != nil {
		return nil, err
	}

	return &FrontChannelLogout{
		EntityID:    sp.EntityID,
		Binding:     binding,
		RedirectURL: delivery.RedirectURL,
		HTML:        delivery.HTML,
	}, nil
}
