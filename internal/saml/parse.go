package saml

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Parse failures come in two flavors: XML that does not deserialize at all,
// and XML missing an attribute or element the protocol makes mandatory.
// Both are terminal; callers answer with a plain 400.
var (
	ErrMalformedXML = errors.New("malformed xml")
	ErrMissingField = errors.New("missing required field")
)

// NameIDPolicyData is the parsed NameIDPolicy child of an AuthnRequest.
type NameIDPolicyData struct {
	Format          string `json:"format,omitempty"`
	SPNameQualifier string `json:"spNameQualifier,omitempty"`
	AllowCreate     bool   `json:"allowCreate,omitempty"`
}

// RequestedAuthnContextData is the parsed RequestedAuthnContext child.
type RequestedAuthnContextData struct {
	Comparison string   `json:"comparison,omitempty"`
	ClassRefs  []string `json:"classRefs"`
}

// AuthnRequestData is the immutable, validated form of an inbound
// AuthnRequest. It is what processors operate on and what gets persisted
// inside a SigninState.
type AuthnRequestData struct {
	ID                            string                     `json:"id"`
	IssueInstant                  time.Time                  `json:"issueInstant"`
	Destination                   string                     `json:"destination,omitempty"`
	Consent                       string                     `json:"consent,omitempty"`
	Issuer                        string                     `json:"issuer"`
	ForceAuthn                    bool                       `json:"forceAuthn,omitempty"`
	IsPassive                     bool                       `json:"isPassive,omitempty"`
	ProtocolBinding               string                     `json:"protocolBinding,omitempty"`
	AssertionConsumerServiceURL   string                     `json:"assertionConsumerServiceUrl,omitempty"`
	AssertionConsumerServiceIndex *int                       `json:"assertionConsumerServiceIndex,omitempty"`
	NameIDPolicy                  *NameIDPolicyData          `json:"nameIdPolicy,omitempty"`
	RequestedAuthnContext         *RequestedAuthnContextData `json:"requestedAuthnContext,omitempty"`
}

// LogoutRequestData is the immutable, validated form of an inbound
// LogoutRequest.
type LogoutRequestData struct {
	ID              string     `json:"id"`
	IssueInstant    time.Time  `json:"issueInstant"`
	Destination     string     `json:"destination,omitempty"`
	Issuer          string     `json:"issuer"`
	NameID          string     `json:"nameId"`
	NameIDFormat    string     `json:"nameIdFormat,omitempty"`
	SPNameQualifier string     `json:"spNameQualifier,omitempty"`
	SessionIndexes  []string   `json:"sessionIndexes,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	NotOnOrAfter    *time.Time `json:"notOnOrAfter,omitempty"`
}

// SessionIndex returns the primary session index, empty when none was sent.
func (r *LogoutRequestData) SessionIndex() string {
	if len(r.SessionIndexes) == 0 {
		return ""
	}
	return r.SessionIndexes[0]
}

// ParseAuthnRequest parses and structurally validates an AuthnRequest
// document. Raw XML is never logged.
func ParseAuthnRequest(xmlData []byte) (*AuthnRequestData, error) {
	var req AuthnRequest
	if err := Unmarshal(xmlData, &req); err != nil {
		log.WithError(err).Warn("authn request rejected: unparseable xml")
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	issueInstant, err := requireHeader(req.ID, req.Version, req.IssueInstant)
	if err != nil {
		log.WithField("requestId", req.ID).WithError(err).Warn("authn request rejected")
		return nil, err
	}
	if req.Issuer == nil || req.Issuer.Value == "" {
		return nil, fmt.Errorf("%w: Issuer", ErrMissingField)
	}

	data := &AuthnRequestData{
		ID:                          req.ID,
		IssueInstant:                issueInstant,
		Destination:                 req.Destination,
		Consent:                     req.Consent,
		Issuer:                      req.Issuer.Value,
		ForceAuthn:                  req.ForceAuthn,
		IsPassive:                   req.IsPassive,
		ProtocolBinding:             req.ProtocolBinding,
		AssertionConsumerServiceURL: req.AssertionConsumerServiceURL,
	}

	if req.AssertionConsumerServiceIndex != "" {
		idx, err := strconv.Atoi(req.AssertionConsumerServiceIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: AssertionConsumerServiceIndex %q", ErrMalformedXML, req.AssertionConsumerServiceIndex)
		}
		data.AssertionConsumerServiceIndex = &idx
	}

	if req.NameIDPolicy != nil {
		data.NameIDPolicy = &NameIDPolicyData{
			Format:          req.NameIDPolicy.Format,
			SPNameQualifier: req.NameIDPolicy.SPNameQualifier,
			AllowCreate:     req.NameIDPolicy.AllowCreate,
		}
	}

	if req.RequestedAuthnContext != nil {
		if len(req.RequestedAuthnContext.AuthnContextClassRef) == 0 {
			return nil, fmt.Errorf("%w: RequestedAuthnContext without AuthnContextClassRef", ErrMissingField)
		}
		data.RequestedAuthnContext = &RequestedAuthnContextData{
			Comparison: req.RequestedAuthnContext.Comparison,
			ClassRefs:  req.RequestedAuthnContext.AuthnContextClassRef,
		}
	}

	log.WithFields(log.Fields{
		"requestId": data.ID,
		"issuer":    data.Issuer,
	}).Debug("parsed authn request")

	return data, nil
}

// ParseLogoutRequest parses and structurally validates a LogoutRequest
// document.
func ParseLogoutRequest(xmlData []byte) (*LogoutRequestData, error) {
	var req LogoutRequest
	if err := Unmarshal(xmlData, &req); err != nil {
		log.WithError(err).Warn("logout request rejected: unparseable xml")
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	issueInstant, err := requireHeader(req.ID, req.Version, req.IssueInstant)
	if err != nil {
		log.WithField("requestId", req.ID).WithError(err).Warn("logout request rejected")
		return nil, err
	}
	if req.Issuer == nil || req.Issuer.Value == "" {
		return nil, fmt.Errorf("%w: Issuer", ErrMissingField)
	}
	if req.NameID == nil || req.NameID.Value == "" {
		return nil, fmt.Errorf("%w: NameID", ErrMissingField)
	}

	data := &LogoutRequestData{
		ID:              req.ID,
		IssueInstant:    issueInstant,
		Destination:     req.Destination,
		Issuer:          req.Issuer.Value,
		NameID:          req.NameID.Value,
		NameIDFormat:    req.NameID.Format,
		SPNameQualifier: req.NameID.SPNameQualifier,
		SessionIndexes:  req.SessionIndex,
		Reason:          req.Reason,
	}

	if req.NotOnOrAfter != "" {
		t, err := ParseTime(req.NotOnOrAfter)
		if err != nil {
			return nil, fmt.Errorf("%w: NotOnOrAfter %q", ErrMalformedXML, req.NotOnOrAfter)
		}
		data.NotOnOrAfter = &t
	}

	log.WithFields(log.Fields{
		"requestId": data.ID,
		"issuer":    data.Issuer,
	}).Debug("parsed logout request")

	return data, nil
}

// requireHeader checks the attributes every protocol message must carry.
func requireHeader(id, version, issueInstant string) (time.Time, error) {
	if id == "" {
		return time.Time{}, fmt.Errorf("%w: ID", ErrMissingField)
	}
	if version == "" {
		return time.Time{}, fmt.Errorf("%w: Version", ErrMissingField)
	}
	if version != "2.0" {
		return time.Time{}, fmt.Errorf("%w: unsupported Version %q", ErrMalformedXML, version)
	}
	if issueInstant == "" {
		return time.Time{}, fmt.Errorf("%w: IssueInstant", ErrMissingField)
	}
	t, err := ParseTime(issueInstant)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: IssueInstant %q", ErrMalformedXML, issueInstant)
	}
	return t, nil
}
