package saml

import "time"

const (
	assertionValidity = 5 * time.Minute
	sessionValidity   = 8 * time.Hour
)

// NewSuccessResponse builds the skeleton of a successful SAML Response.
// inResponseTo is empty for IdP-initiated signin.
func NewSuccessResponse(issuer, destination, inResponseTo string, now time.Time) *Response {
	return &Response{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: FormatTime(now),
		Destination:  destination,
		InResponseTo: inResponseTo,
		Issuer:       &Issuer{Value: issuer},
		Status: &Status{
			StatusCode: StatusCode{Value: StatusSuccess},
		},
	}
}

// NewErrorResponse builds a failed SAML Response carrying the protocol
// error's status, sub-status and message.
func NewErrorResponse(issuer, destination, inResponseTo string, reqErr *RequestError, now time.Time) *Response {
	return &Response{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: FormatTime(now),
		Destination:  destination,
		InResponseTo: inResponseTo,
		Issuer:       &Issuer{Value: issuer},
		Status:       statusFromError(reqErr),
	}
}

// NewAssertion builds the assertion for a successful signin.
func NewAssertion(issuer, audience, recipient, inResponseTo string, nameID *NameID, sessionIndex string, identity *Identity, now time.Time) *Assertion {
	instant := FormatTime(now)
	notOnOrAfter := FormatTime(now.Add(assertionValidity))

	assertion := &Assertion{
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: instant,
		Issuer:       &Issuer{Value: issuer},
		Subject: &Subject{
			NameID: nameID,
			SubjectConfirmation: &SubjectConfirmation{
				Method: "urn:oasis:names:tc:SAML:2.0:cm:bearer",
				SubjectConfirmationData: &SubjectConfirmationData{
					NotOnOrAfter: notOnOrAfter,
					Recipient:    recipient,
					InResponseTo: inResponseTo,
				},
			},
		},
		Conditions: &Conditions{
			NotBefore:    instant,
			NotOnOrAfter: notOnOrAfter,
			AudienceRestriction: &AudienceRestriction{
				Audience: []string{audience},
			},
		},
		AuthnStatement: &AuthnStatement{
			AuthnInstant:        instant,
			SessionIndex:        sessionIndex,
			SessionNotOnOrAfter: FormatTime(now.Add(sessionValidity)),
			AuthnContext: &AuthnContext{
				AuthnContextClassRef: AuthnContextPasswordProtectedTransport,
			},
		},
	}

	if attrs := identityAttributes(identity); len(attrs) > 0 {
		assertion.AttributeStatement = &AttributeStatement{Attributes: attrs}
	}
	return assertion
}

func identityAttributes(identity *Identity) []Attribute {
	var attrs []Attribute
	add := func(name, value string) {
		if value == "" {
			return
		}
		attrs = append(attrs, Attribute{
			Name:            name,
			NameFormat:      "urn:oasis:names:tc:SAML:2.0:attrname-format:basic",
			AttributeValues: []AttributeValue{{Value: value}},
		})
	}
	add("username", identity.Username)
	add("email", identity.Email)
	add("name", identity.Name)
	return attrs
}

// NewLogoutResponseMessage builds a LogoutResponse with the given top-level
// status code.
func NewLogoutResponseMessage(issuer, destination, inResponseTo, statusCode string, now time.Time) *LogoutResponse {
	return &LogoutResponse{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: FormatTime(now),
		Destination:  destination,
		InResponseTo: inResponseTo,
		Issuer:       &Issuer{Value: issuer},
		Status: &Status{
			StatusCode: StatusCode{Value: statusCode},
		},
	}
}

// NewLogoutErrorResponse builds a failed LogoutResponse from a protocol
// error.
func NewLogoutErrorResponse(issuer, destination, inResponseTo string, reqErr *RequestError, now time.Time) *LogoutResponse {
	return &LogoutResponse{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: FormatTime(now),
		Destination:  destination,
		InResponseTo: inResponseTo,
		Issuer:       &Issuer{Value: issuer},
		Status:       statusFromError(reqErr),
	}
}

// NewLogoutRequestMessage builds a front-channel LogoutRequest for one SP
// session.
func NewLogoutRequestMessage(issuer, destination string, session SpSession, now time.Time) *LogoutRequest {
	return &LogoutRequest{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: FormatTime(now),
		Destination:  destination,
		NotOnOrAfter: FormatTime(now.Add(assertionValidity)),
		Reason:       LogoutReasonUser,
		Issuer:       &Issuer{Value: issuer},
		NameID: &NameID{
			Format: session.NameIDFormat,
			Value:  session.NameID,
		},
		SessionIndex: []string{session.SessionIndex},
	}
}

func statusFromError(reqErr *RequestError) *Status {
	status := &Status{
		StatusCode:    StatusCode{Value: reqErr.StatusCode},
		StatusMessage: reqErr.Message,
	}
	if status.StatusCode.Value == "" {
		status.StatusCode.Value = StatusResponder
	}
	if reqErr.SubStatusCode != "" {
		status.StatusCode.StatusCode = &StatusCode{Value: reqErr.SubStatusCode}
	}
	return status
}
