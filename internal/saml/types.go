package saml

import (
	"encoding/xml"
	"time"

	"github.com/dchest/uniuri"
)

// SAML 2.0 XML Namespaces
const (
	NamespaceSAML     = "urn:oasis:names:tc:SAML:2.0:assertion"
	NamespaceSAMLp    = "urn:oasis:names:tc:SAML:2.0:protocol"
	NamespaceDS       = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceMetadata = "urn:oasis:names:tc:SAML:2.0:metadata"
)

// SAML 2.0 NameID Formats
const (
	NameIDFormatUnspecified = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	NameIDFormatEmail       = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	NameIDFormatPersistent  = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	NameIDFormatTransient   = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"
	NameIDFormatEntity      = "urn:oasis:names:tc:SAML:2.0:nameid-format:entity"
)

// SAML 2.0 Bindings
const (
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
)

// SAML 2.0 Status Codes
const (
	StatusSuccess             = "urn:oasis:names:tc:SAML:2.0:status:Success"
	StatusRequester           = "urn:oasis:names:tc:SAML:2.0:status:Requester"
	StatusResponder           = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	StatusVersionMismatch     = "urn:oasis:names:tc:SAML:2.0:status:VersionMismatch"
	StatusAuthnFailed         = "urn:oasis:names:tc:SAML:2.0:status:AuthnFailed"
	StatusInvalidNameIDPolicy = "urn:oasis:names:tc:SAML:2.0:status:InvalidNameIDPolicy"
	StatusNoPassive           = "urn:oasis:names:tc:SAML:2.0:status:NoPassive"
	StatusPartialLogout       = "urn:oasis:names:tc:SAML:2.0:status:PartialLogout"
	StatusRequestDenied       = "urn:oasis:names:tc:SAML:2.0:status:RequestDenied"
)

// SAML 2.0 Consent Identifiers. The first four count as consent already
// obtained; anything else (including absent) means consent is still open.
const (
	ConsentObtained        = "urn:oasis:names:tc:SAML:2.0:consent:obtained"
	ConsentPrior           = "urn:oasis:names:tc:SAML:2.0:consent:prior"
	ConsentCurrentImplicit = "urn:oasis:names:tc:SAML:2.0:consent:current-implicit"
	ConsentCurrentExplicit = "urn:oasis:names:tc:SAML:2.0:consent:current-explicit"
	ConsentUnspecified     = "urn:oasis:names:tc:SAML:2.0:consent:unspecified"
)

// SAML 2.0 LogoutRequest Reason values
const (
	LogoutReasonUser          = "urn:oasis:names:tc:SAML:2.0:logout:user"
	LogoutReasonAdmin         = "urn:oasis:names:tc:SAML:2.0:logout:admin"
	LogoutReasonGlobalTimeout = "urn:oasis:names:tc:SAML:2.0:logout:global-timeout"
)

const authnContextBase = "urn:oasis:names:tc:SAML:2.0:ac:classes:"

var (
	AuthnContextPasswordProtectedTransport = authnContextBase + "PasswordProtectedTransport"
	AuthnContextUnspecified                = authnContextBase + "unspecified"
)

// ============================================================================
// Core SAML Types
// ============================================================================

// Issuer represents the SAML Issuer element
type Issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Format  string   `xml:"Format,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

// NameID represents the SAML NameID element
type NameID struct {
	XMLName         xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	Format          string   `xml:"Format,attr,omitempty"`
	SPProvidedID    string   `xml:"SPProvidedID,attr,omitempty"`
	NameQualifier   string   `xml:"NameQualifier,attr,omitempty"`
	SPNameQualifier string   `xml:"SPNameQualifier,attr,omitempty"`
	Value           string   `xml:",chardata"`
}

// Subject represents the SAML Subject element
type Subject struct {
	XMLName             xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`
	NameID              *NameID              `xml:"NameID,omitempty"`
	SubjectConfirmation *SubjectConfirmation `xml:"SubjectConfirmation,omitempty"`
}

// SubjectConfirmation represents the SAML SubjectConfirmation element
type SubjectConfirmation struct {
	XMLName                 xml.Name                 `xml:"urn:oasis:names:tc:SAML:2.0:assertion SubjectConfirmation"`
	Method                  string                   `xml:"Method,attr"`
	SubjectConfirmationData *SubjectConfirmationData `xml:"SubjectConfirmationData,omitempty"`
}

// SubjectConfirmationData represents the SAML SubjectConfirmationData element
type SubjectConfirmationData struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion SubjectConfirmationData"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr,omitempty"`
	Recipient    string   `xml:"Recipient,attr,omitempty"`
	InResponseTo string   `xml:"InResponseTo,attr,omitempty"`
}

// Conditions represents the SAML Conditions element
type Conditions struct {
	XMLName             xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`
	NotBefore           string               `xml:"NotBefore,attr,omitempty"`
	NotOnOrAfter        string               `xml:"NotOnOrAfter,attr,omitempty"`
	AudienceRestriction *AudienceRestriction `xml:"AudienceRestriction,omitempty"`
}

// AudienceRestriction represents the SAML AudienceRestriction element
type AudienceRestriction struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AudienceRestriction"`
	Audience []string `xml:"Audience"`
}

// AuthnStatement represents the SAML AuthnStatement element
type AuthnStatement struct {
	XMLName             xml.Name      `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnStatement"`
	AuthnInstant        string        `xml:"AuthnInstant,attr"`
	SessionIndex        string        `xml:"SessionIndex,attr,omitempty"`
	SessionNotOnOrAfter string        `xml:"SessionNotOnOrAfter,attr,omitempty"`
	AuthnContext        *AuthnContext `xml:"AuthnContext"`
}

// AuthnContext represents the SAML AuthnContext element
type AuthnContext struct {
	XMLName              xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContext"`
	AuthnContextClassRef string   `xml:"AuthnContextClassRef"`
}

// AttributeStatement represents the SAML AttributeStatement element
type AttributeStatement struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`
	Attributes []Attribute `xml:"Attribute"`
}

// Attribute represents the SAML Attribute element
type Attribute struct {
	XMLName         xml.Name         `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`
	Name            string           `xml:"Name,attr"`
	NameFormat      string           `xml:"NameFormat,attr,omitempty"`
	FriendlyName    string           `xml:"FriendlyName,attr,omitempty"`
	AttributeValues []AttributeValue `xml:"AttributeValue"`
}

// AttributeValue represents the SAML AttributeValue element
type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`
	Value   string   `xml:",chardata"`
}

// ============================================================================
// SAML Protocol Types
// ============================================================================

// AuthnRequest represents a SAML AuthnRequest message on the wire.
// Index attributes are kept as strings so an absent attribute can be told
// apart from a legitimate zero value.
type AuthnRequest struct {
	XMLName                       xml.Name               `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`
	SAMLP                         string                 `xml:"xmlns:samlp,attr,omitempty"`
	SAML                          string                 `xml:"xmlns:saml,attr,omitempty"`
	ID                            string                 `xml:"ID,attr"`
	Version                       string                 `xml:"Version,attr"`
	IssueInstant                  string                 `xml:"IssueInstant,attr"`
	Destination                   string                 `xml:"Destination,attr,omitempty"`
	Consent                       string                 `xml:"Consent,attr,omitempty"`
	ProtocolBinding               string                 `xml:"ProtocolBinding,attr,omitempty"`
	AssertionConsumerServiceURL   string                 `xml:"AssertionConsumerServiceURL,attr,omitempty"`
	AssertionConsumerServiceIndex string                 `xml:"AssertionConsumerServiceIndex,attr,omitempty"`
	ForceAuthn                    bool                   `xml:"ForceAuthn,attr,omitempty"`
	IsPassive                     bool                   `xml:"IsPassive,attr,omitempty"`
	ProviderName                  string                 `xml:"ProviderName,attr,omitempty"`
	Issuer                        *Issuer                `xml:"Issuer,omitempty"`
	NameIDPolicy                  *NameIDPolicy          `xml:"NameIDPolicy,omitempty"`
	RequestedAuthnContext         *RequestedAuthnContext `xml:"RequestedAuthnContext,omitempty"`
}

// NameIDPolicy represents the SAML NameIDPolicy element
type NameIDPolicy struct {
	XMLName         xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`
	Format          string   `xml:"Format,attr,omitempty"`
	SPNameQualifier string   `xml:"SPNameQualifier,attr,omitempty"`
	AllowCreate     bool     `xml:"AllowCreate,attr,omitempty"`
}

// RequestedAuthnContext represents the SAML RequestedAuthnContext element
type RequestedAuthnContext struct {
	XMLName              xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol RequestedAuthnContext"`
	Comparison           string   `xml:"Comparison,attr,omitempty"`
	AuthnContextClassRef []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef"`
}

// Response represents a SAML Response message
type Response struct {
	XMLName      xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`
	SAMLP        string       `xml:"xmlns:samlp,attr,omitempty"`
	SAML         string       `xml:"xmlns:saml,attr,omitempty"`
	ID           string       `xml:"ID,attr"`
	Version      string       `xml:"Version,attr"`
	IssueInstant string       `xml:"IssueInstant,attr"`
	Destination  string       `xml:"Destination,attr,omitempty"`
	InResponseTo string       `xml:"InResponseTo,attr,omitempty"`
	Issuer       *Issuer      `xml:"Issuer,omitempty"`
	Status       *Status      `xml:"Status"`
	Assertions   []*Assertion `xml:"Assertion,omitempty"`
}

// Status represents the SAML Status element
type Status struct {
	XMLName       xml.Name   `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`
	StatusCode    StatusCode `xml:"StatusCode"`
	StatusMessage string     `xml:"StatusMessage,omitempty"`
}

// StatusCode represents the SAML StatusCode element. A nested code carries
// the sub-status on error responses.
type StatusCode struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`
	Value      string      `xml:"Value,attr"`
	StatusCode *StatusCode `xml:"StatusCode,omitempty"`
}

// Assertion represents a SAML Assertion
type Assertion struct {
	XMLName            xml.Name            `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`
	SAML               string              `xml:"xmlns:saml,attr,omitempty"`
	ID                 string              `xml:"ID,attr"`
	Version            string              `xml:"Version,attr"`
	IssueInstant       string              `xml:"IssueInstant,attr"`
	Issuer             *Issuer             `xml:"Issuer"`
	Subject            *Subject            `xml:"Subject,omitempty"`
	Conditions         *Conditions         `xml:"Conditions,omitempty"`
	AuthnStatement     *AuthnStatement     `xml:"AuthnStatement,omitempty"`
	AttributeStatement *AttributeStatement `xml:"AttributeStatement,omitempty"`
}

// LogoutRequest represents a SAML LogoutRequest message
type LogoutRequest struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	SAMLP        string   `xml:"xmlns:samlp,attr,omitempty"`
	SAML         string   `xml:"xmlns:saml,attr,omitempty"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	Destination  string   `xml:"Destination,attr,omitempty"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr,omitempty"`
	Reason       string   `xml:"Reason,attr,omitempty"`
	Issuer       *Issuer  `xml:"Issuer,omitempty"`
	NameID       *NameID  `xml:"NameID,omitempty"`
	SessionIndex []string `xml:"SessionIndex,omitempty"`
}

// LogoutResponse represents a SAML LogoutResponse message
type LogoutResponse struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutResponse"`
	SAMLP        string   `xml:"xmlns:samlp,attr,omitempty"`
	SAML         string   `xml:"xmlns:saml,attr,omitempty"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	Destination  string   `xml:"Destination,attr,omitempty"`
	InResponseTo string   `xml:"InResponseTo,attr,omitempty"`
	Issuer       *Issuer  `xml:"Issuer,omitempty"`
	Status       *Status  `xml:"Status"`
}

// ============================================================================
// Helper Functions
// ============================================================================

// GenerateID generates a unique SAML message ID. IDs must be valid XML NCNames,
// hence the leading underscore.
func GenerateID() string {
	return "_" + uniuri.NewLen(32)
}

// TimeFormat is the serialization format for SAML xs:dateTime attributes:
// UTC with millisecond precision and a literal 'Z' suffix.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t for a SAML dateTime attribute.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// parseTimeLayouts lists accepted inbound dateTime shapes. SPs differ in
// fractional-second precision, so parsing is more lenient than output.
var parseTimeLayouts = []string{
	TimeFormat,
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTime parses a SAML dateTime attribute value.
func ParseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range parseTimeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// Marshal marshals a SAML message to XML.
func Marshal(v interface{}) ([]byte, error) {
	return xml.Marshal(v)
}

// Unmarshal unmarshals XML data into a SAML type.
func Unmarshal(data []byte, v interface{}) error {
	return xml.Unmarshal(data, v)
}
