package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
)

// ============================================================================
// SAML Metadata Types (SAML 2.0 Metadata)
// ============================================================================

// EntityDescriptor represents a SAML metadata EntityDescriptor
type EntityDescriptor struct {
	XMLName          xml.Name          `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	DS               string            `xml:"xmlns:ds,attr"`
	EntityID         string            `xml:"entityID,attr"`
	IDPSSODescriptor *IDPSSODescriptor `xml:"IDPSSODescriptor,omitempty"`
}

// IDPSSODescriptor represents the Identity Provider SSO Descriptor
type IDPSSODescriptor struct {
	XMLName                    xml.Name              `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`
	ProtocolSupportEnumeration string                `xml:"protocolSupportEnumeration,attr"`
	WantAuthnRequestsSigned    bool                  `xml:"WantAuthnRequestsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor       `xml:"KeyDescriptor,omitempty"`
	SingleLogoutServices       []SingleLogoutService `xml:"SingleLogoutService,omitempty"`
	NameIDFormats              []string              `xml:"NameIDFormat,omitempty"`
	SingleSignOnServices       []SingleSignOnService `xml:"SingleSignOnService"`
}

// KeyDescriptor represents a key descriptor in metadata
type KeyDescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata KeyDescriptor"`
	Use     string   `xml:"use,attr,omitempty"`
	KeyInfo KeyInfo  `xml:"KeyInfo"`
}

// KeyInfo represents the ds:KeyInfo element
type KeyInfo struct {
	XMLName  xml.Name  `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	X509Data *X509Data `xml:"X509Data,omitempty"`
}

// X509Data represents the ds:X509Data element
type X509Data struct {
	XMLName         xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# X509Data"`
	X509Certificate string   `xml:"X509Certificate"`
}

// SingleLogoutService represents a Single Logout Service endpoint
type SingleLogoutService struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SingleLogoutService"`
	Binding  string   `xml:"Binding,attr"`
	Location string   `xml:"Location,attr"`
}

// SingleSignOnService represents a Single Sign-On Service endpoint
type SingleSignOnService struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SingleSignOnService"`
	Binding  string   `xml:"Binding,attr"`
	Location string   `xml:"Location,attr"`
}

// MetadataConfig describes the IdP's published endpoints and key material.
type MetadataConfig struct {
	EntityID                string
	SSOURL                  string
	SLOURL                  string
	Certificate             *x509.Certificate
	WantAuthnRequestsSigned bool
	SupportedNameIDFormats  []string
}

// GenerateIDPMetadata builds the IdP EntityDescriptor. The certificate is
// embedded as base64 DER per the XML Signature spec, not PEM.
func GenerateIDPMetadata(config *MetadataConfig) *EntityDescriptor {
	metadata := &EntityDescriptor{
		DS:       NamespaceDS,
		EntityID: config.EntityID,
		IDPSSODescriptor: &IDPSSODescriptor{
			ProtocolSupportEnumeration: NamespaceSAMLp,
			WantAuthnRequestsSigned:    config.WantAuthnRequestsSigned,
			NameIDFormats:              config.SupportedNameIDFormats,
			SingleSignOnServices: []SingleSignOnService{
				{Binding: BindingHTTPRedirect, Location: config.SSOURL},
				{Binding: BindingHTTPPost, Location: config.SSOURL},
			},
			SingleLogoutServices: []SingleLogoutService{
				{Binding: BindingHTTPRedirect, Location: config.SLOURL},
				{Binding: BindingHTTPPost, Location: config.SLOURL},
			},
		},
	}

	if config.Certificate != nil {
		metadata.IDPSSODescriptor.KeyDescriptors = []KeyDescriptor{
			{
				Use: "signing",
				KeyInfo: KeyInfo{
					X509Data: &X509Data{
						X509Certificate: base64.StdEncoding.EncodeToString(config.Certificate.Raw),
					},
				},
			},
		}
	}
	return metadata
}

// MarshalMetadata serializes an EntityDescriptor with the XML declaration.
func MarshalMetadata(metadata *EntityDescriptor) ([]byte, error) {
	xmlData, err := xml.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, err
	}
	return []byte(xml.Header + string(xmlData)), nil
}
