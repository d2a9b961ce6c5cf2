package saml

import (
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// SignEnvelopedXML parses xmlData, attaches an enveloped XML signature via
// the signing service and returns the serialized document. The Signature
// element is moved directly after Issuer, where the SAML schema expects it.
func SignEnvelopedXML(signer SigningService, xmlData []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, fmt.Errorf("failed to parse document for signing: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}

	signed, err := signer.SignEnveloped(root)
	if err != nil {
		return nil, fmt.Errorf("failed to sign document: %w", err)
	}
	placeSignatureAfterIssuer(signed)

	out := etree.NewDocument()
	out.SetRoot(signed)
	data, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed document: %w", err)
	}
	return data, nil
}

// placeSignatureAfterIssuer moves the trailing ds:Signature child so it
// immediately follows the Issuer element. goxmldsig appends the signature as
// the last child, which schema-strict SPs reject.
func placeSignatureAfterIssuer(el *etree.Element) {
	children := el.ChildElements()
	if len(children) < 2 {
		return
	}
	sig := children[len(children)-1]
	if sig.Tag != "Signature" {
		return
	}
	issuer := el.FindElement("./Issuer")
	if issuer == nil {
		return
	}
	// goxmldsig appends the signature to the Child slice without setting its
	// parent pointer, so RemoveChild (which checks the parent) would silently
	// no-op and leave a duplicate behind. Remove the token by identity instead.
	for i, child := range el.Child {
		if child == sig {
			el.RemoveChildAt(i)
			break
		}
	}
	el.InsertChildAt(issuer.Index()+1, sig)
}

// IsSigned reports whether the document's root carries a ds:Signature child.
func IsSigned(xmlData []byte) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return false
	}
	root := doc.Root()
	return root != nil && root.FindElement("./Signature") != nil
}

// VerifyEnvelopedXML validates the enveloped signature on xmlData against
// the given certificates. The document's ID attribute anchors the reference.
func VerifyEnvelopedXML(xmlData []byte, certs []*x509.Certificate) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return fmt.Errorf("failed to parse document for verification: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("document has no root element")
	}
	if root.FindElement("./Signature") == nil {
		return fmt.Errorf("document is not signed")
	}

	validationContext := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: certs,
	})
	validationContext.IdAttribute = "ID"

	if _, err := validationContext.Validate(root); err != nil {
		return fmt.Errorf("signature validation failed: %w", err)
	}
	return nil
}
