package saml

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	// register the hash implementations the algorithm table selects from
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	log "github.com/sirupsen/logrus"
)

// Redirect-binding signature algorithm URIs.
const (
	SigAlgRSASHA1   = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	SigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SigAlgRSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	SigAlgRSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
)

var sigAlgHashes = map[string]crypto.Hash{
	SigAlgRSASHA1:   crypto.SHA1,
	SigAlgRSASHA256: crypto.SHA256,
	SigAlgRSASHA384: crypto.SHA384,
	SigAlgRSASHA512: crypto.SHA512,
}

// BindingType identifies how a message arrived or should leave.
type BindingType string

const (
	BindingTypeRedirect BindingType = "redirect"
	BindingTypePost     BindingType = "post"
)

// BindingTypeFromURN maps a metadata binding URN onto a BindingType.
// An unknown URN is a deployment configuration error.
func BindingTypeFromURN(urn string) (BindingType, error) {
	switch urn {
	case BindingHTTPRedirect:
		return BindingTypeRedirect, nil
	case BindingHTTPPost:
		return BindingTypePost, nil
	default:
		return "", fmt.Errorf("unsupported binding %q", urn)
	}
}

// ============================================================================
// HTTP-Redirect Binding (SAML 2.0 Bindings Section 3.4)
// ============================================================================

// DeflateEncode serializes message bytes for the redirect binding:
// raw DEFLATE (no zlib header), then base64.
func DeflateEncode(xmlData []byte) (string, error) {
	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := writer.Write(xmlData); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to compress message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to flush compressed message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// DeflateDecode reverses DeflateEncode.
func DeflateDecode(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64 decode: %w", err)
	}
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	xmlData, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return xmlData, nil
}

// BuildRedirectURL encodes xmlData onto destination as a redirect-binding
// URL. Per SAML 2.0 Bindings Section 3.4.4.1 the signature covers the ordered
// concatenation SAMLRequest(|Response)=...&RelayState=...&SigAlg=... of the
// URL-encoded values, not the XML itself. A nil signer produces an unsigned
// URL.
func BuildRedirectURL(destination string, xmlData []byte, relayState string, isRequest bool, signer SigningService) (string, error) {
	encoded, err := DeflateEncode(xmlData)
	if err != nil {
		return "", err
	}

	paramName := "SAMLResponse"
	if isRequest {
		paramName = "SAMLRequest"
	}

	var octets strings.Builder
	octets.WriteString(paramName)
	octets.WriteString("=")
	octets.WriteString(url.QueryEscape(encoded))

	params := url.Values{}
	params.Set(paramName, encoded)

	if relayState != "" {
		octets.WriteString("&RelayState=")
		octets.WriteString(url.QueryEscape(relayState))
		params.Set("RelayState", relayState)
	}

	if signer != nil {
		sigAlg, signature, err := signer.SignQuery(buildSignedOctets(&octets))
		if err != nil {
			return "", fmt.Errorf("failed to sign redirect query: %w", err)
		}
		params.Set("SigAlg", sigAlg)
		params.Set("Signature", base64.StdEncoding.EncodeToString(signature))
	}

	parsedURL, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("invalid destination URL: %w", err)
	}
	parsedURL.RawQuery = params.Encode()
	return parsedURL.String(), nil
}

// buildSignedOctets appends the SigAlg component the signer will use.
// RSA-SHA256 is the only outbound algorithm.
func buildSignedOctets(octets *strings.Builder) string {
	octets.WriteString("&SigAlg=")
	octets.WriteString(url.QueryEscape(SigAlgRSASHA256))
	return octets.String()
}

// VerifyRedirectSignature checks a redirect-binding query signature against
// each of the SP's registered certificates. The octets are rebuilt from the
// raw (still percent-encoded) query exactly as the SP sent them; re-encoding
// through url.Values would change the signed bytes.
func VerifyRedirectSignature(rawQuery string, isRequest bool, certs []*x509.Certificate) error {
	raw, err := rawQueryValues(rawQuery)
	if err != nil {
		return err
	}

	paramName := "SAMLResponse"
	if isRequest {
		paramName = "SAMLRequest"
	}

	sigAlgRaw, ok := raw["SigAlg"]
	if !ok {
		return fmt.Errorf("missing SigAlg parameter")
	}
	sigAlg, err := url.QueryUnescape(sigAlgRaw)
	if err != nil {
		return fmt.Errorf("malformed SigAlg parameter: %w", err)
	}
	hash, ok := sigAlgHashes[sigAlg]
	if !ok {
		return fmt.Errorf("unsupported signature algorithm %q", sigAlg)
	}

	sigRaw, ok := raw["Signature"]
	if !ok {
		return fmt.Errorf("missing Signature parameter")
	}
	sigEncoded, err := url.QueryUnescape(sigRaw)
	if err != nil {
		return fmt.Errorf("malformed Signature parameter: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(sigEncoded)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	var octets strings.Builder
	octets.WriteString(paramName)
	octets.WriteString("=")
	octets.WriteString(raw[paramName])
	if relayState, ok := raw["RelayState"]; ok {
		octets.WriteString("&RelayState=")
		octets.WriteString(relayState)
	}
	octets.WriteString("&SigAlg=")
	octets.WriteString(sigAlgRaw)

	hasher := hash.New()
	hasher.Write([]byte(octets.String()))
	digest := hasher.Sum(nil)

	for _, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if err := rsa.VerifyPKCS1v15(pub, hash, digest, signature); err == nil {
			return nil
		}
	}
	return fmt.Errorf("signature does not match any registered certificate")
}

// protocolQueryParams are the redirect-binding parameters that feed
// signature verification. Each may appear at most once: extraction and
// verification must resolve to the same value, and a duplicate would let
// them diverge, so an ambiguous query is rejected outright.
var protocolQueryParams = []string{"SAMLRequest", "SAMLResponse", "RelayState", "SigAlg", "Signature"}

func isProtocolQueryParam(key string) bool {
	for _, p := range protocolQueryParams {
		if key == p {
			return true
		}
	}
	return false
}

// rawQueryValues splits a raw query string without percent-decoding the
// values, so verification sees the exact octets the SP signed. A protocol
// parameter occurring more than once is an error.
func rawQueryValues(rawQuery string) (map[string]string, error) {
	raw := make(map[string]string)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if _, seen := raw[key]; seen && isProtocolQueryParam(key) {
			return nil, fmt.Errorf("duplicate %s parameter", key)
		}
		raw[key] = value
	}
	return raw, nil
}

// ============================================================================
// HTTP-POST Binding (SAML 2.0 Bindings Section 3.5)
// ============================================================================

// EncodePost base64-encodes an (already signed) XML document for form
// submission.
func EncodePost(xmlData []byte) string {
	return base64.StdEncoding.EncodeToString(xmlData)
}

// DecodePost reverses EncodePost, tolerating '+' characters mangled into
// spaces by naive form decoding.
func DecodePost(encoded string) ([]byte, error) {
	decoded := strings.ReplaceAll(encoded, " ", "+")
	xmlData, err := base64.StdEncoding.DecodeString(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64 decode: %w", err)
	}
	return xmlData, nil
}

// GeneratePostForm renders the auto-submitting HTML form carrying an
// already-encoded message. Destination and RelayState are escaped before
// embedding.
func GeneratePostForm(destination, encodedMessage, relayState string, isRequest bool) (string, error) {
	if err := validateDestinationURL(destination); err != nil {
		return "", fmt.Errorf("invalid destination URL: %w", err)
	}

	paramName := "SAMLResponse"
	if isRequest {
		paramName = "SAMLRequest"
	}

	relayStateInput := ""
	if relayState != "" {
		relayStateInput = fmt.Sprintf(`<input type="hidden" name="RelayState" value="%s"/>`, escapeHTML(relayState))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Working...</title>
</head>
<body onload="document.forms[0].submit()">
    <noscript>
        <p>JavaScript is disabled. Click the button below to continue.</p>
    </noscript>
    <form method="POST" action="%s">
        <input type="hidden" name="%s" value="%s"/>
        %s
        <noscript>
            <input type="submit" value="Continue"/>
        </noscript>
    </form>
</body>
</html>`, escapeHTML(destination), paramName, encodedMessage, relayStateInput), nil
}

// escapeHTML escapes HTML special characters
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// validateDestinationURL rejects URLs unsafe as a form action or redirect
// target (javascript:, data: and friends).
func validateDestinationURL(dest string) error {
	if dest == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(dest)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "" && scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s", scheme)
	}
	if parsed.Host != "" && scheme == "" {
		return fmt.Errorf("absolute URL missing scheme")
	}
	return nil
}

// ============================================================================
// Inbound Extraction
// ============================================================================

// ReceivedMessage is an inbound protocol message plus the binding facts the
// signature validator needs.
type ReceivedMessage struct {
	XML        []byte
	RelayState string
	Binding    BindingType

	// RawQuery preserves the percent-encoded query for redirect-binding
	// signature verification.
	RawQuery string

	// QuerySigned reports whether a Signature query parameter was present.
	QuerySigned bool
}

// ExtractMessage pulls a SAMLRequest (or SAMLResponse) out of an HTTP
// request, decoding per the binding implied by the method.
func ExtractMessage(r *http.Request) (*ReceivedMessage, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		encoded := r.PostFormValue("SAMLRequest")
		if encoded == "" {
			encoded = r.PostFormValue("SAMLResponse")
		}
		if encoded == "" {
			return nil, fmt.Errorf("no SAMLRequest or SAMLResponse in form")
		}
		xmlData, err := DecodePost(encoded)
		if err != nil {
			return nil, err
		}
		return &ReceivedMessage{
			XML:        xmlData,
			RelayState: r.PostFormValue("RelayState"),
			Binding:    BindingTypePost,
		}, nil
	}

	query := r.URL.Query()
	for _, param := range protocolQueryParams {
		if len(query[param]) > 1 {
			return nil, fmt.Errorf("duplicate %s parameter", param)
		}
	}
	encoded := query.Get("SAMLRequest")
	if encoded == "" {
		encoded = query.Get("SAMLResponse")
	}
	if encoded == "" {
		return nil, fmt.Errorf("no SAMLRequest or SAMLResponse in query")
	}
	xmlData, err := DeflateDecode(encoded)
	if err != nil {
		return nil, err
	}

	msg := &ReceivedMessage{
		XML:         xmlData,
		RelayState:  query.Get("RelayState"),
		Binding:     BindingTypeRedirect,
		RawQuery:    r.URL.RawQuery,
		QuerySigned: query.Get("Signature") != "",
	}
	log.WithFields(log.Fields{
		"binding": msg.Binding,
		"signed":  msg.QuerySigned,
	}).Debug("extracted redirect-binding message")
	return msg, nil
}
