package saml

import (
	"fmt"
	"net/http"
)

// ResponseDelivery is a fully-encoded outbound message ready to hand to the
// user agent: a 302 target for the redirect binding or an auto-submitting
// form for the POST binding. The metadata fields exist for callers and tests
// that need to know what was sent without re-parsing it.
type ResponseDelivery struct {
	Binding     BindingType
	Destination string

	// RedirectURL is set for BindingTypeRedirect.
	RedirectURL string
	// HTML is set for BindingTypePost.
	HTML []byte

	InResponseTo string
	Status       string
	RelayState   string
}

// Write sends the delivery to the user agent.
func (d *ResponseDelivery) Write(w http.ResponseWriter, r *http.Request) {
	switch d.Binding {
	case BindingTypeRedirect:
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(d.HTML)
	}
}

// deliverer encodes outbound protocol messages onto their binding, signing
// with the IdP key on the way out.
type deliverer struct {
	signer SigningService
}

// deliver signs and encodes a marshaled message. For the POST binding the
// XML itself is signed (enveloped); for the redirect binding the signature
// covers the query string instead, so the XML travels unsigned.
func (d deliverer) deliver(message interface{}, binding BindingType, destination, inResponseTo, status, relayState string, isRequest bool) (*ResponseDelivery, error) {
	xmlData, err := Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	delivery := &ResponseDelivery{
		Binding:      binding,
		Destination:  destination,
		InResponseTo: inResponseTo,
		Status:       status,
		RelayState:   relayState,
	}

	switch binding {
	case BindingTypeRedirect:
		redirectURL, err := BuildRedirectURL(destination, xmlData, relayState, isRequest, d.signer)
		if err != nil {
			return nil, err
		}
		delivery.RedirectURL = redirectURL

	case BindingTypePost:
		signedXML, err := SignEnvelopedXML(d.signer, xmlData)
		if err != nil {
			return nil, err
		}
		html, err := GeneratePostForm(destination, EncodePost(signedXML), relayState, isRequest)
		if err != nil {
			return nil, err
		}
		delivery.HTML = []byte(html)

	default:
		return nil, fmt.Errorf("unsupported binding %q", binding)
	}

	return delivery, nil
}
