package saml

// InteractionKind is the next user-facing step a signin request needs.
type InteractionKind int

const (
	// InteractionLogin sends the user to the login page.
	InteractionLogin InteractionKind = iota
	// InteractionConsent sends the user to the consent page.
	InteractionConsent
	// InteractionNone proceeds straight to response building; the principal
	// is already authenticated and nothing else is required.
	InteractionNone
)

func (k InteractionKind) String() string {
	switch k {
	case InteractionLogin:
		return "login"
	case InteractionConsent:
		return "consent"
	case InteractionNone:
		return "none"
	default:
		return "unknown"
	}
}

// Interaction is the decision produced by DetermineInteraction.
type Interaction struct {
	Kind InteractionKind

	// SignOutFirst is set when ForceAuthn requires the current principal to
	// be signed out before the login redirect.
	SignOutFirst bool
}

// consentObtained reports whether the request's Consent URN asserts that
// consent was already collected by the SP.
func consentObtained(consent string) bool {
	switch consent {
	case ConsentObtained, ConsentPrior, ConsentCurrentImplicit, ConsentCurrentExplicit:
		return true
	default:
		return false
	}
}

// DetermineInteraction decides what has to happen between receiving a signin
// request and building its response, from the tuple (signed-in, ForceAuthn,
// IsPassive, consent). The passive-conflict checks must run before the
// consent check; reordering them changes which error a passive
// consent-requiring request receives.
func DetermineInteraction(signedIn, forceAuthn, isPassive bool, sp *ServiceProvider, consent string) (Interaction, *RequestError) {
	if signedIn {
		if forceAuthn && isPassive {
			return Interaction{}, ProtocolError(StatusResponder, StatusNoPassive,
				"cannot force reauthentication for a passive request")
		}
		if forceAuthn {
			return Interaction{Kind: InteractionLogin, SignOutFirst: true}, nil
		}
		return Interaction{Kind: InteractionNone}, nil
	}

	if isPassive {
		return Interaction{}, ProtocolError(StatusResponder, StatusNoPassive,
			"not logged in and passive authentication requested")
	}

	if sp != nil && sp.RequireConsent && !consentObtained(consent) {
		return Interaction{Kind: InteractionConsent}, nil
	}

	return Interaction{Kind: InteractionLogin}, nil
}
