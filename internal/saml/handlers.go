package saml

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

// Endpoint paths, relative to wherever the service is mounted.
const (
	PathSSO            = "/sso"
	PathSSOCallback    = "/sso/callback"
	PathSSOInitiate    = "/sso/initiate"
	PathSLO            = "/slo"
	PathSLOCallback    = "/slo/callback"
	PathMetadata       = "/metadata"
	StateCookieName    = "fedgate.signin.state"
	stateCookieMaxAge  = 10 * time.Minute
)

// SessionResolver binds an HTTP request to its UserSession.
type SessionResolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) UserSession
}

// ServiceConfig wires the protocol service's collaborators.
type ServiceConfig struct {
	ServiceProviders ServiceProviderStore
	SigninStates     SigninStateStore
	LogoutMessages   LogoutMessageStore
	Sessions         SessionResolver
	Issuer           IssuerNameService
	Signer           SigningService
	Options          Options

	// CookieKey signs the signin state cookie JWT.
	CookieKey     *rsa.PrivateKey
	SecureCookies bool

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// Service exposes the SAML protocol endpoints.
type Service struct {
	signin      *SigninProcessor
	logout      *LogoutProcessor
	notifier    *LogoutNotifier
	sessions    SessionResolver
	stateCookie *SigninStateCookie
	metadata    *MetadataConfig
	opts        Options
	log         *log.Entry
}

// NewService builds the protocol service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		signin:   NewSigninProcessor(cfg.ServiceProviders, cfg.SigninStates, cfg.Issuer, cfg.Signer, cfg.Options, cfg.Now),
		logout:   NewLogoutProcessor(cfg.ServiceProviders, cfg.LogoutMessages, cfg.Issuer, cfg.Signer, cfg.Options, cfg.Now),
		notifier: NewLogoutNotifier(cfg.ServiceProviders, cfg.Issuer, cfg.Signer, cfg.Now),
		sessions: cfg.Sessions,
		stateCookie: &SigninStateCookie{
			Name:     StateCookieName,
			Path:     "/",
			Audience: cfg.Options.EntityID,
			Issuer:   cfg.Options.EntityID,
			MaxAge:   stateCookieMaxAge,
			Key:      cfg.CookieKey,
			Secure:   cfg.SecureCookies,
		},
		metadata: &MetadataConfig{
			EntityID:               cfg.Options.EntityID,
			SSOURL:                 cfg.Options.SigninURL,
			SLOURL:                 cfg.Options.LogoutURL,
			Certificate:            cfg.Signer.Certificate(),
			SupportedNameIDFormats: cfg.Options.SupportedNameIDFormats,
		},
		opts: cfg.Options,
		log:  log.WithField("component", "saml.http"),
	}
}

// Notifier returns the logout fan-out service for the host application.
func (s *Service) Notifier() *LogoutNotifier {
	return s.notifier
}

// RegisterRoutes mounts the protocol endpoints. Unsupported methods get a
// 405 from the router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get(PathSSO, s.handleSignin)
	r.Post(PathSSO, s.handleSignin)
	r.Get(PathSSOCallback, s.handleSigninCallback)
	r.Get(PathSSOInitiate, s.handleIdpInitiated)
	r.Get(PathSLO, s.handleLogout)
	r.Post(PathSLO, s.handleLogout)
	r.Get(PathSLOCallback, s.handleLogoutCallback)
	r.Get(PathMetadata, s.handleMetadata)
}

func (s *Service) handleSignin(w http.ResponseWriter, r *http.Request) {
	received, err := ExtractMessage(r)
	if err != nil {
		s.writeProblem(w, http.StatusBadRequest, "invalid SAML message: "+err.Error())
		return
	}

	session := s.sessions.Resolve(w, r)
	result, err := s.signin.ProcessRequest(r.Context(), received, session)
	if err != nil {
		s.writeProcessingError(w, err)
		return
	}
	s.renderSigninOutcome(w, r, result)
}

func (s *Service) handleIdpInitiated(w http.ResponseWriter, r *http.Request) {
	session := s.sessions.Resolve(w, r)
	result, err := s.signin.ProcessIdpInitiated(r.Context(), r.URL.Query().Get("spEntityId"), r.URL.Query().Get("relayState"), session)
	if err != nil {
		s.writeProcessingError(w, err)
		return
	}
	s.renderSigninOutcome(w, r, result)
}

func (s *Service) renderSigninOutcome(w http.ResponseWriter, r *http.Request, result Result[*SigninOutcome]) {
	if !result.Succeeded() {
		s.writeProblem(w, http.StatusBadRequest, result.Err().Message)
		return
	}
	outcome := result.Value()
	if outcome.Error != nil {
		outcome.Error.Write(w, r)
		return
	}
	if err := s.stateCookie.Set(w, outcome.Redirect.StateID); err != nil {
		s.log.WithError(err).Error("failed to set signin state cookie")
		s.writeProblem(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, outcome.Redirect.URL, http.StatusFound)
}

func (s *Service) handleSigninCallback(w http.ResponseWriter, r *http.Request) {
	stateID, err := s.stateCookie.Read(r)
	if err != nil {
		s.writeProblem(w, http.StatusBadRequest, "missing or invalid signin state")
		return
	}

	session := s.sessions.Resolve(w, r)
	result, err := s.signin.ProcessCallback(r.Context(), stateID, session)
	if err != nil {
		s.writeProcessingError(w, err)
		return
	}
	if !result.Succeeded() {
		s.stateCookie.Clear(w)
		s.writeProblem(w, http.StatusBadRequest, result.Err().Message)
		return
	}

	outcome := result.Value()
	if outcome.Redirect != nil {
		// Session evaporated mid-flow; back to login with a fresh state.
		if err := s.stateCookie.Set(w, outcome.Redirect.StateID); err != nil {
			s.log.WithError(err).Error("failed to set signin state cookie")
			s.writeProblem(w, http.StatusInternalServerError, "internal error")
			return
		}
		http.Redirect(w, r, outcome.Redirect.URL, http.StatusFound)
		return
	}

	s.stateCookie.Clear(w)
	outcome.Completed.Write(w, r)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	received, err := ExtractMessage(r)
	if err != nil {
		s.writeProblem(w, http.StatusBadRequest, "invalid SAML message: "+err.Error())
		return
	}

	session := s.sessions.Resolve(w, r)
	result, err := s.logout.ProcessRequest(r.Context(), received, session)
	if err != nil {
		s.writeProcessingError(w, err)
		return
	}
	if !result.Succeeded() {
		s.writeProblem(w, http.StatusBadRequest, result.Err().Message)
		return
	}

	outcome := result.Value()
	switch {
	case outcome.Redirect != nil:
		http.Redirect(w, r, outcome.Redirect.URL, http.StatusFound)
	case outcome.Completed != nil:
		outcome.Completed.Write(w, r)
	default:
		outcome.Error.Write(w, r)
	}
}

func (s *Service) handleLogoutCallback(w http.ResponseWriter, r *http.Request) {
	result, err := s.logout.ProcessCallback(r.Context(), r.URL.Query().Get("logoutId"))
	if err != nil {
		s.writeProcessingError(w, err)
		return
	}
	if !result.Succeeded() {
		s.writeProblem(w, http.StatusBadRequest, result.Err().Message)
		return
	}
	result.Value().Write(w, r)
}

func (s *Service) handleMetadata(w http.ResponseWriter, r *http.Request) {
	xmlData, err := MarshalMetadata(GenerateIDPMetadata(s.metadata))
	if err != nil {
		s.log.WithError(err).Error("failed to render metadata")
		s.writeProblem(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(xmlData)
}

// writeProcessingError maps parse failures to 400 and everything else to a
// 500 without leaking internals.
func (s *Service) writeProcessingError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrMalformedXML) || errors.Is(err, ErrMissingField) {
		s.writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.WithError(err).Error("request processing failed")
	s.writeProblem(w, http.StatusInternalServerError, "internal error")
}

func (s *Service) writeProblem(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
