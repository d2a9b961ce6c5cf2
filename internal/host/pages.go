package host

import (
	"context"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/internal/saml"
	"github.com/fedgate/fedgate/internal/store"
)

// Root-relative paths of the host pages. The protocol options' LoginURL,
// ConsentURL and HostLogoutURL must point at these.
const (
	PathLogin   = "/login"
	PathConsent = "/consent"
	PathLogout  = "/logout"
)

// Pages serves the host application's interactive surface: login, consent,
// the logout confirmation page that owns session teardown, and a small index
// listing the registered relying parties.
type Pages struct {
	users    *Directory
	sessions *store.SessionManager
	sps      saml.ServiceProviderStore
	logouts  saml.LogoutMessageStore
	notifier *saml.LogoutNotifier
	opts     saml.Options
	log      *log.Entry
}

// NewPages wires the host pages.
func NewPages(users *Directory, sessions *store.SessionManager, sps saml.ServiceProviderStore, logouts saml.LogoutMessageStore, notifier *saml.LogoutNotifier, opts saml.Options) *Pages {
	return &Pages{
		users:    users,
		sessions: sessions,
		sps:      sps,
		logouts:  logouts,
		notifier: notifier,
		opts:     opts,
		log:      log.WithField("component", "host"),
	}
}

// RegisterRoutes mounts the host pages on the router.
func (p *Pages) RegisterRoutes(r chi.Router) {
	r.Get("/", p.handleIndex)
	r.Get(PathLogin, p.handleLoginPage)
	r.Post(PathLogin, p.handleLoginSubmit)
	r.Get(PathConsent, p.handleConsentPage)
	r.Post(PathConsent, p.handleConsentSubmit)
	r.Get(PathLogout, p.handleLogoutPage)
	r.Post(PathLogout, p.handleLogoutSubmit)
}

// ============================================================================
// Login
// ============================================================================

func (p *Pages) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	p.render(w, loginTemplate, loginView{
		Action:    PathLogin,
		ReturnURL: safeReturnURL(r.URL.Query().Get("returnUrl"), p.opts.SigninCallbackURL),
	})
}

func (p *Pages) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	returnURL := safeReturnURL(r.PostFormValue("returnUrl"), p.opts.SigninCallbackURL)

	identity := p.users.Authenticate(r.PostFormValue("username"), r.PostFormValue("password"))
	if identity == nil {
		p.log.WithField("username", r.PostFormValue("username")).Warn("login failed")
		w.WriteHeader(http.StatusUnauthorized)
		p.render(w, loginTemplate, loginView{
			Action:    PathLogin,
			ReturnURL: returnURL,
			Error:     "Invalid username or password.",
		})
		return
	}

	p.sessions.SignIn(w, r, identity)
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// safeReturnURL only honors relative paths; anything absolute falls back to
// the signin callback so the login form cannot be used as an open redirector.
func safeReturnURL(candidate, fallback string) string {
	if candidate == "" || !strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, "//") {
		return fallback
	}
	if _, err := url.Parse(candidate); err != nil {
		return fallback
	}
	return candidate
}

// ============================================================================
// Consent
// ============================================================================

func (p *Pages) handleConsentPage(w http.ResponseWriter, r *http.Request) {
	p.render(w, consentTemplate, consentView{Action: PathConsent})
}

func (p *Pages) handleConsentSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("decision") != "accept" {
		// The pending signin state is left to expire on its own.
		p.render(w, deniedTemplate, nil)
		return
	}
	http.Redirect(w, r, p.opts.SigninCallbackURL, http.StatusFound)
}

// ============================================================================
// Logout
// ============================================================================

func (p *Pages) handleLogoutPage(w http.ResponseWriter, r *http.Request) {
	p.render(w, logoutConfirmTemplate, logoutConfirmView{
		Action:   PathLogout,
		LogoutID: r.URL.Query().Get("logoutId"),
	})
}

// handleLogoutSubmit owns the actual teardown: it snapshots the session's SP
// session list, signs the session out, then renders the front-channel
// fan-out with a continue link to the protocol callback.
func (p *Pages) handleLogoutSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	logoutID := r.PostFormValue("logoutId")
	ctx := r.Context()
	session := p.sessions.Resolve(w, r)

	notification, signedIn := p.snapshot(ctx, session)
	if logoutID != "" {
		// The initiating SP gets its answer through the protocol callback;
		// it is skipped in the fan-out.
		msg, err := p.logouts.Peek(ctx, logoutID)
		if err != nil {
			p.log.WithError(err).Warn("failed to load pending logout message")
		} else if msg != nil {
			notification.ExcludeEntityID = msg.ServiceProviderEntityID
		}
	}
	if signedIn {
		if err := session.SignOut(ctx); err != nil {
			p.log.WithError(err).Error("failed to sign session out")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	var logouts []saml.FrontChannelLogout
	if signedIn {
		logouts = p.notifier.Build(ctx, notification)
	}

	continueURL := ""
	if logoutID != "" {
		continueURL = p.opts.LogoutCallbackURL + "?logoutId=" + url.QueryEscape(logoutID)
	}
	p.render(w, logoutFanoutTemplate, logoutFanoutView{
		Logouts:     fanoutViews(logouts),
		ContinueURL: continueURL,
	})
}

// snapshot captures everything the fan-out needs before SignOut destroys it.
func (p *Pages) snapshot(ctx context.Context, session saml.UserSession) (saml.LogoutNotificationContext, bool) {
	identity, err := session.Identity(ctx)
	if err != nil || identity == nil {
		return saml.LogoutNotificationContext{}, false
	}
	sessionID, _ := session.SessionID(ctx)
	spSessions, err := session.SpSessions(ctx)
	if err != nil {
		p.log.WithError(err).Warn("failed to list SP sessions for logout fan-out")
	}
	return saml.LogoutNotificationContext{
		SubjectID:  identity.SubjectID,
		SessionID:  sessionID,
		SpSessions: spSessions,
	}, true
}

// ============================================================================
// Index
// ============================================================================

func (p *Pages) handleIndex(w http.ResponseWriter, r *http.Request) {
	sps, err := p.sps.All(r.Context())
	if err != nil {
		p.log.WithError(err).Error("failed to list service providers")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	view := indexView{}
	for _, sp := range sps {
		if !sp.Enabled {
			continue
		}
		entry := indexEntry{EntityID: sp.EntityID}
		if sp.AllowIdpInitiated {
			entry.InitiateURL = p.opts.SigninURL + "/initiate?spEntityId=" + url.QueryEscape(sp.EntityID)
		}
		view.ServiceProviders = append(view.ServiceProviders, entry)
	}
	p.render(w, indexTemplate, view)
}

// ============================================================================
// Rendering
// ============================================================================

func (p *Pages) render(w http.ResponseWriter, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		p.log.WithError(err).Error("failed to render page")
	}
}

type loginView struct {
	Action    string
	ReturnURL string
	Error     string
}

type consentView struct {
	Action string
}

type logoutConfirmView struct {
	Action   string
	LogoutID string
}

type fanoutView struct {
	EntityID    string
	RedirectURL string
	HTML        string
}

type logoutFanoutView struct {
	Logouts     []fanoutView
	ContinueURL string
}

func fanoutViews(logouts []saml.FrontChannelLogout) []fanoutView {
	out := make([]fanoutView, 0, len(logouts))
	for _, l := range logouts {
		out = append(out, fanoutView{
			EntityID:    l.EntityID,
			RedirectURL: l.RedirectURL,
			HTML:        string(l.HTML),
		})
	}
	return out
}

type indexEntry struct {
	EntityID    string
	InitiateURL string
}

type indexView struct {
	ServiceProviders []indexEntry
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign In</title></head>
<body>
<h1>Sign In</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="returnUrl" value="{{.ReturnURL}}">
<label>Username <input type="text" name="username" autofocus></label><br>
<label>Password <input type="password" name="password"></label><br>
<button type="submit">Sign In</button>
</form>
</body>
</html>`))

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Consent</title></head>
<body>
<h1>Release your profile?</h1>
<p>The application you are signing in to will receive your username, email
address and name.</p>
<form method="post" action="{{.Action}}">
<button type="submit" name="decision" value="accept">Allow</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>`))

var deniedTemplate = template.Must(template.New("denied").Parse(`<!DOCTYPE html>
<html>
<head><title>Request Denied</title></head>
<body>
<h1>Sign-in cancelled</h1>
<p>You declined to release your profile. You can close this window.</p>
</body>
</html>`))

var logoutConfirmTemplate = template.Must(template.New("logoutConfirm").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign Out</title></head>
<body>
<h1>Sign out?</h1>
<p>This ends your session here and at every connected application.</p>
<form method="post" action="{{.Action}}">
<input type="hidden" name="logoutId" value="{{.LogoutID}}">
<button type="submit">Sign Out</button>
</form>
</body>
</html>`))

var logoutFanoutTemplate = template.Must(template.New("logoutFanout").Parse(`<!DOCTYPE html>
<html>
<head><title>Signing Out</title></head>
<body>
<h1>Signing you out</h1>
{{range .Logouts}}
{{if .RedirectURL}}<iframe src="{{.RedirectURL}}" style="display:none" title="{{.EntityID}}"></iframe>
{{else}}<iframe srcdoc="{{.HTML}}" style="display:none" title="{{.EntityID}}"></iframe>
{{end}}{{end}}
{{if .ContinueURL}}<p><a href="{{.ContinueURL}}">Continue</a></p>
<script>setTimeout(function() { window.location = {{.ContinueURL}}; }, 2000);</script>
{{else}}<p>You have been signed out.</p>
{{end}}
</body>
</html>`))

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Identity Provider</title></head>
<body>
<h1>Registered applications</h1>
{{if .ServiceProviders}}<ul>
{{range .ServiceProviders}}<li>{{.EntityID}}{{if .InitiateURL}} &mdash; <a href="{{.InitiateURL}}">sign in</a>{{end}}</li>
{{end}}</ul>
{{else}}<p>No applications are registered.</p>
{{end}}
</body>
</html>`))
