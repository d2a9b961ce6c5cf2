package store

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/internal/saml"
)

// SessionCookieName carries the opaque IdP session id.
const SessionCookieName = "fedgate.session"

// SessionManager is the in-memory IdP session registry. A session exists for
// every browser that touched the IdP; it becomes authenticated when the host
// login attaches an identity. Signing out deletes the record, which also
// drops its SP session list.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	secure   bool
}

type sessionRecord struct {
	identity   *saml.Identity
	spSessions []saml.SpSession
	clientIDs  []string
	createdAt  time.Time
}

// NewSessionManager builds an empty registry. secure controls the Secure
// flag on session cookies.
func NewSessionManager(secure bool) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*sessionRecord),
		secure:   secure,
	}
}

// Resolve implements saml.SessionResolver: it binds the request's session
// cookie (minting a fresh anonymous session when absent) to a UserSession.
func (m *SessionManager) Resolve(w http.ResponseWriter, r *http.Request) saml.UserSession {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		m.mu.RLock()
		_, ok := m.sessions[cookie.Value]
		m.mu.RUnlock()
		if ok {
			return &boundSession{m: m, id: cookie.Value}
		}
	}

	id := m.create()
	m.setCookie(w, id)
	return &boundSession{m: m, id: id}
}

// SignIn attaches identity to the request's session, minting one if needed,
// and returns the session id.
func (m *SessionManager) SignIn(w http.ResponseWriter, r *http.Request, identity *saml.Identity) string {
	var id string
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		m.mu.RLock()
		_, ok := m.sessions[cookie.Value]
		m.mu.RUnlock()
		if ok {
			id = cookie.Value
		}
	}
	if id == "" {
		id = m.create()
		m.setCookie(w, id)
	}

	m.mu.Lock()
	if rec, ok := m.sessions[id]; ok {
		rec.identity = identity
	}
	m.mu.Unlock()

	log.WithFields(log.Fields{
		"subjectId": identity.SubjectID,
	}).Info("user signed in")
	return id
}

// Session binds an existing session id directly; used by tests and by flows
// that already hold the id.
func (m *SessionManager) Session(id string) saml.UserSession {
	return &boundSession{m: m, id: id}
}

// Establish creates a pre-authenticated session outside an HTTP exchange.
func (m *SessionManager) Establish(identity *saml.Identity) (string, saml.UserSession) {
	id := m.create()
	m.mu.Lock()
	m.sessions[id].identity = identity
	m.mu.Unlock()
	return id, &boundSession{m: m, id: id}
}

func (m *SessionManager) create() string {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &sessionRecord{createdAt: time.Now()}
	m.mu.Unlock()
	return id
}

func (m *SessionManager) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// boundSession implements saml.UserSession for one session id. Lookups go
// through the manager each call so a signed-out session reads as anonymous.
type boundSession struct {
	m  *SessionManager
	id string
}

func (s *boundSession) Identity(context.Context) (*saml.Identity, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	rec, ok := s.m.sessions[s.id]
	if !ok {
		return nil, nil
	}
	return rec.identity, nil
}

func (s *boundSession) SessionID(context.Context) (string, error) {
	return s.id, nil
}

func (s *boundSession) SpSessions(context.Context) ([]saml.SpSession, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	rec, ok := s.m.sessions[s.id]
	if !ok {
		return nil, nil
	}
	out := make([]saml.SpSession, len(rec.spSessions))
	copy(out, rec.spSessions)
	return out, nil
}

func (s *boundSession) AddSpSession(_ context.Context, spSession saml.SpSession) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	rec, ok := s.m.sessions[s.id]
	if !ok {
		return nil
	}
	for i := range rec.spSessions {
		if rec.spSessions[i].EntityID == spSession.EntityID {
			rec.spSessions[i] = spSession
			return nil
		}
	}
	rec.spSessions = append(rec.spSessions, spSession)
	return nil
}

func (s *boundSession) ClientIDs(context.Context) ([]string, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	rec, ok := s.m.sessions[s.id]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(rec.clientIDs))
	copy(out, rec.clientIDs)
	return out, nil
}

func (s *boundSession) SignOut(context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.sessions, s.id)
	return nil
}
