package host

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"github.com/fedgate/fedgate/internal/saml"
)

// Directory is the host application's user store. It holds demo accounts;
// production deployments replace it with a real credential backend behind
// the same Authenticate call.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*account
}

type account struct {
	identity     saml.Identity
	passwordHash [32]byte
}

// NewDirectory builds a directory pre-loaded with the demo accounts.
func NewDirectory() *Directory {
	d := &Directory{users: make(map[string]*account)}
	d.Add(saml.Identity{
		SubjectID: "u-alice",
		Username:  "alice",
		Email:     "alice@example.com",
		Name:      "Alice Cartwright",
		Claims:    map[string]string{"department": "engineering"},
	}, "password123")
	d.Add(saml.Identity{
		SubjectID: "u-bob",
		Username:  "bob",
		Email:     "bob@example.com",
		Name:      "Bob Delgado",
		Claims:    map[string]string{"department": "finance"},
	}, "password123")
	d.Add(saml.Identity{
		SubjectID: "u-admin",
		Username:  "admin",
		Email:     "admin@example.com",
		Name:      "Administrator",
		Claims:    map[string]string{"department": "it", "role": "admin"},
	}, "admin123")
	return d
}

// Add registers or replaces an account keyed by username.
func (d *Directory) Add(identity saml.Identity, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[identity.Username] = &account{
		identity:     identity,
		passwordHash: sha256.Sum256([]byte(password)),
	}
}

// Authenticate checks the credentials and returns the matching identity, or
// nil when either the user is unknown or the password does not match. The
// two cases are indistinguishable to the caller.
func (d *Directory) Authenticate(username, password string) *saml.Identity {
	d.mu.RLock()
	acct, ok := d.users[username]
	d.mu.RUnlock()

	hash := sha256.Sum256([]byte(password))
	if !ok {
		// Burn the comparison anyway so unknown users cost the same as
		// wrong passwords.
		subtle.ConstantTimeCompare(hash[:], hash[:])
		return nil
	}
	if subtle.ConstantTimeCompare(hash[:], acct.passwordHash[:]) != 1 {
		return nil
	}
	identity := acct.identity
	return &identity
}
