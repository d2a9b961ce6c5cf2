package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedgate/fedgate/internal/saml"
)

func TestAuthenticate(t *testing.T) {
	d := NewDirectory()

	identity := d.Authenticate("alice", "password123")
	require.NotNil(t, identity)
	assert.Equal(t, "u-alice", identity.SubjectID)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, "engineering", identity.Claims["department"])
}

func TestAuthenticateRejections(t *testing.T) {
	d := NewDirectory()

	assert.Nil(t, d.Authenticate("alice", "wrong"))
	assert.Nil(t, d.Authenticate("nobody", "password123"))
	assert.Nil(t, d.Authenticate("", ""))
}

func TestAddReplacesAccount(t *testing.T) {
	d := NewDirectory()
	d.Add(saml.Identity{SubjectID: "u-carol", Username: "carol"}, "secret")

	require.NotNil(t, d.Authenticate("carol", "secret"))

	d.Add(saml.Identity{SubjectID: "u-carol", Username: "carol"}, "rotated")
	assert.Nil(t, d.Authenticate("carol", "secret"))
	require.NotNil(t, d.Authenticate("carol", "rotated"))
}

func TestAuthenticateReturnsCopy(t *testing.T) {
	d := NewDirectory()

	first := d.Authenticate("bob", "password123")
	require.NotNil(t, first)
	first.Email = "mutated@example.com"

	second := d.Authenticate("bob", "password123")
	require.NotNil(t, second)
	assert.Equal(t, "bob@example.com", second.Email)
}
