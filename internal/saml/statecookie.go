package saml

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigninStateCookie is the cookie carrying the opaque signin state id across
// the interactive login redirect chain, wrapped in a signed JWT so it cannot
// be tampered with or minted by the client.
//
// SameSite is Lax rather than Strict: Safari drops Strict cookies across the
// SP-to-IdP redirect chain, which would strand every signin at the callback.
type SigninStateCookie struct {
	Name     string
	Path     string
	Audience string
	Issuer   string
	MaxAge   time.Duration
	Key      *rsa.PrivateKey
	Secure   bool
}

type stateClaims struct {
	jwt.RegisteredClaims
	StateID string `json:"stateId"`
}

// Set writes the state cookie for stateID.
func (c *SigninStateCookie) Set(w http.ResponseWriter, stateID string) error {
	token, err := c.encode(stateID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     c.Path,
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the state cookie.
func (c *SigninStateCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read extracts and verifies the state id from the request's cookie.
func (c *SigninStateCookie) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return "", fmt.Errorf("no signin state cookie: %w", err)
	}
	return c.decode(cookie.Value)
}

func (c *SigninStateCookie) encode(stateID string) (string, error) {
	now := time.Now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Audience:  jwt.ClaimStrings{c.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.MaxAge)),
		},
		StateID: stateID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state cookie: %w", err)
	}
	return token, nil
}

func (c *SigninStateCookie) decode(tokenString string) (string, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) { return &c.Key.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(c.Audience),
		jwt.WithIssuer(c.Issuer),
	)
	if err != nil {
		return "", fmt.Errorf("invalid state cookie: %w", err)
	}
	if claims.StateID == "" {
		return "", fmt.Errorf("state cookie carries no state id")
	}
	return claims.StateID, nil
}
