package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-chi/jwtauth"
)

// ErrInvalidCredential is returned for a missing, malformed or expired
// token. It is fatal to a connection attempt: the session is never
// registered.
var ErrInvalidCredential = errors.New("invalid or expired credential")

// Verifier validates the opaque credentials issued by the identity
// collaborator. Issuance lives elsewhere; this service only checks the
// signature and extracts the external user id from the subject claim.
type Verifier struct {
	tokenAuth *jwtauth.JWTAuth
}

func NewVerifier() *Verifier {
	var jwtKey = os.Getenv("JWT_SECRET_KEY")
	return &Verifier{tokenAuth: jwtauth.New("HS256", []byte(jwtKey), nil)}
}

// TokenAuth exposes the underlying authority for chi middleware wiring.
func (v *Verifier) TokenAuth() *jwtauth.JWTAuth {
	return v.tokenAuth
}

// VerifyCredential checks one token string and returns the external user id.
func (v *Verifier) VerifyCredential(token string) (string, error) {
	t, err := jwtauth.VerifyToken(v.tokenAuth, token)
	if err != nil {
		return "", ErrInvalidCredential
	}
	sub := t.Subject()
	if sub == "" {
		return "", ErrInvalidCredential
	}
	return sub, nil
}

// UserFromContext extracts the external user id placed in the request
// context by the jwtauth.Verifier middleware.
func UserFromContext(ctx context.Context) (string, error) {
	token, _, err := jwtauth.FromContext(ctx)
	if err != nil || token == nil {
		return "", ErrInvalidCredential
	}
	sub := token.Subject()
	if sub == "" {
		return "", ErrInvalidCredential
	}
	return sub, nil
}

// Issue mints a short-lived token for the given user. Production
// credentials come from the identity provider; this exists for local
// development and tests.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	_, tokenString, err := v.tokenAuth.Encode(map[string]interface{}{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	})
	return tokenString, err
}
