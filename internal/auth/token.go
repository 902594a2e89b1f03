// Package auth provides credential token issuance and verification.
// The realtime layer consumes only the Verifier contract; the HTTP
// login handler uses the Issuer side.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the stable identity carried by a verified credential token.
type Identity struct {
	// ID is the user's unique identifier.
	ID string
	// Username is the user's display name.
	Username string
	// Role is the user's privilege level (user or admin).
	Role string
}

// ErrTokenInvalid is returned when a token fails signature or claim checks.
var ErrTokenInvalid = errors.New("invalid token")

// ErrTokenExpired is returned when a token's expiry has passed.
var ErrTokenExpired = errors.New("token expired")

// Verifier validates an opaque credential token and yields the identity
// it proves.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// TokenService issues and verifies HMAC-signed JWT credential tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given signing secret
// and token lifetime.
//
// Precondition: secret must be non-empty; ttl must be positive.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a token for the given identity.
//
// Precondition: id.ID and id.Username must be non-empty.
// Postcondition: Returns a signed token valid for the configured TTL.
func (s *TokenService) Issue(id Identity) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify implements Verifier. It checks the signature and expiry and
// returns the embedded identity.
//
// Postcondition: Returns the Identity on success, ErrTokenExpired for a
// stale token, or ErrTokenInvalid for any other failure.
func (s *TokenService) Verify(tokenStr string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}
	if !token.Valid || c.Subject == "" || c.Username == "" {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{
		ID:       c.Subject,
		Username: c.Username,
		Role:     c.Role,
	}, nil
}
