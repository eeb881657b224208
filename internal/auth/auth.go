package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller. Identity management lives upstream;
// this package only verifies the bearer token that upstream issued and makes
// the subject available to handlers for ownership and attribution checks.
type Principal struct {
	UserID      string
	DisplayName string
}

var (
	ErrNoToken      = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

const defaultIssuer = "avsar"

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer overrides the expected token issuer.
func WithIssuer(iss string) Option {
	return func(v *Verifier) { v.issuer = iss }
}

// NewVerifier builds a verifier for tokens signed with secret.
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	v := &Verifier{secret: secret, issuer: defaultIssuer}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// NewEphemeralVerifier builds a verifier over a random per-process secret.
// Dev mode uses it when no signing secret is configured, so write endpoints
// stay exercisable; the tokens it signs die with the process.
func NewEphemeralVerifier(opts ...Option) (*Verifier, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return NewVerifier(secret, opts...)
}

type claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses and validates a token, returning its principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoToken
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: c.Subject, DisplayName: c.DisplayName}, nil
}

// Sign mints a token for the given principal. Used by tests and local
// development; production tokens come from the identity provider.
func (v *Verifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DisplayName: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return t.SignedString(v.secret)
}
