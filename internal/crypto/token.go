// Package crypto signs and verifies the bearer tokens that carry a
// connection's identity. Tokens are HS256 JWTs issued by the account service
// with the user's id and role as claims; this process only verifies them.
package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

var (
	ErrMalformedToken = errors.New("crypto: malformed token")
	ErrBadSignature   = errors.New("crypto: bad token signature")
	ErrTokenExpired   = errors.New("crypto: token expired")
)

// subject is the "id" claim. Issuers backed by integer keys emit it as a
// JSON number.
type subject string

func (s *subject) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = subject(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id claim: %w", err)
	}
	*s = subject(n.String())
	return nil
}

type claims struct {
	UserID subject     `json:"id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenAuth signs and verifies identity tokens with a shared secret.
type TokenAuth struct {
	secret []byte
	now    func() time.Time
}

// NewTokenAuth creates a TokenAuth. now may be nil.
func NewTokenAuth(secret string, now func() time.Time) *TokenAuth {
	if now == nil {
		now = time.Now
	}
	return &TokenAuth{secret: []byte(secret), now: now}
}

// Sign issues a token for id valid for ttl.
func (a *TokenAuth) Sign(id domain.Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrMalformedToken)
	}
	now := a.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: subject(id.UserID),
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	s, err := tok.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("crypto: sign token: %w", err)
	}
	return s, nil
}

// Verify checks the signature and expiry of token and returns the identity
// it carries.
func (a *TokenAuth) Verify(token string) (domain.Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if c.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing id claim", ErrMalformedToken)
	}
	switch c.Role {
	case domain.RoleBuyer, domain.RoleSeller:
	default:
		return domain.Identity{}, fmt.Errorf("%w: role %q", ErrMalformedToken, c.Role)
	}
	return domain.Identity{UserID: string(c.UserID), Role: c.Role}, nil
}

// String returns a redacted representation suitable for logging.
func (a *TokenAuth) String() string {
	return fmt.Sprintf("TokenAuth{secret=%d bytes}", len(a.secret))
}
