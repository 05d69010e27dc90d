package crypto

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var t0 = time.Unix(1_700_000_000, 0)

// upstream signs claims the way the account service does.
func upstream(t *testing.T, method jwt.SigningMethod, secret string, c jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, c).SignedString([]byte(secret))
	assert.Nil(t, err)
	return tok
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	a := NewTokenAuth("secret", fixedClock(t0))

	tok, err := a.Sign(domain.Identity{UserID: "u1", Role: domain.RoleBuyer}, time.Hour)
	assert.Nil(t, err)
	check.Equal(t, 3, len(strings.Split(tok, ".")))

	id, err := a.Verify(tok)
	assert.Nil(t, err)
	check.Equal(t, "u1", id.UserID)
	check.Equal(t, domain.RoleBuyer, id.Role)
}

func TestVerifyUpstreamToken(t *testing.T) {
	t.Parallel()
	a := NewTokenAuth("secret", fixedClock(t0))
	exp := t0.Add(7 * 24 * time.Hour).Unix()

	id, err := a.Verify(upstream(t, jwt.SigningMethodHS256, "secret", jwt.MapClaims{
		"id": 42, "role": "seller", "iat": t0.Unix(), "exp": exp,
	}))
	assert.Nil(t, err)
	check.Equal(t, "42", id.UserID)
	check.Equal(t, domain.RoleSeller, id.Role)

	id, err = a.Verify(upstream(t, jwt.SigningMethodHS256, "secret", jwt.MapClaims{
		"id": "b7c1", "role": "buyer", "exp": exp,
	}))
	assert.Nil(t, err)
	check.Equal(t, "b7c1", id.UserID)
}

func TestTokenRejections(t *testing.T) {
	t.Parallel()
	signer := NewTokenAuth("secret", fixedClock(t0))
	good, err := signer.Sign(domain.Identity{UserID: "u1", Role: domain.RoleSeller}, time.Minute)
	assert.Nil(t, err)
	parts := strings.Split(good, ".")
	exp := t0.Add(time.Hour).Unix()

	forged := upstream(t, jwt.SigningMethodHS256, "secret", jwt.MapClaims{"id": "u1", "role": "admin", "exp": exp})
	forgedBody := strings.Split(forged, ".")[1]

	tests := []struct {
		name  string
		auth  *TokenAuth
		token string
		want  error
	}{
		{"no separator", signer, "abc", ErrMalformedToken},
		{"bad base64", signer, "!!!.???.***", ErrMalformedToken},
		{"wrong secret", NewTokenAuth("other", fixedClock(t0)), good, ErrBadSignature},
		{"tampered body", signer, parts[0] + "." + forgedBody + "." + parts[2], ErrBadSignature},
		{"expired", NewTokenAuth("secret", fixedClock(t0.Add(time.Minute))), good, ErrTokenExpired},
		{"truncated signature", signer, parts[0] + "." + parts[1] + ".AA", ErrBadSignature},
		{"other algorithm", signer, upstream(t, jwt.SigningMethodHS512, "secret", jwt.MapClaims{"id": "u1", "role": "buyer", "exp": exp}), ErrBadSignature},
		{"no expiry", signer, upstream(t, jwt.SigningMethodHS256, "secret", jwt.MapClaims{"id": "u1", "role": "buyer"}), ErrMalformedToken},
		{"no id", signer, upstream(t, jwt.SigningMethodHS256, "secret", jwt.MapClaims{"role": "buyer", "exp": exp}), ErrMalformedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.auth.Verify(tt.token)
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestTokenUnknownRole(t *testing.T) {
	t.Parallel()
	a := NewTokenAuth("secret", fixedClock(t0))
	tok, err := a.Sign(domain.Identity{UserID: "u1", Role: "admin"}, time.Hour)
	assert.Nil(t, err)

	_, err = a.Verify(tok)
	check.True(t, errors.Is(err, ErrMalformedToken))
}

func TestSignRejectsEmptyUserID(t *testing.T) {
	t.Parallel()
	_, err := NewTokenAuth("s", nil).Sign(domain.Identity{Role: domain.RoleBuyer}, time.Hour)
	check.True(t, errors.Is(err, ErrMalformedToken))
	check.False(t, strings.Contains(NewTokenAuth("s", nil).String(), "s}"))
}
