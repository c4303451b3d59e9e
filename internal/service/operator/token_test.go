package operator

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/pointledger/internal/apperrors"
)

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	newManager := func(t *testing.T, ttl time.Duration) *TokenManager {
		m, err := NewTokenManager(Config{SecretKey: "test-secret-key", TTL: ttl})
		require.NoError(t, err, "token manager should be created without errors")
		return m
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := NewTokenManager(Config{SecretKey: "secret"})
		require.NoError(t, err)

		require.Equal(t, []byte("secret"), m.key, "secret key should be set")
		require.Equal(t, defaultTokenTTL, m.ttl, "default TTL should be set")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new fail", func(t *testing.T) {
		_, err := NewTokenManager(Config{})
		require.Error(t, err, "empty secret must fail")

		_, err = NewTokenManager(Config{SecretKey: "secret", Alg: "RS256"})
		require.Error(t, err, "only HMAC methods are supported")
	})

	t.Run("Issue", func(t *testing.T) {
		t.Run("claims", func(t *testing.T) {
			m := newManager(t, time.Hour)

			issued, err := m.Issue("reporting")
			require.NoError(t, err)
			require.Equal(t, "reporting", issued.Subject)
			assert.WithinDuration(t, time.Now().Add(time.Hour), issued.ExpiresAt, time.Second)

			token, err := jwt.ParseWithClaims(issued.Value, &Claims{}, func(t *jwt.Token) (any, error) {
				return []byte("test-secret-key"), nil
			})
			require.NoError(t, err)

			claims, ok := token.Claims.(*Claims)
			require.True(t, ok, "claims should be of type Claims")
			assert.Equal(t, "reporting", claims.Subject)
			assert.Equal(t, tokenIssuer, claims.Issuer)
			assert.Equal(t, scopeLedger, claims.Scope)
			assert.NotEmpty(t, claims.ID, "token has to has jti")
			assert.WithinDuration(t, issued.ExpiresAt, claims.ExpiresAt.Time, 0)
		})

		t.Run("empty subject fail", func(t *testing.T) {
			_, err := newManager(t, time.Hour).Issue("")
			require.Error(t, err)
		})
	})

	t.Run("Parse", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			m := newManager(t, time.Hour)
			issued, err := m.Issue("support")
			require.NoError(t, err)

			subject, err := m.Parse(issued.Value)
			require.NoError(t, err)
			require.Equal(t, "support", subject)
		})

		t.Run("not a token", func(t *testing.T) {
			_, err := newManager(t, time.Hour).Parse("invalid token")
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("expired token", func(t *testing.T) {
			m := newManager(t, time.Minute)
			issued, err := m.Issue("support")
			require.NoError(t, err)

			m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

			_, err = m.Parse(issued.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, "token has to become expired")
		})

		t.Run("other key", func(t *testing.T) {
			other, err := NewTokenManager(Config{SecretKey: "other-key"})
			require.NoError(t, err)
			issued, err := other.Issue("support")
			require.NoError(t, err)

			_, err = newManager(t, time.Hour).Parse(issued.Value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("wrong scope", func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    tokenIssuer,
					Subject:   "support",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
				Scope: "something:else",
			})
			value, err := token.SignedString([]byte("test-secret-key"))
			require.NoError(t, err)

			_, err = newManager(t, time.Hour).Parse(value)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})

		t.Run("not signed token", func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					ID:        uuid.NewString(),
					Issuer:    tokenIssuer,
					Subject:   "support",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
				},
				Scope: scopeLedger,
			})
			value, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)

			_, err = newManager(t, time.Hour).Parse(value)
			require.Error(t, err, "Valid token with empty alg must fail")
		})
	})
}
