// Package operator issues and checks bearer tokens for the operator API:
// balance lookups, reconciliation, manual debits and campaign reports.
package operator

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/pointledger/internal/apperrors"
	"github.com/nkiryanov/pointledger/internal/models"
)

const (
	defaultTokenTTL      = 12 * time.Hour
	defaultSigningMethod = "HS256"

	tokenIssuer = "pointledger"
	scopeLedger = "ledger:operate"
)

type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Token lifetime
	// If not set than default is used
	TTL time.Duration
}

type TokenManager struct {
	key []byte
	alg jwt.SigningMethod
	ttl time.Duration
	now func() time.Time
}

func NewTokenManager(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTokenTTL
	}

	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	return &TokenManager{
		key: []byte(cfg.SecretKey),
		alg: alg,
		ttl: cfg.TTL,
		now: time.Now,
	}, nil
}

// Issue signs token for the operator (a person or a collaborating service)
func (m *TokenManager) Issue(subject string) (models.IssuedToken, error) {
	if subject == "" {
		return models.IssuedToken{}, errors.New("token subject must not be empty")
	}

	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.ttl)

	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope: scopeLedger,
	})

	value, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing token. Err: %w", err)
	}

	return models.IssuedToken{Value: value, Subject: subject, ExpiresAt: expiresAt}, nil
}

// Parse validates token and returns its subject
// Every failure wraps apperrors.ErrTokenInvalid
func (m *TokenManager) Parse(value string) (subject string, err error) {
	claims := &Claims{}

	_, err = jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	if claims.Scope != scopeLedger {
		return "", fmt.Errorf("%w: scope %q is not allowed", apperrors.ErrTokenInvalid, claims.Scope)
	}

	return claims.Subject, nil
}
