// Package signature authenticates payment provider webhooks.
//
// Header format: "t=<unix seconds>,v1=<hex hmac>[,v1=<hex hmac>...]".
// The MAC is HMAC-SHA256 over "<t>.<raw body>" keyed with the shared secret.
// Several v1 entries are accepted so the provider can rotate secrets.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/pointledger/internal/apperrors"
)

const (
	HeaderName = "X-Payment-Signature"

	defaultTolerance = 5 * time.Minute
	schemeV1         = "v1"
)

type Config struct {
	// Shared secret issued by the payment provider
	// Required to be set
	Secret string

	// Max age of the signed timestamp
	// If not set than default is used
	Tolerance time.Duration

	// Time source, time.Now if not set
	Now func() time.Time
}

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("webhook secret must not be empty")
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Verifier{
		secret:    []byte(cfg.Secret),
		tolerance: cfg.Tolerance,
		now:       cfg.Now,
	}, nil
}

// Verify checks header against raw payload
// Every failure wraps apperrors.ErrSignatureInvalid
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: signature header is missing", apperrors.ErrSignatureInvalid)
	}

	ts, signatures, err := parseHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSignatureInvalid, err)
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", apperrors.ErrSignatureInvalid)
	}

	expected := computeMAC(v.secret, ts, payload)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}

	return fmt.Errorf("%w: no matching signature", apperrors.ErrSignatureInvalid)
}

// Sign builds header value for payload signed at ts
func Sign(secret string, ts time.Time, payload []byte) string {
	unix := ts.Unix()
	mac := computeMAC([]byte(secret), unix, payload)
	return fmt.Sprintf("t=%d,%s=%s", unix, schemeV1, hex.EncodeToString(mac))
}

func computeMAC(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseHeader(header string) (int64, [][]byte, error) {
	var (
		ts         int64
		hasTS      bool
		signatures [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, fmt.Errorf("malformed header part %q", part)
		}

		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed timestamp: %w", err)
			}
			ts, hasTS = parsed, true
		case schemeV1:
			sig, err := hex.DecodeString(value)
			if err != nil {
				// Skip garbage entries, other may still match
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	switch {
	case !hasTS:
		return 0, nil, errors.New("timestamp is missing")
	case len(signatures) == 0:
		return 0, nil, errors.New("no v1 signatures")
	default:
		return ts, signatures, nil
	}
}
