// Package auth signs private Payeer requests.
//
// Two HMAC-SHA256 schemes are supported. The timestamp scheme signs the
// millisecond timestamp followed by the endpoint path and sends the
// timestamp along. The body scheme signs the endpoint action followed by the
// raw request body.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	HeaderAPIID        = "API-ID"
	HeaderAPISign      = "API-SIGN"
	HeaderAPITimestamp = "API-TIMESTAMP"
)

// Scheme selects the signing strategy.
type Scheme string

const (
	SchemeTimestamp Scheme = "timestamp"
	SchemeBody      Scheme = "body"
)

// Clock supplies the signing time.
type Clock interface {
	Now() time.Time
}

// ConfigurationError reports missing or invalid credentials.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("auth configuration: %s %s", e.Field, e.Reason)
}

// Signer produces the headers for one private request.
type Signer interface {
	Headers(action string, body []byte) (map[string]string, error)
}

// Sign returns the hex HMAC-SHA256 of message keyed by secret.
func Sign(secret, message string) (string, error) {
	if secret == "" {
		return "", &ConfigurationError{Field: "secret_key", Reason: "is empty"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// NewSigner builds the signer for scheme. A nil clock means wall time.
func NewSigner(scheme Scheme, apiKey, secret string, clk Clock) (Signer, error) {
	switch scheme {
	case SchemeTimestamp, "":
		return NewTimestampSigner(apiKey, secret, clk)
	case SchemeBody:
		return NewBodySigner(apiKey, secret)
	default:
		return nil, &ConfigurationError{Field: "auth_scheme", Reason: fmt.Sprintf("%q is not supported", scheme)}
	}
}

func checkCredentials(apiKey, secret string) error {
	if apiKey == "" {
		return &ConfigurationError{Field: "api_key", Reason: "is empty"}
	}
	if secret == "" {
		return &ConfigurationError{Field: "secret_key", Reason: "is empty"}
	}
	return nil
}

// TimestampSigner signs timestamp+path.
type TimestampSigner struct {
	apiKey string
	secret string
	clock  Clock
}

func NewTimestampSigner(apiKey, secret string, clk Clock) (*TimestampSigner, error) {
	if err := checkCredentials(apiKey, secret); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TimestampSigner{apiKey: apiKey, secret: secret, clock: clk}, nil
}

// Headers ignores body; the signed message is the timestamp and path.
func (s *TimestampSigner) Headers(path string, _ []byte) (map[string]string, error) {
	ts := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	sig, err := Sign(s.secret, ts+path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAPIID:        s.apiKey,
		HeaderAPISign:      sig,
		HeaderAPITimestamp: ts,
	}, nil
}

// BodySigner signs action+body.
type BodySigner struct {
	apiKey string
	secret string
}

func NewBodySigner(apiKey, secret string) (*BodySigner, error) {
	if err := checkCredentials(apiKey, secret); err != nil {
		return nil, err
	}
	return &BodySigner{apiKey: apiKey, secret: secret}, nil
}

func (s *BodySigner) Headers(action string, body []byte) (map[string]string, error) {
	sig, err := Sign(s.secret, action+string(body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAPIID:   s.apiKey,
		HeaderAPISign: sig,
	}, nil
}
