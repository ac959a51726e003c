package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingSigningKey = errors.New("jwt.errors.missing_signing_key")
	ErrInvalidToken      = errors.New("jwt.errors.invalid_token")
	ErrInvalidSignature  = errors.New("jwt.errors.invalid_signature")
	ErrExpiredToken      = errors.New("jwt.errors.expired_token")
)

type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// Claims is the token payload issued to workspace sessions. Subject is
// the workspace identifier usage counters are keyed by; Plan carries
// the workspace's plan so enforcement works without a catalog lookup.
type Claims struct {
	Subject   string `json:"sub"`
	Plan      string `json:"plan,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// Valid checks temporal claims; zero values are treated as unset.
func (c Claims) Valid() error {
	if c.ExpiresAt > 0 && time.Now().Unix() > c.ExpiresAt {
		return ErrExpiredToken
	}
	return nil
}

// Service signs and verifies HS256 tokens. The signing key stays in
// memory only; 32 bytes or more is expected.
type Service struct {
	signingKey []byte
}

func New(signingKey []byte) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	return &Service{signingKey: signingKey}, nil
}

// Generate returns a signed compact JWT for the given claims.
func (s *Service) Generate(claims Claims) (string, error) {
	headerJSON, err := json.Marshal(header{Type: "JWT", Algorithm: "HS256"})
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	payload := b64(headerJSON) + "." + b64(claimsJSON)
	return payload + "." + s.sign(payload), nil
}

// Parse verifies the signature and temporal claims of a compact JWT
// and returns its payload. Algorithm is pinned to HS256 to prevent
// algorithm confusion.
func (s *Service) Parse(token string) (Claims, error) {
	var claims Claims

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims, ErrInvalidToken
	}

	payload := parts[0] + "." + parts[1]
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(s.sign(payload))) != 1 {
		return claims, ErrInvalidSignature
	}

	headerJSON, err := unb64(parts[0])
	if err != nil {
		return claims, errors.Join(ErrInvalidToken, err)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return claims, errors.Join(ErrInvalidToken, err)
	}
	if h.Algorithm != "HS256" {
		return claims, ErrInvalidToken
	}

	claimsJSON, err := unb64(parts[1])
	if err != nil {
		return claims, errors.Join(ErrInvalidToken, err)
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return claims, errors.Join(ErrInvalidToken, err)
	}

	if err := claims.Valid(); err != nil {
		return claims, err
	}
	return claims, nil
}

func (s *Service) sign(payload string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(payload))
	return b64(h.Sum(nil))
}

func b64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func unb64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
