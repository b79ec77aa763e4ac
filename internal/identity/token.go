// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identity decodes the externally issued tokens that carry a user's
// traits. Traits are read-only input: they change only when a new token is
// issued, and are never cached beyond the session they arrived with.
package identity

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
)

// Sentinel errors.
var (
	// ErrTokenExpired is returned for a token whose signature verifies but
	// whose expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned when no configured secret accepts the token.
	ErrTokenInvalid = errors.New("token invalid")
)

// Secret is one accepted token issuer of a world.
type Secret struct {
	Issuer   string `koanf:"issuer" yaml:"issuer"`
	Audience string `koanf:"audience" yaml:"audience"`
	Secret   string `koanf:"secret" yaml:"secret"`
}

// Claims are the claims of an identity token.
type Claims struct {
	jwt.RegisteredClaims
	UID     string         `json:"uid,omitempty"`
	Traits  []string       `json:"traits"`
	Type    string         `json:"type,omitempty"`
	Profile map[string]any `json:"profile,omitempty"`
}

// Session is what a decoded token says about its bearer.
type Session struct {
	UserID    string
	Type      access.UserType
	Traits    []string
	Profile   map[string]any
	ExpiresAt time.Time
}

// Subject returns the access subject for the session.
func (s *Session) Subject() access.Subject {
	return access.Subject{ID: s.UserID, Type: s.Type, Traits: slices.Clone(s.Traits)}
}

// Decoder verifies HS256 tokens against a world's secrets, trying each in order.
type Decoder struct {
	secrets []Secret
	leeway  time.Duration
	now     func() time.Time
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLeeway tolerates clock skew when checking expiry and not-before.
func WithLeeway(d time.Duration) DecoderOption {
	return func(dec *Decoder) { dec.leeway = d }
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) DecoderOption {
	return func(dec *Decoder) { dec.now = now }
}

// NewDecoder creates a decoder for the given secrets.
func NewDecoder(secrets []Secret, opts ...DecoderOption) *Decoder {
	d := &Decoder{secrets: slices.Clone(secrets), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode verifies token and returns its session. An expired token fails at
// once with ErrTokenExpired; any other failure moves on to the next secret
// and, when none accepts the token, ErrTokenInvalid is returned.
func (d *Decoder) Decode(token string) (*Session, error) {
	var lastErr error
	for _, sec := range d.secrets {
		claims := &Claims{}
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(sec.Issuer),
			jwt.WithAudience(sec.Audience),
			jwt.WithLeeway(d.leeway),
			jwt.WithTimeFunc(d.now),
		)
		_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return []byte(sec.Secret), nil
		})
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.In("identity").
				Code("TOKEN_EXPIRED").
				With("issuer", sec.Issuer).
				Wrap(errors.Join(ErrTokenExpired, err))
		}
		if err != nil {
			lastErr = err
			continue
		}
		return newSession(claims)
	}
	if lastErr == nil {
		lastErr = errors.New("no token secrets configured")
	}
	return nil, oops.In("identity").Code("TOKEN_INVALID").Wrap(errors.Join(ErrTokenInvalid, lastErr))
}

func newSession(c *Claims) (*Session, error) {
	uid := c.UID
	if uid == "" {
		uid = c.Subject
	}
	if uid == "" {
		return nil, oops.In("identity").Code("TOKEN_INVALID").Wrap(errors.Join(ErrTokenInvalid, errors.New("token names no user")))
	}
	typ, err := access.ParseUserType(c.Type)
	if err != nil {
		return nil, oops.In("identity").Code("TOKEN_INVALID").Wrap(errors.Join(ErrTokenInvalid, err))
	}
	s := &Session{
		UserID:  uid,
		Type:    typ,
		Traits:  slices.Clone(c.Traits),
		Profile: c.Profile,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s, nil
}

// Sign issues a token for the session with the given secret. It is used by
// tooling and tests; production tokens come from the external issuer.
func Sign(sec Secret, s *Session, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sec.Issuer,
			Audience:  jwt.ClaimStrings{sec.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:     s.UserID,
		Traits:  s.Traits,
		Type:    string(s.Type),
		Profile: s.Profile,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sec.Secret))
	if err != nil {
		return "", oops.In("identity").Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}
