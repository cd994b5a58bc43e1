// ABOUTME: JWT identity tokens for authenticating HTTP and WebSocket requests
// ABOUTME: HS256 tokens carrying the user's id and username under the "data" claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret accepted, in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Identity is the verified user attached to a request or connection.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// claims is the token payload. The identity lives under "data".
type claims struct {
	Data *Identity `json:"data"`
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithIssuer sets the issuer written into tokens and required on verify.
func WithIssuer(issuer string) VerifierOption {
	return func(v *JWTVerifier) { v.issuer = issuer }
}

// WithAudience sets the audience written into tokens and required on verify.
func WithAudience(audience string) VerifierOption {
	return func(v *JWTVerifier) { v.audience = audience }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte, opts ...VerifierOption) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	v := &JWTVerifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates the token and extracts the identity from the "data" claim
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.Data == nil {
		return nil, fmt.Errorf("%w: data", ErrMissingClaim)
	}
	if c.Data.ID <= 0 {
		return nil, fmt.Errorf("%w: data.id", ErrMissingClaim)
	}
	if c.Data.Username == "" {
		return nil, fmt.Errorf("%w: data.username", ErrMissingClaim)
	}

	return c.Data, nil
}

// Generate creates a new JWT token for the identity with expiration
func (v *JWTVerifier) Generate(id Identity, expiresIn time.Duration) (string, error) {
	now := v.now()
	c := claims{
		Data: &id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(id.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	if v.issuer != "" {
		c.Issuer = v.issuer
	}
	if v.audience != "" {
		c.Audience = jwt.ClaimStrings{v.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(v.secret)
}
