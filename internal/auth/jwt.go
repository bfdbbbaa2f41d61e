// Package auth verifies the bearer tokens of API callers and lists users
// from the identity provider.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The client logs in with the identity provider and receives a JWT
//  2. It calls the API with "Authorization: Bearer <jwt>"
//  3. RequireAuth validates the token and stores the caller's email in the
//     request context
//  4. Services receive that email as the requester of every operation
//
// This service never issues tokens for users. Generate exists for tests and
// local tooling that needs a token signed with the shared secret.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"email":"a@b.com","sub":"auth0|123","iss":"...","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService validates HS256 tokens signed with a shared secret.
type TokenService struct {
	secret []byte
	issuer string // empty disables the issuer check
}

// NewTokenService creates a TokenService. The secret should be at least
// 32 bytes of random data in production.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), issuer: issuer}, nil
}

// claims is the JWT payload. Users are identified by email everywhere in
// the application, so the email claim is mandatory.
type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Generate signs a token for email that expires after ttl.
func (s *TokenService) Generate(email string, ttl time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a JWT string and returns the caller's email.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches, when one is configured
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *TokenService) Validate(tokenStr string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}

	email := strings.TrimSpace(c.Email)
	if email == "" {
		return "", errors.New("auth: token has no email claim")
	}
	return email, nil
}
