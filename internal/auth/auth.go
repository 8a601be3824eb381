// Package auth mints and verifies the HS256 bearer tokens the HTTP and
// websocket surfaces accept. Identity itself lives elsewhere; the core only
// needs a trustworthy subject id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tiritolabs/tirito/internal/market"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by a tirito token. Subject is the user id; Role is opaque to
// the core and passed through for the outer application.
type Claims struct {
	Subject market.UserID
	Role    string
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Mint signs a token for user with the configured TTL.
func (t *Tokens) Mint(user market.UserID, role string) (string, error) {
	if user.IsZero() {
		return "", fmt.Errorf("mint token: empty user id")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  string(user),
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(t.ttl).Unix(),
	})
	return token.SignedString(t.secret)
}

// Verify parses and validates raw and returns its claims.
func (t *Tokens) Verify(raw string) (Claims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Claims{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return Claims{Subject: market.UserID(sub), Role: role}, nil
}
