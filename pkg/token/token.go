// Package token verifies the JWT bearer tokens that identify chat
// participants. Token issuance lives in the external auth service; this
// package only signs tokens for tests and verifies them in production.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrUnrecognizedToken = errors.New("unrecognized token")
)

// ParticipantClaims carries the identity of a chat participant.
type ParticipantClaims struct {
	UserName string `json:"name"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *ParticipantClaims) UserID() string {
	return c.Subject
}

// New signs a participant token. Used by tests and tooling; production tokens
// come from the external auth service.
func New(userID, userName string, expiration time.Duration, secret []byte) (string, error) {
	claims := &ParticipantClaims{
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			Issuer:    "eventchat",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify parses and validates a participant token.
func Verify(tokenString string, secret []byte) (*ParticipantClaims, error) {
	claims := &ParticipantClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	switch {
	case token != nil && token.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrUnrecognizedToken
	}
}
