// Package auth resolves client credentials to user identities.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued by the account service.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed bearer tokens. The hub never issues tokens;
// it only checks them, and an invalid or absent token yields an anonymous
// connection rather than a rejected one.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token. The boolean result is false for any
// invalid, expired, or empty credential.
func (v *Verifier) Verify(tokenString string) (*Claims, bool) {
	if tokenString == "" {
		return nil, false
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, false
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, false
	}

	return claims, true
}
