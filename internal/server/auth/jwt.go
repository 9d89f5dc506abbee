// Package auth holds the credential primitives used by the server: signed
// bearer tokens, password hashing and input validation.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of a bearer token. RegisteredClaims.ID carries a
// random jti so that two tokens minted in the same second never collide.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Subject is the identity encoded into a bearer token.
type Subject struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
}

// GenerateToken signs an HS256 token for s valid from now for validity.
func GenerateToken(s Subject, secretKey []byte, now time.Time, validity time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(validity)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    s.UserID,
		Email:     s.Email,
		FirstName: s.FirstName,
		LastName:  s.LastName,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ParseToken verifies the signature and registered claims of tokenString.
// Expired tokens yield common.ErrTokenExpired, anything else that fails
// verification yields common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
