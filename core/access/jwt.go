// Package access holds authentication primitives: HS256 session tokens,
// bcrypt password storage and the per-request auth state.
package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims is the mantis token payload. Tokens identify one record of one
// auth entity.
type Claims struct {
	ID    string `json:"id"`
	Table string `json:"table"`
	jwt.RegisteredClaims
}

// VerifyResult is the outcome of a token verification. When Verified is
// false, Err carries a human-readable reason.
type VerifyResult struct {
	Verified bool
	ID       string
	Table    string
	Err      error
}

// JWT issues and verifies HS256 session tokens.
type JWT struct {
	secret []byte
}

// NewJWT returns a token codec for the given HS256 secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Create issues a token for a record of an auth entity, valid for ttl.
func (j *JWT) Create(id, table string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:    id,
		Table: table,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify decodes and validates a token. Every decode-level failure maps to
// a specific reason so clients can tell an expired session from a forged
// one.
func (j *JWT) Verify(tokenString string) VerifyResult {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return VerifyResult{Err: decodeReason(err)}
	}
	if !token.Valid {
		return VerifyResult{Err: errors.New("token is not valid")}
	}
	if claims.ID == "" {
		return VerifyResult{Err: errors.New("token is missing the id claim")}
	}
	if claims.Table == "" {
		return VerifyResult{Err: errors.New("token is missing the table claim")}
	}
	return VerifyResult{Verified: true, ID: claims.ID, Table: claims.Table}
}

func decodeReason(err error) error {
	var ve *jwt.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("token is malformed: %v", err)
	}
	switch {
	case ve.Errors&jwt.ValidationErrorMalformed != 0:
		return errors.New("token is malformed")
	case ve.Errors&jwt.ValidationErrorExpired != 0:
		return errors.New("token is expired")
	case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
		return errors.New("token signature does not match")
	case ve.Errors&jwt.ValidationErrorNotValidYet != 0:
		return errors.New("token is not valid yet")
	case ve.Errors&jwt.ValidationErrorClaimsInvalid != 0:
		return errors.New("token carries an invalid claim")
	}
	return fmt.Errorf("token is not valid: %v", err)
}
