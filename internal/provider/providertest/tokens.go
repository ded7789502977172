package providertest

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "framez-providertest"

// tokenService signs and checks the fake backend's access tokens.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<user id>","email":"...","exp":1234567890,...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// The client under test never sees the secret; it only decodes "exp".
type tokenService struct {
	secret []byte
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

func newTokenService(secret string) (*tokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("providertest: JWT secret must be at least 16 characters")
	}
	return &tokenService{secret: []byte(secret)}, nil
}

// generate signs a token for userID expiring after ttl. A negative ttl
// yields an already-expired token, which tests use to force refreshes.
func (s *tokenService) generate(userID, email string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    issuer,
		},
		Email: email,
		Role:  "authenticated",
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("providertest: signing token: %w", err)
	}
	return signed, exp, nil
}

// validate checks signature, issuer and expiry and returns the subject.
func (s *tokenService) validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("token is expired")
		}
		return "", fmt.Errorf("invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return c.Subject, nil
}

// hashPassword uses bcrypt at its minimum cost; the fake only needs to be
// correct, not slow.
func hashPassword(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", errors.New("password must be 72 bytes or fewer")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("providertest: hashing password: %w", err)
	}
	return string(hashed), nil
}

func checkPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
