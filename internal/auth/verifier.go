// Package auth verifies bearer tokens for the job API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the caller a token resolves to.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

type Verifier interface {
	Verify(token string) (*Identity, error)
}

// Chain tries each verifier in order and returns the first identity.
type Chain []Verifier

func (c Chain) Verify(token string) (*Identity, error) {
	errs := make([]error, 0, len(c))
	for _, v := range c {
		if v == nil {
			continue
		}
		id, err := v.Verify(token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	return nil, errors.Join(append([]error{ErrInvalidToken}, errs...)...)
}

// HMACClaims are the claims of locally issued HS256 tokens.
type HMACClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HMACClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*HMACClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return &Identity{UserID: userID, Email: claims.Email}, nil
}

// Sign issues an HS256 token for userID, mostly for tests and local tooling.
func (v *HMACVerifier) Sign(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := HMACClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "genreswap",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
