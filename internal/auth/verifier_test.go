package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

func TestHMACVerifier_RoundTrip(t *testing.T) {
	v := NewHMACVerifier("secret")
	tok, err := v.Sign("user-1", "u@example.com", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "u@example.com" {
		t.Fatalf("identity = %+v", id)
	}

	if _, err := NewHMACVerifier("other").Verify(tok); err == nil {
		t.Fatal("token accepted with the wrong secret")
	}
	expired, _ := v.Sign("user-1", "", -time.Minute)
	if _, err := v.Verify(expired); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestChain(t *testing.T) {
	good := NewHMACVerifier("b")
	tok, _ := good.Sign("user-2", "", time.Minute)

	id, err := Chain{nil, NewHMACVerifier("a"), good}.Verify(tok)
	if err != nil || id.UserID != "user-2" {
		t.Fatalf("chain = %+v, %v", id, err)
	}

	_, err = Chain{NewHMACVerifier("a")}.Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := (Chain{}).Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty chain: %v", err)
	}
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	set, _ := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   enc.EncodeToString(key.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	kf, err := keyfunc.NewJWKSetJSON(set)
	if err != nil {
		t.Fatal(err)
	}
	v := NewJWKSVerifierFromKeyfunc(kf, "https://issuer.test", "client-1")

	sign := func(aud string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, OIDCClaims{
			PreferredUsername: "singer",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "https://issuer.test",
				Subject:   "user-3",
				Audience:  jwt.ClaimStrings{aud},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		})
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	id, err := v.Verify(sign("client-1"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "user-3" || id.Name != "singer" {
		t.Fatalf("identity = %+v", id)
	}
	if _, err := v.Verify(sign("someone-else")); err == nil {
		t.Fatal("token for another audience accepted")
	}
}
