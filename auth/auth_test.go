package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestNewStaticRequiresSecret(t *testing.T) {
	if _, err := NewStatic(StaticConfig{}); err == nil {
		t.Fatal("NewStatic() accepted an empty secret")
	}
}

func TestCheckConnectValidToken(t *testing.T) {
	a, err := NewStatic(StaticConfig{Secret: testSecret, Issuer: "datapath"})
	if err != nil {
		t.Fatalf("NewStatic() failed: %v", err)
	}

	tok := signToken(t, testSecret, jwt.MapClaims{
		"iss": "datapath",
		"sub": "c1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if err := a.CheckConnect(context.Background(), tok); err != nil {
		t.Fatalf("CheckConnect() rejected a valid token: %v", err)
	}
}

func TestCheckConnectRejections(t *testing.T) {
	a, err := NewStatic(StaticConfig{Secret: testSecret, Issuer: "datapath", Leeway: time.Second})
	if err != nil {
		t.Fatalf("NewStatic() failed: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"wrong secret", signToken(t, []byte("other"), jwt.MapClaims{
			"iss": "datapath",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{
			"iss": "datapath",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"wrong issuer", signToken(t, testSecret, jwt.MapClaims{
			"iss": "somebody-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"missing expiration", signToken(t, testSecret, jwt.MapClaims{
			"iss": "datapath",
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := a.CheckConnect(context.Background(), tc.token)
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("CheckConnect() = %v, want ErrUnauthorized", err)
			}
		})
	}
}
