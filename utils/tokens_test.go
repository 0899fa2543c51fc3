package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager("secret")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.NewJWT("chat-trigger", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub != "chat-trigger" {
		t.Errorf("subject = %q", sub)
	}
}

func TestManagerRejectsExpired(t *testing.T) {
	m, _ := NewManager("secret")
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := m.NewJWT("chat-trigger", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	m.now = time.Now
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestManagerRejectsOtherKeyAndAudience(t *testing.T) {
	m, _ := NewManager("secret")
	other, _ := NewManager("other")
	token, _ := other.NewJWT("chat-trigger", time.Minute)
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign key: want ErrInvalidToken, got %v", err)
	}

	wrongAud := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Audience:  "someone-else",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
		Subject:   "chat-trigger",
	})
	signed, _ := wrongAud.SignedString([]byte("secret"))
	if _, err := m.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong audience: want ErrInvalidToken, got %v", err)
	}
}

func TestNewManagerRequiresKey(t *testing.T) {
	if _, err := NewManager(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
