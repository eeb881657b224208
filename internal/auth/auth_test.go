package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	v, err := NewVerifier([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token, err := v.Sign(Principal{UserID: "user-42", DisplayName: "Asha"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	p, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.UserID != "user-42" || p.DisplayName != "Asha" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v, _ := NewVerifier([]byte("test-secret"))
	other, _ := NewVerifier([]byte("different-secret"))

	if _, err := v.Verify(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty token: got %v", err)
	}
	if _, err := v.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: got %v", err)
	}

	forged, _ := other.Sign(Principal{UserID: "user-42"}, time.Hour)
	if _, err := v.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: got %v", err)
	}

	expired, _ := v.Sign(Principal{UserID: "user-42"}, -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: got %v", err)
	}
}

func TestVerifyChecksIssuer(t *testing.T) {
	issuerA, _ := NewVerifier([]byte("s"), WithIssuer("a"))
	issuerB, _ := NewVerifier([]byte("s"), WithIssuer("b"))

	token, _ := issuerA.Sign(Principal{UserID: "u"}, time.Hour)
	if _, err := issuerB.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-issuer token accepted: %v", err)
	}
}

func TestEphemeralVerifierIsSelfContained(t *testing.T) {
	v, err := NewEphemeralVerifier()
	if err != nil {
		t.Fatalf("NewEphemeralVerifier: %v", err)
	}
	token, err := v.Sign(Principal{UserID: "dev-user"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	p, err := v.Verify(token)
	if err != nil || p.UserID != "dev-user" {
		t.Fatalf("own token rejected: %+v err=%v", p, err)
	}

	other, err := NewEphemeralVerifier()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token accepted across processes: %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("empty context should have no principal")
	}
	ctx = ContextWithPrincipal(ctx, Principal{UserID: "user-7"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID != "user-7" {
		t.Fatalf("principal round-trip failed: %+v ok=%v", p, ok)
	}

	ctx = ContextWithToken(ctx, "raw-token")
	tok, ok := TokenFromContext(ctx)
	if !ok || tok != "raw-token" {
		t.Fatalf("token round-trip failed: %q ok=%v", tok, ok)
	}
}
