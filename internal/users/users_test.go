package users

import (
	"context"
	"errors"
	"testing"

	"avsar.org/internal/trust"
)

func TestPromote(t *testing.T) {
	cases := []struct {
		current trust.Level
		method  string
		want    trust.Level
	}{
		{trust.Unverified, "phone", trust.Phone},
		{trust.Unverified, "email", trust.Email},
		{trust.Email, "phone", trust.Verified},
		{trust.Phone, "email", trust.Verified},
		{trust.Phone, "phone", trust.Phone},
		{trust.Verified, "phone", trust.Verified},
	}
	for _, c := range cases {
		got, err := Promote(c.current, c.method)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("Promote(%s, %s) = %s, want %s", c.current, c.method, got, c.want)
		}
	}
}

func TestPromoteRejectsUnknownMethod(t *testing.T) {
	if _, err := Promote(trust.Unverified, "carrier-pigeon"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
}

func TestSetVerification(t *testing.T) {
	d := NewInMemory()
	ctx := context.Background()
	if err := d.Put(ctx, User{ID: "u1", DisplayName: "Asha"}); err != nil {
		t.Fatal(err)
	}

	level, err := d.SetVerification(ctx, "u1", "phone")
	if err != nil {
		t.Fatal(err)
	}
	if level != trust.Phone {
		t.Fatalf("level = %s, want phone", level)
	}

	level, err = d.SetVerification(ctx, "u1", "email")
	if err != nil {
		t.Fatal(err)
	}
	if level != trust.Verified {
		t.Fatalf("level = %s, want verified", level)
	}

	u, _ := d.Get(ctx, "u1")
	if u.VerificationDate.IsZero() {
		t.Fatal("verification date not set")
	}
}

func TestSetVerificationMissingUser(t *testing.T) {
	d := NewInMemory()
	if _, err := d.SetVerification(context.Background(), "ghost", "phone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLevelForFallsBackToUnverified(t *testing.T) {
	d := NewInMemory()
	ctx := context.Background()
	if got := LevelFor(ctx, d, "missing"); got != trust.Unverified {
		t.Fatalf("missing user level = %s, want unverified", got)
	}
	if got := LevelFor(ctx, d, ""); got != trust.Unverified {
		t.Fatalf("anonymous level = %s, want unverified", got)
	}
	_ = d.Put(ctx, User{ID: "u2", Level: trust.Verified})
	if got := LevelFor(ctx, d, "u2"); got != trust.Verified {
		t.Fatalf("level = %s, want verified", got)
	}
}
