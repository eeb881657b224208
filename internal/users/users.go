package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"avsar.org/internal/trust"
)

// User is the slice of an account this service needs: identity plus the
// verification tier that weights the user's endorsements.
type User struct {
	ID               string      `json:"id"`
	DisplayName      string      `json:"display_name"`
	Email            string      `json:"email,omitempty"`
	Phone            string      `json:"phone,omitempty"`
	Level            trust.Level `json:"verification_level"`
	VerificationDate time.Time   `json:"verification_date,omitzero"`
	CreatedAt        time.Time   `json:"created_at"`
}

var (
	ErrNotFound      = errors.New("user not found")
	ErrInvalidMethod = errors.New("verification method must be phone or email")
)

// Directory looks up and updates user verification state.
type Directory interface {
	Get(ctx context.Context, id string) (User, error)
	Put(ctx context.Context, u User) error
	// SetVerification records a completed phone or email verification and
	// returns the resulting level.
	SetVerification(ctx context.Context, id, method string) (trust.Level, error)
}

// Promote applies a completed verification method to the current level.
// Completing the second of {phone, email} yields the verified tier.
func Promote(current trust.Level, method string) (trust.Level, error) {
	switch strings.TrimSpace(strings.ToLower(method)) {
	case "phone":
		if current == trust.Email || current == trust.Verified {
			return trust.Verified, nil
		}
		return trust.Phone, nil
	case "email":
		if current == trust.Phone || current == trust.Verified {
			return trust.Verified, nil
		}
		return trust.Email, nil
	default:
		return current, ErrInvalidMethod
	}
}

// InMemory implements Directory with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	users map[string]User
	clock func() time.Time
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		users: make(map[string]User),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (d *InMemory) Get(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *InMemory) Put(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	if u.Level == "" {
		u.Level = trust.Unverified
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = d.clock()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return nil
}

func (d *InMemory) SetVerification(ctx context.Context, id, method string) (trust.Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return "", ErrNotFound
	}
	level, err := Promote(u.Level, method)
	if err != nil {
		return "", err
	}
	u.Level = level
	u.VerificationDate = d.clock()
	d.users[id] = u
	return level, nil
}

// LevelFor resolves a voucher's verification level, treating unknown or
// anonymous users as unverified.
func LevelFor(ctx context.Context, d Directory, userID string) trust.Level {
	if d == nil || strings.TrimSpace(userID) == "" {
		return trust.Unverified
	}
	u, err := d.Get(ctx, userID)
	if err != nil {
		return trust.Unverified
	}
	return trust.ParseLevel(string(u.Level))
}
