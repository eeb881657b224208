package opportunity

import (
	"context"
	"errors"
	"time"

	"avsar.org/internal/geo"
)

// Location is the point placement of an opportunity. Geohash is derived from
// the coordinates at geo.HashPrecision and stored so range scans can bound
// candidate lookups.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Geohash string  `json:"geohash"`
	Address string  `json:"address"`
	Pincode string  `json:"pincode,omitempty"`
}

// Point returns the coordinate pair.
func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Lat, Lng: l.Lng}
}

// Endorsement is a positive attestation that an opportunity is legitimate.
// VoucherUserID may be empty: anonymous endorsements are allowed and always
// weighted as unverified.
type Endorsement struct {
	ID            string    `json:"id"`
	VoucherUserID string    `json:"voucher_user_id,omitempty"`
	DisplayName   string    `json:"display_name"`
	Comment       string    `json:"comment,omitempty"`
	// VerificationHash is evidentiary only; it ties the endorsement to the
	// record, the voucher's phone, and the submission time.
	VerificationHash string    `json:"verification_hash,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Report is a negative attestation.
type Report struct {
	ID             string    `json:"id"`
	ReporterUserID string    `json:"reporter_user_id"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

// Opportunity is the searchable, scorable record. TrustScore and DecayedScore
// are caches of a pure computation over the ledger; they are only ever
// rewritten by a recompute, never mutated directly.
type Opportunity struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Contact     string   `json:"contact,omitempty"`
	Location    Location `json:"location"`

	TrustScore         int           `json:"trust_score"`
	DecayedScore       int           `json:"decayed_score"`
	VouchCount         int           `json:"vouch_count"`
	NegativeVouchCount int           `json:"negative_vouch_count"`
	Vouches            []Endorsement `json:"vouches,omitempty"`
	NegativeVouches    []Report      `json:"negative_vouches,omitempty"`

	LastVerifiedAt time.Time `json:"last_verified_at"`
	LastDecayCheck time.Time `json:"last_decay_check"`
	CreatedAt      time.Time `json:"created_at"`
	IsActive       bool      `json:"is_active"`

	// Version guards read-modify-write score updates (optimistic concurrency).
	Version int64 `json:"version"`
}

// HasVouchFrom reports whether a non-anonymous user already endorsed this
// record.
func (o Opportunity) HasVouchFrom(userID string) bool {
	if userID == "" {
		return false
	}
	for _, v := range o.Vouches {
		if v.VoucherUserID == userID {
			return true
		}
	}
	return false
}

var (
	ErrNotFound        = errors.New("opportunity not found")
	ErrDuplicateVouch  = errors.New("user has already vouched for this opportunity")
	ErrNotOwner        = errors.New("only the owner may delete this opportunity")
	ErrVersionConflict = errors.New("opportunity was modified concurrently")
	ErrInvalidInput    = errors.New("invalid input")
)

// Update is the mutation applied by a score recompute: replacement score
// fields plus an optional ledger append. LastVerifiedAt nil means leave the
// stored value unchanged (reports and decay sweeps never touch it).
type Update struct {
	TrustScore         int
	DecayedScore       int
	VouchCount         int
	NegativeVouchCount int
	LastVerifiedAt     *time.Time
	LastDecayCheck     time.Time
	AddEndorsement     *Endorsement
	AddReport          *Report
}

// Store is the document-store contract the core consumes. Apply must be
// atomic and fail with ErrVersionConflict when version no longer matches the
// stored record, so concurrent endorsements cannot lose updates. RangeScan
// returns records whose geohash falls in [low, high).
type Store interface {
	Get(ctx context.Context, id string) (Opportunity, error)
	Put(ctx context.Context, o Opportunity) error
	Apply(ctx context.Context, id string, version int64, upd Update) error
	Delete(ctx context.Context, id string) error
	RangeScan(ctx context.Context, low, high string) ([]Opportunity, error)
	All(ctx context.Context) ([]Opportunity, error)
}
