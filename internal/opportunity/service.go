package opportunity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"avsar.org/internal/geo"
	"avsar.org/internal/ids"
	"avsar.org/internal/trust"
	"avsar.org/internal/users"
)

// maxConflictRetries bounds the optimistic-concurrency retry loop around
// ledger mutations. Conflicts only happen when two users touch the same
// record at the same instant, so a handful of retries is plenty.
const maxConflictRetries = 3

// CreateInput carries the fields needed to post an opportunity.
type CreateInput struct {
	OwnerID     string
	Title       string
	Description string
	Category    string
	Contact     string
	Address     string
	Pincode     string
	Lat         float64
	Lng         float64
}

// VouchInput is a positive endorsement submission.
type VouchInput struct {
	VoucherUserID string // empty for anonymous
	DisplayName   string
	Comment       string
	VoucherPhone  string // only feeds the verification hash
}

// ReportInput is a negative endorsement submission.
type ReportInput struct {
	ReporterUserID string
	Reason         string
}

// VouchResult reports the ledger state after a successful endorsement.
type VouchResult struct {
	Endorsement Endorsement     `json:"endorsement"`
	Breakdown   trust.Breakdown `json:"breakdown"`
	VouchCount  int             `json:"vouch_count"`
}

// Service owns the endorsement ledger and the score lifecycle of
// opportunities. All score writes go through a recompute; the stored score is
// never adjusted in place.
type Service struct {
	store Store
	users users.Directory
	clock func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService wires the ledger service to its store and user directory.
func NewService(store Store, dir users.Directory, opts ...Option) *Service {
	s := &Service{
		store: store,
		users: dir,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and persists a new opportunity with neutral scores and a
// freshly derived geohash.
func (s *Service) Create(ctx context.Context, in CreateInput) (Opportunity, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return Opportunity{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Title) == "" {
		return Opportunity{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	p := geo.Point{Lat: in.Lat, Lng: in.Lng}
	if err := p.Validate(); err != nil {
		return Opportunity{}, err
	}

	now := s.clock()
	o := Opportunity{
		ID:          ids.NewRecord(),
		OwnerID:     in.OwnerID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		Contact:     in.Contact,
		Location: Location{
			Lat:     in.Lat,
			Lng:     in.Lng,
			Geohash: geo.Hash(p),
			Address: in.Address,
			Pincode: in.Pincode,
		},
		TrustScore:     trust.Base,
		DecayedScore:   trust.Base,
		LastVerifiedAt: now,
		LastDecayCheck: now,
		CreatedAt:      now,
		IsActive:       true,
		Version:        1,
	}
	if err := s.store.Put(ctx, o); err != nil {
		return Opportunity{}, err
	}
	return o, nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id string) (Opportunity, error) {
	return s.store.Get(ctx, id)
}

// Vouch appends a positive endorsement and recomputes the score. The decay
// clock restarts: lastVerifiedAt and lastDecayCheck both move to now. A user
// may endorse a record once; anonymous endorsements are never deduplicated.
func (s *Service) Vouch(ctx context.Context, id string, in VouchInput) (VouchResult, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return VouchResult{}, err
		}
		if o.HasVouchFrom(in.VoucherUserID) {
			return VouchResult{}, ErrDuplicateVouch
		}

		now := s.clock()
		e := Endorsement{
			ID:               ids.New(),
			VoucherUserID:    strings.TrimSpace(in.VoucherUserID),
			DisplayName:      in.DisplayName,
			Comment:          in.Comment,
			VerificationHash: VerificationHash(id, in.VoucherPhone, now),
			Timestamp:        now,
		}

		levels := s.voucherLevels(ctx, append(o.Vouches, e))
		// The new endorsement resets the verification point, so no decay
		// applies to the fresh score.
		bd := trust.Score(levels, o.NegativeVouchCount, now, now)

		upd := Update{
			TrustScore:         bd.Raw,
			DecayedScore:       bd.Decayed,
			VouchCount:         o.VouchCount + 1,
			NegativeVouchCount: o.NegativeVouchCount,
			LastVerifiedAt:     &now,
			LastDecayCheck:     now,
			AddEndorsement:     &e,
		}
		err = s.store.Apply(ctx, id, o.Version, upd)
		if err == nil {
			return VouchResult{Endorsement: e, Breakdown: bd, VouchCount: o.VouchCount + 1}, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxConflictRetries {
			return VouchResult{}, err
		}
	}
}

// Report appends a negative endorsement and recomputes the score.
// lastVerifiedAt is deliberately left alone: an abuse report must not restart
// the decay clock the way a positive confirmation does.
func (s *Service) Report(ctx context.Context, id string, in ReportInput) (trust.Breakdown, error) {
	if strings.TrimSpace(in.ReporterUserID) == "" {
		return trust.Breakdown{}, fmt.Errorf("%w: reporter id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return trust.Breakdown{}, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	for attempt := 0; ; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return trust.Breakdown{}, err
		}

		now := s.clock()
		r := Report{
			ID:             ids.New(),
			ReporterUserID: in.ReporterUserID,
			Reason:         in.Reason,
			Timestamp:      now,
		}

		levels := s.voucherLevels(ctx, o.Vouches)
		bd := trust.Score(levels, o.NegativeVouchCount+1, o.LastVerifiedAt, now)

		upd := Update{
			TrustScore:         bd.Raw,
			DecayedScore:       bd.Decayed,
			VouchCount:         o.VouchCount,
			NegativeVouchCount: o.NegativeVouchCount + 1,
			LastDecayCheck:     now,
			AddReport:          &r,
		}
		err = s.store.Apply(ctx, id, o.Version, upd)
		if err == nil {
			return bd, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxConflictRetries {
			return trust.Breakdown{}, err
		}
	}
}

// Delete permanently removes a record. Only the owner may do this.
func (s *Service) Delete(ctx context.Context, id, requestingUserID string) error {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.OwnerID != requestingUserID {
		return ErrNotOwner
	}
	return s.store.Delete(ctx, id)
}

// Recompute re-derives both scores from the current ledger without any new
// endorsement. The decay sweep calls this for every due record; the decay
// checkpoint moves to now whether or not the score changed.
func (s *Service) Recompute(ctx context.Context, id string, now time.Time) (trust.Breakdown, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return trust.Breakdown{}, err
		}

		levels := s.voucherLevels(ctx, o.Vouches)
		bd := trust.Score(levels, o.NegativeVouchCount, o.LastVerifiedAt, now)

		upd := Update{
			TrustScore:         bd.Raw,
			DecayedScore:       bd.Decayed,
			VouchCount:         o.VouchCount,
			NegativeVouchCount: o.NegativeVouchCount,
			LastDecayCheck:     now,
		}
		err = s.store.Apply(ctx, id, o.Version, upd)
		if err == nil {
			return bd, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxConflictRetries {
			return trust.Breakdown{}, err
		}
	}
}

func (s *Service) voucherLevels(ctx context.Context, vouches []Endorsement) []trust.Level {
	levels := make([]trust.Level, 0, len(vouches))
	for _, v := range vouches {
		levels = append(levels, users.LevelFor(ctx, s.users, v.VoucherUserID))
	}
	return levels
}
