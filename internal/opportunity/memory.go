package opportunity

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and dev mode; production uses store/pg.
type InMemory struct {
	mu   sync.RWMutex
	recs map[string]*Opportunity
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{recs: make(map[string]*Opportunity)}
}

func (s *InMemory) Get(ctx context.Context, id string) (Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.recs[id]
	if !ok {
		return Opportunity{}, ErrNotFound
	}
	return copyRecord(o), nil
}

func (s *InMemory) Put(ctx context.Context, o Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyRecord(&o)
	s.recs[o.ID] = &cp
	return nil
}

func (s *InMemory) Apply(ctx context.Context, id string, version int64, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if o.Version != version {
		return ErrVersionConflict
	}
	o.TrustScore = upd.TrustScore
	o.DecayedScore = upd.DecayedScore
	o.VouchCount = upd.VouchCount
	o.NegativeVouchCount = upd.NegativeVouchCount
	if upd.LastVerifiedAt != nil {
		o.LastVerifiedAt = *upd.LastVerifiedAt
	}
	o.LastDecayCheck = upd.LastDecayCheck
	if upd.AddEndorsement != nil {
		o.Vouches = append(o.Vouches, *upd.AddEndorsement)
	}
	if upd.AddReport != nil {
		o.NegativeVouches = append(o.NegativeVouches, *upd.AddReport)
	}
	o.Version++
	return nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func (s *InMemory) RangeScan(ctx context.Context, low, high string) ([]Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Opportunity
	for _, o := range s.recs {
		if o.Location.Geohash >= low && o.Location.Geohash < high {
			out = append(out, copyRecord(o))
		}
	}
	sortByGeohash(out)
	return out, nil
}

func (s *InMemory) All(ctx context.Context) ([]Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Opportunity, 0, len(s.recs))
	for _, o := range s.recs {
		out = append(out, copyRecord(o))
	}
	sortByGeohash(out)
	return out, nil
}

func sortByGeohash(recs []Opportunity) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Location.Geohash != recs[j].Location.Geohash {
			return recs[i].Location.Geohash < recs[j].Location.Geohash
		}
		return recs[i].ID < recs[j].ID
	})
}

// copyRecord returns a deep copy so callers never alias stored slices.
func copyRecord(o *Opportunity) Opportunity {
	cp := *o
	if len(o.Vouches) > 0 {
		cp.Vouches = make([]Endorsement, len(o.Vouches))
		copy(cp.Vouches, o.Vouches)
	}
	if len(o.NegativeVouches) > 0 {
		cp.NegativeVouches = make([]Report, len(o.NegativeVouches))
		copy(cp.NegativeVouches, o.NegativeVouches)
	}
	return cp
}
