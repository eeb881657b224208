package opportunity

import (
	"context"
	"errors"
	"testing"
	"time"

	"avsar.org/internal/users"
)

// faultyStore wraps a Store and fails Apply for one record, to prove the
// sweep isolates failures.
type faultyStore struct {
	Store
	failID string
}

func (s *faultyStore) Apply(ctx context.Context, id string, version int64, upd Update) error {
	if id == s.failID {
		return errors.New("simulated store outage")
	}
	return s.Store.Apply(ctx, id, version, upd)
}

func TestSweepRecomputesDueRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.create(t)
	fresh := f.create(t)

	// Make one record due by pushing time forward, then touch the other so
	// only the first passes the 24h gate.
	f.now = f.now.Add(40 * 24 * time.Hour)
	if _, err := f.svc.Vouch(ctx, fresh.ID, VouchInput{DisplayName: "anon"}); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(f.store, f.svc)
	stats, err := sw.Sweep(ctx, f.now)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 2 || stats.Due != 1 || stats.Recomputed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	got, _ := f.svc.Get(ctx, stale.ID)
	if !got.LastDecayCheck.Equal(f.now) {
		t.Fatal("due record's decay checkpoint not advanced")
	}
	if got.DecayedScore != 45 {
		t.Fatalf("decayed = %d, want 45 (one 30-day period off base)", got.DecayedScore)
	}
	if got.TrustScore != 50 {
		t.Fatalf("raw = %d, want unchanged 50", got.TrustScore)
	}
}

func TestSweepChecksEvenWhenScoreUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	// 25h elapsed: due, but well inside the first decay period.
	f.now = f.now.Add(25 * time.Hour)
	sw := NewSweeper(f.store, f.svc)
	stats, err := sw.Sweep(ctx, f.now)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Recomputed != 1 {
		t.Fatalf("recomputed = %d, want 1", stats.Recomputed)
	}
	got, _ := f.svc.Get(ctx, o.ID)
	if got.DecayedScore != 50 {
		t.Fatalf("decayed = %d, want unchanged 50", got.DecayedScore)
	}
	if !got.LastDecayCheck.Equal(f.now) {
		t.Fatal("checkpoint must advance even when the score is unchanged")
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	base := NewInMemory()
	dir := users.NewInMemory()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	svcSetup := NewService(base, dir, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		o, err := svcSetup.Create(ctx, CreateInput{OwnerID: "o", Title: "t", Lat: 28.61, Lng: 77.20})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, o.ID)
	}

	later := now.Add(48 * time.Hour)
	fs := &faultyStore{Store: base, failID: ids[1]}
	svc := NewService(fs, dir, WithClock(func() time.Time { return later }))

	stats, err := NewSweeper(fs, svc).Sweep(ctx, later)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Due != 3 || stats.Failed != 1 || stats.Recomputed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// The healthy records still advanced.
	for _, id := range []string{ids[0], ids[2]} {
		got, _ := svcSetup.Get(ctx, id)
		if !got.LastDecayCheck.Equal(later) {
			t.Fatalf("record %s not swept", id)
		}
	}
}
