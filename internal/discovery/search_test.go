package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"avsar.org/internal/geo"
	"avsar.org/internal/opportunity"
)

var center = geo.Point{Lat: 28.61, Lng: 77.20}

func seed(t *testing.T) *opportunity.InMemory {
	t.Helper()
	store := opportunity.NewInMemory()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	records := []struct {
		id       string
		p        geo.Point
		score    int
		category string
		created  time.Time
	}{
		{"near-high", geo.Point{Lat: 28.615, Lng: 77.205}, 80, "food", base},
		{"near-low", geo.Point{Lat: 28.62, Lng: 77.21}, 35, "shelter", base.Add(time.Hour)},
		{"near-mid-old", geo.Point{Lat: 28.605, Lng: 77.195}, 60, "food", base},
		{"near-mid-new", geo.Point{Lat: 28.60, Lng: 77.20}, 60, "food", base.Add(2 * time.Hour)},
		{"far", geo.Point{Lat: 28.61, Lng: 78.20}, 95, "food", base},
	}
	for _, r := range records {
		err := store.Put(context.Background(), opportunity.Opportunity{
			ID:      r.id,
			OwnerID: "owner",
			Title:   r.id,
			Location: opportunity.Location{
				Lat: r.p.Lat, Lng: r.p.Lng, Geohash: geo.Hash(r.p),
			},
			Category:     r.category,
			TrustScore:   r.score,
			DecayedScore: r.score,
			CreatedAt:    r.created,
			IsActive:     true,
			Version:      1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestRadiusSearchExcludesDistantRecords(t *testing.T) {
	s := NewSearcher(seed(t))
	radius := 5.0
	results, err := s.Search(context.Background(), &center, &radius, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results %v, want 4 within 5km", len(results), ids(results))
	}
	for _, r := range results {
		if r.ID == "far" {
			t.Fatal("record ~97km away leaked into a 5km search")
		}
		if r.DistanceKm == nil {
			t.Fatalf("result %s missing distance", r.ID)
		}
		if *r.DistanceKm > 5 {
			t.Fatalf("result %s at %.1fkm exceeds the radius", r.ID, *r.DistanceKm)
		}
	}
}

func TestRankingByScoreThenRecency(t *testing.T) {
	s := NewSearcher(seed(t))
	radius := 5.0
	results, err := s.Search(context.Background(), &center, &radius, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"near-high", "near-mid-new", "near-mid-old", "near-low"}
	got := ids(results)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUnboundedSearchReturnsEverything(t *testing.T) {
	s := NewSearcher(seed(t))
	results, err := s.Search(context.Background(), &center, nil, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want all 5", len(results))
	}
	// Highest score first even without a radius.
	if results[0].ID != "far" {
		t.Fatalf("top result %s, want the 95-score record", results[0].ID)
	}
	for _, r := range results {
		if r.DistanceKm == nil {
			t.Fatalf("result %s missing distance despite a center", r.ID)
		}
	}
}

func TestFiltersNarrowWithoutReordering(t *testing.T) {
	s := NewSearcher(seed(t))
	radius := 5.0

	results, err := s.Search(context.Background(), &center, &radius, Filters{Category: "Food"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"near-high", "near-mid-new", "near-mid-old"}
	got := ids(results)
	if len(got) != len(want) {
		t.Fatalf("category filter: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("category filter reordered: got %v, want %v", got, want)
		}
	}

	results, err = s.Search(context.Background(), &center, &radius, Filters{Band: "low"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "near-low" {
		t.Fatalf("band filter: got %v, want [near-low]", ids(results))
	}
}

func TestMaxDistanceFilterUsesFullPrecision(t *testing.T) {
	store := opportunity.NewInMemory()
	// A pure-latitude offset of 0.0453 degrees puts this record at a true
	// distance of ~5.037km, which displays as 5.0km after rounding.
	p := geo.Point{Lat: 28.6553, Lng: 77.20}
	err := store.Put(context.Background(), opportunity.Opportunity{
		ID:      "boundary",
		OwnerID: "owner",
		Title:   "boundary",
		Location: opportunity.Location{
			Lat: p.Lat, Lng: p.Lng, Geohash: geo.Hash(p),
		},
		TrustScore:   60,
		DecayedScore: 60,
		IsActive:     true,
		Version:      1,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSearcher(store)

	results, err := s.Search(context.Background(), &center, nil, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || *results[0].DistanceKm != 5.0 {
		t.Fatalf("setup: displayed distance should round to 5.0, got %v", ids(results))
	}

	max := 5.0
	results, err = s.Search(context.Background(), &center, nil, Filters{MaxDistanceKm: &max})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("record beyond 5km passed the filter on its rounded distance: %v", ids(results))
	}
}

func TestRadiusRequiresCenterAndPositiveValue(t *testing.T) {
	s := NewSearcher(seed(t))
	radius := 5.0
	if _, err := s.Search(context.Background(), nil, &radius, Filters{}); !errors.Is(err, opportunity.ErrInvalidInput) {
		t.Fatalf("missing center: got %v", err)
	}
	zero := 0.0
	if _, err := s.Search(context.Background(), &center, &zero, Filters{}); !errors.Is(err, opportunity.ErrInvalidInput) {
		t.Fatalf("zero radius: got %v", err)
	}
}

// brokenStore fails every range scan to exercise the all-shards-failed path.
type brokenStore struct {
	opportunity.Store
}

func (s *brokenStore) RangeScan(ctx context.Context, low, high string) ([]opportunity.Opportunity, error) {
	return nil, errors.New("backend unavailable")
}

func TestAllShardsFailedSurfacesError(t *testing.T) {
	s := NewSearcher(&brokenStore{Store: seed(t)})
	radius := 5.0
	_, err := s.Search(context.Background(), &center, &radius, Filters{})
	if !errors.Is(err, ErrAllShardsFailed) {
		t.Fatalf("expected ErrAllShardsFailed, got %v", err)
	}
}

// flakyStore fails the first attempt of every range scan; the retry succeeds.
type flakyStore struct {
	opportunity.Store
	mu     chan struct{}
	failed map[string]bool
}

func newFlakyStore(inner opportunity.Store) *flakyStore {
	return &flakyStore{Store: inner, mu: make(chan struct{}, 1), failed: map[string]bool{}}
}

func (s *flakyStore) RangeScan(ctx context.Context, low, high string) ([]opportunity.Opportunity, error) {
	s.mu <- struct{}{}
	first := !s.failed[low]
	s.failed[low] = true
	<-s.mu
	if first {
		return nil, errors.New("transient failure")
	}
	return s.Store.RangeScan(ctx, low, high)
}

func TestShardRetryRecoversTransientFailures(t *testing.T) {
	s := NewSearcher(newFlakyStore(seed(t)))
	radius := 5.0
	results, err := s.Search(context.Background(), &center, &radius, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results after retries, want 4", len(results))
	}
}
