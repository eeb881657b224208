package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"avsar.org/internal/geo"
	"avsar.org/internal/obs"
	"avsar.org/internal/opportunity"
)

// ErrAllShardsFailed means every range-scan of a radius query failed; partial
// shard failures degrade to a smaller candidate set instead.
var ErrAllShardsFailed = errors.New("all candidate range scans failed")

// Filters are optional post-ranking constraints. They narrow the result list
// but never change its order.
type Filters struct {
	Category      string
	Band          string // "high", "medium", "low"
	MaxDistanceKm *float64
}

// Result is a ranked record with the distance from the query center attached
// (display-rounded; nil when no center was supplied).
type Result struct {
	opportunity.Opportunity
	DistanceKm *float64 `json:"distance_km,omitempty"`

	// distance keeps the full-precision value for filtering; DistanceKm is
	// the rounded presentation of it.
	distance float64
}

// Searcher answers proximity queries over the opportunity store.
type Searcher struct {
	store opportunity.Store
}

// NewSearcher builds a Searcher over the given store.
func NewSearcher(store opportunity.Store) *Searcher {
	return &Searcher{store: store}
}

// Search returns records ranked by trust score. With a radius it expands the
// circle into geohash ranges, scans them concurrently, and drops candidates
// whose true distance exceeds the radius (geohash adjacency alone proves
// nothing; edge cells can be geometrically far). A nil radius scans every
// record. center may be nil only for unbounded queries.
func (s *Searcher) Search(ctx context.Context, center *geo.Point, radiusKm *float64, f Filters) ([]Result, error) {
	obs.SearchesTotal.Inc()

	var (
		candidates []opportunity.Opportunity
		err        error
	)
	if radiusKm == nil {
		candidates, err = s.store.All(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		if center == nil {
			return nil, fmt.Errorf("%w: radius search requires a center", opportunity.ErrInvalidInput)
		}
		if *radiusKm <= 0 {
			return nil, fmt.Errorf("%w: radius must be > 0", opportunity.ErrInvalidInput)
		}
		candidates, err = s.scanBounds(ctx, *center, *radiusKm*1000)
		if err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, o := range candidates {
		res := Result{Opportunity: o}
		if center != nil {
			d, derr := geo.Distance(*center, o.Location.Point())
			if derr != nil {
				continue // malformed stored coordinates
			}
			// Filter at full precision; round only for display.
			if radiusKm != nil && d > *radiusKm {
				continue
			}
			rounded := geo.DisplayDistance(d)
			res.DistanceKm = &rounded
			res.distance = d
		}
		results = append(results, res)
	}

	rank(results)
	return applyFilters(results, f), nil
}

// scanBounds fans one range scan per candidate geohash range out to the
// store, retrying each failed shard once. A lost shard shrinks the candidate
// set, which only ever omits results; it is logged and counted rather than
// failing the query, unless every shard is lost.
func (s *Searcher) scanBounds(ctx context.Context, center geo.Point, radiusM float64) ([]opportunity.Opportunity, error) {
	bounds, err := geo.QueryBounds(center, radiusM)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		union  = make(map[string]opportunity.Opportunity)
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bounds {
		b := b
		g.Go(func() error {
			recs, err := s.store.RangeScan(gctx, b.Start, b.End)
			if err != nil {
				recs, err = s.store.RangeScan(gctx, b.Start, b.End)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				obs.SearchShardFailures.Inc()
				obs.LogRequest(map[string]any{
					"ts":    time.Now().UTC().Format(time.RFC3339Nano),
					"level": "warn",
					"msg":   "range scan shard failed",
					"low":   b.Start,
					"high":  b.End,
					"error": err.Error(),
				})
				return nil
			}
			for _, o := range recs {
				union[o.ID] = o
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(bounds) {
		return nil, ErrAllShardsFailed
	}
	out := make([]opportunity.Opportunity, 0, len(union))
	for _, o := range union {
		out = append(out, o)
	}
	return out, nil
}

// rank orders by trust score descending; ties go to the most recently
// created record.
func rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TrustScore != results[j].TrustScore {
			return results[i].TrustScore > results[j].TrustScore
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}

func applyFilters(results []Result, f Filters) []Result {
	category := strings.TrimSpace(strings.ToLower(f.Category))
	band := strings.TrimSpace(strings.ToLower(f.Band))
	if category == "" && band == "" && f.MaxDistanceKm == nil {
		return results
	}
	out := results[:0]
	for _, r := range results {
		if category != "" && strings.ToLower(r.Category) != category {
			continue
		}
		if band != "" && scoreBand(r.TrustScore) != band {
			continue
		}
		if f.MaxDistanceKm != nil {
			if r.DistanceKm == nil || r.distance > *f.MaxDistanceKm {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// scoreBand buckets a trust score the way the UI badges it.
func scoreBand(score int) string {
	switch {
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}
