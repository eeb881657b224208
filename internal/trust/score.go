package trust

import (
	"math"
	"time"
)

// Level is a user's identity verification tier. It weights the value of that
// user's endorsements.
type Level string

const (
	Unverified Level = "unverified"
	Phone      Level = "phone"
	Email      Level = "email"
	// Verified means both phone and email are confirmed.
	Verified Level = "verified"
)

// Scoring constants. Raw and decayed scores always stay within [Min, Max].
const (
	Base         = 50
	PositiveUnit = 10
	NegativeUnit = 15
	Min          = 20
	Max          = 100

	// DecayStep points are subtracted per DecayPeriod elapsed since the last
	// positive confirmation.
	DecayStep   = 5
	DecayPeriod = 30 * 24 * time.Hour

	// CheckInterval is the minimum gap between decay re-evaluations.
	CheckInterval = 24 * time.Hour
)

// Weight returns the endorsement multiplier for a verification level.
// Unknown levels count as unverified.
func Weight(l Level) float64 {
	switch l {
	case Phone, Email:
		return 1.5
	case Verified:
		return 2.0
	default:
		return 1.0
	}
}

// ParseLevel normalizes a stored level string, defaulting to unverified.
func ParseLevel(s string) Level {
	switch Level(s) {
	case Phone, Email, Verified:
		return Level(s)
	default:
		return Unverified
	}
}

// Breakdown is the result of a score computation.
type Breakdown struct {
	Base                 int     `json:"base"`
	PositiveContribution float64 `json:"positive_contribution"`
	NegativeContribution int     `json:"negative_contribution"`
	Raw                  int     `json:"raw"`
	Decayed              int     `json:"decayed"`
	PositiveCount        int     `json:"positive_count"`
	NegativeCount        int     `json:"negative_count"`
}

// Score derives the raw and decayed trust score from a ledger. voucherLevels
// holds one entry per positive endorsement (anonymous endorsements count as
// unverified). The function is pure: same inputs, same output, no clock reads.
func Score(voucherLevels []Level, negativeCount int, lastVerifiedAt, now time.Time) Breakdown {
	positive := 0.0
	for _, l := range voucherLevels {
		positive += PositiveUnit * Weight(l)
	}
	negative := negativeCount * NegativeUnit

	raw := int(math.Round(float64(Base) + positive - float64(negative)))
	if raw > Max {
		raw = Max
	}
	if raw < Min {
		raw = Min
	}

	return Breakdown{
		Base:                 Base,
		PositiveContribution: positive,
		NegativeContribution: negative,
		Raw:                  raw,
		Decayed:              Decay(raw, lastVerifiedAt, now),
		PositiveCount:        len(voucherLevels),
		NegativeCount:        negativeCount,
	}
}

// Decay lowers a raw score by DecayStep per full DecayPeriod elapsed since
// lastVerifiedAt. Decay never raises a score and never goes below Min.
func Decay(raw int, lastVerifiedAt, now time.Time) int {
	if lastVerifiedAt.IsZero() || !now.After(lastVerifiedAt) {
		return raw
	}
	elapsedDays := int(now.Sub(lastVerifiedAt).Hours() / 24)
	steps := elapsedDays / 30
	decayed := raw - steps*DecayStep
	if decayed < Min {
		decayed = Min
	}
	return decayed
}

// IsDue reports whether a record's decay should be re-evaluated: at least
// CheckInterval since the previous evaluation. A zero timestamp is always due.
func IsDue(lastDecayCheck, now time.Time) bool {
	if lastDecayCheck.IsZero() {
		return true
	}
	return now.Sub(lastDecayCheck) >= CheckInterval
}

// DaysUntilNextDecay returns how many days remain in the current decay
// period. Surfaced in API responses so owners know when to re-confirm.
func DaysUntilNextDecay(lastVerifiedAt, now time.Time) int {
	if lastVerifiedAt.IsZero() {
		return 0
	}
	elapsedDays := int(now.Sub(lastVerifiedAt).Hours() / 24)
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	return 30 - elapsedDays%30
}
