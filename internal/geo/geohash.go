package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

// HashPrecision is the fixed geohash length used for storage. The same
// precision is used when writing records and when expanding query ranges, so
// the stored hash is always recomputable from the coordinates.
const HashPrecision = 10

const (
	base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

	bitsPerChar      = 5
	maxBitsPrecision = 22 * bitsPerChar

	// Meridional circumference and equatorial radius of the Earth in meters.
	earthMeridionalCircumference = 40007860.0
	earthEqRadiusM               = 6378137.0
	// Square of the first eccentricity of the WGS84 ellipsoid.
	e2 = 0.00669447819799

	metersPerDegreeLatitude = 110574.0
	epsilon                 = 1e-12
)

// Bounds is a lexicographic geohash range [Start, End) covering one candidate
// cell block of a radius query.
type Bounds struct {
	Start string
	End   string
}

// Hash encodes a point at the storage precision.
func Hash(p Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, HashPrecision)
}

// QueryBounds expands a circle into geohash ranges that together cover every
// cell which could intersect it. A circle crosses cell boundaries, so a single
// prefix range is never enough; nine probe points (center plus the bounding
// box edges and corners) each contribute a range, deduplicated. The expansion
// over-fetches on purpose; callers re-filter candidates by true distance.
func QueryBounds(center Point, radiusMeters float64) ([]Bounds, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	queryBits := boundingBoxBits(center, radiusMeters)
	if queryBits < 1 {
		queryBits = 1
	}
	precision := (queryBits + bitsPerChar - 1) / bitsPerChar

	var out []Bounds
	for _, p := range boundingBoxCoordinates(center, radiusMeters) {
		b := hashQuery(geohash.EncodeWithPrecision(p.Lat, p.Lng, uint(precision)), queryBits)
		duplicate := false
		for _, seen := range out {
			if seen == b {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, b)
		}
	}
	return out, nil
}

// hashQuery widens a geohash to the range of hashes sharing its significant
// bits. The '~' sentinel sorts after every base32 character.
func hashQuery(hash string, bits int) Bounds {
	precision := (bits + bitsPerChar - 1) / bitsPerChar
	if len(hash) < precision {
		return Bounds{Start: hash, End: hash + "~"}
	}
	hash = hash[:precision]
	base := hash[:len(hash)-1]
	lastValue := indexOfBase32(hash[len(hash)-1])
	significantBits := bits - len(base)*bitsPerChar
	unusedBits := bitsPerChar - significantBits
	startValue := (lastValue >> unusedBits) << unusedBits
	endValue := startValue + (1 << unusedBits)
	if endValue > 31 {
		return Bounds{Start: base + string(base32[startValue]), End: base + "~"}
	}
	return Bounds{Start: base + string(base32[startValue]), End: base + string(base32[endValue])}
}

// boundingBoxBits returns the number of geohash bits resolving cells no
// larger than the bounding box of the circle.
func boundingBoxBits(center Point, sizeMeters float64) int {
	latDelta := sizeMeters / metersPerDegreeLatitude
	latNorth := math.Min(90, center.Lat+latDelta)
	latSouth := math.Max(-90, center.Lat-latDelta)
	bitsLat := int(math.Floor(latitudeBitsForResolution(sizeMeters))) * 2
	bitsLngNorth := int(math.Floor(longitudeBitsForResolution(sizeMeters, latNorth)))*2 - 1
	bitsLngSouth := int(math.Floor(longitudeBitsForResolution(sizeMeters, latSouth)))*2 - 1
	bits := bitsLat
	if bitsLngNorth < bits {
		bits = bitsLngNorth
	}
	if bitsLngSouth < bits {
		bits = bitsLngSouth
	}
	if bits > maxBitsPrecision {
		bits = maxBitsPrecision
	}
	return bits
}

// boundingBoxCoordinates returns the nine probe points of the circle's
// bounding box: center, midpoints of the four edges, and the four corners.
func boundingBoxCoordinates(center Point, radiusMeters float64) []Point {
	latDegrees := radiusMeters / metersPerDegreeLatitude
	latNorth := math.Min(90, center.Lat+latDegrees)
	latSouth := math.Max(-90, center.Lat-latDegrees)
	lngDegsNorth := metersToLongitudeDegrees(radiusMeters, latNorth)
	lngDegsSouth := metersToLongitudeDegrees(radiusMeters, latSouth)
	lngDegs := math.Max(lngDegsNorth, lngDegsSouth)
	return []Point{
		{center.Lat, center.Lng},
		{center.Lat, wrapLongitude(center.Lng - lngDegs)},
		{center.Lat, wrapLongitude(center.Lng + lngDegs)},
		{latNorth, center.Lng},
		{latNorth, wrapLongitude(center.Lng - lngDegs)},
		{latNorth, wrapLongitude(center.Lng + lngDegs)},
		{latSouth, center.Lng},
		{latSouth, wrapLongitude(center.Lng - lngDegs)},
		{latSouth, wrapLongitude(center.Lng + lngDegs)},
	}
}

func latitudeBitsForResolution(resolution float64) float64 {
	return math.Min(math.Log2(earthMeridionalCircumference/2/resolution), maxBitsPrecision)
}

func longitudeBitsForResolution(resolution, latitude float64) float64 {
	degs := metersToLongitudeDegrees(resolution, latitude)
	if math.Abs(degs) > 0.000001 {
		return math.Max(1, math.Log2(360/degs))
	}
	return 1
}

// metersToLongitudeDegrees converts a distance to longitude degrees at a
// given latitude, accounting for the ellipsoid narrowing toward the poles.
func metersToLongitudeDegrees(distance, latitude float64) float64 {
	rad := radians(latitude)
	num := math.Cos(rad) * earthEqRadiusM * math.Pi / 180
	denom := 1 / math.Sqrt(1-e2*math.Sin(rad)*math.Sin(rad))
	deltaDeg := num * denom
	if deltaDeg < epsilon {
		if distance > 0 {
			return 360
		}
		return 0
	}
	return math.Min(360, distance/deltaDeg)
}

func wrapLongitude(lng float64) float64 {
	if lng <= 180 && lng >= -180 {
		return lng
	}
	adjusted := lng + 180
	if adjusted > 0 {
		return math.Mod(adjusted, 360) - 180
	}
	return 180 - math.Mod(-adjusted, 360)
}

func indexOfBase32(c byte) int {
	for i := 0; i < len(base32); i++ {
		if base32[i] == c {
			return i
		}
	}
	return -1
}
