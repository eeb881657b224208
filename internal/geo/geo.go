package geo

import (
	"errors"
	"fmt"
	"math"
)

// Point is a WGS84 coordinate pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ErrInvalidCoordinate indicates a latitude or longitude outside its valid range.
var ErrInvalidCoordinate = errors.New("coordinate out of range")

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Validate checks the coordinate ranges.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

// Distance returns the great-circle distance between two points in kilometers
// at full precision. Filtering must use this value, not the display rounding,
// to avoid misclassifying records near the radius boundary.
func Distance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c, nil
}

// DisplayDistance rounds a distance to one decimal for presentation.
func DisplayDistance(km float64) float64 {
	return math.Round(km*10) / 10
}

func radians(deg float64) float64 {
	return deg * (math.Pi / 180)
}
