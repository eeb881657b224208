package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"avsar.org/internal/geo"
	"avsar.org/internal/geocode"
)

func (a *API) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.geocoder == nil {
		writeError(w, r, http.StatusServiceUnavailable, "geocoding disabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, http.StatusBadRequest, "q query parameter is required")
		return
	}
	place, err := a.geocoder.Forward(r.Context(), q)
	if err != nil {
		handleGeocodeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

func (a *API) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.geocoder == nil {
		writeError(w, r, http.StatusServiceUnavailable, "geocoding disabled")
		return
	}
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, r, http.StatusBadRequest, "lat and lng query parameters are required")
		return
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Reverse lookups degrade to bare coordinates rather than failing.
	writeJSON(w, http.StatusOK, a.geocoder.Reverse(r.Context(), p))
}

func (a *API) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.geocoder == nil {
		writeError(w, r, http.StatusServiceUnavailable, "geocoding disabled")
		return
	}
	places, err := a.geocoder.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleGeocodeError(w, r, err)
		return
	}
	if places == nil {
		places = []geocode.Place{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": places})
}

func handleGeocodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrNoMatch):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, geocode.ErrUpstream):
		writeError(w, r, http.StatusBadGateway, "geocoding provider unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
