package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"avsar.org/internal/auth"
	"avsar.org/internal/discovery"
	"avsar.org/internal/geo"
	"avsar.org/internal/geocode"
	"avsar.org/internal/obs"
	"avsar.org/internal/opportunity"
	"avsar.org/internal/stream"
	"avsar.org/internal/trust"
)

type createOpportunityRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Contact     string   `json:"contact"`
	Address     string   `json:"address"`
	Pincode     string   `json:"pincode"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

func (req createOpportunityRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Title, validation.Required, validation.Length(3, 140)),
		validation.Field(&req.Description, validation.Length(0, 2000)),
		validation.Field(&req.Category, validation.Length(0, 64)),
		validation.Field(&req.Contact, validation.Length(0, 128)),
		validation.Field(&req.Address, validation.Length(0, 512)),
	)
}

type vouchRequest struct {
	DisplayName string `json:"display_name"`
	Comment     string `json:"comment"`
	Phone       string `json:"phone"`
}

func (req vouchRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.DisplayName, validation.Length(0, 80)),
		validation.Field(&req.Comment, validation.Length(0, 500)),
	)
}

type reportRequest struct {
	Reason string `json:"reason"`
}

func (req reportRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Reason, validation.Required, validation.Length(3, 500)),
	)
}

func (a *API) handleOpportunitiesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOpportunity(w, r)
	case http.MethodGet:
		a.searchOpportunities(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOpportunityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/opportunities/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/vouches"); ok && !strings.Contains(id, "/") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.vouch(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/reports"); ok && !strings.Contains(id, "/") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.report(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getOpportunity(w, r, path)
	case http.MethodDelete:
		a.deleteOpportunity(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createOpportunity(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createOpportunityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := opportunity.CreateInput{
		OwnerID:     principal.UserID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Contact:     req.Contact,
		Address:     req.Address,
		Pincode:     req.Pincode,
	}
	switch {
	case req.Lat != nil && req.Lng != nil:
		in.Lat, in.Lng = *req.Lat, *req.Lng
		if in.Address == "" && a.geocoder != nil {
			place := a.geocoder.Reverse(r.Context(), geo.Point{Lat: in.Lat, Lng: in.Lng})
			in.Address = place.DisplayName
			if in.Pincode == "" {
				in.Pincode = place.Pincode
			}
		}
	case strings.TrimSpace(req.Address) != "":
		if a.geocoder == nil {
			writeError(w, r, http.StatusBadRequest, "coordinates are required")
			return
		}
		place, err := a.geocoder.Forward(r.Context(), req.Address)
		if err != nil {
			handleGeocodeError(w, r, err)
			return
		}
		in.Lat, in.Lng = place.Point.Lat, place.Point.Lng
	default:
		writeError(w, r, http.StatusBadRequest, "either coordinates or an address is required")
		return
	}

	o, err := a.svc.Create(r.Context(), in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "opportunity.create", map[string]any{
		"opportunity_id": o.ID,
		"category":       o.Category,
	})

	w.Header().Set("Location", "/v1/opportunities/"+o.ID)
	writeJSON(w, http.StatusCreated, o)
}

// opportunityResponse augments the record with how long until the next decay
// step lands, which clients show as a freshness hint.
type opportunityResponse struct {
	opportunity.Opportunity
	DaysUntilNextDecay int `json:"days_until_next_decay"`
}

func (a *API) getOpportunity(w http.ResponseWriter, r *http.Request, id string) {
	o, err := a.svc.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opportunityResponse{
		Opportunity:        o,
		DaysUntilNextDecay: trust.DaysUntilNextDecay(o.LastVerifiedAt, time.Now().UTC()),
	})
}

func (a *API) deleteOpportunity(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.svc.Delete(r.Context(), id, principal.UserID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "opportunity.delete", map[string]any{"opportunity_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) vouch(w http.ResponseWriter, r *http.Request, id string) {
	var req vouchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := opportunity.VouchInput{
		DisplayName:  req.DisplayName,
		Comment:      req.Comment,
		VoucherPhone: req.Phone,
	}
	// Anonymous endorsements are allowed; an authenticated caller is
	// attributed and deduplicated.
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		in.VoucherUserID = principal.UserID
		if in.DisplayName == "" {
			in.DisplayName = principal.DisplayName
		}
	}

	res, err := a.svc.Vouch(r.Context(), id, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.VouchesTotal.Inc()

	a.publishEvent(r.Context(), id, stream.KindVouch, res.Breakdown.Decayed)
	a.audit(r.Context(), "vouch.add", map[string]any{
		"opportunity_id": id,
		"score":          res.Breakdown.Decayed,
		"anonymous":      in.VoucherUserID == "",
	})

	writeJSON(w, http.StatusCreated, res)
}

func (a *API) report(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req reportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bd, err := a.svc.Report(r.Context(), id, opportunity.ReportInput{
		ReporterUserID: principal.UserID,
		Reason:         req.Reason,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.ReportsTotal.Inc()

	a.publishEvent(r.Context(), id, stream.KindReport, bd.Decayed)
	a.audit(r.Context(), "vouch.report", map[string]any{
		"opportunity_id": id,
		"score":          bd.Decayed,
	})

	writeJSON(w, http.StatusCreated, map[string]any{"breakdown": bd})
}

func (a *API) publishEvent(ctx context.Context, id, kind string, score int) {
	if a.stream == nil {
		return
	}
	evt := stream.Event{
		OpportunityID: id,
		Kind:          kind,
		Score:         score,
		Timestamp:     time.Now().UTC(),
	}
	if o, err := a.svc.Get(ctx, id); err == nil {
		evt.Location = stream.Location{Lat: o.Location.Lat, Lng: o.Location.Lng}
	}
	a.stream.Publish(evt)
}

func (a *API) searchOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var center *geo.Point
	latRaw, lngRaw := q.Get("lat"), q.Get("lng")
	if latRaw != "" || lngRaw != "" {
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "lat must be a number")
			return
		}
		lng, err := strconv.ParseFloat(lngRaw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "lng must be a number")
			return
		}
		center = &geo.Point{Lat: lat, Lng: lng}
		if err := center.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	// An address names the search center; explicit coordinates are the
	// fallback when the forward geocode fails.
	if addr := strings.TrimSpace(q.Get("address")); addr != "" {
		if a.geocoder == nil {
			if center == nil {
				writeError(w, r, http.StatusServiceUnavailable, "geocoding disabled")
				return
			}
		} else if place, err := a.geocoder.Forward(r.Context(), addr); err == nil {
			center = &place.Point
		} else if center == nil {
			handleGeocodeError(w, r, err)
			return
		}
	}

	var radiusKm *float64
	if raw := q.Get("radius_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(w, r, http.StatusBadRequest, "radius_km must be a positive number")
			return
		}
		radiusKm = &v
	}

	filters := discovery.Filters{
		Category: q.Get("category"),
		Band:     q.Get("band"),
	}
	if raw := q.Get("max_distance_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(w, r, http.StatusBadRequest, "max_distance_km must be a positive number")
			return
		}
		filters.MaxDistanceKm = &v
	}

	results, err := a.searcher.Search(r.Context(), center, radiusKm, filters)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": results,
		"count": len(results),
		"as_of": time.Now().UTC(),
	})
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, opportunity.ErrInvalidInput), errors.Is(err, geo.ErrInvalidCoordinate):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, opportunity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, opportunity.ErrDuplicateVouch), errors.Is(err, opportunity.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, opportunity.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, discovery.ErrAllShardsFailed):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, geocode.ErrUpstream):
		writeError(w, r, http.StatusBadGateway, "geocoding provider unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
