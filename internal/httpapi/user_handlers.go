package httpapi

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"avsar.org/internal/auth"
	"avsar.org/internal/users"
)

type verificationRequest struct {
	Method string `json:"method"`
}

func (req verificationRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Method, validation.Required, validation.In("phone", "email")),
	)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/verification"); ok && !strings.Contains(id, "/") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.setVerification(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := a.users.Get(r.Context(), id)
	if err != nil {
		handleUserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// setVerification records a completed phone or email verification. Callers
// may only verify themselves.
func (a *API) setVerification(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.UserID != id {
		writeError(w, r, http.StatusForbidden, "users may only update their own verification")
		return
	}

	var req verificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	level, err := a.users.SetVerification(r.Context(), id, req.Method)
	if err != nil {
		handleUserError(w, r, err)
		return
	}

	a.audit(r.Context(), "verification.update", map[string]any{
		"target_user_id": id,
		"method":         req.Method,
		"level":          string(level),
	})

	writeJSON(w, http.StatusOK, map[string]any{"verification_level": level})
}

func handleUserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, users.ErrInvalidMethod):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
