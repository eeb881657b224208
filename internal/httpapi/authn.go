package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"avsar.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth attaches the authenticated principal when a bearer token is
// present. Browsing, searching, and anonymous vouching need no identity, so a
// missing token passes through; a present but invalid token is rejected.
// Handlers that require identity check for a principal themselves.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			if errors.Is(err, errNoAuthHeader) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errNoAuthHeader = errors.New("missing authorization header")

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoAuthHeader
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
