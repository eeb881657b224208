package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/opportunities":                   "/v1/opportunities",
		"/v1/opportunities/abc":               "/v1/opportunities/:id",
		"/v1/opportunities/abc/vouches":       "/v1/opportunities/:id/vouches",
		"/v1/opportunities/abc/reports":       "/v1/opportunities/:id/reports",
		"/v1/opportunities/abc/extra":         "/v1/opportunities/abc/extra",
		"/v1/users/u1/verification":           "/v1/users/:id/verification",
		"/v1/opportunities?radius_km=5":       "/v1/opportunities",
		"/v1/geocode/suggest":                 "/v1/geocode/suggest",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
