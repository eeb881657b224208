package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"avsar.org/internal/geo"
	"avsar.org/internal/obs"
)

var (
	// ErrNoMatch means the upstream answered but found nothing for the query.
	ErrNoMatch = errors.New("geocode: no match")
	// ErrUpstream wraps transport or non-200 failures from the provider.
	ErrUpstream = errors.New("geocode: upstream failure")
)

const (
	defaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "avsar/1.0 (opportunity discovery)"
	defaultCacheTTL  = 10 * time.Minute

	// minSuggestRunes gates autocomplete; shorter inputs return nothing
	// rather than spamming the provider.
	minSuggestRunes = 3
	maxSuggestions  = 10
)

// Place is a resolved location.
type Place struct {
	Point       geo.Point `json:"point"`
	DisplayName string    `json:"display_name"`
	City        string    `json:"city,omitempty"`
	State       string    `json:"state,omitempty"`
	Pincode     string    `json:"pincode,omitempty"`
}

// Client talks to a Nominatim-compatible geocoder. Requests are rate limited
// to one per second per the provider's usage policy, and answers are cached
// with a short TTL so repeated lookups of the same address stay local.
type Client struct {
	http        *http.Client
	baseURL     string
	userAgent   string
	countryName string
	countryCode string
	limiter     *rate.Limiter
	cache       *gocache.Cache
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different provider endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCountry sets the bias country. name is appended to bare queries and
// code restricts results ("India", "in" by default).
func WithCountry(name, code string) Option {
	return func(c *Client) {
		c.countryName = name
		c.countryCode = strings.ToLower(code)
	}
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient builds a geocoding client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: 10 * time.Second},
		baseURL:     defaultBaseURL,
		userAgent:   defaultUserAgent,
		countryName: "India",
		countryCode: "in",
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		cache:       gocache.New(defaultCacheTTL, 2*defaultCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		State    string `json:"state"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

func (r nominatimResult) place() (Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("%w: bad latitude %q", ErrUpstream, r.Lat)
	}
	lng, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("%w: bad longitude %q", ErrUpstream, r.Lon)
	}
	city := r.Address.City
	if city == "" {
		city = r.Address.Town
	}
	if city == "" {
		city = r.Address.Village
	}
	return Place{
		Point:       geo.Point{Lat: lat, Lng: lng},
		DisplayName: r.DisplayName,
		City:        city,
		State:       r.Address.State,
		Pincode:     r.Address.Postcode,
	}, nil
}

// Forward resolves a free-text address to coordinates. Queries that do not
// already name the bias country get it appended, which sharply improves
// Nominatim's hit rate for colloquial addresses.
func (c *Client) Forward(ctx context.Context, query string) (Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Place{}, ErrNoMatch
	}
	q := query
	if c.countryName != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(c.countryName)) {
		q = q + ", " + c.countryName
	}

	key := "fwd:" + strings.ToLower(q)
	if v, ok := c.cache.Get(key); ok {
		return v.(Place), nil
	}

	params := url.Values{
		"q":              {q},
		"format":         {"json"},
		"addressdetails": {"1"},
		"limit":          {"1"},
	}
	if c.countryCode != "" {
		params.Set("countrycodes", c.countryCode)
	}
	var results []nominatimResult
	if err := c.do(ctx, "/search", params, &results); err != nil {
		return Place{}, err
	}
	if len(results) == 0 {
		return Place{}, fmt.Errorf("%w: %q", ErrNoMatch, query)
	}
	p, err := results[0].place()
	if err != nil {
		return Place{}, err
	}
	c.cache.SetDefault(key, p)
	return p, nil
}

// Reverse maps coordinates to an address. Failures degrade to an empty Place
// rather than an error: callers always have the coordinates themselves, and a
// record without a printable address is still usable.
func (c *Client) Reverse(ctx context.Context, p geo.Point) Place {
	if err := p.Validate(); err != nil {
		return Place{Point: p}
	}
	key := fmt.Sprintf("rev:%.5f:%.5f", p.Lat, p.Lng)
	if v, ok := c.cache.Get(key); ok {
		return v.(Place)
	}

	params := url.Values{
		"lat":            {strconv.FormatFloat(p.Lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(p.Lng, 'f', -1, 64)},
		"format":         {"json"},
		"addressdetails": {"1"},
	}
	var result nominatimResult
	if err := c.do(ctx, "/reverse", params, &result); err != nil {
		obs.GeocodeFailures.Inc()
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "reverse geocode degraded",
			"lat":   p.Lat,
			"lng":   p.Lng,
			"error": err.Error(),
		})
		return Place{Point: p}
	}
	place, err := result.place()
	if err != nil {
		obs.GeocodeFailures.Inc()
		return Place{Point: p}
	}
	place.Point = p
	c.cache.SetDefault(key, place)
	return place
}

// Suggest returns up to ten autocomplete candidates. Inputs under three
// runes return an empty list without touching the provider, and upstream
// failures degrade to an empty list.
func (c *Client) Suggest(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSuggestRunes {
		return nil, nil
	}

	key := "sug:" + strings.ToLower(query)
	if v, ok := c.cache.Get(key); ok {
		return v.([]Place), nil
	}

	params := url.Values{
		"q":              {query},
		"format":         {"json"},
		"addressdetails": {"1"},
		"limit":          {strconv.Itoa(maxSuggestions)},
	}
	if c.countryCode != "" {
		params.Set("countrycodes", c.countryCode)
	}
	var results []nominatimResult
	if err := c.do(ctx, "/search", params, &results); err != nil {
		// Autocomplete is advisory; a failed lookup just suggests nothing.
		obs.GeocodeFailures.Inc()
		return nil, nil
	}
	places := make([]Place, 0, len(results))
	for _, r := range results {
		p, err := r.place()
		if err != nil {
			continue
		}
		places = append(places, p)
	}
	c.cache.SetDefault(key, places)
	return places, nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	return nil
}
