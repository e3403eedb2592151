// Package realty wraps the external structured listing data API with
// the resilience stack the import pipeline expects: bounded retries,
// a circuit breaker with a stale-response fallback, a persisted
// monthly quota, and in-flight request deduplication.
package realty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zixofranic/property-sync/internal/metrics"
	"github.com/zixofranic/property-sync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned by GetByID for an unknown listing id.
var ErrNotFound = errors.New("realty: listing not found")

// ValidationError reports a structurally invalid provider response or
// unusable request input. Not retryable.
type ValidationError struct {
	Endpoint string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("realty %s: %s", e.Endpoint, e.Reason)
}

// apiError is a non-2xx provider response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("realty: api status %d: %s", e.Status, e.Body)
}

// retryable classifies transient failures: timeouts and the usual
// gateway statuses. Validation problems and client errors are final.
func retryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		switch ae.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout() || ue.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Candidate is one search result from the provider.
type Candidate struct {
	ID          string   `json:"id"`
	Street      string   `json:"street"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Zip         string   `json:"zip"`
	Price       float64  `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
	Beds        *int     `json:"beds,omitempty"`
	Baths       *float64 `json:"baths,omitempty"`
	Sqft        *int     `json:"sqft,omitempty"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
}

// Detail is the full provider record for one listing.
type Detail struct {
	Candidate
	YearBuilt    *int     `json:"yearBuilt,omitempty"`
	LotSize      *float64 `json:"lotSize,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
	Status       string   `json:"status,omitempty"`
	Photos       []string `json:"photos,omitempty"`
}

// Suggestion is one autocomplete hit.
type Suggestion struct {
	Text       string `json:"text"`
	City       string `json:"city,omitempty"`
	StateCode  string `json:"stateCode,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// ToProperty converts a provider record into the shared extraction
// shape so feed-sourced listings ride the same import path as scraped
// ones.
func (d *Detail) ToProperty(sourceURL string) *model.ParsedProperty {
	p := &model.ParsedProperty{
		Source:    model.SourceExternalAPI,
		SourceID:  d.ID,
		SourceURL: sourceURL,
		Address: model.Address{
			Street: d.Street,
			City:   d.City,
			State:  d.State,
			Zip:    d.Zip,
		},
		Details: model.PropertyDetails{
			Beds:         d.Beds,
			Baths:        d.Baths,
			Sqft:         d.Sqft,
			YearBuilt:    d.YearBuilt,
			LotSize:      d.LotSize,
			PropertyType: d.PropertyType,
		},
		Listing:       model.ListingInfo{Status: d.Status},
		IsFullyParsed: true,
	}
	if d.Price > 0 {
		p.Pricing = model.Pricing{
			DisplayPrice: "$" + strconv.FormatFloat(d.Price, 'f', 0, 64),
			NumericPrice: d.Price,
		}
	}
	if d.Description != "" {
		p.RawExtra = map[string]any{"description": d.Description}
	}
	for _, photo := range d.Photos {
		p.Images = append(p.Images, model.PropertyImage{URL: photo})
	}
	if len(p.Images) == 0 && d.PhotoURL != "" {
		p.Images = append(p.Images, model.PropertyImage{URL: d.PhotoURL})
	}
	p.Normalize()
	return p
}

// Config tunes the client. Zero values take the defaults noted.
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration // 10s
	Attempts         int           // 3
	BackoffBase      time.Duration // 500ms
	RatePerSecond    float64       // 5
	Burst            int           // 2
	FailureThreshold int           // 5
	SuccessThreshold int           // 2
	Cooldown         time.Duration // 60s
	CacheTTL         time.Duration // 24h stale fallback window
}

// Client calls the provider. The layers run dedup(quota(breaker(
// retry(transport)))) from the outside in; see callOnce.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	breaker     *breaker
	quota       *QuotaManager
	cache       *staleCache
	flight      singleflight.Group
	log         *zap.Logger
	attempts    int
	backoffBase time.Duration
}

// New builds the client. quota may be nil (no enforcement); rdb may be
// nil (no stale fallback).
func New(cfg Config, quota *QuotaManager, rdb *redis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		quota:       quota,
		log:         log.Named("realty"),
		attempts:    cfg.Attempts,
		backoffBase: cfg.BackoffBase,
	}
	c.breaker = newBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Cooldown, func(from, to BreakerState) {
		metrics.ExternalBreakerState.Set(float64(to))
		c.log.Warn("breaker state change",
			zap.String("from", from.String()), zap.String("to", to.String()))
	})
	if rdb != nil {
		c.cache = &staleCache{rdb: rdb, ttl: cfg.CacheTTL}
	}
	return c
}

// BreakerState exposes the breaker for the status surface.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// SearchByLocation queries listings for a city or zip. An empty result
// is a normal empty slice.
func (c *Client) SearchByLocation(ctx context.Context, cityOrZip, stateCode string, limit int) ([]Candidate, error) {
	cityOrZip = strings.TrimSpace(cityOrZip)
	if cityOrZip == "" {
		return nil, &ValidationError{Endpoint: "search", Reason: "location is required"}
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	params := url.Values{}
	params.Set("location", cityOrZip)
	if stateCode != "" {
		params.Set("state_code", strings.ToUpper(strings.TrimSpace(stateCode)))
	}
	params.Set("limit", strconv.Itoa(limit))

	key := "search|" + strings.ToLower(cityOrZip) + "|" + strings.ToLower(stateCode) + "|" + strconv.Itoa(limit)
	body, err := c.call(ctx, key, "search", "/v2/listings/search", params)
	if err != nil {
		return nil, err
	}
	return decodeSearch(body)
}

// GetByID fetches one listing's full record.
func (c *Client) GetByID(ctx context.Context, id string) (*Detail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Endpoint: "detail", Reason: "listing id is required"}
	}
	params := url.Values{}
	params.Set("id", id)

	body, err := c.call(ctx, "detail|"+id, "detail", "/v2/listings/detail", params)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeDetail(body)
}

// Autocomplete suggests locations for partial input.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return nil, &ValidationError{Endpoint: "autocomplete", Reason: "query must be at least 2 characters"}
	}
	params := url.Values{}
	params.Set("input", query)

	body, err := c.call(ctx, "autocomplete|"+strings.ToLower(query), "autocomplete", "/v2/locations/autocomplete", params)
	if err != nil {
		return nil, err
	}
	return decodeAutocomplete(body)
}

// call coalesces identical concurrent requests into one upstream call.
// The singleflight group drops the key as soon as the shared call
// finishes, success or not.
func (c *Client) call(ctx context.Context, key, endpoint, path string, params url.Values) ([]byte, error) {
	v, err, shared := c.flight.Do(key, func() (any, error) {
		return c.callOnce(ctx, endpoint, path, params, key)
	})
	if shared {
		metrics.ExternalCoalescedTotal.Inc()
		c.log.Debug("coalesced into in-flight request", zap.String("key", key))
	}
	if err != nil {
		metrics.ExternalCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.ExternalCallsTotal.WithLabelValues(endpoint, "ok").Inc()
	return v.([]byte), nil
}

// callOnce runs quota -> breaker -> retry -> transport.
func (c *Client) callOnce(ctx context.Context, endpoint, path string, params url.Values, cacheKey string) ([]byte, error) {
	var release func(error)
	if c.quota != nil {
		var err error
		release, err = c.quota.Reserve(ctx, endpoint)
		if err != nil {
			return nil, err
		}
	}

	body, err := c.throughBreaker(ctx, cacheKey, func() ([]byte, error) {
		return c.doWithRetry(ctx, path, params)
	})
	if release != nil {
		release(err)
	}
	return body, err
}

func (c *Client) throughBreaker(ctx context.Context, cacheKey string, fn func() ([]byte, error)) ([]byte, error) {
	if !c.breaker.allow() {
		if c.cache != nil {
			if body, ok := c.cache.get(ctx, cacheKey); ok {
				c.log.Warn("circuit open, serving stale response", zap.String("key", cacheKey))
				return body, nil
			}
		}
		return nil, ErrCircuitOpen
	}

	body, err := fn()
	if err != nil {
		// Cancellation is no verdict on upstream health, but a probe
		// slot held by the cancelled caller must come back or the
		// breaker sticks half-open.
		if errors.Is(err, context.Canceled) {
			c.breaker.abortProbe()
		} else {
			c.breaker.recordFailure()
		}
		return nil, err
	}
	c.breaker.recordSuccess()
	if c.cache != nil {
		c.cache.put(ctx, cacheKey, body)
	}
	return body, nil
}

func (c *Client) doWithRetry(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(c.backoffBase, attempt-1)
			c.log.Debug("retrying",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Duration("after", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := c.transport(ctx, path, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.attempts, lastErr)
}

// backoffDelay doubles per attempt with up to 50% jitter on top.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (c *Client) transport(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{Status: resp.StatusCode, Body: truncateBody(body)}
	}
	return body, nil
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// staleCache keeps the latest good response per request key so an open
// breaker can degrade to slightly old data instead of an error.
type staleCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func (s *staleCache) key(k string) string { return "realty:cache:" + k }

func (s *staleCache) get(ctx context.Context, k string) ([]byte, bool) {
	body, err := s.rdb.Get(ctx, s.key(k)).Bytes()
	if err != nil {
		return nil, false
	}
	return body, true
}

func (s *staleCache) put(ctx context.Context, k string, body []byte) {
	_ = s.rdb.Set(ctx, s.key(k), body, s.ttl).Err()
}

// Wire shapes. The provider nests everything under a data envelope.

type wireListing struct {
	ID          string   `json:"id"`
	Street      string   `json:"street_address"`
	City        string   `json:"city"`
	State       string   `json:"state_code"`
	Zip         string   `json:"postal_code"`
	Price       float64  `json:"list_price"`
	Description string   `json:"description"`
	Beds        *int     `json:"beds"`
	Baths       *float64 `json:"baths"`
	Sqft        *int     `json:"sqft"`
	PhotoURL    string   `json:"primary_photo"`
}

func (w *wireListing) validate(endpoint string, idx int) error {
	if w.Street == "" && w.City == "" && w.Zip == "" {
		return &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("listing %d missing address", idx)}
	}
	if w.Price <= 0 && strings.TrimSpace(w.Description) == "" {
		return &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("listing %d has neither price nor description", idx)}
	}
	return nil
}

func (w *wireListing) candidate() Candidate {
	return Candidate{
		ID:          w.ID,
		Street:      w.Street,
		City:        w.City,
		State:       w.State,
		Zip:         w.Zip,
		Price:       w.Price,
		Description: w.Description,
		Beds:        w.Beds,
		Baths:       w.Baths,
		Sqft:        w.Sqft,
		PhotoURL:    w.PhotoURL,
	}
}

func decodeSearch(body []byte) ([]Candidate, error) {
	var wire struct {
		Data struct {
			Listings []wireListing `json:"listings"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ValidationError{Endpoint: "search", Reason: "malformed response: " + err.Error()}
	}
	out := make([]Candidate, 0, len(wire.Data.Listings))
	for i := range wire.Data.Listings {
		l := &wire.Data.Listings[i]
		if err := l.validate("search", i); err != nil {
			return nil, err
		}
		out = append(out, l.candidate())
	}
	return out, nil
}

func decodeDetail(body []byte) (*Detail, error) {
	var wire struct {
		Data struct {
			wireListing
			YearBuilt    *int     `json:"year_built"`
			LotSize      *float64 `json:"lot_size"`
			PropertyType string   `json:"property_type"`
			Status       string   `json:"status"`
			Photos       []struct {
				URL string `json:"href"`
			} `json:"photos"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ValidationError{Endpoint: "detail", Reason: "malformed response: " + err.Error()}
	}
	if err := wire.Data.validate("detail", 0); err != nil {
		return nil, err
	}
	d := &Detail{
		Candidate:    wire.Data.candidate(),
		YearBuilt:    wire.Data.YearBuilt,
		LotSize:      wire.Data.LotSize,
		PropertyType: wire.Data.PropertyType,
		Status:       wire.Data.Status,
	}
	for _, photo := range wire.Data.Photos {
		if photo.URL != "" {
			d.Photos = append(d.Photos, photo.URL)
		}
	}
	return d, nil
}

func decodeAutocomplete(body []byte) ([]Suggestion, error) {
	var wire struct {
		Data struct {
			Suggestions []struct {
				Text       string `json:"text"`
				City       string `json:"city"`
				StateCode  string `json:"state_code"`
				PostalCode string `json:"postal_code"`
				Kind       string `json:"area_type"`
			} `json:"suggestions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ValidationError{Endpoint: "autocomplete", Reason: "malformed response: " + err.Error()}
	}
	out := make([]Suggestion, 0, len(wire.Data.Suggestions))
	for _, s := range wire.Data.Suggestions {
		if s.Text == "" && s.City == "" {
			return nil, &ValidationError{Endpoint: "autocomplete", Reason: "suggestion missing text"}
		}
		out = append(out, Suggestion{
			Text: s.Text, City: s.City, StateCode: s.StateCode,
			PostalCode: s.PostalCode, Kind: s.Kind,
		})
	}
	return out, nil
}
