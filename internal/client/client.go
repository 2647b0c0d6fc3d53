package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/circuitbreaker"
	"github.com/kjstillabower/weather-refresher/internal/observability"
)

// WeatherFetcher issues one current-weather request for a city and returns the raw body.
type WeatherFetcher interface {
	Fetch(ctx context.Context, city string) ([]byte, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrEmptyCity        = errors.New("city is required")
	ErrNetwork          = errors.New("network failure")
	ErrHTTPStatus       = errors.New("unexpected HTTP status")
	ErrLocationNotFound = errors.New("location not found")
)

// FetchKind separates transport failures from upstream status failures.
type FetchKind int

const (
	KindNetwork FetchKind = iota + 1
	KindHTTPStatus
)

func (k FetchKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	default:
		return "unknown"
	}
}

// FetchError is returned for every failed fetch. StatusCode is set for KindHTTPStatus.
type FetchError struct {
	Kind       FetchKind
	StatusCode int
	City       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch weather for %s: HTTP %d", e.City, e.StatusCode)
	}
	return fmt.Sprintf("fetch weather for %s: %s: %v", e.City, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets callers match on ErrNetwork, ErrHTTPStatus and ErrLocationNotFound (404).
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrHTTPStatus:
		return e.Kind == KindHTTPStatus
	case ErrLocationNotFound:
		return e.Kind == KindHTTPStatus && e.StatusCode == http.StatusNotFound
	}
	return false
}

// OpenWeatherClient fetches current weather from the OpenWeatherMap /data/2.5/weather endpoint.
// It never retries; a failed fetch is terminal for that attempt.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient returns a client bound to apiKey. timeout bounds each request
// including the body read.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	return &OpenWeatherClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker guards fetches with cb. Only network failures and 5xx responses count
// as breaker failures; a 404 for a misspelled city must not open the circuit.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Fetch performs a single GET ?q=<city>&appid=<key>. HTTP 200 returns the body;
// anything else is a *FetchError.
func (c *OpenWeatherClient) Fetch(ctx context.Context, city string) ([]byte, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, ErrEmptyCity
	}
	if c.breaker == nil {
		return c.do(ctx, city)
	}

	var body []byte
	err := c.breaker.Call(func() error {
		var err error
		body, err = c.do(ctx, city)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.WeatherAPICallsTotal.WithLabelValues("circuit_open").Inc()
		return nil, &FetchError{Kind: KindNetwork, City: city, Err: err}
	}
	return body, err
}

// TripsBreaker reports whether err should count against the circuit breaker.
func TripsBreaker(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return err != nil
	}
	return fe.Kind == KindNetwork || fe.StatusCode >= 500
}

func (c *OpenWeatherClient) do(ctx context.Context, city string) ([]byte, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, &FetchError{Kind: KindNetwork, City: city, Err: err}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return nil, &FetchError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, City: city}
	}

	body, err := io.ReadAll(resp.Body)
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, City: city, Err: fmt.Errorf("read response body: %w", err)}
	}
	return body, nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
