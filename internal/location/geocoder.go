package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/observability"
)

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrNoCity             = errors.New("no city found for coordinates")
	ErrGeocoder           = errors.New("reverse geocoding failed")
)

// ReverseGeocoder resolves coordinates to a city name using the OpenWeather
// geo/1.0/reverse endpoint.
type ReverseGeocoder struct {
	apiKey string
	apiURL string
	client *http.Client
}

func NewReverseGeocoder(apiKey, apiURL string, timeout time.Duration) *ReverseGeocoder {
	return &ReverseGeocoder{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

type reverseResult struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

// CityName returns the name of the closest place to (lat, lon).
func (g *ReverseGeocoder) CityName(ctx context.Context, lat, lon float64) (string, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, lat, lon)
	}

	u, err := url.Parse(g.apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid geocoding URL: %w", err)
	}
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("limit", "1")
	params.Set("appid", g.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocoder, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: HTTP %d", ErrGeocoder, resp.StatusCode)
	}

	var results []reverseResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGeocoder, err)
	}
	if len(results) == 0 || results[0].Name == "" {
		return "", ErrNoCity
	}
	return results[0].Name, nil
}
