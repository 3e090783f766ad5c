// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/geochirp/globe-engine/internal/geo"
	"github.com/geochirp/globe-engine/pkg/core"
)

// ErrLookupFailed is returned when the service answers but cannot place the caller.
var ErrLookupFailed = errors.New("location lookup failed")

// Client talks to an IP geolocation HTTP service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

type locationResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// Locate asks the service where the caller is. The response is a JSON object
// with lat and lon fields; a status other than "success", when present, is
// reported as ErrLookupFailed.
func (c *Client) Locate(ctx context.Context) (core.Coordinate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json", nil)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("locate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Coordinate{}, fmt.Errorf("locate returned status %d", resp.StatusCode)
	}

	var body locationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.Coordinate{}, fmt.Errorf("failed to decode location: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return core.Coordinate{}, fmt.Errorf("%w: %s", ErrLookupFailed, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return core.Coordinate{}, fmt.Errorf("%w: missing coordinates", ErrLookupFailed)
	}

	coord := core.Coordinate{Lat: *body.Lat, Lon: *body.Lon}
	if !geo.Valid(coord) {
		return core.Coordinate{}, geo.ErrInvalidCoordinates
	}
	return coord, nil
}
