package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/uber/h3-go/v4"

	"milepost/pkg/config"
)

// Reverser resolves a coordinate to a human-readable address.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Coordinates formats a lat/lon pair as the display fallback used whenever a
// reverse lookup is unavailable or fails.
func Coordinates(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}

// Client is a Nominatim-style reverse geocoder. Results are cached per H3
// cell: fixes within the same cell resolve to one upstream lookup, which
// keeps request volume inside the usage policy of public endpoints.
type Client struct {
	baseURL    string
	userAgent  string
	resolution int
	httpClient *http.Client

	mu    sync.Mutex
	cache map[h3.Cell]string
}

// New creates a geocoder from config.
func New(cfg *config.GeocoderConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		resolution: cfg.CacheResolution,
		httpClient: &http.Client{Timeout: cfg.Timeout.Std()},
		cache:      make(map[h3.Cell]string),
	}
}

// nominatimResponse is the subset of the reverse API response we read.
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road     string `json:"road"`
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		State    string `json:"state"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// Reverse resolves lat/lon to an address. On any failure it returns the
// coordinate fallback string and the error; callers can use the string
// regardless.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), c.resolution)
	if err == nil {
		c.mu.Lock()
		cached, hit := c.cache[cell]
		c.mu.Unlock()
		if hit {
			slog.Debug("Geocode: cache hit", "cell", cell.String())
			return cached, nil
		}
	}

	addr, lookupErr := c.lookup(ctx, lat, lon)
	if lookupErr != nil {
		slog.Warn("Geocode: reverse lookup failed", "lat", lat, "lon", lon, "error", lookupErr)
		return Coordinates(lat, lon), lookupErr
	}

	if err == nil {
		c.mu.Lock()
		c.cache[cell] = addr
		c.mu.Unlock()
	}
	return addr, nil
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("format", "jsonv2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	var nr nominatimResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if addr := shortAddress(&nr); addr != "" {
		return addr, nil
	}
	if nr.DisplayName != "" {
		return nr.DisplayName, nil
	}
	return "", fmt.Errorf("empty geocoder response")
}

// shortAddress prefers "Road, City" over the full display name, which
// Nominatim pads out to country level.
func shortAddress(nr *nominatimResponse) string {
	city := nr.Address.City
	if city == "" {
		city = nr.Address.Town
	}
	if city == "" {
		city = nr.Address.Village
	}
	switch {
	case nr.Address.Road != "" && city != "":
		return nr.Address.Road + ", " + city
	case city != "" && nr.Address.State != "":
		return city + ", " + nr.Address.State
	case city != "":
		return city
	}
	return ""
}

// Disabled is a Reverser that always answers with the coordinate fallback.
type Disabled struct{}

func (Disabled) Reverse(_ context.Context, lat, lon float64) (string, error) {
	return Coordinates(lat, lon), nil
}
