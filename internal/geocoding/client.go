package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrNoResult is returned by Reverse when the service has no place for the point
var ErrNoResult = errors.New("no place found")

// Geocoder resolves free text to places and coordinates to a place
type Geocoder interface {
	Search(ctx context.Context, query string, limit int) ([]Place, error)
	Reverse(ctx context.Context, lat, lng float64) (*Place, error)
}

// Place is a geocoding result as returned by a Nominatim-compatible service
type Place struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address,omitempty"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	Type        string            `json:"type,omitempty"`
}

// Coordinates parses the textual lat/lon of the place
func (p *Place) Coordinates() (lat, lng float64, err error) {
	if lat, err = strconv.ParseFloat(p.Lat, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", p.Lat, err)
	}
	if lng, err = strconv.ParseFloat(p.Lon, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", p.Lon, err)
	}
	return lat, lng, nil
}

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL   string
	UserAgent string
	Email     string
	Timeout   time.Duration
}

// Client is a Nominatim HTTP client. Requests are never retried.
type Client struct {
	httpClient *resty.Client
	email      string
}

// NewClient creates a geocoding client
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{
		httpClient: client,
		email:      opts.Email,
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("format", "jsonv2").
		SetQueryParam("addressdetails", "1")
	if c.email != "" {
		req.SetQueryParam("email", c.email)
	}
	return req
}

// Search performs a forward lookup
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	resp, err := c.request(ctx).
		SetQueryParam("q", query).
		SetQueryParam("limit", strconv.Itoa(limit)).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("geocoder search: %w", err)
	}
	if resp.IsError() {
		log.Warn().Int("status", resp.StatusCode()).Str("query", query).Msg("Geocoder search rejected")
		return nil, fmt.Errorf("geocoder search: status %d", resp.StatusCode())
	}

	var places []Place
	if err := json.Unmarshal(resp.Body(), &places); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	if limit > 0 && len(places) > limit {
		places = places[:limit]
	}

	return places, nil
}

// Reverse resolves a coordinate to the nearest place
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	resp, err := c.request(ctx).
		SetQueryParam("lat", strconv.FormatFloat(lat, 'f', -1, 64)).
		SetQueryParam("lon", strconv.FormatFloat(lng, 'f', -1, 64)).
		Get("/reverse")
	if err != nil {
		return nil, fmt.Errorf("geocoder reverse: %w", err)
	}
	if resp.IsError() {
		log.Warn().Int("status", resp.StatusCode()).Float64("lat", lat).Float64("lng", lng).Msg("Geocoder reverse rejected")
		return nil, fmt.Errorf("geocoder reverse: status %d", resp.StatusCode())
	}

	var body struct {
		Place
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode reverse result: %w", err)
	}
	// Nominatim answers 200 {"error": "Unable to geocode"} for open water etc
	if body.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, body.Error)
	}

	return &body.Place, nil
}
