package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// Options configures a Client
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the device registry. Requests are never retried: a failed
// lifecycle action is surfaced to the operator instead.
type Client struct {
	httpClient *resty.Client
}

// NewClient creates a registry client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	return &Client{httpClient: client}
}

// Deploy deploys an existing device to a site
func (c *Client) Deploy(ctx context.Context, deviceName string, payload DeployPayload) (*Message, error) {
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("deviceName", deviceName).
		SetBody(payload)

	return c.send(req, "/devices/activities/deploy", deviceName)
}

// DeployWithCoordinates deploys a device to a site created from coordinates
func (c *Client) DeployWithCoordinates(ctx context.Context, payload CoordinateDeployPayload) (*Message, error) {
	req := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload)

	return c.send(req, "/devices/activities/deploy/coordinates", payload.DeviceName)
}

// Recall recalls a deployed device
func (c *Client) Recall(ctx context.Context, deviceName string, payload RecallPayload) (*Message, error) {
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("deviceName", deviceName).
		SetBody(payload)

	return c.send(req, "/devices/activities/recall", deviceName)
}

func (c *Client) send(req *resty.Request, path, deviceName string) (*Message, error) {
	resp, err := req.Post(path)
	if err != nil {
		log.Error().Err(err).Str("device", deviceName).Str("path", path).Msg("Registry call failed")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if resp.IsError() {
		remote := newRemoteError(resp.StatusCode(), resp.Body())
		log.Warn().
			Int("status", remote.Status).
			Str("device", deviceName).
			Str("message", remote.Message).
			Msg("Registry rejected request")
		return nil, remote
	}

	var msg Message
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode registry response: %w", err)
		}
	}

	return &msg, nil
}

// RecentFeed fetches the most recent telemetry snapshot of a device channel
func (c *Client) RecentFeed(ctx context.Context, channel int64) (*models.TelemetrySnapshot, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("channel", strconv.FormatInt(channel, 10)).
		Get("/devices/feeds/recent/{channel}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, newRemoteError(resp.StatusCode(), resp.Body())
	}

	var snapshot models.TelemetrySnapshot
	if err := json.Unmarshal(resp.Body(), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	return &snapshot, nil
}

// ListDevices lists every device of a network
func (c *Client) ListDevices(ctx context.Context, network string) ([]models.Device, error) {
	var body struct {
		Devices []models.Device `json:"devices"`
	}
	if err := c.get(ctx, "/devices/summary", network, &body); err != nil {
		return nil, err
	}
	return body.Devices, nil
}

// ListSites lists every site of a network
func (c *Client) ListSites(ctx context.Context, network string) ([]models.Site, error) {
	var body struct {
		Sites []models.Site `json:"sites"`
	}
	if err := c.get(ctx, "/devices/sites/summary", network, &body); err != nil {
		return nil, err
	}
	return body.Sites, nil
}

func (c *Client) get(ctx context.Context, path, network string, out interface{}) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("network", network).
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return newRemoteError(resp.StatusCode(), resp.Body())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
