package controlsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Chuffnugget/BrightDock/internal/display"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/config"
)

const (
	defaultRequestTimeout = 5 * time.Second

	// maxResponseSize caps how much of a node reply is read.
	maxResponseSize = 1 << 20

	// optionsSuffix is appended to a control name to form its options endpoint.
	optionsSuffix = "_options"
)

// Client talks to a control-surface node over its REST API.
//
// It is stateless between calls apart from request counters; it never
// retries and never caches. Failures are classified with the display
// package's sentinel errors so callers can use errors.Is.
//
// Thread Safety: All methods are safe for concurrent use. Bus-level
// exclusion is the caller's responsibility.
type Client struct {
	url        string
	httpClient *http.Client

	requests atomic.Uint64
	failures atomic.Uint64
}

// Stats contains request counters.
type Stats struct {
	Requests uint64 `json:"requests"`
	Failures uint64 `json:"failures"`
}

// New creates a client for the node at cfg.URL.
//
// Parameters:
//   - cfg: Node configuration from config.yaml
//
// Returns:
//   - *Client: Client ready for use (no connection is made)
//   - error: If the URL is missing
func New(cfg config.NodeConfig) (*Client, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, fmt.Errorf("node url is required")
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// URL returns the node base URL.
func (c *Client) URL() string {
	return c.url
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Failures: c.failures.Load(),
	}
}

// monitorJSON is the node's device listing entry.
type monitorJSON struct {
	ID    *int            `json:"id"`
	Model string          `json:"model"`
	Bus   json.RawMessage `json:"bus"`
}

// ListDevices returns every display the node has detected.
func (c *Client) ListDevices(ctx context.Context) ([]display.Device, error) {
	body, err := c.do(ctx, http.MethodGet, "/monitors", nil)
	if err != nil {
		return nil, err
	}

	var raw []monitorJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.fail(fmt.Errorf("%w: decoding monitor list: %w", display.ErrMalformedResponse, err))
	}

	devices := make([]display.Device, 0, len(raw))
	for i, m := range raw {
		if m.ID == nil {
			return nil, c.fail(fmt.Errorf("%w: monitor entry %d has no id", display.ErrMalformedResponse, i))
		}
		devices = append(devices, display.Device{
			ID:    *m.ID,
			Model: m.Model,
			Bus:   busString(m.Bus),
		})
	}
	return devices, nil
}

// busString accepts the bus either as a string ("/dev/i2c-4", "4") or a bare number.
func busString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Read returns the current raw value of a control.
//
// A null reading means the display did not answer for that feature and is
// reported as display.ErrUnsupportedControl.
func (c *Client) Read(ctx context.Context, deviceID int, ctrl display.Control) (int, error) {
	body, err := c.do(ctx, http.MethodGet, controlPath(deviceID, string(ctrl)), nil)
	if err != nil {
		return 0, err
	}

	var reply map[string]*int
	if err := json.Unmarshal(body, &reply); err != nil {
		return 0, c.fail(fmt.Errorf("%w: decoding %s: %w", display.ErrMalformedResponse, ctrl, err))
	}

	v, ok := reply[string(ctrl)]
	if !ok {
		return 0, c.fail(fmt.Errorf("%w: reply has no %q field", display.ErrMalformedResponse, ctrl))
	}
	if v == nil {
		return 0, c.fail(fmt.Errorf("%w: device %d reported no %s value", display.ErrUnsupportedControl, deviceID, ctrl))
	}
	return *v, nil
}

// Write sets a control's raw value.
func (c *Client) Write(ctx context.Context, deviceID int, ctrl display.Control, value int) error {
	payload, err := json.Marshal(map[string]int{string(ctrl): value})
	if err != nil {
		return fmt.Errorf("encoding write: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, controlPath(deviceID, string(ctrl)), payload)
	return err
}

// Options returns the option table of an enumerated control. Option keys
// are hex codes ("0f", "11"); keys that do not parse are skipped.
func (c *Client) Options(ctx context.Context, deviceID int, ctrl display.Control) (display.OptionTable, error) {
	if ctrl.Kind() != display.KindEnumerated {
		return nil, fmt.Errorf("%w: %s has no options", display.ErrUnsupportedControl, ctrl)
	}

	field := string(ctrl) + optionsSuffix
	body, err := c.do(ctx, http.MethodGet, controlPath(deviceID, field), nil)
	if err != nil {
		return nil, err
	}

	var reply map[string]map[string]string
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, c.fail(fmt.Errorf("%w: decoding %s: %w", display.ErrMalformedResponse, field, err))
	}

	return parseOptions(reply[field]), nil
}

// HealthCheck verifies the node answers a device listing.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/monitors", nil); err != nil {
		return fmt.Errorf("node health check: %w", err)
	}
	return nil
}

func parseOptions(raw map[string]string) display.OptionTable {
	table := make(display.OptionTable, len(raw))
	for k, label := range raw {
		code, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(k), "0x"), 16, 8)
		if err != nil {
			continue
		}
		table[int(code)] = label
	}
	return table
}

func controlPath(deviceID int, field string) string {
	return "/monitors/" + strconv.Itoa(deviceID) + "/" + field
}

// do executes one request and returns the body of a 2xx reply.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	c.requests.Add(1)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: building request: %w", display.ErrTransport, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: %s %s: %w", display.ErrTransport, method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: reading %s: %w", display.ErrTransport, path, err))
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, c.fail(fmt.Errorf("%w: %s %s: status %d", err, method, path, resp.StatusCode))
	}

	return data, nil
}

func (c *Client) fail(err error) error {
	c.failures.Add(1)
	return err
}

// classifyStatus maps a node HTTP status to a display sentinel.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return display.ErrUnknownDevice
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return display.ErrUnsupportedControl
	default:
		return display.ErrTransport
	}
}
