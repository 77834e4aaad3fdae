// Package transport speaks the registration and delivery protocol to
// the server. It classifies failures so the collection loop can decide
// between queueing (transient), re-registering (stale device id), and
// surfacing to the operator (protocol version mismatch).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/models"
)

// requestTimeout bounds every HTTP call. No call blocks past this.
const requestTimeout = 10 * time.Second

// ErrUnknownDevice indicates the server does not know our device id.
// The local state is stale; the remedy is re-registration, not retry.
var ErrUnknownDevice = errors.New("device not registered on server")

// VersionMismatchError indicates the server rejected our protocol
// version. Retrying without an upgrade cannot succeed.
type VersionMismatchError struct {
	ClientVersion string
	ServerVersion string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol version mismatch: client %s, server %s",
		e.ClientVersion, e.ServerVersion)
}

// ServerError indicates the server answered with an unexpected status.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Client performs registration and snapshot delivery against one server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// New creates a transport client for the given server base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Register performs the versioned registration handshake and returns
// the server-assigned device id.
func (c *Client) Register(ctx context.Context, uid, name, hostname string) (int64, error) {
	payload := models.RegisterRequest{
		DeviceUID:  uid,
		DeviceName: name,
		Hostname:   hostname,
	}

	resp, body, err := c.post(ctx, "/api/register", payload)
	if err != nil {
		return 0, fmt.Errorf("register: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var reply models.RegisterResponse
		if err := json.Unmarshal(body, &reply); err != nil {
			return 0, fmt.Errorf("register: decoding response: %w", err)
		}
		c.logger.Info("Registered with server",
			zap.Int64("device_id", reply.DeviceID),
			zap.String("device_uid", uid))
		return reply.DeviceID, nil
	case resp.StatusCode == http.StatusUpgradeRequired:
		return 0, versionMismatch(body)
	default:
		return 0, &ServerError{StatusCode: resp.StatusCode}
	}
}

// Send delivers one snapshot. A nil error means the server confirmed
// persistence; ErrUnknownDevice and VersionMismatchError are returned
// typed so the caller can react, anything else is a transient failure.
func (c *Client) Send(ctx context.Context, deviceID int64, snapshot models.MetricSnapshot) error {
	payload := models.DataRequest{
		DeviceID: deviceID,
		Metrics:  &snapshot,
	}

	resp, body, err := c.post(ctx, "/api/data", payload)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("Snapshot delivered",
			zap.Int64("device_id", deviceID),
			zap.Time("timestamp", snapshot.Timestamp))
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownDevice
	case resp.StatusCode == http.StatusUpgradeRequired:
		return versionMismatch(body)
	default:
		return &ServerError{StatusCode: resp.StatusCode}
	}
}

// ServerVersion queries GET /api/version. Used for diagnostics when
// the operator investigates a version-gate rejection.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var reply struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", err
	}
	return reply.Version, nil
}

// post marshals payload, POSTs it with the version header, and returns
// the response plus its fully-read body.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(models.VersionHeader, models.ProtocolVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp, body, nil
}

// versionMismatch builds a VersionMismatchError from a 426 body,
// tolerating bodies that are not the expected JSON shape.
func versionMismatch(body []byte) error {
	mismatch := &VersionMismatchError{ClientVersion: models.ProtocolVersion}
	var reply models.ErrorResponse
	if err := json.Unmarshal(body, &reply); err == nil {
		mismatch.ServerVersion = reply.ServerVersion
	}
	return mismatch
}
