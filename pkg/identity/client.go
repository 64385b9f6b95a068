package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
	"github.com/marmos91/edged/pkg/config"
)

// Client talks to the host identity service over HTTP. Requests retry
// with jittered backoff since the identity service may still be starting
// when the daemon boots.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates an identity client for the given endpoint.
func NewClient(endpoint string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil // suppress default logging

	return &Client{
		endpoint:   endpoint,
		httpClient: retryClient.StandardClient(),
	}
}

// provisionRequest is the body POSTed to the identity service when the
// device provisions through DPS.
type provisionRequest struct {
	RegistrationID string `json:"registration_id"`
	ScopeID        string `json:"scope_id"`
}

// Provision resolves the device identity once per process lifetime.
//
// Manual mode is fully offline: the identity comes straight from the
// provisioning settings. DPS mode asks the identity service; when the
// service is unreachable, a previously cached identity keeps an offline
// device booting (provisioning is retried implicitly on the next boot).
func (c *Client) Provision(ctx context.Context, prov config.ProvisioningConfig, cacheDir string) (DeviceInfo, error) {
	ctx, span := telemetry.StartLifecycleSpan(ctx, telemetry.SpanProvision)
	defer span.End()

	switch prov.Mode {
	case config.ProvisioningModeManual:
		info := DeviceInfo{
			DeviceID: prov.DeviceID,
			HubName:  prov.Hub,
			AuthKind: "sas",
		}
		telemetry.SetAttributes(ctx, telemetry.DeviceID(info.DeviceID), telemetry.Hub(info.HubName))
		return info, nil

	case config.ProvisioningModeDPS:
		info, err := c.provisionDPS(ctx, prov)
		if err != nil {
			cached, cacheErr := LoadCache(cacheDir)
			if cacheErr != nil {
				telemetry.RecordError(ctx, err)
				return DeviceInfo{}, fmt.Errorf("provisioning device: %w", err)
			}
			logger.Warn("provisioning failed, using cached device identity",
				logger.DeviceID(cached.DeviceID), logger.Err(err))
			return cached, nil
		}
		telemetry.SetAttributes(ctx, telemetry.DeviceID(info.DeviceID), telemetry.Hub(info.HubName))
		return info, nil

	default:
		return DeviceInfo{}, fmt.Errorf("unsupported provisioning mode %q", prov.Mode)
	}
}

func (c *Client) provisionDPS(ctx context.Context, prov config.ProvisioningConfig) (DeviceInfo, error) {
	body := provisionRequest{
		RegistrationID: prov.RegistrationID,
		ScopeID:        prov.ScopeID,
	}

	var info DeviceInfo
	if err := c.post(ctx, "/device/provision", body, &info); err != nil {
		return DeviceInfo{}, err
	}
	if info.DeviceID == "" {
		return DeviceInfo{}, fmt.Errorf("identity service returned an empty device id")
	}
	return info, nil
}

// Device fetches the identity the service currently holds for this
// device.
func (c *Client) Device(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	if err := c.get(ctx, "/device", &info); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

// CheckIdentity verifies the service still reports the identity the
// daemon booted with. Returns ErrIdentityChanged when it does not.
func (c *Client) CheckIdentity(ctx context.Context, expected DeviceInfo) error {
	current, err := c.Device(ctx)
	if err != nil {
		return fmt.Errorf("fetching device identity: %w", err)
	}
	if !current.Equal(expected) {
		return fmt.Errorf("%w: now %s on hub %q", ErrIdentityChanged, current.DeviceID, current.HubName)
	}
	return nil
}

// Reprovision asks the identity service to re-run provisioning and
// drops the local identity cache so the next boot starts clean.
func (c *Client) Reprovision(ctx context.Context, cacheDir string) error {
	ctx, span := telemetry.StartLifecycleSpan(ctx, telemetry.SpanReprovision)
	defer span.End()

	if err := c.post(ctx, "/device/reprovision", nil, nil); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("requesting reprovision: %w", err)
	}
	if err := RemoveCache(cacheDir); err != nil {
		return err
	}

	logger.Info("device reprovision requested")
	return nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// do performs an HTTP request and decodes the response. Every request
// carries a correlation id so service logs can be matched to daemon logs.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			apiErr.StatusCode = resp.StatusCode
			return &apiErr
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
