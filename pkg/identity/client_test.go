package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/edged/pkg/config"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8901")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8901", client.endpoint)
}

func TestProvisionManual(t *testing.T) {
	client := NewClient("http://localhost:8901")

	info, err := client.Provision(context.Background(), config.ProvisioningConfig{
		Mode:     config.ProvisioningModeManual,
		DeviceID: "device-01",
		Hub:      "hub.example.com",
	}, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "device-01", info.DeviceID)
	assert.Equal(t, "hub.example.com", info.HubName)
	assert.Equal(t, "sas", info.AuthKind)
}

func TestProvisionDPS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/device/provision", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Correlation-ID"))

		var req provisionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "reg-01", req.RegistrationID)
		assert.Equal(t, "scope-01", req.ScopeID)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(DeviceInfo{
			DeviceID: "device-01",
			HubName:  "hub.example.com",
			AuthKind: "x509",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	info, err := client.Provision(context.Background(), config.ProvisioningConfig{
		Mode:           config.ProvisioningModeDPS,
		RegistrationID: "reg-01",
		ScopeID:        "scope-01",
	}, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "device-01", info.DeviceID)
	assert.Equal(t, "hub.example.com", info.HubName)
	assert.Equal(t, "x509", info.AuthKind)
}

func TestProvisionDPSFallsBackToCache(t *testing.T) {
	// 4xx responses are not retried, so the fallback happens promptly.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(APIError{Message: "registration not found"})
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	cached := DeviceInfo{DeviceID: "device-01", HubName: "hub.example.com"}
	require.NoError(t, UpdateCache(cacheDir, cached))

	client := NewClient(server.URL)

	info, err := client.Provision(context.Background(), config.ProvisioningConfig{
		Mode:           config.ProvisioningModeDPS,
		RegistrationID: "reg-01",
		ScopeID:        "scope-01",
	}, cacheDir)
	require.NoError(t, err)
	assert.Equal(t, cached, info)
}

func TestProvisionDPSFailsWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(APIError{Message: "registration not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Provision(context.Background(), config.ProvisioningConfig{
		Mode:           config.ProvisioningModeDPS,
		RegistrationID: "reg-01",
		ScopeID:        "scope-01",
	}, t.TempDir())
	require.Error(t, err)
}

func TestProvisionUnknownMode(t *testing.T) {
	client := NewClient("http://localhost:8901")

	_, err := client.Provision(context.Background(), config.ProvisioningConfig{Mode: "tpm"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tpm")
}

func TestDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/device", r.URL.Path)
		_ = json.NewEncoder(w).Encode(DeviceInfo{DeviceID: "device-01", HubName: "hub.example.com"})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	info, err := client.Device(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device-01", info.DeviceID)
}

func TestCheckIdentity(t *testing.T) {
	current := DeviceInfo{DeviceID: "device-01", HubName: "hub.example.com"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(current)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	t.Run("Unchanged", func(t *testing.T) {
		err := client.CheckIdentity(context.Background(), current)
		assert.NoError(t, err)
	})

	t.Run("Changed", func(t *testing.T) {
		err := client.CheckIdentity(context.Background(), DeviceInfo{DeviceID: "other", HubName: "hub.example.com"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdentityChanged)
	})

	t.Run("GatewayChangeIsNotAnIdentityChange", func(t *testing.T) {
		expected := current
		expected.GatewayHost = "parent.example.com"
		err := client.CheckIdentity(context.Background(), expected)
		assert.NoError(t, err)
	})
}

func TestReprovision(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/device/reprovision", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	require.NoError(t, UpdateCache(cacheDir, DeviceInfo{DeviceID: "device-01"}))

	client := NewClient(server.URL)
	require.NoError(t, client.Reprovision(context.Background(), cacheDir))

	assert.True(t, called, "reprovision endpoint was not called")
	_, err := LoadCache(cacheDir)
	assert.True(t, err != nil, "identity cache should be dropped after reprovision")
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(APIError{Message: "device is migrating"})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Device(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "device is migrating", apiErr.Message)
}
