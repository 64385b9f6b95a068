package edged

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/edged/pkg/identity"
	"github.com/marmos91/edged/pkg/runtime"
	"github.com/marmos91/edged/pkg/runtime/runtimetest"
)

func seededRuntime() *runtimetest.Fake {
	rt := runtimetest.New()
	rt.SeedModule(runtime.Module{Name: "edgeAgent", Status: runtime.StatusRunning})
	rt.SeedModule(runtime.Module{Name: "sensor", Status: runtime.StatusRunning})
	return rt
}

func TestUpdateDeviceCacheFirstBoot(t *testing.T) {
	cacheDir := t.TempDir()
	rt := seededRuntime()

	require.NoError(t, updateDeviceCache(context.Background(), cacheDir, testDevice(), rt))

	_, ok := rt.Module("edgeAgent")
	assert.True(t, ok, "a first boot must not touch existing modules")
	_, ok = rt.Module("sensor")
	assert.True(t, ok)

	cached, err := identity.LoadCache(cacheDir)
	require.NoError(t, err)
	assert.Equal(t, testDevice(), cached)
}

func TestUpdateDeviceCacheSameIdentity(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, identity.UpdateCache(cacheDir, testDevice()))

	rt := seededRuntime()

	// Same device and hub; only the gateway moved. That is not an
	// identity change, but the cache must still pick up the new value.
	info := testDevice()
	info.GatewayHost = "gateway.example.com"

	require.NoError(t, updateDeviceCache(context.Background(), cacheDir, info, rt))

	_, ok := rt.Module("sensor")
	assert.True(t, ok, "an unchanged identity must keep the modules")

	cached, err := identity.LoadCache(cacheDir)
	require.NoError(t, err)
	assert.Equal(t, "gateway.example.com", cached.GatewayHost)
}

func TestUpdateDeviceCacheIdentityChanged(t *testing.T) {
	cacheDir := t.TempDir()
	old := identity.DeviceInfo{DeviceID: "device-old", HubName: "other-hub.example.com"}
	require.NoError(t, identity.UpdateCache(cacheDir, old))

	rt := seededRuntime()

	require.NoError(t, updateDeviceCache(context.Background(), cacheDir, testDevice(), rt))

	_, ok := rt.Module("edgeAgent")
	assert.False(t, ok, "modules created under the old identity must go")
	_, ok = rt.Module("sensor")
	assert.False(t, ok)

	cached, err := identity.LoadCache(cacheDir)
	require.NoError(t, err)
	assert.Equal(t, testDevice(), cached)
}

func TestUpdateDeviceCacheCorruptCacheIsAChange(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, identity.CacheFile),
		[]byte("[unclosed-flow"), 0o600))

	rt := seededRuntime()

	require.NoError(t, updateDeviceCache(context.Background(), cacheDir, testDevice(), rt))

	_, ok := rt.Module("sensor")
	assert.False(t, ok, "an unreadable cache cannot prove module ownership")

	cached, err := identity.LoadCache(cacheDir)
	require.NoError(t, err)
	assert.Equal(t, testDevice(), cached)
}

func TestUpdateDeviceCacheListFailure(t *testing.T) {
	cacheDir := t.TempDir()
	old := identity.DeviceInfo{DeviceID: "device-old", HubName: "other-hub.example.com"}
	require.NoError(t, identity.UpdateCache(cacheDir, old))

	rt := seededRuntime()
	rt.FailList = assert.AnError

	err := updateDeviceCache(context.Background(), cacheDir, testDevice(), rt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing modules for removal")

	// The cache must not advance past modules that are still around.
	cached, loadErr := identity.LoadCache(cacheDir)
	require.NoError(t, loadErr)
	assert.Equal(t, old, cached)
}

func TestUpdateDeviceCacheRemoveFailure(t *testing.T) {
	cacheDir := t.TempDir()
	old := identity.DeviceInfo{DeviceID: "device-old", HubName: "other-hub.example.com"}
	require.NoError(t, identity.UpdateCache(cacheDir, old))

	rt := seededRuntime()
	rt.FailRemove = assert.AnError

	err := updateDeviceCache(context.Background(), cacheDir, testDevice(), rt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "removing module")
}
