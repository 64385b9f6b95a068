package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/edged/pkg/runtime"
)

func TestBuildCreateConfigDefaults(t *testing.T) {
	spec := runtime.ModuleSpec{
		Name:  "edgeAgent",
		Image: "ghcr.io/marmos91/edged-agent:latest",
	}

	cfg, hostCfg, netCfg, err := buildCreateConfig(spec, "edge-module-network")
	require.NoError(t, err)

	assert.Equal(t, spec.Image, cfg.Image)
	assert.Equal(t, runtime.OwnerLabelValue, cfg.Labels[runtime.OwnerLabel])
	require.NotNil(t, hostCfg)

	require.NotNil(t, netCfg)
	endpoint, ok := netCfg.EndpointsConfig["edge-module-network"]
	require.True(t, ok, "module should join the configured network")
	assert.Contains(t, endpoint.Aliases, "edgeAgent")
}

func TestBuildCreateConfigNoNetwork(t *testing.T) {
	spec := runtime.ModuleSpec{Name: "edgeAgent", Image: "img"}

	_, _, netCfg, err := buildCreateConfig(spec, "")
	require.NoError(t, err)
	assert.Nil(t, netCfg)
}

func TestBuildCreateConfigParsesOptions(t *testing.T) {
	spec := runtime.ModuleSpec{
		Name:  "edgeAgent",
		Image: "ghcr.io/marmos91/edged-agent:latest",
		Env:   map[string]string{"RUNTIME_LOG_LEVEL": "debug"},
		CreateOptions: `{
			"Env": ["EXTRA=1", "RUNTIME_LOG_LEVEL=info"],
			"Labels": {"custom": "yes"},
			"HostConfig": {"Privileged": true},
			"NetworkingConfig": {"EndpointsConfig": {"host": {}}}
		}`,
	}

	cfg, hostCfg, netCfg, err := buildCreateConfig(spec, "edge-module-network")
	require.NoError(t, err)

	// Spec env wins over create-options env; unrelated entries survive.
	assert.Contains(t, cfg.Env, "RUNTIME_LOG_LEVEL=debug")
	assert.Contains(t, cfg.Env, "EXTRA=1")
	assert.NotContains(t, cfg.Env, "RUNTIME_LOG_LEVEL=info")

	assert.Equal(t, "yes", cfg.Labels["custom"])
	assert.Equal(t, runtime.OwnerLabelValue, cfg.Labels[runtime.OwnerLabel])

	require.NotNil(t, hostCfg)
	assert.True(t, hostCfg.Privileged)

	// An explicit networking config replaces the default attachment.
	require.NotNil(t, netCfg)
	_, hasDefault := netCfg.EndpointsConfig["edge-module-network"]
	assert.False(t, hasDefault)
	_, hasHost := netCfg.EndpointsConfig["host"]
	assert.True(t, hasHost)
}

func TestBuildCreateConfigRejectsBadJSON(t *testing.T) {
	spec := runtime.ModuleSpec{
		Name:          "edgeAgent",
		Image:         "img",
		CreateOptions: `{"Env": not-json}`,
	}

	_, _, _, err := buildCreateConfig(spec, "")
	require.Error(t, err)
}

func TestMergeEnv(t *testing.T) {
	t.Run("EmptyOverlayKeepsBase", func(t *testing.T) {
		base := []string{"B=2", "A=1"}
		assert.Equal(t, base, mergeEnv(base, nil))
	})

	t.Run("OverlayWinsAndOutputSorted", func(t *testing.T) {
		got := mergeEnv([]string{"B=2", "A=1"}, map[string]string{"B": "20", "C": "3"})
		assert.Equal(t, []string{"A=1", "B=20", "C=3"}, got)
	})

	t.Run("ValuelessEntryPreserved", func(t *testing.T) {
		got := mergeEnv([]string{"FLAG"}, map[string]string{"A": "1"})
		assert.Contains(t, got, "FLAG=")
		assert.Contains(t, got, "A=1")
	})
}

func TestStatusMapping(t *testing.T) {
	t.Run("Summary", func(t *testing.T) {
		assert.Equal(t, runtime.StatusRunning, summaryStatus("running"))
		assert.Equal(t, runtime.StatusRunning, summaryStatus("restarting"))
		assert.Equal(t, runtime.StatusStopped, summaryStatus("created"))
		assert.Equal(t, runtime.StatusStopped, summaryStatus("exited"))
		assert.Equal(t, runtime.StatusStopped, summaryStatus("paused"))
		assert.Equal(t, runtime.StatusFailed, summaryStatus("dead"))
		assert.Equal(t, runtime.StatusUnknown, summaryStatus("???"))
	})

	t.Run("Inspect", func(t *testing.T) {
		assert.Equal(t, runtime.StatusRunning, stateStatus("running", true, false, 0))
		assert.Equal(t, runtime.StatusStopped, stateStatus("exited", false, false, 0))
		assert.Equal(t, runtime.StatusFailed, stateStatus("exited", false, false, 137),
			"non-zero exit separates a crash from a clean stop")
		assert.Equal(t, runtime.StatusFailed, stateStatus("dead", false, true, 0))
		assert.Equal(t, runtime.StatusStopped, stateStatus("created", false, false, 0))
		assert.Equal(t, runtime.StatusUnknown, stateStatus("???", false, false, 0))
	})
}
