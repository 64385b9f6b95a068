//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/edged/internal/edged"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/runtime/docker"
)

// daemonSettings builds a self-contained configuration: state under a
// temp dir, both APIs on temp unix sockets, the agent running the test
// image, and a watchdog fast enough for a test run.
func daemonSettings(t *testing.T) (*config.Settings, string) {
	t.Helper()

	home := t.TempDir()
	agentName := uniqueName("edged-e2e-agent")

	settings := config.GetDefaultSettings()
	settings.Homedir = home
	settings.Agent.Name = agentName
	settings.Agent.Image = testImage
	settings.Agent.CreateOptions = sleepCreateOptions
	settings.Listen.WorkloadURI = "unix://" + filepath.Join(home, "workload.sock")
	settings.Listen.ManagementURI = "unix://" + filepath.Join(home, "mgmt.sock")
	settings.Watchdog.Period = 2 * time.Second
	settings.Runtime.Network = testNetwork

	// Pruning is a scheduled maintenance concern; its loop only adds
	// noise to a lifecycle test.
	pruneOff := false
	settings.ImagePrune = &config.ImagePruneConfig{Enabled: &pruneOff}

	return settings, agentName
}

// TestDaemonLifecycle boots the whole daemon against a real Docker
// daemon, watches the watchdog bring up the agent module, drives the
// management API over its unix socket, and shuts down on SIGTERM.
func TestDaemonLifecycle(t *testing.T) {
	ctx := context.Background()
	ensureDockerAndImage(t, ctx)

	settings, agentName := daemonSettings(t)

	// The agent container outlives the daemon on purpose; clean it up
	// with a fresh runtime handle.
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rt, err := docker.New(cleanupCtx, settings.Runtime, nil, nil)
		if err != nil {
			t.Logf("cleanup: docker unavailable: %v", err)
			return
		}
		defer rt.Close()
		_ = rt.RemoveModule(cleanupCtx, agentName)
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- edged.Run(ctx, settings)
	}()

	client := socketClient(filepath.Join(settings.Homedir, "mgmt.sock"))

	// Startup is done once the management API answers.
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://edged/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 60*time.Second, 250*time.Millisecond, "management API must come up")

	// The watchdog creates and starts the agent from settings.
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://edged/modules")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var env apiEnvelope
		if err := decodeInto(resp, &env); err != nil {
			return false
		}
		modules, ok := env.Data.([]any)
		if !ok {
			return false
		}
		for _, raw := range modules {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if m["name"] == agentName && m["status"] == "running" {
				return true
			}
		}
		return false
	}, 60*time.Second, 500*time.Millisecond, "watchdog must bring the agent up")

	t.Run("RestartAgentViaAPI", func(t *testing.T) {
		status, env := postJSON(t, client, "http://edged/modules/"+agentName+"/restart")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", env.Status)
	})

	t.Run("SystemInfo", func(t *testing.T) {
		status, env := getJSON(t, client, "http://edged/systeminfo")
		require.Equal(t, http.StatusOK, status)
		data, ok := env.Data.(map[string]any)
		require.True(t, ok)
		rtInfo, ok := data["runtime"].(map[string]any)
		require.True(t, ok, "systeminfo must include the runtime section")
		assert.Equal(t, "docker", rtInfo["kind"])
	})

	t.Run("MetricsDisabledByDefault", func(t *testing.T) {
		resp, err := client.Get("http://edged/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	// SIGTERM lands on this process; the daemon's own handler turns it
	// into a clean shutdown.
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case err := <-runErr:
		require.NoError(t, err, "a signal stop is a clean stop")
		assert.Equal(t, edged.ExitSuccess, edged.ExitCode(err))
	case <-time.After(60 * time.Second):
		t.Fatal("daemon did not shut down after SIGTERM")
	}

	// The identity cache survives shutdown for the next boot.
	_, err := os.Stat(filepath.Join(settings.Homedir, "cache", "device_info.yaml"))
	assert.NoError(t, err, "the device identity cache must persist")
}
