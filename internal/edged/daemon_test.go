package edged

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/edged/internal/edged/tasks"
	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/identity"
	"github.com/marmos91/edged/pkg/imageprune"
	"github.com/marmos91/edged/pkg/metrics"
	"github.com/marmos91/edged/pkg/runtime"
	"github.com/marmos91/edged/pkg/runtime/runtimetest"
)

func testStore(t *testing.T) *imageprune.Store {
	t.Helper()
	store, err := imageprune.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSettings() *config.Settings {
	cfg := config.GetDefaultSettings()
	cfg.Watchdog.Period = 10 * time.Millisecond
	return cfg
}

func testDevice() identity.DeviceInfo {
	return identity.DeviceInfo{DeviceID: "device-01", HubName: "hub.example.com"}
}

func seedRunningAgent(cfg *config.Settings, rt *runtimetest.Fake) {
	rt.SeedModule(runtime.Module{
		Name:   cfg.Agent.Name,
		Image:  cfg.Agent.Image,
		Status: runtime.StatusRunning,
	})
}

// blockingGC stands in for a healthy maintenance loop: it never returns
// until cancelled.
func blockingGC(ctx context.Context, _ string, _ config.ImagePruneOptions,
	_ runtime.Runtime, _ *imageprune.Store, _ *metrics.DaemonMetrics) error {
	<-ctx.Done()
	return ctx.Err()
}

func enabledGCOpts(t *testing.T) config.ImagePruneOptions {
	t.Helper()
	opts, err := config.CheckImagePruneSettings(nil)
	require.NoError(t, err)
	return opts
}

func TestSuperviseReturnsWatchdogAction(t *testing.T) {
	cfg := testSettings()
	rt := runtimetest.New()
	seedRunningAgent(cfg, rt)

	actions := watchdog.NewChannel()
	actions <- watchdog.ActionCertRenewal

	got, err := superviseSteadyState(context.Background(), cfg, testDevice(), rt,
		nil, enabledGCOpts(t), testStore(t), nil, blockingGC, actions)
	require.NoError(t, err)
	assert.Equal(t, watchdog.ActionCertRenewal, got)
}

func TestSuperviseSkipsGCWhenDisabled(t *testing.T) {
	cfg := testSettings()
	rt := runtimetest.New()
	seedRunningAgent(cfg, rt)

	opts := enabledGCOpts(t)
	opts.Enabled = false

	mustNotRun := func(ctx context.Context, _ string, _ config.ImagePruneOptions,
		_ runtime.Runtime, _ *imageprune.Store, _ *metrics.DaemonMetrics) error {
		t.Error("the maintenance loop must not be constructed when pruning is disabled")
		return nil
	}

	actions := watchdog.NewChannel()
	actions <- watchdog.ActionSignal

	got, err := superviseSteadyState(context.Background(), cfg, testDevice(), rt,
		nil, opts, testStore(t), nil, mustNotRun, actions)
	require.NoError(t, err)
	assert.Equal(t, watchdog.ActionSignal, got)
}

func TestSuperviseGCErrorIsFatal(t *testing.T) {
	cfg := testSettings()
	rt := runtimetest.New()
	seedRunningAgent(cfg, rt)

	failingGC := func(ctx context.Context, _ string, _ config.ImagePruneOptions,
		_ runtime.Runtime, _ *imageprune.Store, _ *metrics.DaemonMetrics) error {
		return assert.AnError
	}

	_, err := superviseSteadyState(context.Background(), cfg, testDevice(), rt,
		nil, enabledGCOpts(t), testStore(t), nil, failingGC, watchdog.NewChannel())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "image garbage collection")
}

func TestSuperviseGCCleanReturnIsStillFatal(t *testing.T) {
	cfg := testSettings()
	rt := runtimetest.New()
	seedRunningAgent(cfg, rt)

	// The maintenance loop has no clean end while the daemon runs, so a
	// nil return is as fatal as an error.
	quitGC := func(ctx context.Context, _ string, _ config.ImagePruneOptions,
		_ runtime.Runtime, _ *imageprune.Store, _ *metrics.DaemonMetrics) error {
		return nil
	}

	_, err := superviseSteadyState(context.Background(), cfg, testDevice(), rt,
		nil, enabledGCOpts(t), testStore(t), nil, quitGC, watchdog.NewChannel())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped unexpectedly")
}

func TestSuperviseParentCancelIsNotAGCFailure(t *testing.T) {
	cfg := testSettings()
	rt := runtimetest.New()
	seedRunningAgent(cfg, rt)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := superviseSteadyState(ctx, cfg, testDevice(), rt,
		nil, enabledGCOpts(t), testStore(t), nil, blockingGC, watchdog.NewChannel())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "image garbage collection")
}

func TestDrainTasksWaitsForRelease(t *testing.T) {
	counter := tasks.NewCounter(2)
	go func() {
		time.Sleep(30 * time.Millisecond)
		counter.Release()
		counter.Release()
	}()

	start := time.Now()
	drainTasks(context.Background(), counter, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, counter.Outstanding())
}

func TestDrainTasksTimesOut(t *testing.T) {
	counter := tasks.NewCounter(1)

	start := time.Now()
	drainTasks(context.Background(), counter, 50*time.Millisecond, 5*time.Millisecond)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second, "drain must never hang past its budget")
	assert.Equal(t, 1, counter.Outstanding())
}

func TestRequestShutdownIsOneShot(t *testing.T) {
	ch := make(chan struct{}, 1)

	requestShutdown("management", ch)
	require.Len(t, ch, 1)

	// A second request must neither block nor panic.
	done := make(chan struct{})
	go func() {
		requestShutdown("management", ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("requestShutdown blocked on a full trigger")
	}
	require.Len(t, ch, 1)
}

func TestFinishShutdownSignalAndRenewal(t *testing.T) {
	client := identity.NewClient("http://127.0.0.1:0")

	require.NoError(t, finishShutdown(context.Background(), watchdog.ActionSignal, client, t.TempDir()))
	require.NoError(t, finishShutdown(context.Background(), watchdog.ActionCertRenewal, client, t.TempDir()))
}

func TestFinishShutdownReprovision(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/device/reprovision", r.URL.Path)
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	require.NoError(t, identity.UpdateCache(cacheDir, testDevice()))

	err := finishShutdown(context.Background(), watchdog.ActionReprovision,
		identity.NewClient(srv.URL), cacheDir)
	require.Error(t, err)
	assert.True(t, IsReprovisioned(err), "a successful reprovision is informational")
	assert.Equal(t, ExitReprovisioned, ExitCode(err))
	assert.Equal(t, 1, calls)

	_, loadErr := identity.LoadCache(cacheDir)
	assert.True(t, os.IsNotExist(loadErr), "the identity cache must be dropped")
}
