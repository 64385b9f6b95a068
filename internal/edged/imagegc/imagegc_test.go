package imagegc

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/imageprune"
	"github.com/marmos91/edged/pkg/runtime"
	"github.com/marmos91/edged/pkg/runtime/runtimetest"
)

func openTestStore(t *testing.T) *imageprune.Store {
	t.Helper()
	s, err := imageprune.Open(filepath.Join(t.TempDir(), "gc"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextWindow(t *testing.T) {
	base := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	t.Run("LaterToday", func(t *testing.T) {
		got := nextWindow(base, 14, 30)
		want := time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("nextWindow = %v, want %v", got, want)
		}
	})

	t.Run("AlreadyPassedToday", func(t *testing.T) {
		got := nextWindow(base, 9, 15)
		want := time.Date(2026, time.March, 11, 9, 15, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("nextWindow = %v, want %v", got, want)
		}
	})

	t.Run("ExactlyNowSchedulesTomorrow", func(t *testing.T) {
		got := nextWindow(base, 10, 0)
		want := base.Add(24 * time.Hour)
		if !got.Equal(want) {
			t.Errorf("nextWindow = %v, want %v", got, want)
		}
	})

	t.Run("Midnight", func(t *testing.T) {
		got := nextWindow(base, 0, 0)
		want := time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("nextWindow = %v, want %v", got, want)
		}
	})
}

func TestSweepRemovesOnlyStaleUnusedImages(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rt := runtimetest.New()

	stale := time.Now().Add(-10 * 24 * time.Hour)
	for _, ref := range []string{"old-unused:1", "old-inuse:1", "agent:1"} {
		if err := store.RecordUse(ctx, ref, stale); err != nil {
			t.Fatalf("RecordUse(%s): %v", ref, err)
		}
	}
	if err := store.RecordUse(ctx, "fresh:1", time.Now()); err != nil {
		t.Fatalf("RecordUse(fresh): %v", err)
	}

	rt.SeedModule(runtime.Module{
		Name:   "sensor",
		Image:  "old-inuse:1",
		Status: runtime.StatusRunning,
	})

	if err := sweep(ctx, "agent:1", 7*24*time.Hour, rt, store, nil); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	removed := rt.RemovedImages()
	if !slices.Equal(removed, []string{"old-unused:1"}) {
		t.Errorf("removed images = %v, want only old-unused:1", removed)
	}

	// The removed image must be gone from the store, and the in-use
	// image must have had its record refreshed during the sweep.
	candidates, err := store.Candidates(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	for _, c := range candidates {
		if c.Ref == "old-unused:1" {
			t.Error("removed image still tracked by the store")
		}
		if c.Ref == "old-inuse:1" {
			t.Error("in-use image record was not refreshed")
		}
	}
}

func TestSweepSparesBootstrapImageEvenWhenStale(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rt := runtimetest.New()

	stale := time.Now().Add(-30 * 24 * time.Hour)
	if err := store.RecordUse(ctx, "agent:1", stale); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}

	if err := sweep(ctx, "agent:1", 7*24*time.Hour, rt, store, nil); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if removed := rt.RemovedImages(); len(removed) != 0 {
		t.Errorf("bootstrap image was removed: %v", removed)
	}
}

func TestSweepContinuesWhenSingleRemoveFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rt := runtimetest.New()
	rt.FailRemoveImage = errors.New("image is referenced by a stopped container")

	stale := time.Now().Add(-10 * 24 * time.Hour)
	if err := store.RecordUse(ctx, "stuck:1", stale); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}

	if err := sweep(ctx, "agent:1", 7*24*time.Hour, rt, store, nil); err != nil {
		t.Fatalf("sweep should skip failed removals, got: %v", err)
	}

	// A failed removal keeps its record so the next cycle retries it.
	candidates, err := store.Candidates(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	found := false
	for _, c := range candidates {
		if c.Ref == "stuck:1" {
			found = true
		}
	}
	if !found {
		t.Error("failed removal was forgotten from the store")
	}
}

func TestSweepFailsWhenModuleListFails(t *testing.T) {
	store := openTestStore(t)
	rt := runtimetest.New()
	rt.FailList = errors.New("runtime down")

	err := sweep(context.Background(), "agent:1", time.Hour, rt, store, nil)
	if err == nil {
		t.Fatal("sweep succeeded with a broken runtime")
	}
}

func TestRunRefusesWhenDisabled(t *testing.T) {
	opts, err := config.CheckImagePruneSettings(nil)
	if err != nil {
		t.Fatalf("CheckImagePruneSettings: %v", err)
	}
	opts.Enabled = false

	err = Run(context.Background(), "agent:1", opts, runtimetest.New(), openTestStore(t), nil)
	if err == nil {
		t.Fatal("Run accepted disabled settings")
	}
}

func TestRunStopsOnCancelBeforeFirstWindow(t *testing.T) {
	opts, err := config.CheckImagePruneSettings(nil)
	if err != nil {
		t.Fatalf("CheckImagePruneSettings: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Run(ctx, "agent:1", opts, runtimetest.New(), openTestStore(t), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
