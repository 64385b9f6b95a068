// Package docker implements the module runtime on top of the Docker
// Engine API. Containers owned by the daemon are tagged with the
// net.edged.owner label and every operation is scoped to that label, so
// unrelated containers on the host are never touched.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/runtime"
)

// UsageRecorder receives image-use notifications for prune bookkeeping.
// A nil recorder disables bookkeeping.
type UsageRecorder interface {
	RecordUse(ctx context.Context, ref string, when time.Time) error
}

// Runtime drives module containers through the Docker Engine API.
type Runtime struct {
	cli      *client.Client
	network  string
	actions  chan<- runtime.ModuleAction
	recorder UsageRecorder
}

var _ runtime.Runtime = (*Runtime)(nil)
var _ runtime.InfoProvider = (*Runtime)(nil)

// New connects to the Docker daemon described by cfg and verifies it is
// reachable. The module network is created when missing so module
// containers can resolve each other by name.
func New(ctx context.Context, cfg config.RuntimeConfig, actions chan<- runtime.ModuleAction, recorder UsageRecorder) (*Runtime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.URI != "" {
		opts = append(opts, client.WithHost(cfg.URI))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("container runtime unreachable at %q: %w", cfg.URI, err)
	}

	r := &Runtime{
		cli:      cli,
		network:  cfg.Network,
		actions:  actions,
		recorder: recorder,
	}

	if err := r.ensureNetwork(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}

	logger.Info("connected to container runtime", "uri", cfg.URI, "network", cfg.Network)
	return r, nil
}

// ensureNetwork creates the module bridge network when it does not exist.
func (r *Runtime) ensureNetwork(ctx context.Context) error {
	if r.network == "" {
		return nil
	}

	_, err := r.cli.NetworkInspect(ctx, r.network, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting network %q: %w", r.network, err)
	}

	if _, err := r.cli.NetworkCreate(ctx, r.network, network.CreateOptions{Driver: "bridge"}); err != nil {
		// Another process may have created it between inspect and create.
		if errdefs.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("creating network %q: %w", r.network, err)
	}

	logger.Info("created module network", "network", r.network)
	return nil
}

func ownedFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", runtime.OwnerLabel+"="+runtime.OwnerLabelValue))
}

// ListModules returns all owned module containers, running or not.
func (r *Runtime) ListModules(ctx context.Context) ([]runtime.Module, error) {
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanModuleList, "")
	defer span.End()

	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: ownedFilter()})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("listing module containers: %w", err)
	}

	modules := make([]runtime.Module, 0, len(summaries))
	for _, c := range summaries {
		modules = append(modules, r.toModule(ctx, c))
	}
	return modules, nil
}

// toModule converts a container summary, enriching it with inspect data
// when available. Inspect failures degrade to the summary view.
func (r *Runtime) toModule(ctx context.Context, c container.Summary) runtime.Module {
	m := runtime.Module{
		ID:     c.ID,
		Image:  c.Image,
		Status: summaryStatus(c.State),
	}
	if len(c.Names) > 0 {
		m.Name = strings.TrimPrefix(c.Names[0], "/")
	}

	inspect, err := r.cli.ContainerInspect(ctx, c.ID)
	if err != nil || inspect.State == nil {
		return m
	}

	st := inspect.State
	m.Status = stateStatus(st.Status, st.Running || st.Restarting, st.Dead, st.ExitCode)
	m.ExitCode = st.ExitCode
	if t, err := time.Parse(time.RFC3339Nano, st.StartedAt); err == nil {
		m.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, st.FinishedAt); err == nil {
		m.FinishedAt = t
	}
	return m
}

// summaryStatus maps the coarse container list state.
func summaryStatus(state string) runtime.ModuleStatus {
	switch state {
	case "running", "restarting":
		return runtime.StatusRunning
	case "created", "paused", "exited":
		return runtime.StatusStopped
	case "dead":
		return runtime.StatusFailed
	default:
		return runtime.StatusUnknown
	}
}

// stateStatus maps inspect-level state, where the exit code separates a
// clean stop from a crash.
func stateStatus(status string, running, dead bool, exitCode int) runtime.ModuleStatus {
	switch {
	case running:
		return runtime.StatusRunning
	case dead:
		return runtime.StatusFailed
	case status == "exited" && exitCode != 0:
		return runtime.StatusFailed
	case status == "exited" || status == "created" || status == "paused":
		return runtime.StatusStopped
	default:
		return runtime.StatusUnknown
	}
}

// CreateModule pulls the module image and creates its container. The
// container is not started; callers follow up with StartModule.
func (r *Runtime) CreateModule(ctx context.Context, spec runtime.ModuleSpec) error {
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanModuleCreate, spec.Name, telemetry.Image(spec.Image))
	defer span.End()

	if err := r.ensureImage(ctx, spec.Image); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	cfg, hostCfg, netCfg, err := buildCreateConfig(spec, r.network)
	if err != nil {
		return fmt.Errorf("invalid create options for module %s: %w", spec.Name, err)
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("creating module %s: %w", spec.Name, err)
	}

	if r.recorder != nil {
		if err := r.recorder.RecordUse(ctx, spec.Image, time.Now()); err != nil {
			logger.Warn("failed to record image use", logger.Image(spec.Image), logger.Err(err))
		}
	}

	logger.Info("module created", logger.Module(spec.Name), logger.Image(spec.Image), "container_id", shortID(resp.ID))
	return nil
}

// ensureImage pulls ref, falling back to a locally present image when
// the registry is unreachable. Edge devices are routinely offline.
func (r *Runtime) ensureImage(ctx context.Context, ref string) error {
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err == nil {
		defer rc.Close()
		if _, err := io.Copy(io.Discard, rc); err != nil {
			return fmt.Errorf("reading pull progress for %s: %w", ref, err)
		}
		return nil
	}

	if _, inspectErr := r.cli.ImageInspect(ctx, ref); inspectErr == nil {
		logger.Warn("image pull failed, using local image", logger.Image(ref), logger.Err(err))
		return nil
	}
	return fmt.Errorf("pulling image %s: %w", ref, err)
}

// StartModule announces the start on the action channel, waits for the
// acknowledgement, then starts the container. The gate guarantees the
// workload API knows the module before its first request can arrive.
func (r *Runtime) StartModule(ctx context.Context, name string) error {
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanModuleStart, name)
	defer span.End()

	if r.actions != nil {
		if err := runtime.SendStart(ctx, r.actions, name); err != nil {
			return fmt.Errorf("announcing start of module %s: %w", name, err)
		}
	}

	if err := r.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("starting module %s: %w", name, err)
	}

	logger.Info("module started", logger.Module(name))
	return nil
}

// RestartModule restarts a module container in place, re-announcing it
// so a registration lost across a daemon restart is re-established.
func (r *Runtime) RestartModule(ctx context.Context, name string) error {
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanModuleRestart, name)
	defer span.End()

	if r.actions != nil {
		if err := runtime.SendStart(ctx, r.actions, name); err != nil {
			return fmt.Errorf("announcing restart of module %s: %w", name, err)
		}
	}

	if err := r.cli.ContainerRestart(ctx, name, container.StopOptions{}); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("restarting module %s: %w", name, err)
	}

	logger.Info("module restarted", logger.Module(name))
	return nil
}

// RemoveModule force-removes a module container. Removing a module that
// is already gone is not an error.
func (r *Runtime) RemoveModule(ctx context.Context, name string) error {
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanModuleRemove, name)
	defer span.End()

	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("removing module %s: %w", name, err)
	}

	runtime.SendNotify(r.actions, runtime.ActionRemove, name)
	logger.Info("module removed", logger.Module(name))
	return nil
}

// StopAll stops every running owned container, giving each up to timeout
// to exit before it is killed. Failures are collected, not short-circuited,
// so one stuck module cannot shield the others from shutdown.
func (r *Runtime) StopAll(ctx context.Context, timeout time.Duration) error {
	ctx, span := telemetry.StartLifecycleSpan(ctx, telemetry.SpanStopAll)
	defer span.End()

	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{Filters: ownedFilter()})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("listing running modules: %w", err)
	}

	secs := int(timeout.Seconds())
	var errs []error
	for _, c := range summaries {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		if err := r.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &secs}); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("stopping module %s: %w", name, err))
			continue
		}
		logger.Debug("module stopped", logger.Module(name))
	}
	return errors.Join(errs...)
}

// RemoveImage deletes an image. A missing image is not an error since
// garbage collection may race with manual cleanup.
func (r *Runtime) RemoveImage(ctx context.Context, ref string) error {
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanImageRemove, "", telemetry.Image(ref))
	defer span.End()

	_, err := r.cli.ImageRemove(ctx, ref, image.RemoveOptions{PruneChildren: true})
	if err != nil && !errdefs.IsNotFound(err) {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("removing image %s: %w", ref, err)
	}
	return nil
}

// Info reports the engine the runtime is connected to.
func (r *Runtime) Info(ctx context.Context) (runtime.SystemInfo, error) {
	info, err := r.cli.Info(ctx)
	if err != nil {
		return runtime.SystemInfo{}, fmt.Errorf("querying runtime info: %w", err)
	}
	return runtime.SystemInfo{
		Kind:         "docker",
		Version:      info.ServerVersion,
		OS:           info.OSType,
		Architecture: info.Architecture,
	}, nil
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
