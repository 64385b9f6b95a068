package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared across daemon spans. Daemon-specific keys carry
// a subsystem prefix; transport keys follow the OpenTelemetry semantic
// conventions.
const (
	AttrClientAddr = "client.address"
	AttrHTTPMethod = "http.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.status"

	AttrAction = "edged.action" // watchdog action variant
	AttrTasks  = "edged.tasks"  // outstanding server task count

	AttrModule = "module.name"  // module (containerized workload) name
	AttrImage  = "module.image" // container image reference

	AttrDeviceID = "device.id"  // provisioned device identifier
	AttrHub      = "device.hub" // backing hub name

	AttrGCRemoved    = "imagegc.removed"    // images removed in a sweep
	AttrGCCandidates = "imagegc.candidates" // images considered in a sweep
)

// Span names, one per traced operation.
const (
	// Lifecycle spans cover the daemon's own phases.
	SpanStartup     = "edged.startup"
	SpanProvision   = "edged.provision"
	SpanStopAll     = "edged.stop_all"
	SpanShutdown    = "edged.shutdown"
	SpanDrain       = "edged.drain"
	SpanReprovision = "edged.reprovision"

	// Control-plane request spans, one per API surface.
	SpanWorkloadRequest   = "workload.request"
	SpanManagementRequest = "management.request"

	// Module runtime spans.
	SpanModuleList    = "runtime.list"
	SpanModuleCreate  = "runtime.create"
	SpanModuleStart   = "runtime.start"
	SpanModuleRestart = "runtime.restart"
	SpanModuleRemove  = "runtime.remove"
	SpanImageRemove   = "runtime.remove_image"

	// Maintenance spans.
	SpanGCSweep         = "imagegc.sweep"
	SpanStoreRecord     = "imageprune.record"
	SpanStoreCandidates = "imageprune.candidates"
)

// ClientAddr returns an attribute for an API client address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// HTTPStatus returns an attribute for a response status code.
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// Action returns an attribute for a watchdog action variant.
func Action(a string) attribute.KeyValue {
	return attribute.String(AttrAction, a)
}

// Tasks returns an attribute for the outstanding server task count.
func Tasks(n int) attribute.KeyValue {
	return attribute.Int(AttrTasks, n)
}

// Module returns an attribute for a module name.
func Module(name string) attribute.KeyValue {
	return attribute.String(AttrModule, name)
}

// Image returns an attribute for a container image reference.
func Image(ref string) attribute.KeyValue {
	return attribute.String(AttrImage, ref)
}

// DeviceID returns an attribute for the provisioned device identifier.
func DeviceID(id string) attribute.KeyValue {
	return attribute.String(AttrDeviceID, id)
}

// Hub returns an attribute for the backing hub name.
func Hub(name string) attribute.KeyValue {
	return attribute.String(AttrHub, name)
}

// GCRemoved returns an attribute for images removed during a sweep.
func GCRemoved(n int) attribute.KeyValue {
	return attribute.Int(AttrGCRemoved, n)
}

// GCCandidates returns an attribute for images considered during a
// sweep.
func GCCandidates(n int) attribute.KeyValue {
	return attribute.Int(AttrGCCandidates, n)
}

// StartLifecycleSpan opens a span for one of the daemon lifecycle
// phases. The name is one of the edged.* span constants.
func StartLifecycleSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// StartModuleSpan opens a span for a module runtime operation. An empty
// module name is allowed for operations that are not about one module.
func StartModuleSpan(ctx context.Context, name, module string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	if module != "" {
		all = append(all, Module(module))
	}
	all = append(all, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartGCSpan opens a span for an image garbage collection operation.
func StartGCSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// StartAPISpan opens a span for a control-plane request and tags it
// with the request method and path.
func StartAPISpan(ctx context.Context, name, method, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, path))
	all = append(all, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}
