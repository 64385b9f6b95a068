package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DaemonMetrics bundles the daemon's own metrics. A nil *DaemonMetrics
// is valid and records nothing.
type DaemonMetrics struct {
	agentRestarts    prometheus.Counter
	watchdogFailures prometheus.Counter
	gcCycles         prometheus.Counter
	gcRemovedImages  prometheus.Counter
	apiRequests      *prometheus.CounterVec
}

// NewDaemonMetrics registers the daemon metric set on the process-wide
// registry. Returns nil when metrics are disabled.
func NewDaemonMetrics() *DaemonMetrics {
	if !IsEnabled() {
		return nil
	}
	return newDaemonMetrics(GetRegistry(), time.Now())
}

func newDaemonMetrics(reg *prometheus.Registry, start time.Time) *DaemonMetrics {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "edged_uptime_seconds",
			Help: "Seconds since the daemon started",
		},
		func() float64 { return time.Since(start).Seconds() },
	)

	return &DaemonMetrics{
		agentRestarts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "edged_agent_restarts_total",
			Help: "Times the watchdog restarted or recreated the agent module",
		}),
		watchdogFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "edged_watchdog_failures_total",
			Help: "Watchdog cycles that failed to ensure the agent module",
		}),
		gcCycles: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "edged_imagegc_cycles_total",
			Help: "Completed image garbage collection cycles",
		}),
		gcRemovedImages: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "edged_imagegc_removed_images_total",
			Help: "Images removed by garbage collection",
		}),
		apiRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "edged_api_requests_total",
				Help: "Control-plane API requests by surface, method and status code",
			},
			[]string{"api", "method", "code"},
		),
	}
}

// AgentRestarted counts a watchdog-driven agent restart or recreation.
func (m *DaemonMetrics) AgentRestarted() {
	if m == nil {
		return
	}
	m.agentRestarts.Inc()
}

// WatchdogFailure counts a failed watchdog ensure cycle.
func (m *DaemonMetrics) WatchdogFailure() {
	if m == nil {
		return
	}
	m.watchdogFailures.Inc()
}

// GCCycle counts a completed collection cycle and the images it removed.
func (m *DaemonMetrics) GCCycle(removed int) {
	if m == nil {
		return
	}
	m.gcCycles.Inc()
	m.gcRemovedImages.Add(float64(removed))
}

// APIRequest counts one control-plane request.
func (m *DaemonMetrics) APIRequest(api, method string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(api, method, strconv.Itoa(status)).Inc()
}
