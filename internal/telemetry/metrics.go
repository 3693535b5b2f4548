package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksSubmitted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_tasks_submitted_total", Help: "Total tasks submitted"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	TasksCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_tasks_completed_total", Help: "Tasks completed successfully"})
	TasksFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_tasks_failed_total", Help: "Tasks that ended failed"})
	LeasesReaped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_leases_reaped_total", Help: "Tasks failed after their lease expired"})
	ScheduleFires    = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_schedule_fires_total", Help: "Scheduler trigger firings"})
	NotificationsOut = prometheus.NewCounter(prometheus.CounterOpts{Name: "workbench_notifications_total", Help: "Notification rows written"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "workbench_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "workbench_inflight", Help: "Tasks currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksSubmitted,
			RateLimitRejects,
			TasksCompleted,
			TasksFailed,
			LeasesReaped,
			ScheduleFires,
			NotificationsOut,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
