package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	PresentParticipants prometheus.Gauge
	PresenceEvents      *prometheus.CounterVec
	AnnouncementsQueued *prometheus.CounterVec
	FramesForwarded     *prometheus.CounterVec
	PipelineFailures    *prometheus.CounterVec
	SessionTerminations *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PresentParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "present_participants",
			Help:      "Participants currently present in the room.",
		}),
		PresenceEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "Presence events by kind.",
		}, []string{"event"}),
		AnnouncementsQueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_queued_total",
			Help:      "Announcement frames queued by kind.",
		}, []string{"kind"}),
		FramesForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Frames forwarded by stage and direction.",
		}, []string{"stage", "direction"}),
		PipelineFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Terminal pipeline failures by stage.",
		}, []string{"stage"}),
		SessionTerminations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_terminations_total",
			Help:      "Session terminations by reason.",
		}, []string{"reason"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
