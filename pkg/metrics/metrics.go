package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Monitoring loop metrics
	MonitorTicks         prometheus.Counter
	MonitorIterationErrs prometheus.Counter
	AudioLevel           prometheus.Gauge

	// Detection metrics
	DetectionsTotal *prometheus.CounterVec

	// Emergency metrics
	EpisodesTotal  prometheus.Counter
	ActiveEpisodes prometheus.Gauge
	ActionOutcomes *prometheus.CounterVec

	// Evidence metrics
	RecordingsStarted prometheus.Counter
	RecordingSeconds  prometheus.Histogram

	// Collaborator metrics
	AuditSubmissions *prometheus.CounterVec
	PeerAlertsSent   prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		MonitorTicks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_monitor_ticks_total",
				Help: "Total number of threat-check iterations",
			},
		)

		MonitorIterationErrs = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_monitor_iteration_errors_total",
				Help: "Monitoring iterations that failed and triggered backoff",
			},
		)

		AudioLevel = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_audio_level_rms",
				Help: "Latest normalized RMS audio level",
			},
		)

		DetectionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_detections_total",
				Help: "Positive threat detections by category",
			},
			[]string{"category"},
		)

		EpisodesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_episodes_total",
				Help: "Total number of emergency episodes activated",
			},
		)

		ActiveEpisodes = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_active_episodes",
				Help: "Whether an emergency episode is currently active (0 or 1)",
			},
		)

		ActionOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_action_outcomes_total",
				Help: "Emergency fan-out action results by action and outcome",
			},
			[]string{"action", "outcome"},
		)

		RecordingsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_recordings_started_total",
				Help: "Evidence recordings started",
			},
		)

		RecordingSeconds = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aegis_recording_duration_seconds",
				Help:    "Duration of completed evidence recordings",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
			},
		)

		AuditSubmissions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_audit_submissions_total",
				Help: "Audit log submissions by outcome",
			},
			[]string{"outcome"},
		)

		PeerAlertsSent = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_peer_alerts_sent_total",
				Help: "Peers the broker accepted an alert for",
			},
		)

		registry.MustRegister(
			MonitorTicks,
			MonitorIterationErrs,
			AudioLevel,
			DetectionsTotal,
			EpisodesTotal,
			ActiveEpisodes,
			ActionOutcomes,
			RecordingsStarted,
			RecordingSeconds,
			AuditSubmissions,
			PeerAlertsSent,
		)

		logger.Debug("Metrics registry initialized")
	})
}

// Handler returns the HTTP handler serving the metrics endpoint. Init must
// be called first.
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordDetection increments the detection counter for a category.
func RecordDetection(category string) {
	if DetectionsTotal != nil {
		DetectionsTotal.WithLabelValues(category).Inc()
	}
}

// RecordMonitorTick counts one threat-check iteration.
func RecordMonitorTick() {
	if MonitorTicks != nil {
		MonitorTicks.Inc()
	}
}

// RecordIterationError counts a failed monitoring iteration.
func RecordIterationError() {
	if MonitorIterationErrs != nil {
		MonitorIterationErrs.Inc()
	}
}

// SetAudioLevel publishes the latest RMS level.
func SetAudioLevel(rms float64) {
	if AudioLevel != nil {
		AudioLevel.Set(rms)
	}
}

// RecordEpisode tracks episode activation (active=true) and reset.
func RecordEpisode(active bool) {
	if EpisodesTotal == nil || ActiveEpisodes == nil {
		return
	}
	if active {
		EpisodesTotal.Inc()
		ActiveEpisodes.Set(1)
	} else {
		ActiveEpisodes.Set(0)
	}
}

// RecordPeerAlerts adds to the peer alert counter.
func RecordPeerAlerts(count int) {
	if PeerAlertsSent != nil {
		PeerAlertsSent.Add(float64(count))
	}
}

// RecordAuditSubmission records an audit submission outcome.
func RecordAuditSubmission(outcome string) {
	if AuditSubmissions != nil {
		AuditSubmissions.WithLabelValues(outcome).Inc()
	}
}

// RecordRecordingStarted increments the recording counter.
func RecordRecordingStarted() {
	if RecordingsStarted != nil {
		RecordingsStarted.Inc()
	}
}

// ObserveRecordingDuration records a completed recording's duration.
func ObserveRecordingDuration(seconds float64) {
	if RecordingSeconds != nil {
		RecordingSeconds.Observe(seconds)
	}
}

// RecordActionOutcome records one fan-out action result.
func RecordActionOutcome(action string, failed bool) {
	if ActionOutcomes == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	ActionOutcomes.WithLabelValues(action, outcome).Inc()
}
