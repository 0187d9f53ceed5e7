package server

import (
	"github.com/fmueller/voxrelay/internal/session"
	"github.com/fmueller/voxrelay/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	BuildInfo      *prometheus.GaugeVec
	ActiveSessions prometheus.Gauge
	Sessions       *prometheus.CounterVec
	SessionErrors  *prometheus.CounterVec
	Panics         prometheus.Counter
	UpgradeErrors  prometheus.Counter

	UploadSize        prometheus.Histogram
	AudioDuration     prometheus.Histogram
	DecodeDuration    prometheus.Histogram
	InferenceDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxrelay_build_info",
			Help: "Always 1; labelled with the running version",
		}, []string{"version"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxrelay_active_sessions",
			Help: "Current number of open transcription sessions",
		}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_sessions_total",
			Help: "Finished sessions by outcome",
		}, []string{"outcome"}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_session_errors_total",
			Help: "Session errors by kind",
		}, []string{"kind"}),
		Panics: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_session_panics_total",
			Help: "Sessions that ended in a recovered panic",
		}),
		UpgradeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_upgrade_errors_total",
			Help: "Failed WebSocket upgrades",
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxrelay_upload_size_bytes",
			Help:    "Size of received uploads",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KiB to 256MiB
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxrelay_audio_duration_seconds",
			Help:    "Duration of decoded audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34 minutes
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxrelay_decode_duration_seconds",
			Help:    "Time spent decoding uploads with ffmpeg",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxrelay_inference_duration_seconds",
			Help:    "Time spent in the transcription engine",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.BuildInfo.WithLabelValues(version.Resolve()).Set(1)
	return m
}

// ObserveSession records a finished session.
func (m *Metrics) ObserveSession(result session.Result) {
	m.Sessions.WithLabelValues(result.Outcome.String()).Inc()
	m.UploadSize.Observe(float64(result.BytesReceived))

	if result.DecodeTime > 0 {
		m.DecodeDuration.Observe(result.DecodeTime.Seconds())
	}
	if result.AudioDuration > 0 {
		m.AudioDuration.Observe(result.AudioDuration.Seconds())
	}
	if result.InferenceTime > 0 {
		m.InferenceDuration.Observe(result.InferenceTime.Seconds())
	}
	if kind := session.ErrorKind(result.Err); kind != "" {
		m.SessionErrors.WithLabelValues(kind).Inc()
	}
	if result.SendErr != nil {
		m.SessionErrors.WithLabelValues(session.ErrorKind(result.SendErr)).Inc()
	}
}
