// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	OBSConnectAttempts   prometheus.Counter
	OBSConnectFailures   prometheus.Counter
	OBSHeartbeatFailures prometheus.Counter
	RedemptionPolls      prometheus.Counter
	RedemptionPollErrors prometheus.Counter
	RedemptionsFulfilled prometheus.Counter
	RedemptionsFailed    prometheus.Counter
	ImagesGenerated      prometheus.Counter
	HelixRequests        *prometheus.CounterVec // labels: endpoint, status
	RewardOperations     *prometheus.CounterVec // labels: op, result

	// Histograms (seconds)
	ImageGenerationDuration prometheus.Observer
	FulfillDuration         prometheus.Observer

	// Gauges
	OBSConnectedGauge       prometheus.Gauge // 1=connected,0=not
	PendingRedemptionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		OBSConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_obs_connect_attempts_total", Help: "Number of OBS connection attempts"})
		OBSConnectFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_obs_connect_failures_total", Help: "Number of failed OBS connection attempts"})
		OBSHeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_obs_heartbeat_failures_total", Help: "Number of failed OBS heartbeats"})
		RedemptionPolls = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_redemption_polls_total", Help: "Number of redemption poll cycles"})
		RedemptionPollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_redemption_poll_errors_total", Help: "Number of redemption poll cycles that failed"})
		RedemptionsFulfilled = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_redemptions_fulfilled_total", Help: "Number of redemptions fulfilled"})
		RedemptionsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_redemptions_failed_total", Help: "Number of redemptions that failed to fulfill"})
		ImagesGenerated = promauto.NewCounter(prometheus.CounterOpts{Name: "bgc_images_generated_total", Help: "Number of images generated"})
		HelixRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bgc_helix_requests_total", Help: "Twitch Helix requests by endpoint and status class"}, []string{"endpoint", "status"})
		RewardOperations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bgc_reward_operations_total", Help: "Custom reward operations by kind and result"}, []string{"op", "result"})
		ImageGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bgc_image_generation_duration_seconds",
			Help:    "Image generation duration seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		})
		FulfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bgc_fulfill_duration_seconds",
			Help:    "End-to-end redemption fulfillment duration seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		})
		OBSConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bgc_obs_connected", Help: "OBS connection open=1 closed=0"})
		PendingRedemptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bgc_pending_redemptions", Help: "Current number of unfulfilled redemptions"})
	})
}

// SetOBSConnected sets the gauge to 1 if connected else 0.
func SetOBSConnected(connected bool) {
	if OBSConnectedGauge == nil {
		return
	}
	if connected {
		OBSConnectedGauge.Set(1)
	} else {
		OBSConnectedGauge.Set(0)
	}
}

// SetPendingRedemptions records the current unfulfilled redemption count.
func SetPendingRedemptions(n int) {
	if PendingRedemptionsGauge != nil {
		PendingRedemptionsGauge.Set(float64(n))
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// RecordHelix counts one Helix call by endpoint and status class ("2xx", "4xx", "error").
func RecordHelix(endpoint string, status int) {
	if HelixRequests == nil {
		return
	}
	HelixRequests.WithLabelValues(endpoint, statusClass(status)).Inc()
}

// RecordRewardOp counts one reward operation outcome.
func RecordRewardOp(op string, err error) {
	if RewardOperations == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	RewardOperations.WithLabelValues(op, result).Inc()
}

func statusClass(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
