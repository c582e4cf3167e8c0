package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client implements the Notifier interface using Prometheus metrics.
type Client struct {
	droppedCounter   *prometheus.CounterVec
	waitHist         *prometheus.HistogramVec
	queueSize        *prometheus.GaugeVec
	publishedCounter *prometheus.CounterVec
	publishHist      *prometheus.HistogramVec
	failureCounter   *prometheus.CounterVec
	restartCounter   *prometheus.CounterVec
	blockedGauge     *prometheus.GaugeVec

	instance string
}

// NewClient registers the pipeline metrics with reg. instance is attached
// to every series so several publishers can share a scrape target.
func NewClient(reg prometheus.Registerer, instance string) *Client {
	f := promauto.With(reg)
	return &Client{
		instance: instance,
		droppedCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "async_queue_messages_dropped_total",
				Help: "Messages rejected or discarded because the async queue was full",
			},
			[]string{"instance"},
		),
		waitHist: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "async_queue_wait_seconds",
				Help:    "Time producers spent waiting for space in the async queue",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"instance"},
		),
		queueSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "async_queue_size",
				Help: "Messages resident in the async queue at the last supervisor tick",
			},
			[]string{"instance"},
		),
		publishedCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "async_queue_messages_published_total",
				Help: "Messages handed to the broker in batch publishes, per exchange",
			},
			[]string{"instance", "exchange"},
		),
		publishHist: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "async_queue_publish_seconds",
				Help:    "Time spent publishing one destination group, including confirms",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"instance", "exchange"},
		),
		failureCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "async_queue_publish_failures_total",
				Help: "Failed batch publishes by error class",
			},
			[]string{"instance", "class"}, // class: network|unknown
		),
		restartCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "async_queue_consumer_restarts_total",
				Help: "Consumers replaced by the supervisor after they died",
			},
			[]string{"instance"},
		),
		blockedGauge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amqp_connection_blocked",
				Help: "1 while the broker has blocked the publishing connection",
			},
			[]string{"instance"},
		),
	}
}

func (c *Client) MessageDropped() {
	c.droppedCounter.WithLabelValues(c.instance).Inc()
}
func (c *Client) WaitForAsyncQueue(waited time.Duration) {
	c.waitHist.WithLabelValues(c.instance).Observe(waited.Seconds())
}
func (c *Client) AsyncQueueSize(depth int) {
	c.queueSize.WithLabelValues(c.instance).Set(float64(depth))
}
func (c *Client) MessagePublished(destination string, count int, elapsed time.Duration) {
	c.publishedCounter.WithLabelValues(c.instance, destination).Add(float64(count))
	c.publishHist.WithLabelValues(c.instance, destination).Observe(elapsed.Seconds())
}
func (c *Client) PublishFailed(class string) {
	c.failureCounter.WithLabelValues(c.instance, class).Inc()
}
func (c *Client) ConsumerRestarted() {
	c.restartCounter.WithLabelValues(c.instance).Inc()
}
func (c *Client) ConnectionBlocked(reason string) {
	slog.Warn("broker blocked the connection", "reason", reason)
	c.blockedGauge.WithLabelValues(c.instance).Set(1)
}
func (c *Client) ConnectionUnblocked() {
	slog.Info("broker unblocked the connection")
	c.blockedGauge.WithLabelValues(c.instance).Set(0)
}

type Server struct {
	srv *http.Server
}

// StartServer serves the metrics in gatherer plus the health endpoints
// until ctx is done.
func StartServer(ctx context.Context, bind string, gatherer prometheus.Gatherer, health *Health, metricsPath, livenessPath, readinessPath string) *Server {
	mux := http.NewServeMux()
	// prometheus endpoint
	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	// health
	mux.HandleFunc(livenessPath, health.LivenessHandler)
	mux.HandleFunc(readinessPath, health.ReadinessHandler)

	srv := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics server starting", "addr", bind, "metricsPath", metricsPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		// graceful shutdown
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	return &Server{srv: srv}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }
