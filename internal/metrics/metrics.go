// Package metrics holds the Prometheus collectors for the notification
// pipeline. Collectors are registered on an explicit registry so tests and
// multiple clients in one process do not collide.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collectors groups every metric the client exports.
type Collectors struct {
	NotificationsMerged prometheus.Counter
	DuplicatesSkipped   prometheus.Counter
	DecodeFailures      prometheus.Counter
	ReconcileDropped    prometheus.Counter
	MessagesReceived    prometheus.Counter
	Reconnects          prometheus.Counter
	ChannelState        prometheus.Gauge
	RequestDuration     *prometheus.HistogramVec
	RequestErrors       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what the zero-config path uses.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		NotificationsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insync_notifications_merged_total",
			Help: "Realtime notifications inserted into the unread cache",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insync_notifications_duplicate_total",
			Help: "Realtime notifications skipped because the id was already cached",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insync_notifications_decode_failures_total",
			Help: "Inbound realtime messages that failed to decode",
		}),
		ReconcileDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insync_reconcile_dropped_total",
			Help: "Cache merges dropped because the cache store failed",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insync_realtime_messages_total",
			Help: "Raw messages received on the realtime channel",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insync_realtime_reconnects_total",
			Help: "Realtime connection attempts after a transport error",
		}),
		ChannelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insync_realtime_state",
			Help: "Realtime channel state (0 disconnected, 1 connecting, 2 open, 3 closed-error)",
		}),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insync_api_request_duration_seconds",
				Help:    "Duration of REST requests to the InSync API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insync_api_request_errors_total",
				Help: "REST requests that failed, by status code (0 for transport errors)",
			},
			[]string{"method", "route", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			c.NotificationsMerged,
			c.DuplicatesSkipped,
			c.DecodeFailures,
			c.ReconcileDropped,
			c.MessagesReceived,
			c.Reconnects,
			c.ChannelState,
			c.RequestDuration,
			c.RequestErrors,
		)
	}
	return c
}

// OrDefault returns c, or a fresh unregistered set when c is nil.
func OrDefault(c *Collectors) *Collectors {
	if c == nil {
		return New(nil)
	}
	return c
}

// ObserveRequest records a finished REST request.
func (c *Collectors) ObserveRequest(method, route string, started time.Time) {
	c.RequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
