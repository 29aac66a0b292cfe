package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/paperstream/internal/events"
	"github.com/rickgao/paperstream/internal/model"
)

const namespace = "paperstream"

// Recorder holds every collector and updates them from bus events.
type Recorder struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	// Exchange streams
	StreamEvents   *prometheus.CounterVec
	StreamsTotal   prometheus.Gauge
	StreamsOpen    prometheus.Gauge
	StreamsHealthy prometheus.Gauge
	HealthRatio    prometheus.Gauge
	StaleStreams   prometheus.Counter
	MarketMessages *prometheus.CounterVec
	ParseErrors    *prometheus.CounterVec
	DeliveryLag    *prometheus.HistogramVec

	// Connection pool
	PoolEvents        *prometheus.CounterVec
	PoolRejections    *prometheus.CounterVec
	PoolEvictions     prometheus.Counter
	PoolConnections   *prometheus.GaugeVec
	PoolUsers         prometheus.Gauge
	PoolSubscriptions prometheus.Gauge
	PoolMessageRate   prometheus.Gauge
	PoolAvgDuration   prometheus.Gauge
	ChannelChanges    *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry, including Go runtime
// and process collectors.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger,

		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Exchange stream lifecycle events by type",
			},
			[]string{"event"},
		),
		StreamsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_tracked",
			Help:      "Exchange streams currently tracked",
		}),
		StreamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_open",
			Help:      "Exchange streams currently open",
		}),
		StreamsHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_healthy",
			Help:      "1 when the stream manager reports healthy",
		}),
		HealthRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_health_ratio",
			Help:      "Open streams divided by tracked streams (0.0 to 1.0)",
		}),
		StaleStreams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_data_total",
			Help:      "Stale data detections across all streams",
		}),
		MarketMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "market_messages_total",
				Help:      "Normalized market messages by feed kind",
			},
			[]string{"kind"},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_errors_total",
				Help:      "Messages that failed normalization by feed kind",
			},
			[]string{"kind"},
		),
		DeliveryLag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "market_delivery_lag_ms",
				Help:      "Exchange event time to local receipt in milliseconds",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"kind"},
		),

		PoolEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_connection_events_total",
				Help:      "Client connections added and removed",
			},
			[]string{"event"},
		),
		PoolRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_rejections_total",
				Help:      "Client connections rejected at admission by reason",
			},
			[]string{"reason"},
		),
		PoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_evictions_total",
			Help:      "Idle client connections evicted by the heartbeat sweep",
		}),
		PoolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections",
				Help:      "Client connections in the last snapshot",
			},
			[]string{"auth"},
		),
		PoolUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_unique_users",
			Help:      "Distinct authenticated users in the last snapshot",
		}),
		PoolSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_channel_subscriptions",
			Help:      "Channel subscriptions across all client connections",
		}),
		PoolMessageRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_messages_per_second",
			Help:      "Client messages per second since the previous snapshot",
		}),
		PoolAvgDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_avg_connection_duration_seconds",
			Help:      "Mean age of open client connections",
		}),
		ChannelChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_subscription_changes_total",
				Help:      "Channel subscribe and unsubscribe operations",
			},
			[]string{"action"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.StreamEvents,
		r.StreamsTotal,
		r.StreamsOpen,
		r.StreamsHealthy,
		r.HealthRatio,
		r.StaleStreams,
		r.MarketMessages,
		r.ParseErrors,
		r.DeliveryLag,
		r.PoolEvents,
		r.PoolRejections,
		r.PoolEvictions,
		r.PoolConnections,
		r.PoolUsers,
		r.PoolSubscriptions,
		r.PoolMessageRate,
		r.PoolAvgDuration,
		r.ChannelChanges,
	)

	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler for the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Run records events from sub until ctx is done or the bus closes.
func (r *Recorder) Run(ctx context.Context, sub *events.Subscription) {
	sub.Run(ctx, r.Observe)
}

// Observe updates collectors for one event.
func (r *Recorder) Observe(ev events.Event) {
	switch ev.Type {
	case events.StreamConnected, events.StreamDisconnected, events.StreamReconnected,
		events.StreamError, events.MaxReconnectionAttemptsReached:
		r.StreamEvents.WithLabelValues(string(ev.Type)).Inc()

	case events.ParseError:
		if f, ok := ev.Data.(events.ParseFailure); ok {
			r.ParseErrors.WithLabelValues(f.Kind).Inc()
		}

	case events.StaleData:
		r.StaleStreams.Inc()

	case events.HealthCheck:
		if h, ok := ev.Data.(events.HealthReport); ok {
			r.StreamsTotal.Set(float64(h.Total))
			r.StreamsOpen.Set(float64(h.Open))
			r.HealthRatio.Set(h.Ratio)
			r.StreamsHealthy.Set(boolGauge(h.Healthy))
		}

	case events.Ticker, events.OrderBook, events.Trade, events.Candle:
		r.MarketMessages.WithLabelValues(string(ev.Type)).Inc()
		if lag, ok := deliveryLag(ev.Data); ok {
			r.DeliveryLag.WithLabelValues(string(ev.Type)).Observe(float64(lag.Milliseconds()))
		}

	case events.ConnectionAdded:
		r.PoolEvents.WithLabelValues("added").Inc()

	case events.ConnectionRemoved:
		r.PoolEvents.WithLabelValues("removed").Inc()

	case events.ConnectionLimitReached:
		if info, ok := ev.Data.(events.ConnectionInfo); ok {
			r.PoolRejections.WithLabelValues(info.Reason).Inc()
		}

	case events.StaleConnectionsRemoved:
		if sc, ok := ev.Data.(events.StaleConnections); ok {
			r.PoolEvictions.Add(float64(len(sc.IDs)))
			r.PoolEvents.WithLabelValues("removed").Add(float64(len(sc.IDs)))
		}

	case events.ChannelSubscription:
		r.ChannelChanges.WithLabelValues("subscribe").Inc()

	case events.ChannelUnsubscription:
		r.ChannelChanges.WithLabelValues("unsubscribe").Inc()

	case events.Metrics:
		if m, ok := ev.Data.(events.PoolMetrics); ok {
			r.PoolConnections.WithLabelValues("authenticated").Set(float64(m.AuthenticatedConnections))
			r.PoolConnections.WithLabelValues("anonymous").Set(float64(m.AnonymousConnections))
			r.PoolUsers.Set(float64(m.UniqueUsers))
			r.PoolSubscriptions.Set(float64(m.TotalChannelSubscriptions))
			r.PoolMessageRate.Set(m.MessagesPerSecond)
			r.PoolAvgDuration.Set(m.AverageConnectionDuration.Seconds())
		}
	}
}

// deliveryLag is receipt time minus exchange event time, when both are known.
func deliveryLag(data any) (time.Duration, bool) {
	var event, received time.Time
	switch m := data.(type) {
	case model.Ticker:
		event, received = m.EventTime, m.ReceivedAt
	case model.OrderBook:
		event, received = m.EventTime, m.ReceivedAt
	case model.Trade:
		event, received = m.EventTime, m.ReceivedAt
	case model.Candle:
		event, received = m.EventTime, m.ReceivedAt
	default:
		return 0, false
	}
	if event.IsZero() || received.IsZero() {
		return 0, false
	}
	lag := received.Sub(event)
	if lag < 0 {
		lag = 0
	}
	return lag, true
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
