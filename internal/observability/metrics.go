package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alert_relay"

// Metrics holds the Prometheus counters, histograms, and gauges for the relay.
type Metrics struct {
	WatcherRunning   prometheus.Gauge
	MailboxConnected prometheus.Gauge
	PollCycles       *prometheus.CounterVec // labels: outcome={ok,error}
	Reconnects       *prometheus.CounterVec // labels: outcome={success,failure}
	MessagesFetched  prometheus.Counter
	MessagesSkipped  prometheus.Counter

	// Dispatch metrics.
	AttachmentsProcessed prometheus.Counter
	ParseErrors          prometheus.Counter
	StationAlerts        *prometheus.CounterVec // labels: station
	UnmatchedIncidents   prometheus.Counter
	DispatchDuration     prometheus.Histogram

	// Delivery metrics.
	Notifications      *prometheus.CounterVec // labels: outcome={success,rejected,transport_error,not_configured}
	SendAttempts       prometheus.Counter
	SendDuration       prometheus.Histogram
	LogEventsForwarded *prometheus.CounterVec // labels: outcome={sent,dropped}
}

func newMetrics() *Metrics {
	return &Metrics{
		WatcherRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_running",
			Help:      "1 while the mailbox supervisor loop is active, 0 when shut down.",
		}),
		MailboxConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mailbox_connected",
			Help:      "1 while an authenticated mailbox session exists.",
		}),
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Mailbox poll cycles by outcome.",
		}, []string{"outcome"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_connects_total",
			Help:      "Mailbox connection attempts by outcome.",
		}, []string{"outcome"}),
		MessagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_fetched_total",
			Help:      "Unseen alarm messages fetched from the mailbox.",
		}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Messages skipped because they were already processed by this process.",
		}),
		AttachmentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_processed_total",
			Help:      "Attachments handed to the dispatcher.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Attachments dropped because they could not be parsed.",
		}),
		StationAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_alerts_total",
			Help:      "Incidents matched per station.",
		}, []string{"station"}),
		UnmatchedIncidents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_incidents_total",
			Help:      "Incidents that referenced no subscribed station.",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration from staged attachment to finished deliveries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Telegram messages by final outcome.",
		}, []string{"outcome"}),
		SendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Individual sendMessage requests, including retries.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Telegram sendMessage request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		LogEventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_events_forwarded_total",
			Help:      "Warning-or-above log events forwarded to the operations chat.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all relay metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.WatcherRunning,
		m.MailboxConnected,
		m.PollCycles,
		m.Reconnects,
		m.MessagesFetched,
		m.MessagesSkipped,
		m.AttachmentsProcessed,
		m.ParseErrors,
		m.StationAlerts,
		m.UnmatchedIncidents,
		m.DispatchDuration,
		m.Notifications,
		m.SendAttempts,
		m.SendDuration,
		m.LogEventsForwarded,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
