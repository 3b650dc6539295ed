package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeStats provides the metrics collector access to live service state.
type RuntimeStats interface {
	ActiveSessions() int
	InboxPending() int
	MQTTConnected() bool
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats RuntimeStats

	activeSessions *prometheus.Desc
	inboxPending   *prometheus.Desc
	mqttConnected  *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (all gauges report 0).
func NewCollector(stats RuntimeStats) *Collector {
	return &Collector{
		stats: stats,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_sessions"),
			"Transcription requests currently running.",
			nil, nil,
		),
		inboxPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "inbox", "pending"),
			"Inbox jobs waiting for a worker.",
			nil, nil,
		),
		mqttConnected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "mqtt", "connected"),
			"1 if the MQTT mirror is connected.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.inboxPending
	ch <- c.mqttConnected
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var sessions, pending, connected float64
	if c.stats != nil {
		sessions = float64(c.stats.ActiveSessions())
		pending = float64(c.stats.InboxPending())
		if c.stats.MQTTConnected() {
			connected = 1
		}
	}
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, sessions)
	ch <- prometheus.MustNewConstMetric(c.inboxPending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.mqttConnected, prometheus.GaugeValue, connected)
}
