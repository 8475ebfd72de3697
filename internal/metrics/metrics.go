// Package metrics holds the prometheus collectors for recognition runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline paths.
const (
	PathCapture = "capture"
	PathTrack   = "track"
)

// Inbound event dispositions.
const (
	EventAccepted = "accepted"
	EventStale    = "stale"
	EventInvalid  = "invalid"
	EventIgnored  = "ignored"
)

var (
	recognitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acousticlink_recognitions_total",
			Help: "Finished recognition requests by path and outcome",
		},
		[]string{"path", "outcome"},
	)
	recognitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acousticlink_recognition_duration_seconds",
			Help:    "Time from request start to terminal state",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"path"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acousticlink_commands_sent_total",
			Help: "Outbound channel commands",
		},
		[]string{"event", "command"},
	)
	channelEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acousticlink_channel_events_total",
			Help: "Inbound channel events by disposition",
		},
		[]string{"event", "disposition"},
	)
)

func init() {
	prometheus.MustRegister(recognitions, recognitionDuration, commandsSent, channelEvents)
}

// ObserveOutcome records a finished request. outcome is "match", "no_match"
// or an error kind.
func ObserveOutcome(path, outcome string, elapsed time.Duration) {
	recognitions.WithLabelValues(path, outcome).Inc()
	recognitionDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

func CountCommand(event, command string) {
	commandsSent.WithLabelValues(event, command).Inc()
}

func CountEvent(event, disposition string) {
	channelEvents.WithLabelValues(event, disposition).Inc()
}
