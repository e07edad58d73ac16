package bridge

import (
	"strings"

	"github.com/dkeye/callbridge/internal/metrics"
)

type EventKind string

const (
	EventCall       EventKind = "call"
	EventConference EventKind = "conference"
	EventRecording  EventKind = "recording"
)

// StatusEvent is what the coordinator keeps of a provider callback.
type StatusEvent struct {
	Kind         EventKind
	ConferenceID string
	LegID        string
	Status       string
	RecordingURL string
}

var providerStatus = map[EventKind]map[string]string{
	EventCall: {
		"queued":      "initiated",
		"initiated":   "initiated",
		"ringing":     "ringing",
		"in-progress": "answered",
		"answered":    "answered",
		"completed":   "completed",
		"busy":        "completed",
		"no-answer":   "completed",
		"failed":      "completed",
		"canceled":    "completed",
	},
	EventConference: {
		"conference-start":  "start",
		"conference-end":    "end",
		"participant-join":  "join",
		"participant-leave": "leave",
		"start":             "start",
		"end":               "end",
		"join":              "join",
		"leave":             "leave",
	},
	EventRecording: {
		"completed": "ready",
		"ready":     "ready",
	},
}

// NormalizeStatus maps a provider status string onto the small vocabulary
// the coordinator logs. Unknown values come back as "unknown".
func NormalizeStatus(kind EventKind, raw string) string {
	if s, ok := providerStatus[kind][strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return "unknown"
}

// Observe records a provider callback. The provider is the source of truth
// for leg state; nothing is reconciled here beyond the log and counters.
func (c *Coordinator) Observe(ev StatusEvent) {
	metrics.WebhookEvents.WithLabelValues(string(ev.Kind), ev.Status).Inc()
	c.log.Info().
		Str("kind", string(ev.Kind)).
		Str("conference_id", ev.ConferenceID).
		Str("leg_id", ev.LegID).
		Str("status", ev.Status).
		Str("recording_url", ev.RecordingURL).
		Msg("provider status")
}
