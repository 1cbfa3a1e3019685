package dispatch

import "time"

// Config controls the delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	SendTimeout     time.Duration
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	// MirrorEmail copies every delivered email to the telegram channel.
	MirrorEmail bool
}

// Event types published on the bus.
const (
	EventQueued  = "dispatch.queued"
	EventDeduped = "dispatch.deduped"
	EventDropped = "dispatch.dropped"
	EventSent    = "dispatch.sent"
	EventFailed  = "dispatch.failed"
)

// DeliveryEvent is the Data of every dispatch.* event.
type DeliveryEvent struct {
	Channel string    `json:"channel"`
	To      []string  `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Ref     string    `json:"ref,omitempty"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// HistoryItem records one delivered message.
type HistoryItem struct {
	At      time.Time
	Channel string
	Subject string
	Ref     string
}

const historyLimit = 300
