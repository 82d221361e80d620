package sse

import "time"

// Defaults applied by Options when a field is left zero.
const (
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultBufferSize           = 1024
	DefaultMaxRequestsPerSecond = 50
	DefaultAckCapacity          = 4096
)

// Options configures a session at construction time. The zero value is
// usable: every field falls back to its documented default.
type Options struct {
	// OnClose is invoked exactly once, at the first close notification.
	OnClose func()

	// HeartbeatInterval is the period between keep-alive comments written to
	// the stream. Defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// HeartbeatFunc, if set, is invoked after every heartbeat comment.
	HeartbeatFunc func()

	// Event is the default event type label. Reserved; it takes no part in
	// subscription filtering.
	Event string

	// Retry, when positive, is written once as the Retry response header, in
	// milliseconds, as the client reconnection hint.
	Retry int

	// ID, when set, is emitted as a comment at stream start.
	ID string

	// BufferSize is the number of buffered wire lines that forces a flush.
	// Defaults to DefaultBufferSize.
	BufferSize int

	// Throttle is the minimum spacing between accepted sends. Zero disables
	// throttling. Sends inside the window are dropped, not queued.
	Throttle time.Duration

	// MaxRequestsPerSecond caps accepted sends per one-second window. Sends
	// beyond the ceiling are dropped until the window resets. Defaults to
	// DefaultMaxRequestsPerSecond.
	MaxRequestsPerSecond int

	// AckCapacity bounds the acknowledgement table; when full, the oldest
	// entry is evicted. Defaults to DefaultAckCapacity.
	AckCapacity int
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxRequestsPerSecond <= 0 {
		o.MaxRequestsPerSecond = DefaultMaxRequestsPerSecond
	}
	if o.AckCapacity <= 0 {
		o.AckCapacity = DefaultAckCapacity
	}
	return o
}

// SendOption customizes a single Send call.
type SendOption func(*sendConfig)

type sendConfig struct {
	event    string
	id       string
	retry    int
	hasRetry bool
	eventID  string
}

// WithEvent marks the record with an event type. Typed records are only
// delivered to sessions subscribed to that type.
func WithEvent(name string) SendOption {
	return func(c *sendConfig) { c.event = name }
}

// WithID sets the SSE id field of the record.
func WithID(id string) SendOption {
	return func(c *sendConfig) { c.id = id }
}

// WithRetry sets the per-record reconnection hint, in milliseconds.
func WithRetry(ms int) SendOption {
	return func(c *sendConfig) {
		c.retry = ms
		c.hasRetry = true
	}
}

// WithEventID attaches an acknowledgement id to the record. Sending with an
// id marks that id acknowledged in the session's table.
func WithEventID(id string) SendOption {
	return func(c *sendConfig) { c.eventID = id }
}
