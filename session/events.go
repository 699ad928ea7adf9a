package session

// EventType tags a session lifecycle notification.
type EventType string

const (
	// EventConnected fires once a connection to the room is live.
	EventConnected EventType = "CONNECTED"
	// EventDisconnected fires when the connection is lost or torn down.
	EventDisconnected EventType = "DISCONNECTED"
	// EventMessageQueued fires when a message is parked in the offline
	// queue instead of being transmitted.
	EventMessageQueued EventType = "MESSAGE_QUEUED"
	// EventQueueFlushed fires after queued messages have been retransmitted
	// following a reconnect.
	EventQueueFlushed EventType = "QUEUE_FLUSHED"
	// EventError carries a connectivity or protocol failure the UI should
	// surface. Retry exhaustion arrives here as a terminal condition.
	EventError EventType = "ERROR"
)

// Event is a lifecycle notification surfaced to the subscribing UI layer.
type Event struct {
	Type EventType
	// MessageID is set for MESSAGE_QUEUED.
	MessageID string
	// Count is set for QUEUE_FLUSHED.
	Count int
	// Reason is set for ERROR.
	Reason string
}
