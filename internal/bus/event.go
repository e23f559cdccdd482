package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces ("message.upserted", "sync.poll_failed", ...).
type Event struct {
	Kind string
	At   time.Time
	Data any
}
