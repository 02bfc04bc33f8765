package usage

import "time"

// EventType names what happened to a user's record.
type EventType string

const (
	EventIngested EventType = "usage.ingested"
	EventReset    EventType = "usage.reset"
)

// Event is emitted after a record changes, for downstream billing consumers.
type Event struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	UserID     string        `json:"userId"`
	Delta      *Delta        `json:"delta,omitempty"`
	Totals     TotalsPayload `json:"totals"`
	OccurredAt time.Time     `json:"occurredAt"`
}
