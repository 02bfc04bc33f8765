package usage

import "time"

// TotalsPayload is the JSON shape of a TotalsRecord on the spend endpoint.
// UpdatedAt is milliseconds since the Unix epoch.
type TotalsPayload struct {
	Counters
	UpdatedAt int64 `json:"updatedAt"`
}

// TotalsResponse is the body of every successful spend response.
type TotalsResponse struct {
	Totals TotalsPayload `json:"totals"`
}

// Action selects what a POST to the spend endpoint does.
type Action string

const (
	ActionIngest Action = "ingest"
	ActionReset  Action = "reset"
)

// SpendRequest is the body a client sends to the spend endpoint.
type SpendRequest struct {
	Action Action `json:"action"`
	Delta  *Delta `json:"delta,omitempty"`
}

// ToPayload converts a record to its wire form.
func (t Totals) ToPayload() TotalsPayload {
	return TotalsPayload{Counters: t.Counters, UpdatedAt: t.UpdatedAt.UnixMilli()}
}

// ToTotals converts a wire payload back to a record.
func (p TotalsPayload) ToTotals() Totals {
	return Totals{Counters: p.Counters, UpdatedAt: time.UnixMilli(p.UpdatedAt)}
}
