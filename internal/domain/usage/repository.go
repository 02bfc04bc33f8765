package usage

import (
	"context"
	"time"
)

// Store holds one Totals record per user identity.
//
// Implementations must apply deltas atomically per user: concurrent
// ApplyDelta calls for the same user may not lose an update. Records of
// different users are independent.
type Store interface {
	// Read returns the user's record, replacing it with a fresh zero record
	// when it is missing or older than ttl. The record's UpdatedAt is refreshed.
	Read(ctx context.Context, userID string, ttl time.Duration) (Totals, error)

	// ApplyDelta adds delta to the user's (read-or-init) record and returns the result.
	ApplyDelta(ctx context.Context, userID string, delta Delta, ttl time.Duration) (Totals, error)

	// Reset unconditionally replaces the user's record with a fresh zero record.
	Reset(ctx context.Context, userID string) (Totals, error)
}
