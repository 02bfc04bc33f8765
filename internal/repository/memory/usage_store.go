package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"

	"tokenmeter/internal/domain/usage"
)

// Ensure UsageStore implements usage.Store
var _ usage.Store = (*UsageStore)(nil)

// slot serializes every operation on one user's record.
type slot struct {
	mu  sync.Mutex
	rec usage.Totals
	set bool
}

// UsageStore keeps one record per user for the lifetime of the process.
// Idle records are never evicted; they are overwritten by the next read
// once their TTL has passed.
type UsageStore struct {
	records *haxmap.Map[string, *slot]
	now     func() time.Time
}

// NewUsageStore creates an empty in-process store
func NewUsageStore() *UsageStore {
	return &UsageStore{
		records: haxmap.New[string, *slot](),
		now:     time.Now,
	}
}

// Read returns the user's record or replaces it with a fresh one when expired.
func (s *UsageStore) Read(ctx context.Context, userID string, ttl time.Duration) (usage.Totals, error) {
	sl := s.slot(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return s.current(sl, ttl), nil
}

// ApplyDelta adds delta to the user's record under the user's lock.
func (s *UsageStore) ApplyDelta(ctx context.Context, userID string, delta usage.Delta, ttl time.Duration) (usage.Totals, error) {
	sl := s.slot(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	s.current(sl, ttl)
	sl.rec.Counters = sl.rec.Counters.Add(delta.Normalize().Counters())
	sl.rec.UpdatedAt = s.now()
	return sl.rec, nil
}

// Reset replaces the user's record with a fresh zero record.
func (s *UsageStore) Reset(ctx context.Context, userID string) (usage.Totals, error) {
	sl := s.slot(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.rec = usage.FreshTotals(s.now())
	sl.set = true
	return sl.rec, nil
}

// Len returns the number of users with a record, expired ones included.
func (s *UsageStore) Len() int {
	return int(s.records.Len())
}

func (s *UsageStore) slot(userID string) *slot {
	sl, _ := s.records.GetOrCompute(userID, func() *slot { return &slot{} })
	return sl
}

// current returns the live record, replacing a missing or expired one.
// It must be called with sl.mu held.
func (s *UsageStore) current(sl *slot, ttl time.Duration) usage.Totals {
	now := s.now()
	if !sl.set || sl.rec.Expired(now, ttl) {
		sl.rec = usage.FreshTotals(now)
		sl.set = true
	}
	return sl.rec
}
