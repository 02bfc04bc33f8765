package usage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// Publisher receives an event after every successful write
type Publisher interface {
	PublishUsage(ctx context.Context, event usage.Event) error
}

// Service owns per-user usage totals on the server.
// Identity is resolved by the caller; every method trusts userID.
type Service struct {
	store     usage.Store
	backend   string
	ttl       time.Duration
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithPublisher emits usage events to p after writes
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithTTL overrides usage.DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService creates a new usage service over store.
// backend is only used to label metrics.
func NewService(store usage.Store, backend string, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		backend: backend,
		ttl:     usage.DefaultTTL,
		log:     log.Component("usage_service"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the idle lifetime applied to records
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Totals returns the caller's current record
func (s *Service) Totals(ctx context.Context, userID string) (usage.Totals, error) {
	if err := validateUser(userID); err != nil {
		return usage.Totals{}, err
	}

	start := time.Now()
	rec, err := s.store.Read(ctx, userID, s.ttl)
	metrics.RecordStoreOperation(s.backend, "read", time.Since(start), err)
	if err != nil {
		return usage.Totals{}, errors.Wrap(err, "failed to read usage totals")
	}

	return rec, nil
}

// Ingest adds delta to the caller's record. Negative categories count as zero.
func (s *Service) Ingest(ctx context.Context, userID string, delta usage.Delta) (usage.Totals, error) {
	if err := validateUser(userID); err != nil {
		return usage.Totals{}, err
	}
	delta = delta.Normalize()

	start := time.Now()
	rec, err := s.store.ApplyDelta(ctx, userID, delta, s.ttl)
	metrics.RecordStoreOperation(s.backend, "apply", time.Since(start), err)
	if err != nil {
		return usage.Totals{}, errors.Wrap(err, "failed to apply usage delta")
	}

	for _, cat := range usage.Categories {
		metrics.RecordIngestedTokens(string(cat), delta.Counters().Get(cat))
	}

	s.log.Debugw("Usage delta ingested",
		"user_id", userID,
		"input_text", delta.InputTextTokens,
		"output_text", delta.OutputTextTokens,
		"input_audio", delta.InputAudioTokens,
		"output_audio", delta.OutputAudioTokens,
	)

	if !delta.IsZero() {
		s.publish(ctx, usage.EventIngested, userID, &delta, rec)
	}

	return rec, nil
}

// Reset zeroes the caller's record
func (s *Service) Reset(ctx context.Context, userID string) (usage.Totals, error) {
	if err := validateUser(userID); err != nil {
		return usage.Totals{}, err
	}

	start := time.Now()
	rec, err := s.store.Reset(ctx, userID)
	metrics.RecordStoreOperation(s.backend, "reset", time.Since(start), err)
	if err != nil {
		return usage.Totals{}, errors.Wrap(err, "failed to reset usage totals")
	}

	s.log.Infow("Usage totals reset", "user_id", userID)
	s.publish(ctx, usage.EventReset, userID, nil, rec)

	return rec, nil
}

// publish never fails the write it follows
func (s *Service) publish(ctx context.Context, typ usage.EventType, userID string, delta *usage.Delta, rec usage.Totals) {
	if s.publisher == nil {
		return
	}

	event := usage.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		Delta:      delta,
		Totals:     rec.ToPayload(),
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.PublishUsage(ctx, event); err != nil {
		s.log.Warnw("Failed to publish usage event",
			"user_id", userID,
			"type", typ,
			"error", err,
		)
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.ErrUnauthorized
	}
	return nil
}
