package meter

import (
	"context"
	"sync"
	"time"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

const (
	opPush = "push"
	opPull = "pull"
)

// Remote is the server side of reconciliation
type Remote interface {
	Fetch(ctx context.Context) (usage.Totals, error)
	Push(ctx context.Context, delta usage.Delta) (usage.Totals, error)
}

// ReconcilerConfig bounds the network calls a reconciler makes
type ReconcilerConfig struct {
	PushTimeout time.Duration
	PullTimeout time.Duration
}

// Reconciler keeps server totals in step with an Aggregator. Every counter
// change pushes the non-negative difference against the last synced snapshot;
// Start pulls the server totals once and adopts whatever is larger.
// Delivery is at-most-once: the snapshot moves before a push is confirmed and
// failed pushes are dropped.
type Reconciler struct {
	agg    *Aggregator
	remote Remote
	log    *logger.Logger
	cfg    ReconcilerConfig

	mu         sync.Mutex
	last       usage.Counters
	baseCtx    context.Context
	cancelPull context.CancelFunc
	started    bool
	closed     bool

	wg sync.WaitGroup
}

var _ Observer = (*Reconciler)(nil)

// NewReconciler attaches a reconciler to agg
func NewReconciler(agg *Aggregator, remote Remote, log *logger.Logger, cfg ReconcilerConfig) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 10 * time.Second
	}

	r := &Reconciler{
		agg:     agg,
		remote:  remote,
		log:     log.Component("reconciler"),
		cfg:     cfg,
		baseCtx: context.Background(),
	}
	agg.SetObserver(r)
	return r
}

// Start issues the startup pull in the background. Pushes issued afterwards
// carry ctx values but outlive its cancellation.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "reconciler already started")
	}
	r.started = true
	r.baseCtx = ctx

	pullCtx, cancel := context.WithCancel(ctx)
	r.cancelPull = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.pull(pullCtx)
	return nil
}

// CountersChanged implements Observer
func (r *Reconciler) CountersChanged(current, adopted usage.Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Adopted amounts already live on the server.
	r.last = r.last.Add(adopted)
	// A local reset lowers counters below the snapshot; rebase so usage after
	// the reset is still pushed.
	r.last = r.last.Min(current)

	delta := current.Since(r.last)
	if delta.IsZero() {
		return
	}
	r.last = current

	if r.closed {
		metrics.RecordReconcileSkipped(opPush)
		return
	}

	r.wg.Add(1)
	go r.push(r.baseCtx, delta)
}

// LastSynced returns the snapshot the next delta is computed against
func (r *Reconciler) LastSynced() usage.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Close cancels a pending pull and waits for in-flight pushes until ctx is
// done. No adoption happens after Close returns nil.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.cancelPull != nil {
		r.cancelPull()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "reconciler close")
	}
}

func (r *Reconciler) push(base context.Context, delta usage.Delta) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), r.cfg.PushTimeout)
	defer cancel()

	_, err := r.remote.Push(ctx, delta)
	metrics.RecordReconcile(opPush, err)
	if err != nil {
		r.log.Debugw("Usage push dropped",
			"delta", delta,
			"error", err,
		)
	}
}

func (r *Reconciler) pull(ctx context.Context) {
	defer r.wg.Done()

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.PullTimeout)
	defer cancel()

	totals, err := r.remote.Fetch(fetchCtx)
	metrics.RecordReconcile(opPull, err)
	if err != nil {
		r.log.Debugw("Usage pull failed, keeping local totals", "error", err)
		return
	}

	if ctx.Err() != nil || r.isClosed() {
		metrics.RecordReconcileSkipped(opPull)
		return
	}

	if inc := r.agg.Adopt(totals.Counters); !inc.IsZero() {
		r.log.Debugw("Adopted server totals", "increment", inc)
	}
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
