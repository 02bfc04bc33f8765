package meter

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/pricing"
	"tokenmeter/internal/tokenizer"
	"tokenmeter/pkg/logger"
)

// Observer is told about every counter change. It is called with the
// aggregator lock held, so calls arrive in mutation order and must not block
// or call back into the aggregator.
// adopted is the increment applied by Adopt, zero for every other change.
type Observer interface {
	CountersChanged(current, adopted usage.Counters)
}

// Totals is a derived view of the aggregator state
type Totals struct {
	Model  string
	Family pricing.Family
	usage.Counters

	InputTokens  int64
	OutputTokens int64

	InputTextCost   decimal.Decimal
	OutputTextCost  decimal.Decimal
	InputAudioCost  decimal.Decimal
	OutputAudioCost decimal.Decimal
	InputCost       decimal.Decimal
	OutputCost      decimal.Decimal
	TotalCost       decimal.Decimal
}

// Cost returns the cost of one bucket
func (t Totals) Cost(cat usage.Category) decimal.Decimal {
	switch cat {
	case usage.InputText:
		return t.InputTextCost
	case usage.OutputText:
		return t.OutputTextCost
	case usage.InputAudio:
		return t.InputAudioCost
	case usage.OutputAudio:
		return t.OutputAudioCost
	}
	return decimal.Zero
}

// Aggregator holds live per-category token counters for one session and
// prices them. Counters are kept per pricing family so each report is
// priced at its own model's rates.
type Aggregator struct {
	resolver *pricing.Resolver
	counter  tokenizer.Counter
	log      *logger.Logger

	mu       sync.Mutex
	model    string
	byFamily map[pricing.Family]usage.Counters
	observer Observer
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithModel sets the session model used when a call names none
func WithModel(model string) AggregatorOption {
	return func(a *Aggregator) {
		if strings.TrimSpace(model) != "" {
			a.model = model
		}
	}
}

// NewAggregator creates an aggregator. counter may be nil, in which case
// text is counted with tokenizer.Estimate.
func NewAggregator(resolver *pricing.Resolver, counter tokenizer.Counter, log *logger.Logger, opts ...AggregatorOption) *Aggregator {
	if resolver == nil {
		resolver = pricing.DefaultResolver()
	}
	if counter == nil {
		counter = tokenizer.EstimateCounter{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &Aggregator{
		resolver: resolver,
		counter:  counter,
		log:      log.Component("aggregator"),
		model:    pricing.DefaultModel,
		byFamily: make(map[pricing.Family]usage.Counters),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetObserver replaces the change observer; nil detaches it
func (a *Aggregator) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// SetModel changes the session model for subsequent calls
func (a *Aggregator) SetModel(model string) {
	if strings.TrimSpace(model) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
}

// Model returns the session model
func (a *Aggregator) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// AddInputText counts text typed by the user
func (a *Aggregator) AddInputText(ctx context.Context, text, modelOverride string) {
	a.addText(ctx, usage.InputText, text, modelOverride)
}

// AddOutputText counts text produced by the assistant
func (a *Aggregator) AddOutputText(ctx context.Context, text, modelOverride string) {
	a.addText(ctx, usage.OutputText, text, modelOverride)
}

// AddInputAudioTranscript counts the transcript of user speech as input audio
func (a *Aggregator) AddInputAudioTranscript(ctx context.Context, text, modelOverride string) {
	a.addText(ctx, usage.InputAudio, text, modelOverride)
}

// AddOutputAudioTranscript counts the transcript of assistant speech as output audio
func (a *Aggregator) AddOutputAudioTranscript(ctx context.Context, text, modelOverride string) {
	a.addText(ctx, usage.OutputAudio, text, modelOverride)
}

// AddOutputTextTokensDelta adds an already known output text count. n <= 0 is ignored.
func (a *Aggregator) AddOutputTextTokensDelta(n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(a.resolver.Family(a.model), usage.Counters{OutputTextTokens: n}, usage.Counters{})
}

// AddUsageFromResponse ingests one structured usage report
func (a *Aggregator) AddUsageFromResponse(u Usage, meta Meta) {
	inc := u.Counters()
	if inc.IsZero() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	model := meta.Model
	if strings.TrimSpace(model) == "" {
		model = a.model
	}
	a.addLocked(a.resolver.Family(model), inc, usage.Counters{})
}

// Reset zeroes every counter
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.byFamily = make(map[pricing.Family]usage.Counters)
	a.notifyLocked(usage.Counters{})
}

// Adopt raises each local counter to the server's value when the server's is
// larger and returns the increment it applied. Raised amounts are priced at
// the session model's rates.
func (a *Aggregator) Adopt(server usage.Counters) usage.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()

	local := a.sumLocked()
	inc := local.Max(server).Since(local).Counters()
	if inc.IsZero() {
		return inc
	}
	a.addLocked(a.resolver.Family(a.model), inc, inc)
	return inc
}

// Counters returns the family-independent sum of every counter
func (a *Aggregator) Counters() usage.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sumLocked()
}

// Totals recomputes token aggregates and costs from the current counters
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := Totals{
		Model:    a.model,
		Family:   a.resolver.Family(a.model),
		Counters: a.sumLocked(),
	}
	t.InputTokens = t.Counters.InputTokens()
	t.OutputTokens = t.Counters.OutputTokens()

	for family, c := range a.byFamily {
		rates := a.resolver.Rates(family)
		t.InputTextCost = t.InputTextCost.Add(pricing.Cost(c.InputTextTokens, rates.For(usage.InputText)))
		t.OutputTextCost = t.OutputTextCost.Add(pricing.Cost(c.OutputTextTokens, rates.For(usage.OutputText)))
		t.InputAudioCost = t.InputAudioCost.Add(pricing.Cost(c.InputAudioTokens, rates.For(usage.InputAudio)))
		t.OutputAudioCost = t.OutputAudioCost.Add(pricing.Cost(c.OutputAudioTokens, rates.For(usage.OutputAudio)))
	}
	t.InputCost = t.InputTextCost.Add(t.InputAudioCost)
	t.OutputCost = t.OutputTextCost.Add(t.OutputAudioCost)
	t.TotalCost = t.InputCost.Add(t.OutputCost)

	return t
}

// addText counts text outside the lock so slow tokenizer calls never block
// other mutations.
func (a *Aggregator) addText(ctx context.Context, cat usage.Category, text, modelOverride string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	model := modelOverride
	if strings.TrimSpace(model) == "" {
		model = a.Model()
	}

	n, err := a.counter.Count(ctx, text, model)
	if err != nil {
		a.log.Warnw("Token count failed, counter unchanged",
			"category", cat,
			"model", model,
			"error", err,
		)
		return
	}
	if n <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(a.resolver.Family(model), usage.Counters{}.With(cat, int64(n)), usage.Counters{})
}

func (a *Aggregator) addLocked(family pricing.Family, inc, adopted usage.Counters) {
	a.byFamily[family] = a.byFamily[family].Add(inc)
	a.notifyLocked(adopted)
}

func (a *Aggregator) notifyLocked(adopted usage.Counters) {
	if a.observer != nil {
		a.observer.CountersChanged(a.sumLocked(), adopted)
	}
}

func (a *Aggregator) sumLocked() usage.Counters {
	var sum usage.Counters
	for _, c := range a.byFamily {
		sum = sum.Add(c)
	}
	return sum
}
