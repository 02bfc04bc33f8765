package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/pkg/errors"
)

// Family is a named tier of rates shared by a group of model identifiers.
type Family string

const (
	FamilyRealtime          Family = "gpt-realtime"
	FamilyRealtimePreview   Family = "gpt-4o-realtime-preview"
	FamilyMiniRealtime      Family = "gpt-4o-mini-realtime-preview"
	FamilyGPT41             Family = "gpt-4.1"
	DefaultFamily                  = FamilyRealtimePreview
	DefaultModel                   = "gpt-4o-realtime-preview-2025-06-03"
	tokensPerMillion               = 1_000_000
)

// Rate is a pair of USD-per-million-token prices.
type Rate struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// Rates are the four prices of one family.
type Rates struct {
	Text  Rate
	Audio Rate
}

// For returns the price that applies to a usage category.
func (r Rates) For(cat usage.Category) decimal.Decimal {
	switch cat {
	case usage.InputText:
		return r.Text.Input
	case usage.OutputText:
		return r.Text.Output
	case usage.InputAudio:
		return r.Audio.Input
	case usage.OutputAudio:
		return r.Audio.Output
	}
	return decimal.Zero
}

// Rule maps every model starting with Prefix onto Family.
type Rule struct {
	Prefix string
	Family Family
}

// FamilyRates is a table entry. Audio is optional; families without audio
// pricing borrow the default family's audio rates.
type FamilyRates struct {
	Text  Rate
	Audio *Rate
}

// Table is the raw pricing configuration a Resolver is built from.
type Table struct {
	Default  Family
	Rules    []Rule
	Families map[Family]FamilyRates
}

// Resolver maps model identifiers to families and rates. It is immutable
// and safe for concurrent use.
type Resolver struct {
	def      Family
	rules    []Rule
	families map[Family]Rates
}

// NewResolver validates the table and orders its rules most-specific first.
func NewResolver(t Table) (*Resolver, error) {
	defRates, ok := t.Families[t.Default]
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "default family %q has no rates", t.Default)
	}
	if defRates.Audio == nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "default family %q has no audio rates", t.Default)
	}

	families := make(map[Family]Rates, len(t.Families))
	for name, fr := range t.Families {
		audio := *defRates.Audio
		if fr.Audio != nil {
			audio = *fr.Audio
		}
		families[name] = Rates{Text: fr.Text, Audio: audio}
	}

	rules := make([]Rule, 0, len(t.Rules))
	for _, rule := range t.Rules {
		prefix := normalize(rule.Prefix)
		if prefix == "" {
			return nil, errors.Wrap(errors.ErrInvalidInput, "pricing rule with empty prefix")
		}
		if _, ok := families[rule.Family]; !ok {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "rule %q points at unknown family %q", rule.Prefix, rule.Family)
		}
		rules = append(rules, Rule{Prefix: prefix, Family: rule.Family})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})

	return &Resolver{def: t.Default, rules: rules, families: families}, nil
}

// Family returns the pricing family of a model identifier.
func (r *Resolver) Family(model string) Family {
	m := normalize(model)
	for _, rule := range r.rules {
		if strings.HasPrefix(m, rule.Prefix) {
			return rule.Family
		}
	}
	return r.def
}

// Rates returns the rates of a family, falling back to the default family.
func (r *Resolver) Rates(f Family) Rates {
	if rates, ok := r.families[f]; ok {
		return rates
	}
	return r.families[r.def]
}

// Resolve is Family followed by Rates.
func (r *Resolver) Resolve(model string) (Family, Rates) {
	f := r.Family(model)
	return f, r.Rates(f)
}

// DefaultFamily returns the family used when nothing matches.
func (r *Resolver) DefaultFamily() Family {
	return r.def
}

// Cost is tokens / 1,000,000 * rate.
func Cost(tokens int64, rate decimal.Decimal) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Mul(rate).Div(decimal.NewFromInt(tokensPerMillion))
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
