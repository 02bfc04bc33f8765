package pricing

import (
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tokenmeter/pkg/errors"
)

func usd(input, output float64) Rate {
	return Rate{Input: decimal.NewFromFloat(input), Output: decimal.NewFromFloat(output)}
}

func ratePtr(r Rate) *Rate { return &r }

// DefaultTable is the built-in realtime pricing, USD per 1M tokens.
func DefaultTable() Table {
	return Table{
		Default: DefaultFamily,
		Rules: []Rule{
			{Prefix: "gpt-4o-realtime-preview", Family: FamilyRealtimePreview},
			{Prefix: "gpt-4o-mini-realtime-preview", Family: FamilyMiniRealtime},
			{Prefix: "gpt-realtime", Family: FamilyRealtime},
			{Prefix: "gpt-4.1", Family: FamilyGPT41},
		},
		Families: map[Family]FamilyRates{
			FamilyRealtime:        {Text: usd(4.0, 16.0), Audio: ratePtr(usd(32.0, 64.0))},
			FamilyRealtimePreview: {Text: usd(5.0, 20.0), Audio: ratePtr(usd(40.0, 80.0))},
			FamilyMiniRealtime:    {Text: usd(0.6, 2.4), Audio: ratePtr(usd(10.0, 20.0))},
			// text-only family; audio falls back to the default family
			FamilyGPT41: {Text: usd(5.0, 15.0)},
		},
	}
}

// DefaultResolver returns a resolver over DefaultTable.
func DefaultResolver() *Resolver {
	r, err := NewResolver(DefaultTable())
	if err != nil {
		panic("built-in pricing table is invalid: " + err.Error())
	}
	return r
}

type rateFile struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type familyFile struct {
	Text  rateFile  `yaml:"text"`
	Audio *rateFile `yaml:"audio"`
}

type tableFile struct {
	Default  string                `yaml:"default"`
	Rules    []ruleFile            `yaml:"rules"`
	Families map[string]familyFile `yaml:"families"`
}

type ruleFile struct {
	Prefix string `yaml:"prefix"`
	Family string `yaml:"family"`
}

// ParseTable decodes a YAML pricing table:
//
//	default: gpt-4o-realtime-preview
//	rules:
//	  - {prefix: gpt-4o-realtime-preview, family: gpt-4o-realtime-preview}
//	families:
//	  gpt-4o-realtime-preview:
//	    text:  {input: 5.0, output: 20.0}
//	    audio: {input: 40.0, output: 80.0}
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Table{}, errors.Wrap(err, "failed to decode pricing table")
	}

	t := Table{
		Default:  Family(f.Default),
		Families: make(map[Family]FamilyRates, len(f.Families)),
	}
	for _, rule := range f.Rules {
		t.Rules = append(t.Rules, Rule{Prefix: rule.Prefix, Family: Family(rule.Family)})
	}
	for name, fam := range f.Families {
		fr := FamilyRates{Text: usd(fam.Text.Input, fam.Text.Output)}
		if fam.Audio != nil {
			fr.Audio = ratePtr(usd(fam.Audio.Input, fam.Audio.Output))
		}
		t.Families[Family(name)] = fr
	}
	return t, nil
}

// LoadResolver builds a resolver from a YAML file, or the built-in table when path is empty.
func LoadResolver(path string) (*Resolver, error) {
	if path == "" {
		return DefaultResolver(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pricing table %s", path)
	}

	t, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	return NewResolver(t)
}
