package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"tokenmeter/pkg/errors"
)

const (
	DefaultEncoding  = "o200k_base"
	FallbackEncoding = "cl100k_base"
)

// bpe is the part of *tiktoken.Tiktoken the encoder uses
type bpe interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// Encoder counts tokens locally with tiktoken BPE tables.
// Encodings are resolved once per model and cached.
type Encoder struct {
	defaultEncoding  string
	fallbackEncoding string

	mu    sync.Mutex
	cache map[string]bpe

	forModel func(model string) (bpe, error)
	byName   func(name string) (bpe, error)
}

// NewEncoder creates an encoder. Empty names select DefaultEncoding and FallbackEncoding.
func NewEncoder(defaultEncoding, fallbackEncoding string) *Encoder {
	if defaultEncoding == "" {
		defaultEncoding = DefaultEncoding
	}
	if fallbackEncoding == "" {
		fallbackEncoding = FallbackEncoding
	}
	return &Encoder{
		defaultEncoding:  defaultEncoding,
		fallbackEncoding: fallbackEncoding,
		cache:            make(map[string]bpe),
		forModel: func(model string) (bpe, error) {
			return tiktoken.EncodingForModel(model)
		},
		byName: func(name string) (bpe, error) {
			return tiktoken.GetEncoding(name)
		},
	}
}

// CountTokens returns the BPE token count of text under model
func (e *Encoder) CountTokens(text, model string) (int, error) {
	enc, err := e.resolve(model)
	if err != nil {
		return 0, err
	}
	if text == "" {
		return 0, nil
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// resolve tries the model's own encoding, then the default, then the fallback
func (e *Encoder) resolve(model string) (bpe, error) {
	key := "model:" + model

	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.cache[key]; ok {
		return enc, nil
	}

	var (
		enc bpe
		err error
	)
	if model != "" {
		enc, err = e.forModel(model)
	}
	if enc == nil || err != nil {
		enc, err = e.byName(e.defaultEncoding)
	}
	if enc == nil || err != nil {
		enc, err = e.byName(e.fallbackEncoding)
	}
	if enc == nil || err != nil {
		if err == nil {
			err = errors.New("no encoding returned")
		}
		return nil, errors.Wrapf(errors.ErrTokenizer, "no encoding for model %q: %v", model, err)
	}

	e.cache[key] = enc
	return enc, nil
}
