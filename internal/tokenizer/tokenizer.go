// Package tokenizer exposes named pretrained tokenizers behind one encode interface.
// Each tokenizer is loaded on first use and cached for the life of the process.
package tokenizer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lamim/pairforge/internal/config"
)

// ErrTokenizerUnavailable is returned when a tokenizer cannot be loaded.
// It is fatal to a run: validation against a partial tokenizer set is never attempted.
var ErrTokenizerUnavailable = errors.New("tokenizer unavailable")

// Encoder turns text into token ids for a named tokenizer
type Encoder interface {
	Encode(name, text string) ([]int, error)
	Names() []string
}

// EncodeFunc encodes text without special tokens
type EncodeFunc func(text string) ([]int, error)

// Loader builds an EncodeFunc; called at most once per tokenizer
type Loader func() (EncodeFunc, error)

// Options configures the real backends
type Options struct {
	HuggingFaceToken string
	CacheDir         string
}

type entry struct {
	name string
	load Loader
	once sync.Once
	fn   EncodeFunc
	err  error
}

// Registry holds the configured tokenizers in validation order
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// FromConfig registers one lazily-loaded tokenizer per config entry
func FromConfig(cfgs []config.TokenizerConfig, opts Options, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, tc := range cfgs {
		var load Loader
		switch tc.Backend {
		case config.BackendHuggingFace:
			load = huggingFaceLoader(tc.Repo, tc.Revision, opts)
		case config.BackendTiktoken:
			load = tiktokenLoader(tc.Encoding)
		default:
			return nil, fmt.Errorf("tokenizer %s: unknown backend %q", tc.Name, tc.Backend)
		}
		if err := r.Register(tc.Name, load); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tokenizer under name. Nothing is loaded until first use.
func (r *Registry) Register(name string, load Loader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tokenizer %s already registered", name)
	}
	r.entries[name] = &entry{name: name, load: load}
	r.order = append(r.order, name)
	return nil
}

// Names returns the registered tokenizer names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Encode returns the token ids for text under the named tokenizer
func (r *Registry) Encode(name, text string) ([]int, error) {
	e, err := r.get(name)
	if err != nil {
		return nil, err
	}
	ids, err := e.fn(text)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %s failed to encode: %w", name, err)
	}
	return ids, nil
}

// Preload loads every registered tokenizer, failing on the first that cannot be loaded
func (r *Registry) Preload() error {
	for _, name := range r.Names() {
		if _, err := r.get(name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) get(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrTokenizerUnavailable, name)
	}

	e.once.Do(func() {
		start := time.Now()
		e.fn, e.err = e.load()
		if e.err != nil {
			r.logger.Error("Failed to load tokenizer", "tokenizer", e.name, "error", e.err)
			return
		}
		r.logger.Info("Tokenizer loaded", "tokenizer", e.name, "duration", time.Since(start).Round(time.Millisecond))
	})

	if e.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTokenizerUnavailable, name, e.err)
	}
	return e, nil
}
