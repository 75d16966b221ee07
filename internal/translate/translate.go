// Package translate fills translation units through a text-to-text backend,
// with deduplication, caching, batching and retries.
package translate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/segment"
)

// Backend translates texts into the target language, one output per input.
type Backend interface {
	Translate(ctx context.Context, texts []string, target string) ([]string, error)
}

// Fingerprinter is implemented by backends whose output depends on more
// than the target language. The fingerprint is part of every cache key.
type Fingerprinter interface {
	Fingerprint() string
}

const (
	DefaultMaxBatchUnits = 20
	DefaultMaxBatchChars = 4000
	DefaultConcurrency   = 3
	DefaultMaxRetries    = 3
	BaseRetryDelay       = 2 * time.Second
	MaxRetryDelay        = 30 * time.Second
)

// ProgressCallback receives the number of distinct texts finished so far.
type ProgressCallback func(completed, total int)

type Options struct {
	MaxBatchUnits int
	MaxBatchChars int
	Concurrency   int
	// MaxRetries is the number of repeated attempts after a failed call.
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	IgnoreCache bool
	Progress    ProgressCallback
}

func DefaultOptions() Options {
	return Options{
		MaxBatchUnits: DefaultMaxBatchUnits,
		MaxBatchChars: DefaultMaxBatchChars,
		Concurrency:   DefaultConcurrency,
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     BaseRetryDelay,
		MaxDelay:      MaxRetryDelay,
	}
}

// Stats counts the work of all TranslateBatch calls.
type Stats struct {
	Units        int `json:"units"`
	Unique       int `json:"unique"`
	CacheHits    int `json:"cache_hits"`
	Translated   int `json:"translated"`
	Fallbacks    int `json:"fallbacks"`
	Batches      int `json:"batches"`
	BackendCalls int `json:"backend_calls"`
}

// Failure records a unit left in its source language.
type Failure struct {
	UnitID string `json:"unit_id"`
	Page   int    `json:"page"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Orchestrator drives a Backend for many units at once.
type Orchestrator struct {
	backend Backend
	cache   *Cache
	opts    Options

	calls atomic.Int64

	mu       sync.Mutex
	stats    Stats
	failures []Failure
}

// NewOrchestrator creates an orchestrator. cache may be nil.
func NewOrchestrator(backend Backend, cache *Cache, opts Options) *Orchestrator {
	if opts.MaxBatchUnits <= 0 {
		opts.MaxBatchUnits = DefaultMaxBatchUnits
	}
	if opts.MaxBatchChars <= 0 {
		opts.MaxBatchChars = DefaultMaxBatchChars
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = BaseRetryDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = MaxRetryDelay
	}
	return &Orchestrator{backend: backend, cache: cache, opts: opts}
}

// TranslateBatch fills TranslatedText and Status of every unit. Identical
// source texts are translated once. A text the backend cannot translate
// after all retries keeps its source text with StatusFallback. The only
// error returned is the context's; the units are then partially filled.
func (o *Orchestrator) TranslateBatch(ctx context.Context, units []*segment.TranslationUnit, target string) ([]*segment.TranslationUnit, error) {
	if len(units) == 0 {
		return units, nil
	}
	start := time.Now()
	fp := ""
	if f, ok := o.backend.(Fingerprinter); ok {
		fp = f.Fingerprint()
	}

	groups := make(map[string][]*segment.TranslationUnit)
	var order []string
	for _, u := range units {
		if strings.TrimSpace(u.SourceText) == "" {
			continue
		}
		if _, ok := groups[u.SourceText]; !ok {
			order = append(order, u.SourceText)
		}
		groups[u.SourceText] = append(groups[u.SourceText], u)
	}

	cached := make(map[string]string)
	var misses []string
	for _, text := range order {
		if o.cache != nil && !o.opts.IgnoreCache {
			if v, ok := o.cache.Get(Key(target, fp, text)); ok {
				cached[text] = v
				continue
			}
		}
		misses = append(misses, text)
	}

	batches := MergeBatches(misses, o.opts.MaxBatchUnits, o.opts.MaxBatchChars)
	logger.Info("translating units",
		logger.Int("units", len(units)),
		logger.Int("unique", len(order)),
		logger.Int("cached", len(cached)),
		logger.Int("batches", len(batches)),
		logger.String("target", target))

	results := make(map[string]string, len(misses))
	failed := make(map[string]error)
	var mu sync.Mutex
	var done atomic.Int64
	callsBefore := o.calls.Load()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			out, errs := o.translateBatch(gctx, i, batch, target)
			mu.Lock()
			for k, text := range batch {
				if errs[k] != nil {
					failed[text] = errs[k]
				} else {
					results[text] = out[k]
				}
			}
			mu.Unlock()
			n := done.Add(int64(len(batch)))
			if o.opts.Progress != nil {
				o.opts.Progress(int(n), len(misses))
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return units, err
	}
	if err := ctx.Err(); err != nil {
		return units, err
	}

	stats := Stats{Units: len(units), Unique: len(order), Batches: len(batches)}
	var failures []Failure
	for _, text := range order {
		us := groups[text]
		if v, ok := cached[text]; ok {
			stats.CacheHits += len(us)
			for _, u := range us {
				u.TranslatedText, u.Status, u.Error = v, segment.StatusCached, ""
			}
			continue
		}
		if v, ok := results[text]; ok {
			if o.cache != nil {
				stored, err := o.cache.Put(Key(target, fp, text), text, v)
				if err != nil {
					logger.Warn("failed to store translation", logger.Err(err))
				}
				v = stored
			}
			stats.Translated += len(us)
			for _, u := range us {
				u.TranslatedText, u.Status, u.Error = v, segment.StatusTranslated, ""
			}
			continue
		}
		err := failed[text]
		stats.Fallbacks += len(us)
		for _, u := range us {
			u.TranslatedText, u.Status = u.SourceText, segment.StatusFallback
			u.Error = err.Error()
			failures = append(failures, Failure{UnitID: u.ID, Page: u.Page, Text: text, Error: u.Error})
		}
	}
	stats.BackendCalls = int(o.calls.Load() - callsBefore)

	o.mu.Lock()
	o.stats.Units += stats.Units
	o.stats.Unique += stats.Unique
	o.stats.CacheHits += stats.CacheHits
	o.stats.Translated += stats.Translated
	o.stats.Fallbacks += stats.Fallbacks
	o.stats.Batches += stats.Batches
	o.stats.BackendCalls += stats.BackendCalls
	o.failures = append(o.failures, failures...)
	o.mu.Unlock()

	logger.Info("translation completed",
		logger.Int("translated", stats.Translated),
		logger.Int("cacheHits", stats.CacheHits),
		logger.Int("fallbacks", stats.Fallbacks),
		logger.Int("backendCalls", stats.BackendCalls),
		logger.Duration("elapsed", time.Since(start)))
	return units, nil
}

// translateBatch translates one batch, falling back to one call per text
// when the batch as a whole fails.
func (o *Orchestrator) translateBatch(ctx context.Context, idx int, batch []string, target string) ([]string, []error) {
	out := make([]string, len(batch))
	errs := make([]error, len(batch))

	res, err := o.call(ctx, batch, target)
	if err == nil {
		copy(out, res)
		return out, errs
	}
	if ctx.Err() != nil || len(batch) == 1 {
		for i := range errs {
			errs[i] = err
		}
		return out, errs
	}

	logger.Warn("batch translation failed, falling back to single-text translation",
		logger.Int("batchIndex", idx),
		logger.Int("texts", len(batch)),
		logger.Err(err))
	for i, text := range batch {
		res, err := o.call(ctx, []string{text}, target)
		if err != nil {
			errs[i] = err
			if ctx.Err() != nil {
				for k := i + 1; k < len(batch); k++ {
					errs[k] = ctx.Err()
				}
				break
			}
			continue
		}
		out[i] = res[0]
	}
	return out, errs
}

// call runs one backend request with exponential backoff.
func (o *Orchestrator) call(ctx context.Context, texts []string, target string) ([]string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.BaseDelay
	b.MaxInterval = o.opts.MaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.opts.MaxRetries)), ctx)

	attempt := 0
	op := func() ([]string, error) {
		attempt++
		o.calls.Add(1)
		out, err := o.backend.Translate(ctx, texts, target)
		if err == nil {
			err = checkOutput(texts, out)
		}
		if err != nil {
			if !retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out, nil
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("translation attempt failed, retrying",
			logger.Int("texts", len(texts)),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err))
	}
	return backoff.RetryNotifyWithData(op, policy, notify)
}

func checkOutput(in, out []string) error {
	if len(out) != len(in) {
		return &MismatchError{Want: len(in), Got: len(out)}
	}
	for i := range out {
		if strings.TrimSpace(out[i]) == "" && strings.TrimSpace(in[i]) != "" {
			return ErrEmptyTranslation
		}
	}
	return nil
}

// Stats returns the accumulated counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Failures returns every unit that fell back to its source text.
func (o *Orchestrator) Failures() []Failure {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Failure(nil), o.failures...)
}
