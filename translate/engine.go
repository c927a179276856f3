package translate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBackoff       = 500 * time.Millisecond
	defaultCallTimeout   = 10 * time.Second
	defaultDetectTimeout = 5 * time.Second
	fallbackLanguage     = "en"
)

var ErrAllProvidersFailed = errors.New("all translation providers failed")

// Translator is the contract the rest of the system depends on. Both Engine
// and Cached satisfy it.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

type Config struct {
	Providers     []Provider
	Detectors     []Detector
	Backoff       time.Duration
	CallTimeout   time.Duration
	DetectTimeout time.Duration
	Logger        *zerolog.Logger
}

// Engine tries an ordered list of providers per request and rotates on
// failure. The rotation cursor is sticky: after a success, subsequent
// requests start from the provider that last succeeded, so the engine
// converges on whichever provider is currently healthy.
type Engine struct {
	mx        sync.Mutex
	providers []Provider
	detectors []Detector
	cursor    int
	usage     map[string]int

	backoff       time.Duration
	callTimeout   time.Duration
	detectTimeout time.Duration
	logger        zerolog.Logger
}

func New(cfg Config) *Engine {
	e := &Engine{
		providers:     cfg.Providers,
		detectors:     cfg.Detectors,
		usage:         make(map[string]int),
		backoff:       cfg.Backoff,
		callTimeout:   cfg.CallTimeout,
		detectTimeout: cfg.DetectTimeout,
	}
	if e.backoff == 0 {
		e.backoff = defaultBackoff
	}
	if e.callTimeout == 0 {
		e.callTimeout = defaultCallTimeout
	}
	if e.detectTimeout == 0 {
		e.detectTimeout = defaultDetectTimeout
	}
	if cfg.Logger != nil {
		e.logger = cfg.Logger.With().Str("component", "translate").Logger()
	} else {
		e.logger = zerolog.Nop()
	}
	return e
}

// Translate makes exactly one pass over the provider list starting at the
// rotation cursor, waiting a fixed backoff between attempts. It fails only
// after every provider has been tried once; the cursor is left unchanged in
// that case. Callers must treat the error as "translation unavailable", not
// retry.
func (e *Engine) Translate(ctx context.Context, text, source, target string) (string, error) {
	n := len(e.providers)
	if n == 0 {
		return "", ErrAllProvidersFailed
	}

	e.mx.Lock()
	start := e.cursor
	e.mx.Unlock()

	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		idx := (start + attempt) % n
		p := e.providers[idx]

		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		out, err := p.Translate(cctx, text, source, target)
		cancel()
		if err == nil {
			e.mx.Lock()
			e.cursor = idx
			e.usage[p.Name()]++
			e.mx.Unlock()
			return out, nil
		}
		lastErr = err
		e.logger.Warn().
			Err(err).
			Str("provider", p.Name()).
			Int("attempt", attempt+1).
			Msg("provider failed, rotating")

		if attempt < n-1 {
			if err = e.wait(ctx); err != nil {
				return "", errors.Join(ErrAllProvidersFailed, err)
			}
		}
	}
	return "", errors.Join(ErrAllProvidersFailed, lastErr)
}

func (e *Engine) wait(ctx context.Context) error {
	t := time.NewTimer(e.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DetectLanguage tries the configured detectors in order and falls back to
// "en" when none succeeds. It never returns an error.
func (e *Engine) DetectLanguage(ctx context.Context, text string) string {
	for _, d := range e.detectors {
		cctx, cancel := context.WithTimeout(ctx, e.detectTimeout)
		lang, err := d.Detect(cctx, text)
		cancel()
		if err == nil && lang != "" {
			return lang
		}
		if err != nil {
			e.logger.Debug().Err(err).Str("detector", d.Name()).Msg("detection failed")
		}
	}
	return fallbackLanguage
}

// Stats is a point-in-time snapshot of provider rotation state, polled by
// status displays.
type Stats struct {
	CurrentProvider string         `json:"currentProvider"`
	Usage           map[string]int `json:"usage"`
	Providers       []string       `json:"providers"`
}

func (e *Engine) Stats() Stats {
	e.mx.Lock()
	defer e.mx.Unlock()

	s := Stats{
		Usage:     make(map[string]int, len(e.usage)),
		Providers: make([]string, 0, len(e.providers)),
	}
	for _, p := range e.providers {
		s.Providers = append(s.Providers, p.Name())
	}
	if len(e.providers) > 0 {
		s.CurrentProvider = e.providers[e.cursor].Name()
	}
	for name, count := range e.usage {
		s.Usage[name] = count
	}
	return s
}
