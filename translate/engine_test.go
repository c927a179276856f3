package translate

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubProvider struct {
	name  string
	fail  bool
	out   string
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Translate(_ context.Context, text, _, _ string) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New(s.name + " is down")
	}
	if s.out != "" {
		return s.out, nil
	}
	return "[" + s.name + "]" + text, nil
}

type stubDetector struct {
	name string
	lang string
	err  error
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(context.Context, string) (string, error) {
	return s.lang, s.err
}

func newTestEngine(providers ...Provider) *Engine {
	return New(Config{
		Providers: providers,
		Backoff:   time.Millisecond,
	})
}

func TestTranslateFallsBackAndSticks(t *testing.T) {
	a := &stubProvider{name: "A", fail: true}
	b := &stubProvider{name: "B", out: "xin chào"}
	e := newTestEngine(a, b)

	out, err := e.Translate(context.Background(), "hi", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "xin chào" {
		t.Errorf("expected B's result, got %q", out)
	}

	stats := e.Stats()
	if stats.CurrentProvider != "B" {
		t.Errorf("expected cursor on B, got %s", stats.CurrentProvider)
	}
	if stats.Usage["B"] != 1 {
		t.Errorf("expected usage B=1, got %d", stats.Usage["B"])
	}
	if stats.Usage["A"] != 0 {
		t.Errorf("expected usage A=0, got %d", stats.Usage["A"])
	}

	// next request must start from B, not retry A
	if _, err = e.Translate(context.Background(), "hello", "en", "vi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.calls != 1 {
		t.Errorf("expected A untouched on second request, got %d calls", a.calls)
	}
	if b.calls != 2 {
		t.Errorf("expected B to serve second request, got %d calls", b.calls)
	}
}

func TestTranslateExhaustionKeepsCursor(t *testing.T) {
	a := &stubProvider{name: "A", fail: true}
	b := &stubProvider{name: "B", fail: true}
	c := &stubProvider{name: "C", fail: true}
	e := newTestEngine(a, b, c)

	before := e.Stats().CurrentProvider

	_, err := e.Translate(context.Background(), "hi", "en", "vi")
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("expected one pass over providers, got %d/%d/%d", a.calls, b.calls, c.calls)
	}
	if got := e.Stats().CurrentProvider; got != before {
		t.Errorf("cursor moved on total failure: %s -> %s", before, got)
	}
}

func TestTranslateEachProviderTriedOnce(t *testing.T) {
	// success on the last provider after wrapping around the cursor
	a := &stubProvider{name: "A"}
	b := &stubProvider{name: "B", fail: true}
	c := &stubProvider{name: "C", fail: true}
	e := newTestEngine(a, b, c)

	// park the cursor on B
	e.mx.Lock()
	e.cursor = 1
	e.mx.Unlock()

	out, err := e.Translate(context.Background(), "hi", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "[A]hi" {
		t.Errorf("expected wraparound to A, got %q", out)
	}
	if got := e.Stats().CurrentProvider; got != "A" {
		t.Errorf("expected cursor on A, got %s", got)
	}
}

func TestTranslateNoProviders(t *testing.T) {
	e := newTestEngine()
	if _, err := e.Translate(context.Background(), "hi", "en", "vi"); !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestTranslateContextCanceledDuringBackoff(t *testing.T) {
	a := &stubProvider{name: "A", fail: true}
	b := &stubProvider{name: "B"}
	e := New(Config{
		Providers: []Provider{a, b},
		Backoff:   time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := e.Translate(ctx, "hi", "en", "vi")
	if !errors.Is(err, ErrAllProvidersFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected exhaustion joined with cancellation, got %v", err)
	}
	if b.calls != 0 {
		t.Errorf("expected B not to be tried after cancellation, got %d calls", b.calls)
	}
}

func TestStatsDoesNotMutate(t *testing.T) {
	a := &stubProvider{name: "A"}
	e := newTestEngine(a)

	if _, err := e.Translate(context.Background(), "hi", "en", "vi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1 := e.Stats()
	s1.Usage["A"] = 99

	s2 := e.Stats()
	if s2.Usage["A"] != 1 {
		t.Errorf("stats snapshot leaked internal state: %d", s2.Usage["A"])
	}
}

func TestDetectLanguageFallback(t *testing.T) {
	tests := []struct {
		name      string
		detectors []Detector
		want      string
	}{
		{
			name:      "primary succeeds",
			detectors: []Detector{&stubDetector{name: "P", lang: "vi"}},
			want:      "vi",
		},
		{
			name: "secondary succeeds",
			detectors: []Detector{
				&stubDetector{name: "P", err: errors.New("down")},
				&stubDetector{name: "S", lang: "fr"},
			},
			want: "fr",
		},
		{
			name: "all fail",
			detectors: []Detector{
				&stubDetector{name: "P", err: errors.New("down")},
				&stubDetector{name: "S", err: errors.New("down")},
			},
			want: "en",
		},
		{
			name: "no detectors",
			want: "en",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Config{Detectors: tt.detectors, Backoff: time.Millisecond})
			if got := e.DetectLanguage(context.Background(), "bonjour"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
