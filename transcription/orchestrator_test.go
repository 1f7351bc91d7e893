package transcription

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skillsenselab/voxpipe/secrets"
)

func newTestRegistry(t *testing.T, providers map[string]Provider) *Registry {
	t.Helper()
	src := mapConfigSource{}
	for id := range providers {
		src[id] = ProviderConfig{ID: id, Kind: id, Enabled: true, ModelPath: "/tmp/model.bin"}
	}
	reg := NewRegistry(src, secrets.NewMemStore())
	for id, p := range providers {
		p := p
		reg.RegisterFactory(id, func(cfg ProviderConfig, sec secrets.Store) (Provider, error) {
			return p, nil
		})
	}
	return reg
}

func settingsFor(primary string, fallbackEnabled bool, fallbacks ...string) Settings {
	return Settings{
		Language:          "auto",
		PrimaryProvider:   primary,
		FallbackEnabled:   fallbackEnabled,
		FallbackProviders: fallbacks,
	}
}

func TestOrchestratorPrimarySucceeds(t *testing.T) {
	primaryCalls, fallbackCalls := 0, 0
	reg := newTestRegistry(t, map[string]Provider{
		"local":  &stubProvider{id: "local", valid: true, text: "hello", calls: &primaryCalls},
		"openai": &stubProvider{id: "openai", valid: true, text: "never", calls: &fallbackCalls},
	})
	o := NewOrchestrator(reg, nil)

	text, err := o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("local", true, "openai")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("expected 'hello', got %q", text)
	}
	if primaryCalls != 1 || fallbackCalls != 0 {
		t.Errorf("expected first success to end the run, calls=%d/%d", primaryCalls, fallbackCalls)
	}
}

func TestOrchestratorFallsBackOnFailure(t *testing.T) {
	primaryCalls, fallbackCalls := 0, 0
	reg := newTestRegistry(t, map[string]Provider{
		"openai": &stubProvider{id: "openai", valid: true, calls: &primaryCalls,
			err: NewError(KindInvalidCredential, "openai", "bad key")},
		"local": &stubProvider{id: "local", valid: true, text: "hello world", calls: &fallbackCalls},
	})
	o := NewOrchestrator(reg, nil)

	text, err := o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("openai", true, "local")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("expected fallback text, got %q", text)
	}
	if primaryCalls != 1 || fallbackCalls != 1 {
		t.Errorf("expected exactly two providers attempted in order, calls=%d/%d", primaryCalls, fallbackCalls)
	}
}

func TestOrchestratorFallbackDisabled(t *testing.T) {
	fallbackCalls := 0
	reg := newTestRegistry(t, map[string]Provider{
		"openai": &stubProvider{id: "openai", valid: true,
			err: NewError(KindUnreachable, "openai", "connection refused")},
		"local": &stubProvider{id: "local", valid: true, text: "never", calls: &fallbackCalls},
	})
	o := NewOrchestrator(reg, nil)

	_, err := o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("openai", false, "local")}, nil)
	if KindOf(err) != KindUnreachable {
		t.Errorf("expected the primary's error, got %v", err)
	}
	if fallbackCalls != 0 {
		t.Error("fallback must not run when disabled")
	}
}

func TestOrchestratorLastErrorWins(t *testing.T) {
	reg := newTestRegistry(t, map[string]Provider{
		"a": &stubProvider{id: "a", valid: true, err: NewError(KindUnreachable, "a", "first failure")},
		"b": &stubProvider{id: "b", valid: true, err: NewError(KindQuotaExceeded, "b", "second failure")},
	})
	o := NewOrchestrator(reg, nil)

	_, err := o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("a", true, "b")}, nil)
	if KindOf(err) != KindQuotaExceeded {
		t.Errorf("expected the last attempted candidate's error, got %v", err)
	}
	if Message(err) != "second failure" {
		t.Errorf("expected 'second failure', got %q", Message(err))
	}
}

func TestOrchestratorSkipsInvalidProvider(t *testing.T) {
	invalidCalls := 0
	reg := newTestRegistry(t, map[string]Provider{
		"broken": &stubProvider{id: "broken", valid: false, calls: &invalidCalls},
		"local":  &stubProvider{id: "local", valid: true, text: "ok"},
	})
	o := NewOrchestrator(reg, nil)

	text, err := o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("broken", true, "local")}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Errorf("expected fallback after validation skip, got %q", text)
	}
	if invalidCalls != 0 {
		t.Error("invalid provider must be skipped without a transcription attempt")
	}
}

func TestOrchestratorDeduplicatesChain(t *testing.T) {
	calls := 0
	reg := newTestRegistry(t, map[string]Provider{
		"local": &stubProvider{id: "local", valid: true, calls: &calls,
			err: NewError(KindProcessingFailed, "local", "boom")},
	})
	o := NewOrchestrator(reg, nil)

	_, _ = o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("local", true, "local", "local")}, nil)
	if calls != 1 {
		t.Errorf("expected duplicate chain entries to collapse, got %d attempts", calls)
	}
}

func TestOrchestratorNoProviderSelected(t *testing.T) {
	reg := newTestRegistry(t, nil)
	o := NewOrchestrator(reg, nil)

	_, err := o.Run(context.Background(), Request{Settings: Settings{}}, nil)
	if KindOf(err) != KindUnconfigured {
		t.Errorf("expected unconfigured for empty chain, got %v", err)
	}
}

func TestOrchestratorProgressTaggedAndMonotonic(t *testing.T) {
	failing := &progressProvider{
		id:        "openai",
		fractions: []float64{0.2, 0.6},
		err:       NewError(KindUnreachable, "openai", "down"),
	}
	succeeding := &progressProvider{
		id:        "local",
		fractions: []float64{0.1, 0.9},
		text:      "done text",
	}
	reg := newTestRegistry(t, map[string]Provider{"openai": failing, "local": succeeding})
	o := NewOrchestrator(reg, nil)

	var reports []Progress
	_, err := o.Run(context.Background(),
		Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("openai", true, "local")},
		func(p Progress) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(reports) == 0 {
		t.Fatal("expected progress reports")
	}
	last := reports[len(reports)-1]
	if last.Fraction != 1.0 {
		t.Errorf("expected final fraction 1.0, got %f", last.Fraction)
	}
	if last.Provider != "local" {
		t.Errorf("expected final report tagged with succeeding provider, got %q", last.Provider)
	}

	prev := 0.0
	for i, p := range reports {
		if p.Fraction < prev {
			t.Errorf("report %d: fraction %f decreased below %f", i, p.Fraction, prev)
		}
		prev = p.Fraction
		if p.Provider == "" {
			t.Errorf("report %d: missing provider tag", i)
		}
	}
}

func TestOrchestratorCancelled(t *testing.T) {
	reg := newTestRegistry(t, map[string]Provider{
		"local": &stubProvider{id: "local", valid: true, text: "never"},
	})
	o := NewOrchestrator(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("local", false)}, nil)
	if KindOf(err) != KindCancelled {
		t.Errorf("expected cancelled, got %v", err)
	}
}

func TestOrchestratorImprover(t *testing.T) {
	longText := strings.Repeat("hello world ", 5)
	reg := newTestRegistry(t, map[string]Provider{
		"local": &stubProvider{id: "local", valid: true, text: longText},
	})

	t.Run("improves long results", func(t *testing.T) {
		o := NewOrchestrator(reg, improverFunc(func(ctx context.Context, text string) (string, error) {
			return "improved", nil
		}))
		text, err := o.Run(context.Background(),
			Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("local", false)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if text != "improved" {
			t.Errorf("expected improved text, got %q", text)
		}
	})

	t.Run("keeps original on improver failure", func(t *testing.T) {
		o := NewOrchestrator(reg, improverFunc(func(ctx context.Context, text string) (string, error) {
			return "", errors.New("llm down")
		}))
		text, err := o.Run(context.Background(),
			Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("local", false)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if text != longText {
			t.Errorf("expected original text kept, got %q", text)
		}
	})

	t.Run("skips sentinel", func(t *testing.T) {
		sentinelReg := newTestRegistry(t, map[string]Provider{
			"local": &stubProvider{id: "local", valid: true, text: NoSpeechText},
		})
		improved := false
		o := NewOrchestrator(sentinelReg, improverFunc(func(ctx context.Context, text string) (string, error) {
			improved = true
			return "should not happen", nil
		}))
		text, err := o.Run(context.Background(),
			Request{AudioPath: "/tmp/a.wav", Settings: settingsFor("local", false)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if improved {
			t.Error("improver must not run on the no-speech sentinel")
		}
		if text != NoSpeechText {
			t.Errorf("expected sentinel preserved, got %q", text)
		}
	})
}

type improverFunc func(ctx context.Context, text string) (string, error)

func (f improverFunc) Improve(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

type progressProvider struct {
	id        string
	fractions []float64
	text      string
	err       error
}

func (p *progressProvider) ID() string                   { return p.id }
func (p *progressProvider) DisplayName() string          { return p.id }
func (p *progressProvider) SupportedLanguages() []string { return []string{"auto"} }
func (p *progressProvider) Validate(context.Context) ValidationResult {
	return ValidationResult{Valid: true}
}

func (p *progressProvider) Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (string, error) {
	for _, f := range p.fractions {
		if onProgress != nil {
			onProgress(Progress{Fraction: f, Status: "working"})
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return p.text, nil
}
