package local

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/skillsenselab/voxpipe/audio"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/secrets"
	"github.com/skillsenselab/voxpipe/transcription"
)

// Kind is the factory key for the local engine provider.
const Kind = "local"

// sampleSource decodes media into model-ready samples. *audio.Decoder is the
// production implementation.
type sampleSource interface {
	Ready() error
	Decode(ctx context.Context, path string) ([]float32, error)
}

// Provider runs transcriptions against an in-process model.
type Provider struct {
	cfg     transcription.ProviderConfig
	loader  EngineLoader
	decoder sampleSource
	log     *logger.Logger

	// loadMu guards the lazy model load; racing callers wait for the one
	// load instead of duplicating it.
	loadMu  sync.Mutex
	engine  Engine
	loadErr error

	// runMu serializes inference. The queue's single lane already implies
	// this, but the model context is not safe for concurrent use, so the
	// adapter enforces it regardless of the caller.
	runMu sync.Mutex
}

// New creates a local provider. The model is not loaded until the first
// transcription.
func New(cfg transcription.ProviderConfig, loader EngineLoader, decoder sampleSource) *Provider {
	return &Provider{
		cfg:     cfg,
		loader:  loader,
		decoder: decoder,
		log:     logger.WithComponent("local-provider"),
	}
}

// Factory returns the registry factory for local providers using the given
// engine loader.
func Factory(loader EngineLoader) transcription.Factory {
	return func(cfg transcription.ProviderConfig, _ secrets.Store) (transcription.Provider, error) {
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("local provider %q requires model_path", cfg.ID)
		}
		return New(cfg, loader, audio.NewDecoder()), nil
	}
}

// ID implements transcription.Provider.
func (p *Provider) ID() string { return p.cfg.ID }

// DisplayName implements transcription.Provider.
func (p *Provider) DisplayName() string {
	if p.cfg.DisplayName != "" {
		return p.cfg.DisplayName
	}
	return "Local Model"
}

// SupportedLanguages implements transcription.Provider. The local model
// detects languages itself.
func (p *Provider) SupportedLanguages() []string { return []string{"auto"} }

// Validate checks that the model file resolves and the audio decoder is
// usable. It never loads the model.
func (p *Provider) Validate(ctx context.Context) transcription.ValidationResult {
	var vr transcription.ValidationResult
	if p.cfg.ModelPath == "" {
		vr.Errors = append(vr.Errors, "no model path configured")
	} else if _, err := os.Stat(p.cfg.ModelPath); err != nil {
		vr.Errors = append(vr.Errors, fmt.Sprintf("model file not found: %s", p.cfg.ModelPath))
	}
	if err := p.decoder.Ready(); err != nil {
		vr.Errors = append(vr.Errors, err.Error())
	}
	vr.Valid = len(vr.Errors) == 0
	return vr
}

// Transcribe implements transcription.Provider. Every pipeline stage checks
// for cancellation before proceeding; cancellation during inference reaches
// the engine through the per-invocation abort flag.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request, onProgress transcription.ProgressFunc) (string, error) {
	report := newReporter(onProgress)
	defer report.close()

	if err := ctx.Err(); err != nil {
		return "", cancelled(p.cfg.ID, err)
	}

	engine, err := p.load()
	if err != nil {
		return "", transcription.WrapError(transcription.KindUnconfigured, p.cfg.ID, "model not loaded", err)
	}

	report.send(0, "preparing audio")
	samples, err := p.decoder.Decode(ctx, req.AudioPath)
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelled(p.cfg.ID, ctx.Err())
		}
		return "", transcription.WrapError(transcription.KindProcessingFailed, p.cfg.ID, "audio decode failed", err)
	}

	total := req.Duration
	if total <= 0 {
		total = audio.SampleDuration(samples)
	}

	if err := ctx.Err(); err != nil {
		return "", cancelled(p.cfg.ID, err)
	}

	abort := NewAbortFlag()
	defer abort.Release()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			abort.Set()
		case <-watchDone:
		}
	}()

	var segments []transcription.Segment
	onSegment := func(seg transcription.Segment) {
		segments = append(segments, seg)
		report.send(progressFraction(seg.End, total), "transcribing")
	}

	report.send(0, "transcribing")

	p.runMu.Lock()
	runErr := engine.Process(samples, paramsFrom(req.Settings), abort, onSegment)
	p.runMu.Unlock()

	if abort.Aborted() || ctx.Err() != nil {
		return "", cancelled(p.cfg.ID, ctx.Err())
	}
	if runErr != nil {
		return "", transcription.WrapError(transcription.KindProcessingFailed, p.cfg.ID, "inference failed", runErr)
	}

	var sb []byte
	for _, seg := range segments {
		sb = append(sb, seg.Text...)
		sb = append(sb, ' ')
	}
	return transcription.CleanTranscript(string(sb)), nil
}

// Close releases the loaded model, if any.
func (p *Provider) Close() error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.engine == nil {
		return nil
	}
	err := p.engine.Close()
	p.engine = nil
	p.loadErr = nil
	return err
}

// load performs the lazy, single-flight model load. A failed load is cached;
// the registry rebuilds the provider when its configuration changes.
func (p *Provider) load() (Engine, error) {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.engine != nil || p.loadErr != nil {
		return p.engine, p.loadErr
	}

	start := time.Now()
	p.log.Info("loading model", logger.Fields("model_path", p.cfg.ModelPath))
	engine, err := p.loader(p.cfg.ModelPath)
	if err != nil {
		p.loadErr = err
		return nil, err
	}
	p.engine = engine
	p.log.Info("model loaded", logger.DurationFields("load", time.Since(start)))
	return engine, nil
}

func paramsFrom(s transcription.Settings) Params {
	params := Params{
		Language:      s.Language,
		Translate:     s.Translate,
		Temperature:   s.Temperature,
		InitialPrompt: s.InitialPrompt,
	}
	if s.BeamSearch && s.BeamWidth > 0 {
		params.BeamWidth = s.BeamWidth
	}
	return params
}

func progressFraction(end, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(end) / float64(total)
	if f > 1.0 {
		f = 1.0
	}
	return f
}

func cancelled(provider string, cause error) error {
	return transcription.WrapError(transcription.KindCancelled, provider, "transcription cancelled", cause)
}

// reporter delivers progress reports and guarantees none escape after the
// Transcribe call returns.
type reporter struct {
	mu       sync.Mutex
	closed   bool
	highest  float64
	callback transcription.ProgressFunc
}

func newReporter(cb transcription.ProgressFunc) *reporter {
	return &reporter{callback: cb}
}

func (r *reporter) send(fraction float64, status string) {
	if r.callback == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if fraction < r.highest {
		fraction = r.highest
	} else {
		r.highest = fraction
	}
	r.callback(transcription.Progress{Fraction: fraction, Status: status})
}

func (r *reporter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
