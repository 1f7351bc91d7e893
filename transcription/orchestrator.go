package transcription

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skillsenselab/voxpipe/logger"
)

const tracerName = "github.com/skillsenselab/voxpipe/transcription"

// TextImprover post-processes a successful transcript. Implementations return
// the improved text, or should let the caller keep the original on failure.
type TextImprover interface {
	Improve(ctx context.Context, text string) (string, error)
}

// Minimum transcript length before the improver is worth invoking.
const improveMinLength = 20

// Orchestrator drives one provider chain per job run: primary first, then
// fallbacks in order, first success wins, last error reported on exhaustion.
type Orchestrator struct {
	registry *Registry
	improver TextImprover
	log      *logger.Logger
}

// NewOrchestrator creates an orchestrator. improver may be nil.
func NewOrchestrator(registry *Registry, improver TextImprover) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		improver: improver,
		log:      logger.WithComponent("orchestrator"),
	}
}

// Run transcribes the request through the provider chain derived from its
// settings. Progress from the active provider is relayed to onProgress tagged
// with that provider's id; a final report of exactly 1.0 is delivered on
// success. The error on total failure is the classified error of the last
// attempted candidate.
func (o *Orchestrator) Run(ctx context.Context, req Request, onProgress ProgressFunc) (string, error) {
	chain := providerChain(req.Settings)
	if len(chain) == 0 {
		return "", NewError(KindUnconfigured, "", "no provider selected")
	}

	ctx, runSpan := otel.Tracer(tracerName).Start(ctx, "transcription.run",
		trace.WithAttributes(attribute.Int("candidates", len(chain))))
	defer runSpan.End()

	var lastErr error
	var highWater float64
	for _, id := range chain {
		if err := ctx.Err(); err != nil {
			return "", WrapError(KindCancelled, id, "transcription cancelled", err)
		}

		p, err := o.registry.Resolve(id)
		if err != nil {
			o.log.Warn("provider unavailable", logger.Fields(logger.FieldProvider, id, logger.FieldError, err.Error()))
			lastErr = err
			continue
		}

		if vr := p.Validate(ctx); !vr.Valid {
			o.log.Warn("provider failed validation, skipping",
				logger.Fields(logger.FieldProvider, id, "errors", strings.Join(vr.Errors, "; ")))
			lastErr = NewError(KindUnconfigured, id, validationMessage(vr))
			continue
		}

		start := time.Now()
		text, err := o.attempt(ctx, p, req, relay(id, &highWater, onProgress))
		if err != nil {
			if KindOf(err) == KindCancelled {
				return "", err
			}
			o.log.Warn("provider attempt failed",
				logger.Fields(logger.FieldProvider, id, logger.FieldError, err.Error()))
			lastErr = err
			continue
		}

		o.log.Info("transcription succeeded", logger.Fields(
			logger.FieldProvider, id,
			logger.FieldDuration, time.Since(start).Milliseconds(),
		))
		text = o.improve(ctx, text)
		if onProgress != nil {
			onProgress(Progress{Fraction: 1.0, Status: "done", Provider: id})
		}
		return text, nil
	}

	if lastErr != nil {
		runSpan.SetStatus(codes.Error, lastErr.Error())
	}
	return "", lastErr
}

// attempt runs one provider inside its own span so per-provider latency and
// failures show up individually in traces.
func (o *Orchestrator) attempt(ctx context.Context, p Provider, req Request, onProgress ProgressFunc) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "transcription.attempt",
		trace.WithAttributes(attribute.String("provider", p.ID())))
	defer span.End()

	text, err := p.Transcribe(ctx, req, onProgress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return "", err
	}
	return text, nil
}

// providerChain builds the attempt order: primary first, then fallbacks when
// enabled, in configured order, duplicates removed.
func providerChain(s Settings) []string {
	var chain []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			chain = append(chain, id)
		}
	}
	add(s.PrimaryProvider)
	if s.FallbackEnabled {
		for _, id := range s.FallbackProviders {
			add(id)
		}
	}
	return chain
}

// relay wraps onProgress to tag reports with the provider id and enforce
// monotonic fractions across the whole run, even when a fallback provider
// restarts its own reporting from zero.
func relay(id string, highWater *float64, onProgress ProgressFunc) ProgressFunc {
	if onProgress == nil {
		return nil
	}
	return func(p Progress) {
		if p.Fraction < *highWater {
			p.Fraction = *highWater
		} else {
			*highWater = p.Fraction
		}
		p.Provider = id
		onProgress(p)
	}
}

// improve runs the optional post-processing pass. Failures and trivial
// results keep the original text.
func (o *Orchestrator) improve(ctx context.Context, text string) string {
	if o.improver == nil || text == NoSpeechText || len(text) < improveMinLength {
		return text
	}
	improved, err := o.improver.Improve(ctx, text)
	if err != nil || strings.TrimSpace(improved) == "" {
		o.log.Warn("text improvement failed, keeping original", logger.Fields(logger.FieldError, errMessage(err)))
		return text
	}
	return improved
}

func errMessage(err error) string {
	if err == nil {
		return "empty result"
	}
	return err.Error()
}

func validationMessage(vr ValidationResult) string {
	if len(vr.Errors) > 0 {
		return strings.Join(vr.Errors, "; ")
	}
	return "provider validation failed"
}
