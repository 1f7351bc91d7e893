// Package whispercpp implements the local inference engine on the whisper.cpp
// Go bindings. The ggml context is not safe for concurrent use; callers must
// serialize Process invocations, which transcription/local already does.
package whispercpp

import (
	"fmt"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/skillsenselab/voxpipe/transcription"
	"github.com/skillsenselab/voxpipe/transcription/local"
)

type engine struct {
	model whisper.Model
	ctx   whisper.Context
}

// Load opens a ggml model file and prepares an inference context. It is the
// production local.EngineLoader.
func Load(modelPath string) (local.Engine, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %s: %w", modelPath, err)
	}
	ctx, err := model.NewContext()
	if err != nil {
		_ = model.Close()
		return nil, fmt.Errorf("whispercpp: create context: %w", err)
	}
	return &engine{model: model, ctx: ctx}, nil
}

// Process runs inference over the samples, streaming segments as they decode.
// The abort flag is checked through the encoder-begin callback: returning
// false there stops the native loop before its next encode pass.
func (e *engine) Process(samples []float32, params local.Params, abort *local.AbortFlag, onSegment func(transcription.Segment)) error {
	if err := e.apply(params); err != nil {
		return err
	}

	encoderBegin := func() bool {
		return !abort.Aborted()
	}
	segmentCB := func(seg whisper.Segment) {
		onSegment(transcription.Segment{Text: seg.Text, End: seg.End})
	}

	if err := e.ctx.Process(samples, encoderBegin, segmentCB, nil); err != nil {
		if abort.Aborted() {
			return nil
		}
		return fmt.Errorf("whispercpp: process: %w", err)
	}
	return nil
}

func (e *engine) apply(params local.Params) error {
	lang := params.Language
	if lang == "" {
		lang = "auto"
	}
	if err := e.ctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("whispercpp: set language %q: %w", lang, err)
	}
	e.ctx.SetTranslate(params.Translate)
	if params.Temperature > 0 {
		e.ctx.SetTemperature(params.Temperature)
	}
	if params.BeamWidth > 0 {
		e.ctx.SetBeamSize(params.BeamWidth)
	}
	if params.InitialPrompt != "" {
		e.ctx.SetInitialPrompt(params.InitialPrompt)
	}
	return nil
}

// Close releases the model and its context.
func (e *engine) Close() error {
	return e.model.Close()
}
