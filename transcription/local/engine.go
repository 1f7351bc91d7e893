// Package local adapts an in-process whisper-style inference engine to the
// transcription provider contract: lazy single model load, serialized runs,
// segment-driven progress, and cooperative abort across the blocking native
// call.
package local

import (
	"sync"
	"sync/atomic"

	"github.com/skillsenselab/voxpipe/transcription"
)

// Params are the decoding parameters handed to the engine for one run.
type Params struct {
	// Language code, or "auto" for detection.
	Language string
	// Translate requests translation to English.
	Translate bool
	// Temperature is the decoding temperature.
	Temperature float32
	// BeamWidth > 0 enables beam search with that width; 0 means greedy.
	BeamWidth int
	// InitialPrompt biases decoding.
	InitialPrompt string
}

// AbortFlag is the cancellation token that crosses into the blocking native
// call. The cancel path writes it, the native loop reads it between internal
// steps. Release must run exactly once on every exit path; the flag enforces
// that itself.
type AbortFlag struct {
	aborted  atomic.Bool
	released atomic.Bool
	once     sync.Once
}

// NewAbortFlag allocates a flag for one engine invocation.
func NewAbortFlag() *AbortFlag { return &AbortFlag{} }

// Set requests the running inference to stop at its next check point.
func (f *AbortFlag) Set() { f.aborted.Store(true) }

// Aborted reports whether cancellation was requested.
func (f *AbortFlag) Aborted() bool { return f.aborted.Load() }

// Release frees the flag. Safe to call multiple times; only the first has
// effect.
func (f *AbortFlag) Release() {
	f.once.Do(func() { f.released.Store(true) })
}

// Released reports whether Release has run.
func (f *AbortFlag) Released() bool { return f.released.Load() }

// Engine is the opaque inference capability: run the model over samples,
// stream segments as they decode, honor the abort flag between internal
// steps.
type Engine interface {
	Process(samples []float32, params Params, abort *AbortFlag, onSegment func(transcription.Segment)) error
	Close() error
}

// EngineLoader constructs an Engine from a model file. The whispercpp
// subpackage provides the production loader; tests substitute fakes.
type EngineLoader func(modelPath string) (Engine, error)
