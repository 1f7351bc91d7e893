package transcription

import (
	"regexp"
	"strings"
	"time"
)

// NoSpeechText is the sentinel returned when a provider produces an empty or
// whitespace-only transcript.
const NoSpeechText = "No speech detected in the audio"

// Settings captures the decoding preferences for one job run. It is copied
// when the run starts, so later preference changes never affect an in-flight
// job.
type Settings struct {
	// Language is a language code such as "en", or "auto" for detection.
	Language string `json:"language" mapstructure:"language"`
	// Translate requests translation to English instead of transcription.
	Translate bool `json:"translate" mapstructure:"translate"`
	// ShowTimestamps includes per-segment timestamps in provider output
	// where the backend supports it.
	ShowTimestamps bool `json:"show_timestamps" mapstructure:"show_timestamps"`
	// Temperature is the decoding temperature.
	Temperature float32 `json:"temperature" mapstructure:"temperature"`
	// BeamSearch enables beam-search decoding; greedy when false.
	BeamSearch bool `json:"beam_search" mapstructure:"beam_search"`
	// BeamWidth is the beam size when BeamSearch is enabled.
	BeamWidth int `json:"beam_width" mapstructure:"beam_width"`
	// InitialPrompt biases decoding toward a vocabulary or style.
	InitialPrompt string `json:"initial_prompt" mapstructure:"initial_prompt"`

	// PrimaryProvider is the provider id tried first.
	PrimaryProvider string `json:"primary_provider" mapstructure:"primary_provider"`
	// FallbackEnabled permits trying FallbackProviders after the primary fails.
	FallbackEnabled bool `json:"fallback_enabled" mapstructure:"fallback_enabled"`
	// FallbackProviders are tried in order after the primary, duplicates skipped.
	FallbackProviders []string `json:"fallback_providers" mapstructure:"fallback_providers"`
}

// Request describes one transcription call.
type Request struct {
	// AudioPath is the source audio location. The file is not owned by the
	// pipeline.
	AudioPath string
	// Duration is the estimated audio duration, used to scale progress.
	// Zero means unknown.
	Duration time.Duration
	// Settings are the decoding preferences captured for this run.
	Settings Settings
}

// Segment is an incrementally available fragment of transcribed text. It only
// drives progress and text accumulation during a run and is not persisted.
type Segment struct {
	// Text is the transcribed fragment.
	Text string
	// End is the fragment's end timestamp within the audio.
	End time.Duration
}

// Progress is one progress report from a running provider.
type Progress struct {
	// Fraction is in [0,1] and non-decreasing within a run.
	Fraction float64
	// Status is a short human-readable phase description.
	Status string
	// Provider is the id of the provider that produced the report. Filled
	// by the orchestrator when relaying.
	Provider string
}

// ProgressFunc receives progress reports. Implementations must not block;
// they are called from the provider's run path.
type ProgressFunc func(Progress)

// ValidationResult reports whether a provider's configuration is usable.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Markers like [BLANK_AUDIO] or (music) that whisper-family models emit for
// non-speech audio.
var nonSpeechMarker = regexp.MustCompile(`(?i)[\[(](?:blank[ _]audio|music|noise|inaudible|silence|applause|laughter)[\])]`)

// CleanTranscript strips non-speech markers and surrounding whitespace, and
// substitutes the no-speech sentinel when nothing remains.
func CleanTranscript(text string) string {
	cleaned := nonSpeechMarker.ReplaceAllString(text, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return NoSpeechText
	}
	return cleaned
}
