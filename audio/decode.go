package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skillsenselab/voxpipe/process"
)

// ErrDecoderUnavailable is returned when the ffmpeg binary cannot be found.
var ErrDecoderUnavailable = fmt.Errorf("audio: ffmpeg not found in PATH")

// Decoder converts media files to model-ready PCM via ffmpeg and reads
// durations via ffprobe.
type Decoder struct {
	ffmpegBin  string
	ffprobeBin string
}

// NewDecoder creates a decoder using ffmpeg and ffprobe from PATH.
func NewDecoder() *Decoder {
	return &Decoder{ffmpegBin: "ffmpeg", ffprobeBin: "ffprobe"}
}

// Ready reports whether the decoder can run at all.
func (d *Decoder) Ready() error {
	if !process.Available(d.ffmpegBin) {
		return ErrDecoderUnavailable
	}
	return nil
}

// Decode converts the audio (or video) file at path into 16 kHz mono float32
// samples. Any container or codec ffmpeg understands is accepted; video
// streams are stripped.
func (d *Decoder) Decode(ctx context.Context, path string) ([]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio: source not found: %w", err)
	}

	// Files already in the model format skip ffmpeg entirely.
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if samples, err := readWavDirect(path); err == nil && len(samples) > 0 {
			return samples, nil
		}
	}

	if !process.Available(d.ffmpegBin) {
		return nil, ErrDecoderUnavailable
	}

	var pcm bytes.Buffer
	result, err := process.Run(ctx, process.Command{
		Binary: d.ffmpegBin,
		Args: []string{
			"-hide_banner", "-nostdin",
			"-i", path,
			"-vn",
			"-ac", strconv.Itoa(Channels),
			"-ar", strconv.Itoa(SampleRate),
			"-c:a", "pcm_s16le",
			"-f", "s16le",
			"-",
		},
		Stdout: &pcm,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reason := "unknown error"
		if result != nil {
			if tail := result.StderrTail(3); tail != "" {
				reason = tail
			}
		}
		return nil, fmt.Errorf("audio: decode failed: %s", reason)
	}

	samples := SamplesFromS16LE(pcm.Bytes())
	if len(samples) == 0 {
		return nil, fmt.Errorf("audio: no audio stream in %s", path)
	}
	return samples, nil
}

// Duration reads the media duration via ffprobe. Returns 0 (without error)
// when ffprobe is unavailable or cannot determine a duration, since callers
// only use it to scale progress.
func (d *Decoder) Duration(ctx context.Context, path string) (time.Duration, error) {
	if !process.Available(d.ffprobeBin) {
		return 0, nil
	}

	result, err := process.Run(ctx, process.Command{
		Binary: d.ffprobeBin,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, nil
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(result.Stdout)), 64)
	if err != nil || secs <= 0 {
		return 0, nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// SampleDuration returns the play time of a sample buffer at the model rate.
func SampleDuration(samples []float32) time.Duration {
	return time.Duration(float64(len(samples)) / float64(SampleRate) * float64(time.Second))
}
