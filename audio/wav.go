package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// errWavNotDirect reports a WAV file that needs ffmpeg after all: wrong rate,
// wrong channel count, or a codec other than 16-bit PCM.
var errWavNotDirect = errors.New("audio: wav needs resampling")

const wavPCMFormat = 1

// readWavDirect reads samples straight out of a RIFF/WAVE file when it is
// already in the model format. Anything else returns errWavNotDirect so the
// caller falls through to ffmpeg.
func readWavDirect(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, errWavNotDirect
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errWavNotDirect
	}

	var formatSeen bool
	for {
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return nil, errWavNotDirect
		}
		chunkID := string(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])

		switch chunkID {
		case "fmt ":
			var fmtChunk [16]byte
			if size < 16 {
				return nil, errWavNotDirect
			}
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return nil, errWavNotDirect
			}
			format := binary.LittleEndian.Uint16(fmtChunk[0:2])
			channels := binary.LittleEndian.Uint16(fmtChunk[2:4])
			rate := binary.LittleEndian.Uint32(fmtChunk[4:8])
			bits := binary.LittleEndian.Uint16(fmtChunk[14:16])
			if format != wavPCMFormat || int(channels) != Channels || int(rate) != SampleRate || bits != 16 {
				return nil, errWavNotDirect
			}
			formatSeen = true
			if skip := int64(size) - 16; skip > 0 {
				if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
					return nil, errWavNotDirect
				}
			}
		case "data":
			if !formatSeen {
				return nil, errWavNotDirect
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("audio: truncated wav data: %w", err)
			}
			return SamplesFromS16LE(data), nil
		default:
			// Chunks are word-aligned; odd sizes carry a pad byte.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, errWavNotDirect
			}
		}
	}
}
