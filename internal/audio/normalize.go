package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Audio format constants for the Twilio media stream (8kHz mono µ-law).
const (
	// SampleRate is the fixed narrowband sample rate in Hz.
	SampleRate = 8000

	// FrameBytes is the size of one 20ms frame of 8-bit µ-law audio.
	FrameBytes = 160

	// formatMulaw is the WAV format tag for 8-bit µ-law encoded audio.
	formatMulaw = 7
)

// Sentinel errors for payloads that cannot be normalized. Callers drop the
// payload and continue; neither error is fatal to the session.
var (
	// ErrEmptyInput indicates an empty or absent audio payload.
	ErrEmptyInput = errors.New("empty audio payload")

	// ErrUnsupportedContainer indicates a container format whose samples
	// cannot be extracted as raw µ-law audio.
	ErrUnsupportedContainer = errors.New("unsupported audio container")
)

// Format describes the audio format declared by a parsed container.
type Format struct {
	Encoding      uint16 `json:"encoding"`
	Channels      uint16 `json:"channels"`
	SampleRate    uint32 `json:"sample_rate"`
	BitsPerSample uint16 `json:"bits_per_sample"`
}

// Normalize extracts raw µ-law samples from an audio payload.
//
// WAV containers are parsed chunk by chunk and the data chunk is returned
// unmodified together with the declared Format; a non-µ-law format tag fails
// with ErrUnsupportedContainer. MP3 and Ogg containers always fail with
// ErrUnsupportedContainer since no conversion is attempted. Any other payload
// is assumed to already be raw samples and is returned unchanged with a nil
// Format.
func Normalize(buf []byte) ([]byte, *Format, error) {
	if len(buf) == 0 {
		return nil, nil, ErrEmptyInput
	}

	switch {
	case isWAV(buf):
		return normalizeWAV(buf)
	case isMP3(buf):
		return nil, nil, fmt.Errorf("mp3 container: %w", ErrUnsupportedContainer)
	case isOgg(buf):
		return nil, nil, fmt.Errorf("ogg container: %w", ErrUnsupportedContainer)
	default:
		// Already raw µ-law samples.
		return buf, nil, nil
	}
}

// isWAV reports whether the buffer starts with a RIFF/WAVE signature.
func isWAV(buf []byte) bool {
	return len(buf) >= 12 &&
		bytes.Equal(buf[0:4], []byte("RIFF")) &&
		bytes.Equal(buf[8:12], []byte("WAVE"))
}

// isMP3 reports whether the buffer starts with an ID3 tag or an MPEG frame sync.
func isMP3(buf []byte) bool {
	if len(buf) >= 3 && bytes.Equal(buf[0:3], []byte("ID3")) {
		return true
	}
	return len(buf) >= 2 && buf[0] == 0xFF && buf[1]&0xE0 == 0xE0
}

// isOgg reports whether the buffer starts with an Ogg page signature.
func isOgg(buf []byte) bool {
	return len(buf) >= 4 && bytes.Equal(buf[0:4], []byte("OggS"))
}

// normalizeWAV walks the RIFF chunk list until both the fmt and data chunks
// have been seen. Chunk headers are a 4-byte identifier followed by a 4-byte
// little-endian size; chunks are word aligned, so an odd-sized chunk is
// followed by one pad byte.
func normalizeWAV(buf []byte) ([]byte, *Format, error) {
	var (
		format *Format
		data   []byte
		seen   bool
	)

	offset := 12 // Past "RIFF" + size + "WAVE"
	for offset+8 <= len(buf) {
		chunkID := string(buf[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(buf[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(buf) {
			return nil, nil, fmt.Errorf("truncated %q chunk (%d bytes declared, %d available): %w",
				chunkID, chunkSize, len(buf)-body, ErrUnsupportedContainer)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, nil, fmt.Errorf("fmt chunk too short (%d bytes): %w", chunkSize, ErrUnsupportedContainer)
			}
			format = &Format{
				Encoding:      binary.LittleEndian.Uint16(buf[body : body+2]),
				Channels:      binary.LittleEndian.Uint16(buf[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(buf[body+4 : body+8]),
				BitsPerSample: binary.LittleEndian.Uint16(buf[body+14 : body+16]),
			}
		case "data":
			data = buf[body : body+chunkSize]
			seen = true
		}

		if format != nil && seen {
			break
		}

		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++ // Word-alignment pad byte
		}
	}

	if format == nil || !seen {
		return nil, nil, fmt.Errorf("missing fmt or data chunk: %w", ErrUnsupportedContainer)
	}

	if format.Encoding != formatMulaw {
		return nil, nil, fmt.Errorf("format tag %d is not µ-law (%d): %w",
			format.Encoding, formatMulaw, ErrUnsupportedContainer)
	}

	// A sample rate or channel count mismatch is the caller's decision to log;
	// the bytes are still usable.
	return data, format, nil
}
