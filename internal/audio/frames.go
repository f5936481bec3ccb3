package audio

import (
	"iter"
	"time"
)

// FrameInterval is the wall-clock playback duration of one frame.
const FrameInterval = 20 * time.Millisecond

// Frames slices a raw sample buffer into contiguous FrameBytes-sized frames.
// The final frame may be shorter when the buffer length is not a multiple of
// FrameBytes. The sequence is lazy, finite and restartable; frames alias the
// input buffer and are produced in playback order.
func Frames(buf []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for offset := 0; offset < len(buf); offset += FrameBytes {
			end := offset + FrameBytes
			if end > len(buf) {
				end = len(buf)
			}
			if !yield(buf[offset:end]) {
				return
			}
		}
	}
}

// FrameCount returns the number of frames Frames will produce for a buffer of
// the given length.
func FrameCount(length int) int {
	return (length + FrameBytes - 1) / FrameBytes
}
