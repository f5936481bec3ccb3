// Package audio handles audio container normalization and frame packetizing.
// It strips WAV containers from µ-law payloads, rejects container formats that
// cannot be forwarded as raw narrowband audio, and slices raw sample buffers
// into fixed 20ms frames for paced delivery.
package audio
