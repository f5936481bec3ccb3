// Package relay implements the per-call media relay and pacing engine. Each
// session owns the Twilio media-stream socket and the agent socket for one
// call, gates caller audio until the agent confirms initialization, reframes
// agent audio into 20ms µ-law frames and paces them out at real playback
// speed.
package relay
