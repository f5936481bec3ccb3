package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Twilio Media Streams event discriminator values.
const (
	TwilioEventStart = "start"
	TwilioEventMedia = "media"
	TwilioEventStop  = "stop"
	TwilioEventClear = "clear"
)

// TwilioEvent is the envelope of every Twilio Media Streams message, keyed by
// the "event" discriminator field. Field names are fixed by the provider.
type TwilioEvent struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// StartPayload carries session addressing and the negotiated media format.
type StartPayload struct {
	StreamSid   string      `json:"streamSid"`
	CallSid     string      `json:"callSid,omitempty"`
	AccountSid  string      `json:"accountSid,omitempty"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat describes the audio encoding negotiated for the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64-encoded chunk of µ-law audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// ParseTwilioEvent decodes an inbound Twilio message. A failure here is a
// MalformedMessage: the caller logs and ignores it, the session continues.
func ParseTwilioEvent(data []byte) (*TwilioEvent, error) {
	var event TwilioEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("malformed twilio message: %w", err)
	}
	return &event, nil
}

// DecodePayload returns the raw audio bytes of a media event.
func (m *MediaPayload) DecodePayload() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("malformed media payload: %w", err)
	}
	return raw, nil
}

// NewMediaMessage builds one outbound media-delivery message addressed to the
// given stream, carrying a single frame of agent audio.
func NewMediaMessage(streamSid string, frame []byte) *TwilioEvent {
	return &TwilioEvent{
		Event:     TwilioEventMedia,
		StreamSid: streamSid,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(frame),
		},
	}
}

// NewClearMessage builds the instruction that discards Twilio's buffered
// playback for the given stream (caller barge-in).
func NewClearMessage(streamSid string) *TwilioEvent {
	return &TwilioEvent{
		Event:     TwilioEventClear,
		StreamSid: streamSid,
	}
}
