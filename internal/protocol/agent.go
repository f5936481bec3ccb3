package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// AgentEventKind is the normalized classification of an inbound agent message.
type AgentEventKind int

const (
	AgentEventUnknown AgentEventKind = iota
	AgentEventReady
	AgentEventAudio
	AgentEventInterruption
	AgentEventPing
)

// String returns the kind name for logging.
func (k AgentEventKind) String() string {
	switch k {
	case AgentEventReady:
		return "ready"
	case AgentEventAudio:
		return "audio"
	case AgentEventInterruption:
		return "interruption"
	case AgentEventPing:
		return "ping"
	default:
		return "unknown"
	}
}

// initiationMetadataType is the agent's session-initialization confirmation.
// The provider has emitted it under more than one field-name variant, so the
// classifier below recognizes all of them as equivalent.
const initiationMetadataType = "conversation_initiation_metadata"

// AgentEvent is the envelope of every inbound agent message. The provider
// discriminates on "type" but has shipped the initiation confirmation under
// an "event" tag and as a bare metadata payload as well.
type AgentEvent struct {
	Type  string `json:"type,omitempty"`
	Event string `json:"event,omitempty"`

	InitiationMetadata *InitiationMetadata `json:"conversation_initiation_metadata_event,omitempty"`
	Audio              *AudioEvent         `json:"audio_event,omitempty"`
	Ping               *PingEvent          `json:"ping_event,omitempty"`
}

// InitiationMetadata reports the audio formats the agent negotiated.
type InitiationMetadata struct {
	ConversationID    string `json:"conversation_id,omitempty"`
	AgentOutputFormat string `json:"agent_output_audio_format,omitempty"`
	UserInputFormat   string `json:"user_input_audio_format,omitempty"`
}

// AudioEvent carries one base64-encoded chunk of synthesized agent speech.
type AudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int    `json:"event_id,omitempty"`
}

// DecodeAudio returns the raw audio bytes of an audio event.
func (a *AudioEvent) DecodeAudio() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(a.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("malformed agent audio payload: %w", err)
	}
	return raw, nil
}

// PingEvent carries the echo identifier of a keepalive.
type PingEvent struct {
	EventID int `json:"event_id"`
	PingMs  int `json:"ping_ms,omitempty"`
}

// ParseAgentEvent decodes an inbound agent message. A failure here is a
// MalformedMessage: the caller logs and ignores it, the session continues.
func ParseAgentEvent(data []byte) (*AgentEvent, error) {
	var event AgentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("malformed agent message: %w", err)
	}
	return &event, nil
}

// Kind resolves the message shape to one normalized event kind. Shapes are
// checked in a fixed order; the initiation confirmation is recognized under
// its type tag, its alternate event tag, or a metadata payload present
// directly on the envelope.
func (e *AgentEvent) Kind() AgentEventKind {
	switch {
	case e.Type == initiationMetadataType,
		e.Event == initiationMetadataType,
		e.InitiationMetadata != nil:
		return AgentEventReady
	case e.Type == "audio" && e.Audio != nil:
		return AgentEventAudio
	case e.Type == "interruption":
		return AgentEventInterruption
	case e.Type == "ping":
		return AgentEventPing
	default:
		return AgentEventUnknown
	}
}

// InitiationClientData is sent once when the agent socket opens, carrying the
// caller's dynamic context.
type InitiationClientData struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

// NewInitiationClientData builds the session-context message.
func NewInitiationClientData(variables map[string]string) *InitiationClientData {
	return &InitiationClientData{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: variables,
	}
}

// UserAudioChunk is the raw caller-audio message the agent expects.
type UserAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// Pong is the keepalive reply, echoing the ping's event identifier.
type Pong struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// NewPong builds the reply for a ping event.
func NewPong(eventID int) *Pong {
	return &Pong{Type: "pong", EventID: eventID}
}
