package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseTwilioStartEvent(t *testing.T) {
	raw := `{
		"event": "start",
		"sequenceNumber": "1",
		"start": {
			"streamSid": "MZ18ad3ab5a668481ce02b83e7395059f0",
			"callSid": "CA123",
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		},
		"streamSid": "MZ18ad3ab5a668481ce02b83e7395059f0"
	}`

	event, err := ParseTwilioEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseTwilioEvent failed: %v", err)
	}

	if event.Event != TwilioEventStart {
		t.Errorf("Expected event %q, got %q", TwilioEventStart, event.Event)
	}
	if event.Start == nil {
		t.Fatal("Expected start payload")
	}
	if event.Start.StreamSid != "MZ18ad3ab5a668481ce02b83e7395059f0" {
		t.Errorf("Unexpected streamSid %q", event.Start.StreamSid)
	}
	if event.Start.MediaFormat.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", event.Start.MediaFormat.SampleRate)
	}
	if event.Start.MediaFormat.Encoding != "audio/x-mulaw" {
		t.Errorf("Unexpected encoding %q", event.Start.MediaFormat.Encoding)
	}
}

func TestParseTwilioMediaEvent(t *testing.T) {
	samples := []byte{0x7F, 0x80, 0x00, 0xFF}
	raw := `{"event": "media", "streamSid": "MZ1", "media": {"payload": "` +
		base64.StdEncoding.EncodeToString(samples) + `"}}`

	event, err := ParseTwilioEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseTwilioEvent failed: %v", err)
	}
	if event.Media == nil {
		t.Fatal("Expected media payload")
	}

	decoded, err := event.Media.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Errorf("Expected %d bytes, got %d", len(samples), len(decoded))
	}
}

func TestParseTwilioMalformed(t *testing.T) {
	if _, err := ParseTwilioEvent([]byte("not json")); err == nil {
		t.Error("Expected error for malformed message")
	}
}

func TestDecodePayloadInvalidBase64(t *testing.T) {
	payload := &MediaPayload{Payload: "!!!not-base64!!!"}
	if _, err := payload.DecodePayload(); err == nil {
		t.Error("Expected error for invalid base64 payload")
	}
}

func TestNewMediaMessage(t *testing.T) {
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = byte(i)
	}

	msg := NewMediaMessage("CA123", frame)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// The wire format is externally fixed; check exact field names.
	for _, field := range []string{`"event":"media"`, `"streamSid":"CA123"`, `"payload":`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("Expected %s in %s", field, data)
		}
	}

	decoded, err := msg.Media.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if len(decoded) != 160 {
		t.Errorf("Expected 160-byte frame, got %d", len(decoded))
	}
}

func TestNewClearMessage(t *testing.T) {
	data, err := json.Marshal(NewClearMessage("CA123"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	expected := `{"event":"clear","streamSid":"CA123"}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, data)
	}
}
