// Package protocol defines the JSON wire messages of both socket peers: the
// Twilio Media Streams event vocabulary and the ElevenLabs Conversational AI
// event vocabulary. Inbound agent messages are classified into one normalized
// event kind before any relay logic runs.
package protocol
