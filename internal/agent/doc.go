// Package agent implements the ElevenLabs Conversational AI client boundary.
// It obtains a short-lived signed connection URL via a one-shot HTTP request
// and dials the agent's realtime websocket with the narrowband output format
// selected.
package agent
