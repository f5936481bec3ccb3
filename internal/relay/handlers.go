package relay

import (
	"log/slog"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/audio"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/protocol"
)

// HandleTwilioMessage dispatches one inbound telephony message. Malformed
// messages are logged and ignored; the session continues.
func (s *Session) HandleTwilioMessage(data []byte) {
	s.touch()

	event, err := protocol.ParseTwilioEvent(data)
	if err != nil {
		s.metrics.RecordParseError("twilio")
		s.logger.Warn("Ignoring malformed telephony message", slog.String("error", err.Error()))
		return
	}

	s.metrics.RecordTwilioEvent(event.Event)

	switch event.Event {
	case protocol.TwilioEventStart:
		s.handleTwilioStart(event)
	case protocol.TwilioEventMedia:
		s.handleTwilioMedia(event)
	case protocol.TwilioEventStop:
		s.handleTwilioStop(event)
	default:
		s.logger.Debug("Ignoring telephony event", slog.String("event", event.Event))
	}
}

// handleTwilioStart captures the stream identifier and negotiated media
// format, then begins paced outbound delivery.
func (s *Session) handleTwilioStart(event *protocol.TwilioEvent) {
	if event.Start == nil {
		s.metrics.RecordParseError("twilio")
		s.logger.Warn("Start event without start payload")
		return
	}

	s.mu.Lock()
	s.streamSid = event.Start.StreamSid
	s.mu.Unlock()

	s.logger.Info("Telephony stream started",
		slog.String("stream_sid", event.Start.StreamSid),
		slog.String("call_sid", event.Start.CallSid),
		slog.String("encoding", event.Start.MediaFormat.Encoding),
		slog.Int("sample_rate", event.Start.MediaFormat.SampleRate),
		slog.Int("channels", event.Start.MediaFormat.Channels),
	)

	s.pacer.Start()
}

// handleTwilioMedia forwards one caller audio chunk to the agent. Chunks
// arriving before the readiness gate opens are dropped, not buffered: an
// agent that has not initialized would discard them anyway.
func (s *Session) handleTwilioMedia(event *protocol.TwilioEvent) {
	if event.Media == nil {
		s.metrics.RecordParseError("twilio")
		s.logger.Warn("Media event without media payload")
		return
	}

	if !s.gate.Ready() {
		s.mu.Lock()
		s.stats.CallerDropped++
		s.mu.Unlock()
		s.metrics.CallerChunksDropped.Inc()
		s.logger.Debug("Dropping caller audio, agent not ready")
		return
	}

	raw, err := event.Media.DecodePayload()
	if err != nil {
		s.metrics.RecordParseError("twilio")
		s.logger.Warn("Ignoring undecodable caller audio", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.stats.CallerChunks++
	s.stats.CallerBytes += uint64(len(raw))
	s.mu.Unlock()

	// The agent expects the same base64 µ-law encoding Twilio delivers, so
	// the validated payload is passed through unchanged.
	msg := &protocol.UserAudioChunk{UserAudioChunk: event.Media.Payload}
	if err := s.sendAgent(msg); err == nil {
		s.metrics.CallerChunksForwarded.Inc()
	}
}

// handleTwilioStop ends paced outbound delivery. The sockets stay open; the
// session closes when either socket does.
func (s *Session) handleTwilioStop(event *protocol.TwilioEvent) {
	s.logger.Info("Telephony stream stopped", slog.String("stream_sid", event.StreamSid))
	s.pacer.Stop()
}

// HandleAgentMessage dispatches one inbound agent message after normalizing
// its shape to a single event kind.
func (s *Session) HandleAgentMessage(data []byte) {
	s.touch()

	event, err := protocol.ParseAgentEvent(data)
	if err != nil {
		s.metrics.RecordParseError("agent")
		s.logger.Warn("Ignoring malformed agent message", slog.String("error", err.Error()))
		return
	}

	kind := event.Kind()
	s.metrics.RecordAgentEvent(kind.String())

	switch kind {
	case protocol.AgentEventReady:
		s.handleAgentReady(event)
	case protocol.AgentEventAudio:
		s.handleAgentAudio(event.Audio)
	case protocol.AgentEventInterruption:
		s.handleAgentInterruption()
	case protocol.AgentEventPing:
		s.handleAgentPing(event.Ping)
	default:
		s.logger.Debug("Ignoring agent event", slog.String("type", event.Type))
	}
}

// handleAgentReady opens the readiness gate on the agent's initialization
// confirmation, whichever shape it arrived in.
func (s *Session) handleAgentReady(event *protocol.AgentEvent) {
	if meta := event.InitiationMetadata; meta != nil {
		s.logger.Info("Agent confirmed initialization",
			slog.String("conversation_id", meta.ConversationID),
			slog.String("agent_output_format", meta.AgentOutputFormat),
			slog.String("user_input_format", meta.UserInputFormat),
		)
	} else {
		s.logger.Info("Agent confirmed initialization")
	}

	s.gate.MarkReady()
}

// handleAgentAudio normalizes one agent speech payload, slices it into frames
// and appends them to the outbound queue for the pacer to drain. Payloads
// that cannot be normalized are dropped; malformed bytes must never reach the
// caller.
func (s *Session) handleAgentAudio(audioEvent *protocol.AudioEvent) {
	raw, err := audioEvent.DecodeAudio()
	if err != nil {
		s.metrics.RecordParseError("agent")
		s.logger.Warn("Ignoring undecodable agent audio", slog.String("error", err.Error()))
		return
	}

	samples, format, err := audio.Normalize(raw)
	if err != nil {
		s.metrics.NormalizeFailures.Inc()
		s.logger.Warn("Dropping agent audio payload",
			slog.Int("payload_bytes", len(raw)),
			slog.String("error", err.Error()),
		)
		return
	}

	if format != nil && (format.SampleRate != audio.SampleRate || format.Channels != 1) {
		s.logger.Warn("Agent audio container declares unexpected format",
			slog.Uint64("sample_rate", uint64(format.SampleRate)),
			slog.Uint64("channels", uint64(format.Channels)),
		)
	}

	s.enqueueFrames(samples)
}

// handleAgentInterruption reacts to the agent discarding its in-flight
// response: Twilio's playback buffer is cleared and the session's own
// undelivered frames are flushed, so no stale audio plays after the caller
// barged in.
func (s *Session) handleAgentInterruption() {
	flushed := s.flushQueue()
	if flushed > 0 {
		s.metrics.FramesFlushed.Add(float64(flushed))
	}

	streamSid := s.StreamSid()
	if streamSid == "" {
		s.logger.Debug("Interruption before stream start, nothing to clear")
		return
	}

	s.logger.Info("Agent interruption, clearing playback",
		slog.String("stream_sid", streamSid),
		slog.Int("frames_flushed", flushed),
	)

	if err := s.sendTwilio(protocol.NewClearMessage(streamSid)); err != nil {
		s.logger.Warn("Failed to send clear instruction", slog.String("error", err.Error()))
	}
}

// handleAgentPing echoes the keepalive on the agent socket. The telephony
// side is not involved.
func (s *Session) handleAgentPing(ping *protocol.PingEvent) {
	if ping == nil {
		s.logger.Debug("Ping without ping payload")
		return
	}

	if err := s.sendAgent(protocol.NewPong(ping.EventID)); err != nil {
		s.logger.Warn("Failed to send pong", slog.String("error", err.Error()))
	}
}
