package server

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/relay"
)

// defaultCallerName is used when the voice webhook carries no caller name, so
// the agent always has something to address the caller by.
const defaultCallerName = "valued customer"

// twimlResponse is the answer document returned to the voice webhook,
// instructing the telephony provider to open a media stream back to us.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// handleVoice implements the POST /voice webhook. It answers with TwiML
// directing the provider to open a bidirectional media stream at /media,
// carrying the caller metadata through as query parameters.
func (h *HTTPServer) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Voice webhook with unparsable form", slog.String("error", err.Error()))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	callerName := r.FormValue("CallerName")
	callerPhone := r.FormValue("From")

	h.logger.Info("Voice webhook received",
		slog.String("call_sid", r.FormValue("CallSid")),
		slog.String("from", callerPhone),
	)

	streamURL := url.URL{
		Scheme: "wss",
		Host:   h.config.Server.PublicHost,
		Path:   "/media",
		RawQuery: url.Values{
			"caller_name":  {callerName},
			"caller_phone": {callerPhone},
		}.Encode(),
	}

	answer := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{URL: streamURL.String()},
		},
	}

	body, err := xml.Marshal(answer)
	if err != nil {
		h.logger.Error("Failed to build TwiML answer", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(xml.Header))
	w.Write(body)
}

// handleMedia implements the /media websocket endpoint. The accepting
// goroutine becomes the session's telephony read loop and returns only when
// the call ends.
func (h *HTTPServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Media websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	dynCtx := dynamicContextFromRequest(r)

	session, err := h.manager.StartSession(r.Context(), conn, dynCtx)
	if err != nil {
		// StartSession already closed the socket and logged the cause.
		h.logger.Warn("Failed to start call session", slog.String("error", err.Error()))
		return
	}

	session.RunTwilioLoop()
}

// dynamicContextFromRequest captures the caller metadata for the agent's
// dynamic variables. Date and time are computed at connection time; missing
// caller fields fall back to presentable defaults.
func dynamicContextFromRequest(r *http.Request) relay.DynamicContext {
	now := time.Now()

	query := r.URL.Query()
	callerName := query.Get("caller_name")
	if callerName == "" {
		callerName = defaultCallerName
	}

	return relay.DynamicContext{
		Date:        now.Format("Monday, January 2, 2006"),
		Time:        now.Format("3:04 PM"),
		CallerName:  callerName,
		CallerPhone: query.Get("caller_phone"),
	}
}
