// Package server hosts the service's HTTP surface: the telephony voice
// webhook that answers with media-stream TwiML, the websocket endpoint that
// accepts the resulting media streams, and the monitoring API (health, call
// listing, configuration, statistics and Prometheus metrics).
package server
