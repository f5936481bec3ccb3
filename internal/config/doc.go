// Package config provides configuration loading and validation for the
// Twilio/ElevenLabs voice bridge. It handles YAML-based configuration with
// struct validation for the HTTP server, agent provider credentials, audio
// pacing parameters and logging.
package config
