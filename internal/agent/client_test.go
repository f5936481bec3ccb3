package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestClient(t *testing.T, apiURL string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		APIURL:      apiURL,
		AgentID:     "agent_123",
		APIKey:      "xi-secret",
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing url", Config{AgentID: "a", APIKey: "k"}},
		{"missing agent id", Config{APIURL: "https://x", APIKey: "k"}},
		{"missing api key", Config{APIURL: "https://x", AgentID: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.config); err == nil {
				t.Error("Expected error for incomplete config")
			}
		})
	}
}

func TestSignedURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != signedURLPath {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("agent_id"); got != "agent_123" {
			t.Errorf("Expected agent_id agent_123, got %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "xi-secret" {
			t.Errorf("Expected xi-api-key header, got %q", got)
		}

		json.NewEncoder(w).Encode(map[string]string{
			"signed_url": "wss://agent.example.com/v1/convai/conversation?token=abc",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	signedURL, err := client.SignedURL(context.Background())
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}

	parsed, err := url.Parse(signedURL)
	if err != nil {
		t.Fatalf("Returned URL does not parse: %v", err)
	}
	if parsed.Query().Get("output_format") != "ulaw_8000" {
		t.Errorf("Expected output_format=ulaw_8000 appended, got %q", signedURL)
	}
	if parsed.Query().Get("token") != "abc" {
		t.Error("Issued query parameters must be preserved")
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.FailedRequests != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestSignedURLUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.SignedURL(context.Background())
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected status in error, got %v", err)
	}

	if stats := client.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %+v", stats)
	}
}

func TestSignedURLEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	if _, err := client.SignedURL(context.Background()); err == nil {
		t.Error("Expected error for response without signed_url")
	}
}

func TestDial(t *testing.T) {
	upgrader := websocket.Upgrader{}

	// Websocket endpoint the signed URL points at.
	wsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("output_format"); got != "ulaw_8000" {
			t.Errorf("Expected output_format=ulaw_8000 on dial, got %q", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		conn.Close()
	}))
	defer wsServer.Close()

	wsURL := "ws" + strings.TrimPrefix(wsServer.URL, "http")

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"signed_url": wsURL + "?token=abc"})
	}))
	defer apiServer.Close()

	client := newTestClient(t, apiServer.URL)

	conn, err := client.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.Close()
}

func TestDialSignedURLFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	if _, err := client.Dial(context.Background()); err == nil {
		t.Error("Expected error when signed URL issuance fails")
	}
}
