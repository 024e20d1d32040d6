package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/coordinator"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

func TestOriginValidation(t *testing.T) {
	srv := testhelpers.NewChatServer(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, "https://chat.example.com")
	})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"test server origin", srv.HTTP.URL, true},
		{"configured origin", "https://chat.example.com", true},
		{"origin with different case", "HTTPS://CHAT.EXAMPLE.COM", true},
		{"unknown origin", "https://evil.example.com", false},
		{"scheme mismatch", "http://chat.example.com", false},
		{"missing origin", "", false},
		{"malformed origin", "not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(srv.WSURL(), header)
			if resp != nil && resp.Body != nil {
				defer func() { _ = resp.Body.Close() }()
			}
			if tt.allowed {
				if err != nil {
					t.Fatalf("Expected connection to succeed: %v", err)
				}
				_ = conn.Close()
				return
			}
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected connection to be rejected")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("Expected status %d, got %v", http.StatusForbidden, resp)
			}
		})
	}
}

func TestAllowAllOrigins(t *testing.T) {
	srv := testhelpers.NewChatServer(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})

	conn, err := testhelpers.ConnectWebSocket(srv.WSURL(), "https://anywhere.example.org")
	if err != nil {
		t.Fatalf("Expected wildcard origin to be accepted: %v", err)
	}
	_ = conn.Close()
}

func TestMessageSizeLimit(t *testing.T) {
	const limit int64 = 128
	srv := testhelpers.NewChatServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = limit
	})

	sender := srv.Connect(t)
	testhelpers.Identify(t, sender, "sender")
	receiver := srv.Connect(t)
	testhelpers.Identify(t, receiver, "receiver")

	oversized := strings.Repeat("A", int(limit)+10)
	testhelpers.SendEvent(t, sender, coordinator.EventSendMessage, map[string]string{"text": oversized})

	testhelpers.ExpectNoEvent(t, receiver, coordinator.EventMessageReceived, 300*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := testhelpers.ReadFrame(sender, time.Until(deadline)); err != nil {
			return
		}
	}
	t.Fatal("Expected connection closure after oversized frame")
}

func TestRateLimiting(t *testing.T) {
	// identify consumes one token, leaving two sends.
	rateCfg := server.RateLimitConfig{Burst: 3, RefillInterval: time.Minute}
	srv := testhelpers.NewChatServer(t, func(cfg *server.Config) {
		cfg.RateLimit = rateCfg
	})

	sender := srv.Connect(t)
	testhelpers.Identify(t, sender, "chatty")
	receiver := srv.Connect(t)
	testhelpers.Identify(t, receiver, "listener")

	for i := 0; i < 2; i++ {
		testhelpers.SendEvent(t, sender, coordinator.EventSendMessage, map[string]string{"text": "ok"})
		testhelpers.WaitForEvent(t, receiver, coordinator.EventMessageReceived, eventTimeout)
	}

	testhelpers.SendEvent(t, sender, coordinator.EventSendMessage, map[string]string{"text": "over-limit"})
	testhelpers.ExpectNoEvent(t, receiver, coordinator.EventMessageReceived, 300*time.Millisecond)
}
