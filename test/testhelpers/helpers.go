// Package testhelpers provides common utilities and helper functions for testing the RoomChat server.
//
// It assembles a complete in-process server (transient message store,
// coordinator, hub, routes) and offers frame helpers for driving the
// {event, data} protocol over real WebSocket connections.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/coordinator"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/upload"
)

// Frame is a decoded outbound frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", f.Event, string(f.Data), err)
	}
}

// ChatServer is a running in-process server.
type ChatServer struct {
	HTTP        *httptest.Server
	Hub         *server.Hub
	Coordinator *coordinator.Coordinator
	Store       *store.Fallback
	UploadDir   string
}

// WSURL returns the WebSocket endpoint URL.
func (s *ChatServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/ws"
}

// Connect dials the server with an allowed origin.
func (s *ChatServer) Connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(s.WSURL(), s.HTTP.URL)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// NewChatServer starts a server whose transport config is customized by
// customize. Everything is torn down with the test.
func NewChatServer(t *testing.T, customize func(cfg *server.Config)) *ChatServer {
	t.Helper()

	logger := logging.Nop()
	uploadDir := t.TempDir()
	storage, err := upload.NewLocalStorage(upload.LocalConfig{BasePath: uploadDir})
	if err != nil {
		t.Fatalf("Failed to create upload storage: %v", err)
	}
	uploads := upload.NewService(storage, upload.Config{})

	messages := store.NewFallback(nil, store.NewBuffer(store.DefaultBufferSize), 0, logger)
	hub := server.NewHub(logger)
	coord := coordinator.New(hub, coordinator.Options{
		Store:  messages,
		Files:  uploads,
		Logger: logger,
	})
	hub.Attach(coord)
	go hub.Run()

	handler := server.SetupRoutes(server.RouteDeps{
		Hub:          hub,
		Reader:       coord,
		Uploads:      uploads,
		UploadDir:    storage.BasePath(),
		UploadPrefix: storage.PublicPrefix(),
		Logger:       logger,
	})
	testServer := httptest.NewServer(handler)

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{testServer.URL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)

	t.Cleanup(func() {
		testServer.Close()
		_ = hub.Shutdown(2 * time.Second)
		server.SetConfig(nil)
	})

	return &ChatServer{
		HTTP:        testServer,
		Hub:         hub,
		Coordinator: coord,
		Store:       messages,
		UploadDir:   uploadDir,
	}
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to url announcing origin.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one {event, data} frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	frame := map[string]interface{}{"event": event, "data": data}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// ReadFrame reads the next frame, returning an error on timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	var f Frame
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return f, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(raw, &f)
	return f, err
}

// WaitForEvent reads frames until one named event arrives, skipping others.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s", event)
		}
		f, err := ReadFrame(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

// ExpectNoEvent fails if event arrives within timeout. Other frames are
// skipped.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		f, err := ReadFrame(conn, remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of %s: %v", event, err)
		}
		if f.Event == event {
			t.Fatalf("Expected no %s, got %s", event, string(f.Data))
		}
	}
}

// Identify sends identify and waits for the sender's own roster snapshot.
func Identify(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	SendEvent(t, conn, coordinator.EventIdentify, map[string]string{"username": username})
	WaitForEvent(t, conn, coordinator.EventRosterSnapshot, 2*time.Second)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
