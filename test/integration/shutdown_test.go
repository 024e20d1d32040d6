package integration

import (
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

// TestGracefulShutdown verifies that an idle hub stops promptly.
func TestGracefulShutdown(t *testing.T) {
	hub := server.NewHub(logging.Nop())
	go hub.Run()

	time.Sleep(50 * time.Millisecond)

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

// TestGracefulShutdownWithClients verifies that active client connections
// are closed and their pumps exit during shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	srv := testhelpers.NewChatServer(t, nil)

	const numClients = 5
	for i := 0; i < numClients; i++ {
		conn := srv.Connect(t)
		testhelpers.Identify(t, conn, "user")
	}
	if got := srv.Hub.ClientCount(); got != numClients {
		t.Fatalf("Expected %d registered clients, got %d", numClients, got)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Hub.Shutdown(5 * time.Second) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown timeout exceeded")
	}

	if got := srv.Hub.ClientCount(); got != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", got)
	}
	if users := srv.Coordinator.Participants(); len(users) != 0 {
		t.Errorf("Expected empty roster after shutdown, got %d", len(users))
	}
}

// TestConnectAfterShutdown verifies that upgrades racing a shutdown are
// closed instead of hanging.
func TestConnectAfterShutdown(t *testing.T) {
	srv := testhelpers.NewChatServer(t, nil)
	if err := srv.Hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	conn, err := testhelpers.ConnectWebSocket(srv.WSURL(), srv.HTTP.URL)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	if _, err := testhelpers.ReadFrame(conn, time.Second); err == nil {
		t.Fatal("Expected the connection to be closed")
	}
}
