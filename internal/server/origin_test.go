package server

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeOrigins(t *testing.T) {
	got, allowAll := normalizeOrigins([]string{" HTTP://Example.COM:8080 ", "", "nonsense", "https://chat.example.com/path"})
	if allowAll {
		t.Fatal("Expected allowAll to be false")
	}
	want := []string{"http://example.com:8080", "https://chat.example.com"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Origin %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if _, allowAll := normalizeOrigins([]string{"*"}); !allowAll {
		t.Error("Expected * to allow every origin")
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	SetConfig(cfg)

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://chat.example.com", true},
		{"https://CHAT.example.com", true},
		{"http://chat.example.com", false},
		{"https://other.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
