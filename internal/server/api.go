package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

const defaultHistoryRoom = "general"

// ChatReader is the read side the HTTP API exposes.
type ChatReader interface {
	History(ctx context.Context, room string) ([]*chat.Message, error)
	Participants() []chat.OnlineEntry
	Rooms() []chat.RoomSummary
}

// MessagesHandler serves GET /api/messages?room=<name>.
func MessagesHandler(reader ChatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		room := strings.TrimSpace(r.URL.Query().Get("room"))
		if room == "" {
			room = defaultHistoryRoom
		}

		msgs, err := reader.History(r.Context(), room)
		if err != nil {
			logger := logging.Ctx(r.Context())
			logger.Error().Err(err).Str(logging.FieldRoom, room).Msg("history lookup failed")
			writeJSONError(w, http.StatusInternalServerError, "failed to load messages")
			return
		}
		if msgs == nil {
			msgs = []*chat.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// UsersHandler serves GET /api/users.
func UsersHandler(reader ChatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		users := reader.Participants()
		if users == nil {
			users = []chat.OnlineEntry{}
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// RoomsHandler serves GET /api/rooms.
func RoomsHandler(reader ChatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		rooms := reader.Rooms()
		if rooms == nil {
			rooms = []chat.RoomSummary{}
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
