// Package server wires HTTP handlers into a ServeMux for the RoomChat
// application via routing helpers.
package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// RouteDeps carries the collaborators the routes are bound to. Uploads and
// UploadDir are optional.
type RouteDeps struct {
	Hub     *Hub
	Reader  ChatReader
	Uploads http.Handler
	// UploadDir and UploadPrefix serve locally stored attachments.
	UploadDir    string
	UploadPrefix string
	Logger       zerolog.Logger
}

// SetupRoutes configures the application routes and wraps them in the
// request logging middleware.
func SetupRoutes(deps RouteDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(deps.Hub))
	mux.HandleFunc("/test", TestPageHandler)

	if deps.Reader != nil {
		mux.HandleFunc("/api/messages", MessagesHandler(deps.Reader))
		mux.HandleFunc("/api/users", UsersHandler(deps.Reader))
		mux.HandleFunc("/api/rooms", RoomsHandler(deps.Reader))
	}
	if deps.Uploads != nil {
		mux.Handle("/api/upload", deps.Uploads)
	}
	if deps.UploadDir != "" {
		prefix := "/" + strings.Trim(deps.UploadPrefix, "/") + "/"
		if prefix == "//" {
			prefix = "/uploads/"
		}
		mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(deps.UploadDir))))
	}

	return logging.HTTPMiddleware(deps.Logger)(mux)
}
