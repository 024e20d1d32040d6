// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler returns the handler for WebSocket upgrade requests. It
// validates that the request uses the GET method, upgrades the connection,
// and hands a new Client to the hub, which launches the pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		logger := logging.Ctx(r.Context())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, logging.ClientIP(r))
		if !hub.registerClient(client) {
			logger.Info().Msg("hub shutting down; rejecting connection")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RoomChat server is running!")
}

// TestPageHandler serves an HTML console for exercising the event protocol
// by hand: identify, switch rooms, send room and private messages.
func TestPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Debug().Err(err).Msg("error writing test page")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 12px;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 6px; }
        button {
            padding: 5px 12px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .row { margin: 6px 0; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RoomChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <input type="text" id="username" placeholder="Username">
        <button onclick="emit('identify', {username: val('username')})">Identify</button>
    </div>
    <div class="row">
        <input type="text" id="room" placeholder="Room" value="general">
        <button onclick="emit('join_room', {roomName: val('room')})">Join room</button>
        <button onclick="emit('get_rooms', null)">List rooms</button>
    </div>
    <div class="row">
        <input type="text" id="text" placeholder="Message">
        <button onclick="emit('send_message', {text: val('text'), room: val('room')})">Send</button>
    </div>
    <div class="row">
        <input type="text" id="to" placeholder="Recipient connection id">
        <button onclick="emit('private_message', {to: val('to'), text: val('text')})">Send private</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function val(id) { return document.getElementById(id).value.trim(); }

        function log(prefix, text) {
            const line = document.createElement('div');
            line.textContent = prefix + ' ' + text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                log('!!', 'not connected');
                return;
            }
            const frame = JSON.stringify({event: event, data: data});
            ws.send(frame);
            log('->', frame);
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { log('--', 'connected'); updateStatus(true); };
            ws.onmessage = function(event) { log('<-', event.data); };
            ws.onclose = function() { log('--', 'closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { log('!!', 'connection error'); updateStatus(false); };
        }
    </script>
</body>
</html>`
