package coordinator

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Inbound event names.
const (
	EventIdentify        = "identify"
	EventSendMessage     = "send_message"
	EventPrivateMessage  = "private_message"
	EventTyping          = "typing"
	EventAddReaction     = "add_reaction"
	EventMarkMessageRead = "mark_message_read"
	EventJoinRoom        = "join_room"
	EventGetRooms        = "get_rooms"
	EventDisconnect      = "disconnect"
)

// legacyEvents maps the names older browser clients still emit.
var legacyEvents = map[string]string{
	"user_join": EventIdentify,
}

// Outbound event names.
const (
	EventRosterSnapshot         = "roster_snapshot"
	EventParticipantJoined      = "participant_joined"
	EventParticipantLeft        = "participant_left"
	EventMessageReceived        = "message_received"
	EventPrivateMessageReceived = "private_message_received"
	EventTypingSnapshot         = "typing_snapshot"
	EventMessageUpdated         = "message_updated"
	EventRoomsSnapshot          = "rooms_snapshot"
	EventError                  = "error"
)

// Error codes carried by the error event.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeUploadFailed      = "UPLOAD_FAILED"
	CodeBadRequest        = "BAD_REQUEST"
	CodeInternal          = "INTERNAL_ERROR"
)

// Limits match the column widths of the durable schema.
const (
	maxRoomNameLength = 100
	maxUsernameLength = 64
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PresencePayload announces a participant joining or leaving.
type PresencePayload struct {
	Username     string `json:"username"`
	ConnectionID string `json:"id"`
}

type identifyRequest struct {
	Username string `json:"username"`
}

type sendMessageRequest struct {
	Text    string               `json:"text"`
	Message string               `json:"message"`
	Room    string               `json:"room"`
	File    *chat.FileAttachment `json:"file"`
}

func (r sendMessageRequest) body() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

type privateMessageRequest struct {
	To      string `json:"to"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (r privateMessageRequest) body() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

type reactionRequest struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type readRequest struct {
	MessageID int64 `json:"messageId"`
}

type joinRoomRequest struct {
	RoomName string `json:"roomName"`
}

// decodeUsername accepts a bare JSON string or {"username": ...}.
func decodeUsername(data json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var req identifyRequest
		if err2 := json.Unmarshal(data, &req); err2 != nil {
			return "", err
		}
		name = req.Username
	}
	return strings.TrimSpace(name), nil
}

// decodeTyping accepts a bare boolean or {"isTyping": ...}.
func decodeTyping(data json.RawMessage) (bool, error) {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		return v, nil
	}
	var req typingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return false, err
	}
	return req.IsTyping, nil
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// ErrorFrame encodes an error event for frames the transport rejects before
// they reach the coordinator.
func ErrorFrame(code, message string) []byte {
	data, err := encode(EventError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return nil
	}
	return data
}
