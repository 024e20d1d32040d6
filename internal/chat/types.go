// Package chat defines the shared data model of the coordinator: participants,
// rooms, messages and the error taxonomy every component reports with.
package chat

import "time"

// DefaultRoom is the room every participant lands in after identifying.
const DefaultRoom = "general"

// Participant is a self-identified user bound to exactly one connection.
type Participant struct {
	ConnectionID string    `json:"id"`
	Username     string    `json:"username"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// OnlineEntry is one line of the roster snapshot.
type OnlineEntry struct {
	Username     string `json:"username"`
	ConnectionID string `json:"id"`
}

// RoomSummary is the externally visible part of a room.
type RoomSummary struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	MessageCount int64     `json:"messageCount"`
	LastActivity time.Time `json:"lastActivity"`
}

// RoomSeed describes a room created at startup.
type RoomSeed struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// DefaultRoomSeeds returns the rooms that exist before anyone references them.
func DefaultRoomSeeds() []RoomSeed {
	return []RoomSeed{
		{Name: "general", Description: "General discussion"},
		{Name: "random", Description: "Random chat"},
		{Name: "tech", Description: "Technology discussions"},
		{Name: "gaming", Description: "Gaming discussions"},
	}
}

// Reaction counts one emoji on a message. Emoji is unique within a message.
type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ReadReceipt records that a connection has read a message.
type ReadReceipt struct {
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username"`
	ReadAt       time.Time `json:"readAt"`
}

// FileAttachment is the descriptor produced by the upload service. The
// coordinator never looks at the bytes behind it.
type FileAttachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

// Message is a stored chat message. Room is nil for private messages.
type Message struct {
	ID                    int64           `json:"id"`
	Text                  string          `json:"text"`
	SenderUsername        string          `json:"senderUsername"`
	SenderConnectionID    string          `json:"senderConnectionId"`
	RecipientConnectionID string          `json:"recipientConnectionId,omitempty"`
	Timestamp             time.Time       `json:"timestamp"`
	Room                  *string         `json:"room"`
	IsPrivate             bool            `json:"isPrivate"`
	Reactions             []Reaction      `json:"reactions"`
	ReadBy                []ReadReceipt   `json:"readBy"`
	File                  *FileAttachment `json:"file,omitempty"`
}

// RoomName returns the room of a public message, or "" for a private one.
func (m *Message) RoomName() string {
	if m.Room == nil {
		return ""
	}
	return *m.Room
}

// Clone returns a deep copy so callers can hand messages across goroutines
// without sharing the reaction and receipt slices.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Room != nil {
		room := *m.Room
		c.Room = &room
	}
	c.Reactions = append(make([]Reaction, 0, len(m.Reactions)), m.Reactions...)
	c.ReadBy = append(make([]ReadReceipt, 0, len(m.ReadBy)), m.ReadBy...)
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	return &c
}

// HasReader reports whether connectionID already appears in ReadBy.
func (m *Message) HasReader(connectionID string) bool {
	for _, r := range m.ReadBy {
		if r.ConnectionID == connectionID {
			return true
		}
	}
	return false
}

// StringPtr is a small helper for the nullable room field.
func StringPtr(s string) *string {
	return &s
}
