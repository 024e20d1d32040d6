package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// scanJSON decodes a JSON text column written by jsonValue.
func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported scan type for JSON column")
	}
}

func jsonValue(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// ReactionList is stored as a JSON array so it works on every driver.
type ReactionList []chat.Reaction

// Scan implements sql.Scanner.
func (l *ReactionList) Scan(value interface{}) error { return scanJSON(value, l) }

// Value implements driver.Valuer.
func (l ReactionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue([]chat.Reaction(l))
}

// GormDataType returns the column type hint.
func (ReactionList) GormDataType() string { return "text" }

// ReceiptList is stored as a JSON array so it works on every driver.
type ReceiptList []chat.ReadReceipt

// Scan implements sql.Scanner.
func (l *ReceiptList) Scan(value interface{}) error { return scanJSON(value, l) }

// Value implements driver.Valuer.
func (l ReceiptList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue([]chat.ReadReceipt(l))
}

// GormDataType returns the column type hint.
func (ReceiptList) GormDataType() string { return "text" }

// Attachment holds the optional file descriptor of a message.
type Attachment struct {
	File *chat.FileAttachment
}

// Scan implements sql.Scanner.
func (a *Attachment) Scan(value interface{}) error {
	var f chat.FileAttachment
	if value == nil {
		a.File = nil
		return nil
	}
	if s, ok := value.(string); ok && (s == "" || s == "null") {
		a.File = nil
		return nil
	}
	if b, ok := value.([]byte); ok && (len(b) == 0 || string(b) == "null") {
		a.File = nil
		return nil
	}
	if err := scanJSON(value, &f); err != nil {
		return err
	}
	a.File = &f
	return nil
}

// Value implements driver.Valuer.
func (a Attachment) Value() (driver.Value, error) {
	if a.File == nil {
		return nil, nil
	}
	return jsonValue(a.File)
}

// GormDataType returns the column type hint.
func (Attachment) GormDataType() string { return "text" }

// MessageModel is the messages table.
type MessageModel struct {
	ID                    int64       `gorm:"primaryKey;autoIncrement:false"`
	Text                  string      `gorm:"type:text;not null"`
	SenderUsername        string      `gorm:"type:varchar(64);not null"`
	SenderConnectionID    string      `gorm:"type:varchar(64);not null"`
	RecipientConnectionID string      `gorm:"type:varchar(64)"`
	Timestamp             time.Time   `gorm:"index;not null"`
	Room                  *string     `gorm:"type:varchar(100);index"`
	IsPrivate             bool        `gorm:"not null;default:false"`
	Reactions             ReactionList
	ReadBy                ReceiptList
	File                  Attachment
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string { return "messages" }

func messageToModel(m *chat.Message) *MessageModel {
	return &MessageModel{
		ID:                    m.ID,
		Text:                  m.Text,
		SenderUsername:        m.SenderUsername,
		SenderConnectionID:    m.SenderConnectionID,
		RecipientConnectionID: m.RecipientConnectionID,
		Timestamp:             m.Timestamp.UTC(),
		Room:                  m.Room,
		IsPrivate:             m.IsPrivate,
		Reactions:             ReactionList(m.Reactions),
		ReadBy:                ReceiptList(m.ReadBy),
		File:                  Attachment{File: m.File},
	}
}

// ToDomain converts the row back into a chat message.
func (m *MessageModel) ToDomain() *chat.Message {
	msg := &chat.Message{
		ID:                    m.ID,
		Text:                  m.Text,
		SenderUsername:        m.SenderUsername,
		SenderConnectionID:    m.SenderConnectionID,
		RecipientConnectionID: m.RecipientConnectionID,
		Timestamp:             m.Timestamp,
		Room:                  m.Room,
		IsPrivate:             m.IsPrivate,
		Reactions:             []chat.Reaction(m.Reactions),
		ReadBy:                []chat.ReadReceipt(m.ReadBy),
		File:                  m.File.File,
	}
	return msg.Clone()
}

// RoomModel is the rooms table.
type RoomModel struct {
	Name         string    `gorm:"type:varchar(100);primaryKey"`
	Description  string    `gorm:"type:text"`
	MessageCount int64     `gorm:"not null;default:0"`
	LastActivity time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string { return "rooms" }

// ToDomain converts the row into a room summary.
func (r *RoomModel) ToDomain() chat.RoomSummary {
	return chat.RoomSummary{
		Name:         r.Name,
		Description:  r.Description,
		MessageCount: r.MessageCount,
		LastActivity: r.LastActivity,
	}
}

// ParticipantModel is the participants table.
type ParticipantModel struct {
	ConnectionID string    `gorm:"type:varchar(64);primaryKey"`
	Username     string    `gorm:"type:varchar(64);index;not null"`
	Online       bool      `gorm:"index;not null;default:true"`
	JoinedAt     time.Time `gorm:"not null"`
	LastSeen     time.Time
}

// TableName specifies the table name for ParticipantModel.
func (ParticipantModel) TableName() string { return "participants" }
