package coordinator

import (
	"fmt"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// State is the lifecycle position of one connection.
type State int

const (
	StateAnonymous State = iota
	StateIdentified
	StateInRoom
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the coordinator's view of one connection. It is only touched
// while the coordinator lock is held.
type Session struct {
	ConnectionID string
	ConnectedAt  time.Time

	state    State
	username string
	room     string
}

func newSession(connectionID string, now time.Time) *Session {
	return &Session{ConnectionID: connectionID, ConnectedAt: now, state: StateAnonymous}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Username returns the self-asserted name, empty while anonymous.
func (s *Session) Username() string { return s.username }

// Room returns the current room, empty unless InRoom.
func (s *Session) Room() string { return s.room }

func invalid(s *Session, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", chat.ErrInvalidTransition, action, s.state)
}

// identify names the connection. A second identify renames in place.
func (s *Session) identify(username string) error {
	switch s.state {
	case StateAnonymous:
		s.state = StateIdentified
	case StateIdentified, StateInRoom:
	default:
		return invalid(s, "identify")
	}
	s.username = username
	return nil
}

func (s *Session) enter(room string) error {
	if s.state != StateIdentified && s.state != StateInRoom {
		return invalid(s, "join a room")
	}
	s.state = StateInRoom
	s.room = room
	return nil
}

func (s *Session) canSend() error {
	if s.state != StateInRoom {
		return invalid(s, "send a room message")
	}
	return nil
}

func (s *Session) canSendPrivate() error {
	if s.state != StateIdentified && s.state != StateInRoom {
		return invalid(s, "send a private message")
	}
	return nil
}

func (s *Session) isIdentified() bool {
	return s.state == StateIdentified || s.state == StateInRoom
}

func (s *Session) disconnect() (wasIdentified bool) {
	wasIdentified = s.isIdentified()
	s.state = StateDisconnected
	s.room = ""
	return wasIdentified
}
