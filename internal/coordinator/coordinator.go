// Package coordinator binds connection events to the roster, room directory,
// message store and typing tracker, and decides who hears about each change.
//
// Shared state is guarded by one coordinator lock that is never held across
// durable store I/O. Sends to a room are additionally serialized by a
// per-room lock held from append to fan-out, so every member sees a room's
// messages in storage order.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/ledger"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/rooms"
	"github.com/Tyrowin/roomchat/internal/roster"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/typing"
)

// Transport delivers an encoded frame to one connection. It must not block
// and must not call back into the coordinator.
type Transport interface {
	Deliver(connectionID string, payload []byte) bool
}

// FileResolver checks an attachment against the upload service and returns
// the canonical descriptor.
type FileResolver interface {
	Resolve(ctx context.Context, file chat.FileAttachment) (*chat.FileAttachment, error)
}

// Options wires the coordinator's collaborators. Only Store is required.
type Options struct {
	Store        store.MessageStore
	Rooms        store.RoomRepository
	Participants store.ParticipantRepository
	Files        FileResolver
	Seeds        []chat.RoomSeed
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Coordinator is the session and room coordination engine.
type Coordinator struct {
	transport    Transport
	store        store.MessageStore
	ledger       *ledger.Ledger
	roomRepo     store.RoomRepository
	participants store.ParticipantRepository
	files        FileResolver
	seeds        []chat.RoomSeed
	writeTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	roster   *roster.Roster
	rooms    *rooms.Directory
	typing   *typing.Tracker

	roomLocksMu sync.Mutex
	roomLocks   map[string]*sync.Mutex
}

// New creates a coordinator delivering through transport.
func New(transport Transport, opts Options) *Coordinator {
	seeds := opts.Seeds
	if len(seeds) == 0 {
		seeds = chat.DefaultRoomSeeds()
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = store.DefaultOperationTimeout
	}
	return &Coordinator{
		transport:    transport,
		store:        opts.Store,
		ledger:       ledger.New(opts.Store),
		roomRepo:     opts.Rooms,
		participants: opts.Participants,
		files:        opts.Files,
		seeds:        seeds,
		writeTimeout: timeout,
		logger:       opts.Logger.With().Str(logging.FieldService, "coordinator").Logger(),
		now:          time.Now,
		sessions:     make(map[string]*Session),
		roster:       roster.New(),
		rooms:        rooms.NewDirectory(seeds),
		typing:       typing.NewTracker(),
		roomLocks:    make(map[string]*sync.Mutex),
	}
}

// Bootstrap seeds the durable rooms table and loads persisted counters.
// Failures leave the in-memory catalog as seeded.
func (c *Coordinator) Bootstrap(ctx context.Context) {
	if c.roomRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := c.roomRepo.Seed(ctx, c.seeds); err != nil {
		c.logger.Warn().Err(err).Msg("failed to seed rooms")
		return
	}
	persisted, err := c.roomRepo.List(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load rooms")
		return
	}
	c.rooms.Hydrate(persisted)
	c.logger.Info().Int("rooms", len(persisted)).Msg("room directory hydrated")
}

// Connect registers a new anonymous session.
func (c *Coordinator) Connect(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[connectionID]; ok {
		return
	}
	c.sessions[connectionID] = newSession(connectionID, c.now())
	c.order = append(c.order, connectionID)
}

// Dispatch routes one inbound event. A returned error has already been
// reported to the originating connection.
func (c *Coordinator) Dispatch(ctx context.Context, connectionID, event string, data json.RawMessage) error {
	if alias, ok := legacyEvents[event]; ok {
		event = alias
	}
	l := c.logger.With().Str(logging.FieldConnectionID, connectionID).Str(logging.FieldEvent, event).Logger()
	ctx = logging.WithLogger(ctx, l)

	var err error
	switch event {
	case EventIdentify:
		err = c.identify(ctx, connectionID, data)
	case EventSendMessage:
		err = c.sendMessage(ctx, connectionID, data)
	case EventPrivateMessage:
		err = c.sendPrivate(ctx, connectionID, data)
	case EventTyping:
		err = c.setTyping(connectionID, data)
	case EventAddReaction:
		err = c.addReaction(ctx, connectionID, data)
	case EventMarkMessageRead:
		err = c.markRead(ctx, connectionID, data)
	case EventJoinRoom:
		err = c.joinRoom(ctx, connectionID, data)
	case EventGetRooms:
		err = c.sendRooms(connectionID)
	case EventDisconnect:
		c.Disconnect(ctx, connectionID)
	default:
		err = badRequest("unknown event %q", event)
	}

	if err != nil {
		c.reportError(l, connectionID, err)
	}
	return err
}

// Disconnect tears the session down. It is safe to call more than once.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	c.mu.Lock()
	sess, ok := c.sessions[connectionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	wasIdentified := sess.disconnect()
	delete(c.sessions, connectionID)
	c.removeOrderLocked(connectionID)

	participant, _ := c.roster.Leave(connectionID)
	c.rooms.Leave(connectionID)
	c.typing.Clear(connectionID)

	if wasIdentified {
		c.broadcastLocked(EventParticipantLeft, PresencePayload{Username: participant.Username, ConnectionID: connectionID})
		c.broadcastLocked(EventRosterSnapshot, c.roster.ListOnline())
		c.broadcastLocked(EventTypingSnapshot, c.typing.Usernames())
	}
	c.mu.Unlock()

	if wasIdentified {
		c.logger.Info().Str(logging.FieldConnectionID, connectionID).Str(logging.FieldUsername, participant.Username).Msg("participant left")
		if c.participants != nil {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
			defer cancel()
			if err := c.participants.MarkOffline(wctx, connectionID); err != nil {
				c.logger.Warn().Err(err).Str(logging.FieldConnectionID, connectionID).Msg("failed to mark participant offline")
			}
		}
	}
}

func (c *Coordinator) identify(ctx context.Context, connectionID string, data json.RawMessage) error {
	username, err := decodeUsername(data)
	if err != nil || username == "" {
		return badRequest("identify needs a username")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return badRequest("username longer than %d characters", maxUsernameLength)
	}

	c.mu.Lock()
	sess, err := c.sessionLocked(connectionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := sess.identify(username); err != nil {
		c.mu.Unlock()
		return err
	}
	participant := c.roster.Join(connectionID, username)

	var joined *chat.RoomSummary
	if sess.State() == StateIdentified {
		c.rooms.Join(connectionID, chat.DefaultRoom)
		_ = sess.enter(chat.DefaultRoom)
		summary := c.rooms.RecordActivity(chat.DefaultRoom)
		joined = &summary
	}
	room := sess.Room()
	if c.typing.Clear(connectionID) {
		c.broadcastLocked(EventTypingSnapshot, c.typing.Usernames())
	}

	c.broadcastLocked(EventRosterSnapshot, c.roster.ListOnline())
	c.broadcastLocked(EventParticipantJoined, PresencePayload{Username: username, ConnectionID: connectionID})
	c.mu.Unlock()

	l := logging.Ctx(ctx)
	l.Info().Str(logging.FieldUsername, username).Str(logging.FieldRoom, room).Msg("participant identified")
	if joined != nil {
		c.persistRoom(ctx, *joined)
	}

	if c.participants != nil {
		wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
		if err := c.participants.Upsert(wctx, participant); err != nil {
			l.Warn().Err(err).Msg("failed to persist participant")
		}
	}
	return nil
}

func (c *Coordinator) joinRoom(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return badRequest("malformed join_room payload")
	}
	name := strings.TrimSpace(req.RoomName)
	if name == "" || len(name) > maxRoomNameLength {
		return badRequest("invalid room name")
	}

	c.mu.Lock()
	sess, err := c.sessionLocked(connectionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := sess.enter(name); err != nil {
		c.mu.Unlock()
		return err
	}
	prev := c.rooms.Join(connectionID, name)
	summary := c.rooms.RecordActivity(name)
	if prev != name && c.typing.Clear(connectionID) {
		c.broadcastLocked(EventTypingSnapshot, c.typing.Usernames())
	}
	c.mu.Unlock()

	l := logging.Ctx(ctx)
	l.Debug().Str(logging.FieldRoom, name).Str("previous_room", prev).Msg("joined room")
	c.persistRoom(ctx, summary)
	return nil
}

func (c *Coordinator) sendMessage(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return badRequest("malformed send_message payload")
	}

	c.mu.Lock()
	sess, err := c.sessionLocked(connectionID)
	if err == nil {
		err = sess.canSend()
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	room := sess.Room()
	username := sess.Username()
	c.mu.Unlock()

	if target := strings.TrimSpace(req.Room); target != "" && target != room {
		return fmt.Errorf("%w: not a member of room %q", chat.ErrInvalidTransition, target)
	}
	text := req.body()
	if strings.TrimSpace(text) == "" && req.File == nil {
		return badRequest("message is empty")
	}

	var file *chat.FileAttachment
	if req.File != nil {
		resolved, err := c.resolveFile(ctx, *req.File)
		if err != nil {
			return err
		}
		file = resolved
	}

	msg := &chat.Message{
		Text:               text,
		SenderUsername:     username,
		SenderConnectionID: connectionID,
		Timestamp:          c.now().UTC(),
		Room:               chat.StringPtr(room),
		Reactions:          []chat.Reaction{},
		ReadBy:             []chat.ReadReceipt{},
		File:               file,
	}

	lock := c.roomLock(room)
	lock.Lock()
	stored, err := c.store.Append(ctx, msg)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("store message: %w", err)
	}
	summary := c.rooms.IncrementMessageCount(room)
	c.deliver(c.rooms.Members(room), EventMessageReceived, stored)
	lock.Unlock()

	l := logging.Ctx(ctx)
	l.Debug().Int64(logging.FieldMessageID, stored.ID).Str(logging.FieldRoom, room).Msg("message stored")
	c.persistRoom(ctx, summary)
	return nil
}

func (c *Coordinator) sendPrivate(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req privateMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return badRequest("malformed private_message payload")
	}
	if req.To == "" || strings.TrimSpace(req.body()) == "" {
		return badRequest("private_message needs a recipient and text")
	}

	c.mu.Lock()
	sess, err := c.sessionLocked(connectionID)
	if err == nil {
		err = sess.canSendPrivate()
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	username := sess.Username()
	_, online := c.roster.Get(req.To)
	c.mu.Unlock()

	if !online {
		return fmt.Errorf("%w: %s", chat.ErrUnknownRecipient, req.To)
	}

	stored, err := c.store.Append(ctx, &chat.Message{
		Text:                  req.body(),
		SenderUsername:        username,
		SenderConnectionID:    connectionID,
		RecipientConnectionID: req.To,
		Timestamp:             c.now().UTC(),
		IsPrivate:             true,
		Reactions:             []chat.Reaction{},
		ReadBy:                []chat.ReadReceipt{},
	})
	if err != nil {
		return fmt.Errorf("store private message: %w", err)
	}

	c.deliver(privateTargets(stored), EventPrivateMessageReceived, stored)
	return nil
}

func (c *Coordinator) setTyping(connectionID string, data json.RawMessage) error {
	isTyping, err := decodeTyping(data)
	if err != nil {
		return badRequest("typing needs a boolean")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[connectionID]
	if !ok || !sess.isIdentified() {
		return nil
	}
	c.typing.Set(connectionID, sess.Username(), sess.Room(), isTyping)
	c.broadcastLocked(EventTypingSnapshot, c.typing.Usernames())
	return nil
}

func (c *Coordinator) addReaction(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req reactionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Emoji == "" {
		return badRequest("add_reaction needs messageId and emoji")
	}
	if _, err := c.identified(connectionID); err != nil {
		return err
	}

	msg, err := c.ledger.AddReaction(ctx, req.MessageID, req.Emoji)
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	c.publishUpdate(msg)
	return nil
}

func (c *Coordinator) markRead(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req readRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return badRequest("mark_message_read needs messageId")
	}
	username, err := c.identified(connectionID)
	if err != nil {
		return err
	}

	msg, err := c.ledger.MarkRead(ctx, req.MessageID, connectionID, username)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	c.publishUpdate(msg)
	return nil
}

func (c *Coordinator) sendRooms(connectionID string) error {
	payload, err := encode(EventRoomsSnapshot, c.rooms.ListRooms())
	if err != nil {
		return err
	}
	c.transport.Deliver(connectionID, payload)
	return nil
}

// publishUpdate fans a mutated message out. Private messages only reach
// their two parties. A nil message means nothing changed.
func (c *Coordinator) publishUpdate(msg *chat.Message) {
	if msg == nil {
		return
	}
	if msg.IsPrivate {
		c.deliver(privateTargets(msg), EventMessageUpdated, msg)
		return
	}
	c.mu.Lock()
	c.broadcastLocked(EventMessageUpdated, msg)
	c.mu.Unlock()
}

func privateTargets(msg *chat.Message) []string {
	if msg.RecipientConnectionID == msg.SenderConnectionID {
		return []string{msg.SenderConnectionID}
	}
	return []string{msg.RecipientConnectionID, msg.SenderConnectionID}
}

func (c *Coordinator) resolveFile(ctx context.Context, file chat.FileAttachment) (*chat.FileAttachment, error) {
	if c.files == nil {
		return &file, nil
	}
	rctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	resolved, err := c.files.Resolve(rctx, file)
	if err != nil {
		if errors.Is(err, chat.ErrUploadFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", chat.ErrUploadFailed, err)
	}
	return resolved, nil
}

func (c *Coordinator) persistRoom(ctx context.Context, summary chat.RoomSummary) {
	if c.roomRepo == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.roomRepo.Save(wctx, summary); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str(logging.FieldRoom, summary.Name).Msg("failed to persist room")
	}
}

func (c *Coordinator) roomLock(room string) *sync.Mutex {
	c.roomLocksMu.Lock()
	defer c.roomLocksMu.Unlock()
	m, ok := c.roomLocks[room]
	if !ok {
		m = &sync.Mutex{}
		c.roomLocks[room] = m
	}
	return m
}

func (c *Coordinator) sessionLocked(connectionID string) (*Session, error) {
	sess, ok := c.sessions[connectionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown connection", chat.ErrInvalidTransition)
	}
	return sess, nil
}

func (c *Coordinator) identified(connectionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, err := c.sessionLocked(connectionID)
	if err != nil {
		return "", err
	}
	if !sess.isIdentified() {
		return "", invalid(sess, "update a message")
	}
	return sess.Username(), nil
}

func (c *Coordinator) removeOrderLocked(connectionID string) {
	for i, id := range c.order {
		if id == connectionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// broadcastLocked sends to every connected session, anonymous ones included.
func (c *Coordinator) broadcastLocked(event string, data interface{}) {
	c.deliver(c.order, event, data)
}

func (c *Coordinator) deliver(targets []string, event string, data interface{}) {
	if len(targets) == 0 {
		return
	}
	payload, err := encode(event, data)
	if err != nil {
		c.logger.Error().Err(err).Str(logging.FieldEvent, event).Msg("failed to encode event")
		return
	}
	for _, id := range targets {
		if !c.transport.Deliver(id, payload) {
			c.logger.Debug().Str(logging.FieldConnectionID, id).Str(logging.FieldEvent, event).Msg("delivery dropped")
		}
	}
}

func (c *Coordinator) reportError(l zerolog.Logger, connectionID string, err error) {
	code := errorCode(err)
	switch code {
	case CodeInternal:
		l.Error().Err(err).Msg("event failed")
	default:
		l.Debug().Err(err).Str("code", code).Msg("event rejected")
	}
	payload, encErr := encode(EventError, ErrorPayload{Code: code, Message: err.Error()})
	if encErr != nil {
		return
	}
	c.transport.Deliver(connectionID, payload)
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func errorCode(err error) string {
	var br *badRequestError
	switch {
	case errors.As(err, &br):
		return CodeBadRequest
	case errors.Is(err, chat.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, chat.ErrUnknownRecipient), errors.Is(err, chat.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, chat.ErrUploadFailed):
		return CodeUploadFailed
	default:
		return CodeInternal
	}
}

// Participants returns the online roster.
func (c *Coordinator) Participants() []chat.OnlineEntry {
	return c.roster.ListOnline()
}

// Rooms returns the rooms snapshot.
func (c *Coordinator) Rooms() []chat.RoomSummary {
	return c.rooms.ListRooms()
}

// History returns the retained public history of room.
func (c *Coordinator) History(ctx context.Context, room string) ([]*chat.Message, error) {
	return c.store.ListByRoom(ctx, room)
}

// SessionState reports the lifecycle state of a connection.
func (c *Coordinator) SessionState(connectionID string) (State, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[connectionID]
	if !ok {
		return StateDisconnected, "", false
	}
	return sess.State(), sess.Room(), true
}
