package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parlorchat/parlor/internal/auth"
	"github.com/parlorchat/parlor/internal/game/tictactoe"
)

// Inbound event kinds. Anything else is ignored by the dispatcher.
const (
	EventAuth            = "auth"
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventChatMessage     = "chat_message"
	EventFileMessage     = "file_message"
	EventStickerMessage  = "sticker_message"
	EventMessageReaction = "message_reaction"
	EventGameJoin        = "game_join"
	EventGameMove        = "game_move"
	EventGameRestart     = "game_restart"
)

// Outbound event kinds.
const (
	EventAuthenticated = "authenticated"
	EventError         = "error"
	EventSystem        = "system"
	EventMessage       = "message"
	EventRoomUsers     = "room_users"
	EventGameState     = "game_state"
)

// Envelope is the inbound wire format: one JSON object per websocket
// message, discriminated by Type. Fields not used by a given kind are
// simply absent.
type Envelope struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Content   string          `json:"content,omitempty"`
	Index     *int            `json:"index,omitempty"`
	File      json.RawMessage `json:"file,omitempty"`
	Sticker   string          `json:"sticker,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Reaction  string          `json:"reaction,omitempty"`
}

// UserInfo is the public identity included in the authenticated event.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AuthenticatedEvent confirms a successful auth handshake.
type AuthenticatedEvent struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

// ErrorEvent carries a human-readable failure notice.
type ErrorEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SystemEvent carries presence notices like "alice joined the room".
type SystemEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// MessageEvent is a chat message fanned out to a room.
type MessageEvent struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// FileMessageEvent relays uploaded-file metadata to a room. The file
// payload is produced elsewhere and attached without inspection.
type FileMessageEvent struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	File      json.RawMessage `json:"file"`
	Timestamp string          `json:"timestamp"`
}

// StickerMessageEvent relays a sticker to a room.
type StickerMessageEvent struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Username  string `json:"username"`
	Sticker   string `json:"sticker"`
	Timestamp string `json:"timestamp"`
}

// MessageReactionEvent relays a reaction to an earlier message.
type MessageReactionEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Username  string `json:"username"`
	Reaction  string `json:"reaction"`
	Timestamp string `json:"timestamp"`
}

// RoomUsersEvent carries the refreshed member list of a room.
type RoomUsersEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// GameStateEvent carries a full board snapshot.
type GameStateEvent struct {
	Type  string          `json:"type"`
	State tictactoe.State `json:"state"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newAuthenticatedEvent(id auth.Identity) AuthenticatedEvent {
	return AuthenticatedEvent{
		Type: EventAuthenticated,
		User: UserInfo{ID: id.ID, Username: id.Username, Role: id.Role},
	}
}

func newErrorEvent(content string) ErrorEvent {
	return ErrorEvent{Type: EventError, Content: content}
}

func newSystemEvent(content string) SystemEvent {
	return SystemEvent{Type: EventSystem, Content: content, Timestamp: timestamp()}
}

func newMessageEvent(username, content string) MessageEvent {
	return MessageEvent{
		Type:      EventMessage,
		ID:        uuid.NewString(),
		Username:  username,
		Content:   content,
		Timestamp: timestamp(),
	}
}

func newFileMessageEvent(username string, file json.RawMessage) FileMessageEvent {
	return FileMessageEvent{
		Type:      EventFileMessage,
		ID:        uuid.NewString(),
		Username:  username,
		File:      file,
		Timestamp: timestamp(),
	}
}

func newStickerMessageEvent(username, sticker string) StickerMessageEvent {
	return StickerMessageEvent{
		Type:      EventStickerMessage,
		ID:        uuid.NewString(),
		Username:  username,
		Sticker:   sticker,
		Timestamp: timestamp(),
	}
}

func newMessageReactionEvent(username, messageID, reaction string) MessageReactionEvent {
	return MessageReactionEvent{
		Type:      EventMessageReaction,
		MessageID: messageID,
		Username:  username,
		Reaction:  reaction,
		Timestamp: timestamp(),
	}
}

func newRoomUsersEvent(users []string) RoomUsersEvent {
	return RoomUsersEvent{Type: EventRoomUsers, Users: users}
}

func newGameStateEvent(state tictactoe.State) GameStateEvent {
	return GameStateEvent{Type: EventGameState, State: state}
}
