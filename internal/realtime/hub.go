package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/auth"
	"github.com/parlorchat/parlor/internal/game/tictactoe"
)

// ErrAlreadyRegistered is returned when a connection authenticates twice.
var ErrAlreadyRegistered = errors.New("connection already registered")

// ErrNotRegistered is returned for room operations on an
// unauthenticated connection.
var ErrNotRegistered = errors.New("connection not registered")

// Session tracks a verified connection's identity and room assignment.
// A connection is in at most one room at a time.
type Session struct {
	Identity auth.Identity
	RoomID   string
}

// Hub owns all realtime shared state: the session registry, per-room
// member sets, and the game engine. It is created at server start and
// passed into the dispatcher; nothing here is a process-wide singleton.
//
// One mutex serializes every mutating operation together with the
// enqueue of its resulting broadcasts, which gives each room the
// read-validate-apply-broadcast atomicity the game requires. Enqueues
// never block, so a slow peer cannot stall the hub.
type Hub struct {
	mu       sync.Mutex
	sessions map[Peer]*Session
	rooms    map[string]map[Peer]bool
	games    *tictactoe.Engine
	logger   *zap.Logger
}

// NewHub creates a Hub backed by the given game engine.
//
// Precondition: games and logger must be non-nil.
func NewHub(games *tictactoe.Engine, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[Peer]*Session),
		rooms:    make(map[string]map[Peer]bool),
		games:    games,
		logger:   logger,
	}
}

// Register binds a verified identity to a connection with no room
// assigned.
//
// Postcondition: Returns ErrAlreadyRegistered if the connection has
// already authenticated; registration is not idempotent.
func (h *Hub) Register(p Peer, identity auth.Identity) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[p]; exists {
		return ErrAlreadyRegistered
	}
	h.sessions[p] = &Session{Identity: identity}
	return nil
}

// Unregister is the terminal step of disconnect handling: it performs
// an implicit leave (including game seat vacation) and removes the
// session. Calling it for an unknown connection is a no-op, so
// disconnect cleanup runs at most once.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, exists := h.sessions[p]
	if !exists {
		return
	}
	h.leaveLocked(p, sess)
	delete(h.sessions, p)
}

// Session returns a copy of the connection's session, if registered.
func (h *Hub) Session(p Peer) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[p]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// SessionCount returns the number of authenticated connections.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Join moves the connection into roomID, leaving any previous room
// first; there is no silent double-membership. The room's member set
// is created lazily. Side effects, in order: a "joined" notice and a
// refreshed member list broadcast to the room, then the room's live
// game state sent privately to the joining connection if one exists.
//
// Postcondition: Returns ErrNotRegistered for unauthenticated
// connections; otherwise the session's room is roomID.
func (h *Hub) Join(p Peer, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, exists := h.sessions[p]
	if !exists {
		return ErrNotRegistered
	}
	if sess.RoomID != "" {
		h.leaveLocked(p, sess)
	}

	members := h.rooms[roomID]
	if members == nil {
		members = make(map[Peer]bool)
		h.rooms[roomID] = members
	}
	members[p] = true
	sess.RoomID = roomID

	h.broadcastLocked(roomID, nil, newSystemEvent(fmt.Sprintf("%s joined the room", sess.Identity.Username)))
	h.broadcastLocked(roomID, nil, newRoomUsersEvent(h.memberNamesLocked(roomID)))

	// Latecomers get the current board privately so the join does not
	// re-trigger events for everyone else.
	if state, ok := h.games.Get(roomID); ok {
		h.sendLocked(p, newGameStateEvent(state))
	}
	return nil
}

// Leave removes the connection from its current room. No-op when the
// session has no room.
func (h *Hub) Leave(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, exists := h.sessions[p]
	if !exists {
		return
	}
	h.leaveLocked(p, sess)
}

// leaveLocked removes p from its room, vacates any game seat the
// identity held (broadcasting the updated board), and either deletes
// the empty member set or announces the departure. The room's game
// state is deliberately retained for the process lifetime so a later
// joiner resumes the same board.
//
// Precondition: h.mu must be held; sess must belong to p.
func (h *Hub) leaveLocked(p Peer, sess *Session) {
	roomID := sess.RoomID
	if roomID == "" {
		return
	}
	sess.RoomID = ""

	members := h.rooms[roomID]
	delete(members, p)

	if state, vacated := h.games.VacateSeat(roomID, sess.Identity.Username); vacated {
		h.broadcastLocked(roomID, nil, newGameStateEvent(state))
	}

	if len(members) == 0 {
		delete(h.rooms, roomID)
		return
	}

	h.broadcastLocked(roomID, nil, newSystemEvent(fmt.Sprintf("%s left the room", sess.Identity.Username)))
	h.broadcastLocked(roomID, nil, newRoomUsersEvent(h.memberNamesLocked(roomID)))
}

// GameJoin ensures a game exists for roomID and seats the caller per
// the seat rules (X first, then O, otherwise observer), then
// broadcasts the resulting state to the room.
//
// Postcondition: Returns ErrNotRegistered for unauthenticated
// connections.
func (h *Hub) GameJoin(p Peer, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, exists := h.sessions[p]
	if !exists {
		return ErrNotRegistered
	}

	state := h.games.ClaimSeat(roomID, sess.Identity.Username)
	h.broadcastLocked(roomID, nil, newGameStateEvent(state))
	return nil
}

// GameMove applies a move for the calling connection. Accepted moves
// broadcast the updated state to the room; rejected moves are silently
// dropped — no notice, no state change, no broadcast. Illegal moves
// are a normal race between client and server views, not an error.
func (h *Hub) GameMove(p Peer, roomID string, index int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, exists := h.sessions[p]
	if !exists {
		return
	}

	state, accepted := h.games.Move(roomID, sess.Identity.Username, index)
	if !accepted {
		return
	}
	h.broadcastLocked(roomID, nil, newGameStateEvent(state))
}

// GameRestart resets the room's board, preserving seats, and
// broadcasts the fresh state. A room with no game is ignored.
func (h *Hub) GameRestart(p Peer, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[p]; !exists {
		return
	}

	state, ok := h.games.Restart(roomID)
	if !ok {
		return
	}
	h.broadcastLocked(roomID, nil, newGameStateEvent(state))
}

// Broadcast serializes the event once and enqueues it to every member
// of the room. Peers that are not currently writable are skipped; one
// bad peer never blocks delivery to the rest.
func (h *Hub) Broadcast(roomID string, event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(roomID, nil, event)
}

// BroadcastExcept is Broadcast minus one connection, for presence
// style events whose origin already has local state.
func (h *Hub) BroadcastExcept(roomID string, excluded Peer, event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(roomID, excluded, event)
}

// broadcastLocked fans event out to the room's members, minus excluded
// when non-nil.
//
// Precondition: h.mu must be held.
func (h *Hub) broadcastLocked(roomID string, excluded Peer, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshalling event", zap.Error(err))
		return
	}
	for p := range h.rooms[roomID] {
		if p == excluded {
			continue
		}
		if !p.Enqueue(data) {
			h.logger.Debug("dropping event for unwritable peer",
				zap.String("room_id", roomID),
			)
		}
	}
}

// sendLocked serializes the event and enqueues it to a single peer.
//
// Precondition: h.mu must be held.
func (h *Hub) sendLocked(p Peer, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshalling event", zap.Error(err))
		return
	}
	if !p.Enqueue(data) {
		h.logger.Debug("dropping event for unwritable peer")
	}
}

// memberNamesLocked returns the usernames of the room's members.
//
// Precondition: h.mu must be held.
func (h *Hub) memberNamesLocked(roomID string) []string {
	members := h.rooms[roomID]
	names := make([]string, 0, len(members))
	for p := range members {
		if sess, ok := h.sessions[p]; ok {
			names = append(names, sess.Identity.Username)
		}
	}
	return names
}
