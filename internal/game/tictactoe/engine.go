package tictactoe

import "sync"

// Engine tracks live games keyed by room ID.
// All methods are safe for concurrent use. Methods return State by
// value; callers receive an immutable snapshot.
//
// A room's state is never removed, even after the room empties: a
// later joiner resumes the same board. Retention is bounded only by
// process lifetime.
type Engine struct {
	mu    sync.Mutex
	games map[string]State
}

// NewEngine creates an Engine with no active games.
func NewEngine() *Engine {
	return &Engine{games: make(map[string]State)}
}

// Ensure returns the game for roomID, creating the initial state if
// the room has none.
//
// Precondition: roomID must be non-empty.
func (e *Engine) Ensure(roomID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.games[roomID]
	if !ok {
		s = NewState()
		e.games[roomID] = s
	}
	return s
}

// Get returns the game for roomID without creating one.
//
// Postcondition: Returns (state, true) if a game exists, or (zero, false).
func (e *Engine) Get(roomID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.games[roomID]
	return s, ok
}

// ClaimSeat ensures a game exists for roomID and seats username per
// the seat rules: X first, then O, otherwise observer. Idempotent for
// an already seated username.
//
// Postcondition: Returns the updated state snapshot.
func (e *Engine) ClaimSeat(roomID, username string) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.games[roomID]
	if !ok {
		s = NewState()
	}
	s.claimSeat(username)
	e.games[roomID] = s
	return s
}

// Move applies a move by username at index in roomID's game.
// A move against a nonexistent game is rejected.
//
// Postcondition: Returns (updated snapshot, true) if the move was
// accepted, or (current snapshot, false) with no state change.
func (e *Engine) Move(roomID, username string, index int) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.games[roomID]
	if !ok {
		return State{}, false
	}
	if !s.applyMove(username, index) {
		return s, false
	}
	e.games[roomID] = s
	return s, true
}

// Restart resets roomID's board and outcome, preserving seats.
//
// Postcondition: Returns (updated snapshot, true), or (zero, false)
// if the room has no game.
func (e *Engine) Restart(roomID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.games[roomID]
	if !ok {
		return State{}, false
	}
	s.restart()
	e.games[roomID] = s
	return s, true
}

// VacateSeat clears any seat held by username in roomID's game.
//
// Postcondition: Returns (updated snapshot, true) if a seat was
// cleared, or (current snapshot, false) otherwise.
func (e *Engine) VacateSeat(roomID, username string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.games[roomID]
	if !ok {
		return State{}, false
	}
	if !s.vacateSeat(username) {
		return s, false
	}
	e.games[roomID] = s
	return s, true
}

// RoomCount returns the number of rooms with a live game. Useful for
// watching retained-state growth.
func (e *Engine) RoomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.games)
}
