// Package tictactoe implements the per-room two-player grid game:
// a pure board state machine plus an engine that keys live games by
// room ID.
package tictactoe

// Mark is the content of one board cell.
type Mark string

// Board marks. The empty string doubles as "no mark" so that the wire
// shape matches what clients render (falsy cell = empty).
const (
	MarkEmpty Mark = ""
	MarkX     Mark = "X"
	MarkO     Mark = "O"
)

// WinnerDraw is the Winner value for a full board with no winning line.
const WinnerDraw = "draw"

// State is one game's full state. It is a value type: copies are
// independent snapshots, safe to hand to serializers.
type State struct {
	// Board is the 3x3 grid in row-major order.
	Board [9]Mark `json:"board"`
	// Turn is the mark that moves next. Meaningless once Winner is set.
	Turn Mark `json:"turn"`
	// XPlayer is the username seated as X, or "" if the seat is vacant.
	XPlayer string `json:"xPlayer"`
	// OPlayer is the username seated as O, or "" if the seat is vacant.
	OPlayer string `json:"oPlayer"`
	// Winner is "X", "O", "draw", or "" while the game is undecided.
	Winner string `json:"winner"`
}

// The 8 canonical winning triples: 3 rows, 3 columns, 2 diagonals.
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// NewState returns the initial game state: empty board, X to move,
// both seats vacant.
func NewState() State {
	return State{Turn: MarkX}
}

// claimSeat seats username as X if that seat is vacant, otherwise as O
// if vacant and username is not already X. Re-claiming by a seated
// player is a no-op; anyone else becomes an observer.
//
// Postcondition: Returns the mark now held by username, or MarkEmpty
// for observers.
func (s *State) claimSeat(username string) Mark {
	switch {
	case s.XPlayer == username:
		return MarkX
	case s.OPlayer == username:
		return MarkO
	case s.XPlayer == "":
		s.XPlayer = username
		return MarkX
	case s.OPlayer == "":
		s.OPlayer = username
		return MarkO
	}
	return MarkEmpty
}

// currentSeatHolder returns the username holding the seat whose mark
// equals the current turn, or "" if that seat is vacant.
func (s *State) currentSeatHolder() string {
	if s.Turn == MarkX {
		return s.XPlayer
	}
	return s.OPlayer
}

// applyMove validates and applies a move by username at index.
// Rejected moves (finished game, occupied cell, out-of-range index,
// not the mover's turn) leave the state untouched.
//
// Postcondition: Returns true only if the move was applied. After an
// accepted move exactly one of the following holds: Turn advanced to
// the opposite mark, or Winner is set.
func (s *State) applyMove(username string, index int) bool {
	if s.Winner != "" {
		return false
	}
	if index < 0 || index >= len(s.Board) {
		return false
	}
	if s.Board[index] != MarkEmpty {
		return false
	}
	holder := s.currentSeatHolder()
	if holder == "" || holder != username {
		return false
	}

	s.Board[index] = s.Turn

	// Win is checked strictly before draw: a move that completes a line
	// and fills the board scores as a win.
	switch {
	case s.hasWin(s.Turn):
		s.Winner = string(s.Turn)
	case s.boardFull():
		s.Winner = WinnerDraw
	default:
		s.Turn = opposite(s.Turn)
	}
	return true
}

// restart clears the board and outcome while preserving both seats.
func (s *State) restart() {
	s.Board = [9]Mark{}
	s.Turn = MarkX
	s.Winner = ""
}

// vacateSeat clears any seat held by username. The board, turn, and
// outcome are untouched; the game continues with a vacant seat.
//
// Postcondition: Returns true if a seat was cleared.
func (s *State) vacateSeat(username string) bool {
	if username == "" {
		return false
	}
	cleared := false
	if s.XPlayer == username {
		s.XPlayer = ""
		cleared = true
	}
	if s.OPlayer == username {
		s.OPlayer = ""
		cleared = true
	}
	return cleared
}

func (s *State) hasWin(m Mark) bool {
	for _, line := range winningLines {
		if s.Board[line[0]] == m && s.Board[line[1]] == m && s.Board[line[2]] == m {
			return true
		}
	}
	return false
}

func (s *State) boardFull() bool {
	for _, c := range s.Board {
		if c == MarkEmpty {
			return false
		}
	}
	return true
}

func opposite(m Mark) Mark {
	if m == MarkX {
		return MarkO
	}
	return MarkX
}
