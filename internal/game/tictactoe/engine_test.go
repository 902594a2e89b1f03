package tictactoe

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Ensure(t *testing.T) {
	e := NewEngine()

	s := e.Ensure("room1")
	assert.Equal(t, NewState(), s)
	assert.Equal(t, 1, e.RoomCount())

	// Ensure on an existing room returns it unchanged.
	e.ClaimSeat("room1", "alice")
	s = e.Ensure("room1")
	assert.Equal(t, "alice", s.XPlayer)
	assert.Equal(t, 1, e.RoomCount())
}

func TestEngine_Get(t *testing.T) {
	e := NewEngine()

	_, ok := e.Get("room1")
	assert.False(t, ok)

	e.Ensure("room1")
	s, ok := e.Get("room1")
	assert.True(t, ok)
	assert.Equal(t, NewState(), s)
}

func TestEngine_MoveRequiresGame(t *testing.T) {
	e := NewEngine()
	_, ok := e.Move("ghost", "alice", 0)
	assert.False(t, ok)
}

func TestEngine_MoveAndRestart(t *testing.T) {
	e := NewEngine()
	e.ClaimSeat("room1", "alice")
	e.ClaimSeat("room1", "bob")

	s, ok := e.Move("room1", "alice", 0)
	require.True(t, ok)
	assert.Equal(t, MarkX, s.Board[0])
	assert.Equal(t, MarkO, s.Turn)

	// Rejected move returns the current snapshot untouched.
	s2, ok := e.Move("room1", "alice", 1)
	assert.False(t, ok)
	assert.Equal(t, s, s2)

	s, ok = e.Restart("room1")
	require.True(t, ok)
	assert.Equal(t, MarkEmpty, s.Board[0])
	assert.Equal(t, "alice", s.XPlayer)

	_, ok = e.Restart("ghost")
	assert.False(t, ok)
}

func TestEngine_VacateSeat(t *testing.T) {
	e := NewEngine()
	e.ClaimSeat("room1", "alice")

	s, ok := e.VacateSeat("room1", "alice")
	require.True(t, ok)
	assert.Empty(t, s.XPlayer)

	_, ok = e.VacateSeat("room1", "alice")
	assert.False(t, ok, "already vacated")

	_, ok = e.VacateSeat("ghost", "alice")
	assert.False(t, ok, "no game for room")
}

// Engine state survives all members leaving: the retained board is
// handed back unchanged to a later joiner.
func TestEngine_StateOutlivesEmptyRoom(t *testing.T) {
	e := NewEngine()
	e.ClaimSeat("room1", "alice")
	e.ClaimSeat("room1", "bob")

	// alice wins the left column.
	for _, mv := range []struct {
		user string
		idx  int
	}{{"alice", 0}, {"bob", 1}, {"alice", 3}, {"bob", 2}, {"alice", 6}} {
		_, ok := e.Move("room1", mv.user, mv.idx)
		require.True(t, ok)
	}

	e.VacateSeat("room1", "alice")
	e.VacateSeat("room1", "bob")

	s, ok := e.Get("room1")
	require.True(t, ok, "game retained after both seats vacated")
	assert.Equal(t, "X", s.Winner)
	assert.Equal(t, MarkX, s.Board[0])

	// The next joiner is seated into the finished game as-is.
	s = e.ClaimSeat("room1", "carol")
	assert.Equal(t, "carol", s.XPlayer)
	assert.Equal(t, "X", s.Winner)
}

func TestEngine_SnapshotsAreIndependent(t *testing.T) {
	e := NewEngine()
	snap := e.Ensure("room1")
	snap.Board[0] = MarkX

	fresh, _ := e.Get("room1")
	assert.Equal(t, MarkEmpty, fresh.Board[0], "caller copies must not leak into the engine")
}

func TestEngine_ConcurrentRooms(t *testing.T) {
	e := NewEngine()
	const rooms = 50

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roomID := fmt.Sprintf("room%d", i)
			e.ClaimSeat(roomID, "alice")
			e.ClaimSeat(roomID, "bob")
			_, ok := e.Move(roomID, "alice", 4)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, rooms, e.RoomCount())
	for i := 0; i < rooms; i++ {
		s, ok := e.Get(fmt.Sprintf("room%d", i))
		require.True(t, ok)
		assert.Equal(t, MarkX, s.Board[4])
	}
}
