package realtime

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/auth"
	"github.com/parlorchat/parlor/internal/game/tictactoe"
)

// fakeVerifier resolves fixed tokens to identities.
type fakeVerifier struct {
	tokens map[string]auth.Identity
}

func (v *fakeVerifier) Verify(token string) (auth.Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return auth.Identity{}, auth.ErrTokenInvalid
	}
	return id, nil
}

func newTestDispatcher() (*Dispatcher, *Hub) {
	hub := NewHub(tictactoe.NewEngine(), zap.NewNop())
	verifier := &fakeVerifier{tokens: map[string]auth.Identity{
		"tok-alice": identity("alice"),
		"tok-bob":   identity("bob"),
	}}
	return NewDispatcher(hub, verifier, 30*time.Second, zap.NewNop()), hub
}

func event(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

// authedPeer authenticates a fresh peer and joins it to roomID.
func authedPeer(t *testing.T, d *Dispatcher, token, roomID string) *fakePeer {
	t.Helper()
	p := newFakePeer()
	d.HandleMessage(p, event(t, map[string]any{"type": "auth", "token": token}))
	require.NotEmpty(t, p.received(t, EventAuthenticated))
	if roomID != "" {
		d.HandleMessage(p, event(t, map[string]any{"type": "join_room", "roomId": roomID}))
	}
	p.reset()
	return p
}

func TestDispatcher_AuthSuccess(t *testing.T) {
	d, hub := newTestDispatcher()
	p := newFakePeer()

	d.HandleMessage(p, event(t, map[string]any{"type": "auth", "token": "tok-alice"}))

	authed := p.received(t, EventAuthenticated)
	require.Len(t, authed, 1)
	user := authed[0]["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "user", user["role"])

	sess, ok := hub.Session(p)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Identity.Username)
	assert.False(t, p.isClosed())
}

func TestDispatcher_AuthFailureClosesConnection(t *testing.T) {
	d, hub := newTestDispatcher()
	p := newFakePeer()

	d.HandleMessage(p, event(t, map[string]any{"type": "auth", "token": "bogus"}))

	errs := p.received(t, EventError)
	require.Len(t, errs, 1, "exactly one error notice")
	assert.Equal(t, "invalid credentials", errs[0]["content"])
	assert.True(t, p.isClosed())

	_, ok := hub.Session(p)
	assert.False(t, ok)
}

func TestDispatcher_PreAuthEventsIgnored(t *testing.T) {
	d, hub := newTestDispatcher()
	p := newFakePeer()

	d.HandleMessage(p, event(t, map[string]any{"type": "join_room", "roomId": "room1"}))
	d.HandleMessage(p, event(t, map[string]any{"type": "chat_message", "content": "hi"}))
	d.HandleMessage(p, event(t, map[string]any{"type": "game_move", "roomId": "room1", "index": 0}))

	assert.Empty(t, p.events, "no responses before authentication")
	assert.Equal(t, 0, hub.SessionCount())
	assert.False(t, p.isClosed(), "ignored events must not drop the connection")
}

func TestDispatcher_DoubleAuthRejected(t *testing.T) {
	d, hub := newTestDispatcher()
	p := authedPeer(t, d, "tok-alice", "")

	d.HandleMessage(p, event(t, map[string]any{"type": "auth", "token": "tok-bob"}))

	errs := p.received(t, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "already authenticated", errs[0]["content"])

	// The original session is intact.
	sess, ok := hub.Session(p)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Identity.Username)
	assert.False(t, p.isClosed())
}

func TestDispatcher_MalformedEventDropped(t *testing.T) {
	d, _ := newTestDispatcher()
	p := authedPeer(t, d, "tok-alice", "room1")

	d.HandleMessage(p, []byte("{not json"))
	d.HandleMessage(p, []byte(""))

	assert.Empty(t, p.events)
	assert.False(t, p.isClosed(), "parse failures keep the connection alive")
}

func TestDispatcher_UnknownEventIgnored(t *testing.T) {
	d, _ := newTestDispatcher()
	p := authedPeer(t, d, "tok-alice", "room1")

	d.HandleMessage(p, event(t, map[string]any{"type": "telepathy", "content": "??"}))

	assert.Empty(t, p.events)
	assert.False(t, p.isClosed())
}

func TestDispatcher_ChatMessageFansOut(t *testing.T) {
	d, _ := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	b := authedPeer(t, d, "tok-bob", "room1")
	a.reset()

	d.HandleMessage(a, event(t, map[string]any{"type": "chat_message", "content": "hello"}))

	for _, p := range []*fakePeer{a, b} {
		msgs := p.received(t, EventMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "alice", msgs[0]["username"])
		assert.Equal(t, "hello", msgs[0]["content"])
		assert.NotEmpty(t, msgs[0]["timestamp"])
		assert.NotEmpty(t, msgs[0]["id"])
	}
}

func TestDispatcher_ChatRequiresRoom(t *testing.T) {
	d, _ := newTestDispatcher()
	p := authedPeer(t, d, "tok-alice", "")

	d.HandleMessage(p, event(t, map[string]any{"type": "chat_message", "content": "void"}))
	assert.Empty(t, p.events)
}

func TestDispatcher_FileMessageAttachedOpaquely(t *testing.T) {
	d, _ := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	b := authedPeer(t, d, "tok-bob", "room1")

	file := map[string]any{"url": "/uploads/x.png", "name": "x.png", "kind": "image", "size": 123}
	d.HandleMessage(a, event(t, map[string]any{"type": "file_message", "file": file}))

	msgs := b.received(t, EventFileMessage)
	require.Len(t, msgs, 1)
	got := msgs[0]["file"].(map[string]any)
	assert.Equal(t, "/uploads/x.png", got["url"])
	assert.Equal(t, "image", got["kind"])
}

func TestDispatcher_StickerAndReaction(t *testing.T) {
	d, _ := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	b := authedPeer(t, d, "tok-bob", "room1")

	d.HandleMessage(a, event(t, map[string]any{"type": "sticker_message", "sticker": "wave"}))
	stickers := b.received(t, EventStickerMessage)
	require.Len(t, stickers, 1)
	assert.Equal(t, "wave", stickers[0]["sticker"])
	assert.Equal(t, "alice", stickers[0]["username"])

	msgID := stickers[0]["id"].(string)
	d.HandleMessage(b, event(t, map[string]any{"type": "message_reaction", "messageId": msgID, "reaction": "👍"}))
	reactions := a.received(t, EventMessageReaction)
	require.Len(t, reactions, 1)
	assert.Equal(t, msgID, reactions[0]["messageId"])
	assert.Equal(t, "bob", reactions[0]["username"])
	assert.Equal(t, "👍", reactions[0]["reaction"])
}

// TestDispatcher_GameScenario drives the canonical two-player game
// through the full wire surface: seats, an occupied-cell rejection, a
// win, rejection after the win, and a restart.
func TestDispatcher_GameScenario(t *testing.T) {
	d, _ := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	b := authedPeer(t, d, "tok-bob", "room1")

	d.HandleMessage(a, event(t, map[string]any{"type": "game_join", "roomId": "room1"}))
	d.HandleMessage(b, event(t, map[string]any{"type": "game_join", "roomId": "room1"}))

	state := b.lastGameState(t)
	assert.Equal(t, "alice", state.XPlayer)
	assert.Equal(t, "bob", state.OPlayer)

	move := func(p *fakePeer, idx int) {
		d.HandleMessage(p, event(t, map[string]any{"type": "game_move", "roomId": "room1", "index": idx}))
	}

	move(a, 0)
	b.reset()
	move(b, 0) // occupied: silently rejected
	assert.Empty(t, b.received(t, EventGameState))

	move(b, 4)
	move(a, 1)
	move(b, 5)
	move(a, 2) // top row

	state = b.lastGameState(t)
	assert.Equal(t, "X", state.Winner)

	b.reset()
	move(b, 6) // finished game: rejected
	assert.Empty(t, b.received(t, EventGameState))

	d.HandleMessage(a, event(t, map[string]any{"type": "game_restart", "roomId": "room1"}))
	state = b.lastGameState(t)
	assert.Empty(t, state.Winner)
	assert.Equal(t, "alice", state.XPlayer)
	assert.Equal(t, "bob", state.OPlayer)
	for i, c := range state.Board {
		assert.Equal(t, tictactoe.MarkEmpty, c, "cell %d", i)
	}
}

func TestDispatcher_GameMoveRequiresIndex(t *testing.T) {
	d, _ := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	d.HandleMessage(a, event(t, map[string]any{"type": "game_join", "roomId": "room1"}))
	a.reset()

	// Missing index and missing room are both dropped without effect.
	d.HandleMessage(a, event(t, map[string]any{"type": "game_move", "roomId": "room1"}))
	d.HandleMessage(a, event(t, map[string]any{"type": "game_move", "index": 0}))
	assert.Empty(t, a.received(t, EventGameState))

	// Index zero must survive the pointer decoding.
	d.HandleMessage(a, event(t, map[string]any{"type": "game_move", "roomId": "room1", "index": 0}))
	state := a.lastGameState(t)
	assert.Equal(t, tictactoe.MarkX, state.Board[0])
}

func TestDispatcher_LeaveRoomEvent(t *testing.T) {
	d, hub := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	b := authedPeer(t, d, "tok-bob", "room1")
	b.reset()

	d.HandleMessage(a, event(t, map[string]any{"type": "leave_room"}))

	sess, _ := hub.Session(a)
	assert.Empty(t, sess.RoomID)
	notices := b.received(t, EventSystem)
	require.Len(t, notices, 1)
	assert.Equal(t, "alice left the room", notices[0]["content"])
}

func TestDispatcher_ScenarioStateSurvivesEmptyRoom(t *testing.T) {
	d, _ := newTestDispatcher()
	a := authedPeer(t, d, "tok-alice", "room1")
	b := authedPeer(t, d, "tok-bob", "room1")

	d.HandleMessage(a, event(t, map[string]any{"type": "game_join", "roomId": "room1"}))
	d.HandleMessage(b, event(t, map[string]any{"type": "game_join", "roomId": "room1"}))
	for _, mv := range []struct {
		p   *fakePeer
		idx int
	}{{a, 0}, {b, 3}, {a, 1}, {b, 4}, {a, 2}} {
		d.HandleMessage(mv.p, event(t, map[string]any{"type": "game_move", "roomId": "room1", "index": mv.idx}))
	}
	require.Equal(t, "X", b.lastGameState(t).Winner)

	// Everyone leaves; the room record is discarded but the board is not.
	d.HandleMessage(a, event(t, map[string]any{"type": "leave_room"}))
	d.HandleMessage(b, event(t, map[string]any{"type": "leave_room"}))

	c := authedPeer(t, d, "tok-alice", "")
	d.HandleMessage(c, event(t, map[string]any{"type": "join_room", "roomId": "room1"}))

	state := c.lastGameState(t)
	assert.Equal(t, "X", state.Winner, "finished board handed to the new joiner unchanged")
	assert.Equal(t, tictactoe.MarkX, state.Board[0])
}

func TestDispatcher_ExpiredTokenNotice(t *testing.T) {
	hub := NewHub(tictactoe.NewEngine(), zap.NewNop())
	d := NewDispatcher(hub, expiredVerifier{}, 30*time.Second, zap.NewNop())
	p := newFakePeer()

	d.HandleMessage(p, event(t, map[string]any{"type": "auth", "token": "stale"}))

	errs := p.received(t, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "credentials expired", errs[0]["content"])
	assert.True(t, p.isClosed())
}

type expiredVerifier struct{}

func (expiredVerifier) Verify(string) (auth.Identity, error) {
	return auth.Identity{}, fmt.Errorf("checking token: %w", auth.ErrTokenExpired)
}
