package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/auth"
)

// Dispatcher is the single authenticated entry point per connection.
// It verifies credentials, then routes inbound events by their type
// tag to the hub. Before authentication only the auth event is
// accepted; everything else is ignored.
type Dispatcher struct {
	hub              *Hub
	verifier         auth.Verifier
	handshakeTimeout time.Duration
	logger           *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: hub, verifier, and logger must be non-nil;
// handshakeTimeout must be positive.
func NewDispatcher(hub *Hub, verifier auth.Verifier, handshakeTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		hub:              hub,
		verifier:         verifier,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
	}
}

// HandleConn runs the read loop for one upgraded websocket connection
// and blocks until it disconnects. Cleanup (implicit leave, seat
// vacation, session removal) runs exactly once on the way out.
func (d *Dispatcher) HandleConn(conn *websocket.Conn) {
	start := time.Now()
	addr := conn.RemoteAddr().String()
	d.logger.Info("client connected", zap.String("remote_addr", addr))

	client := NewClient(conn, d.logger)
	go client.WritePump()

	defer func() {
		d.hub.Unregister(client)
		client.Close()
		d.logger.Info("client disconnected",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	conn.SetReadLimit(maxMessageSize)
	// Unauthenticated connections get a bounded window to present
	// credentials before the read below fails and drops them.
	_ = conn.SetReadDeadline(time.Now().Add(d.handshakeTimeout))
	conn.SetPongHandler(func(string) error {
		if _, ok := d.hub.Session(client); ok {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.logger.Debug("read failed", zap.String("remote_addr", addr), zap.Error(err))
			}
			return
		}

		d.HandleMessage(client, raw)

		if _, ok := d.hub.Session(client); ok {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// HandleMessage routes one inbound message for the given peer.
// Malformed payloads are logged and dropped; unknown event types are
// ignored. Neither drops the connection.
func (d *Dispatcher) HandleMessage(p Peer, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Warn("malformed event dropped", zap.Error(err))
		return
	}

	sess, authed := d.hub.Session(p)
	if !authed {
		if env.Type == EventAuth {
			d.authenticate(p, env.Token)
		}
		return
	}

	switch env.Type {
	case EventAuth:
		// Double-auth is rejected, not made idempotent.
		d.send(p, newErrorEvent("already authenticated"))

	case EventJoinRoom:
		if env.RoomID == "" {
			return
		}
		if err := d.hub.Join(p, env.RoomID); err != nil {
			d.logger.Warn("join failed", zap.String("room_id", env.RoomID), zap.Error(err))
		}

	case EventLeaveRoom:
		d.hub.Leave(p)

	case EventChatMessage:
		if sess.RoomID == "" || env.Content == "" {
			return
		}
		d.hub.Broadcast(sess.RoomID, newMessageEvent(sess.Identity.Username, env.Content))

	case EventFileMessage:
		// The file metadata was produced by the upload endpoint and is
		// attached without inspection.
		if sess.RoomID == "" || len(env.File) == 0 {
			return
		}
		d.hub.Broadcast(sess.RoomID, newFileMessageEvent(sess.Identity.Username, env.File))

	case EventStickerMessage:
		if sess.RoomID == "" || env.Sticker == "" {
			return
		}
		d.hub.Broadcast(sess.RoomID, newStickerMessageEvent(sess.Identity.Username, env.Sticker))

	case EventMessageReaction:
		if sess.RoomID == "" || env.MessageID == "" || env.Reaction == "" {
			return
		}
		d.hub.Broadcast(sess.RoomID, newMessageReactionEvent(sess.Identity.Username, env.MessageID, env.Reaction))

	case EventGameJoin:
		if env.RoomID == "" {
			return
		}
		if err := d.hub.GameJoin(p, env.RoomID); err != nil {
			d.logger.Warn("game join failed", zap.String("room_id", env.RoomID), zap.Error(err))
		}

	case EventGameMove:
		if env.RoomID == "" || env.Index == nil {
			return
		}
		d.hub.GameMove(p, env.RoomID, *env.Index)

	case EventGameRestart:
		if env.RoomID == "" {
			return
		}
		d.hub.GameRestart(p, env.RoomID)

	default:
		// Unknown tags are a no-op, not an error.
	}
}

// authenticate verifies the token and registers the session. On
// failure the peer gets a single error notice and is disconnected.
func (d *Dispatcher) authenticate(p Peer, token string) {
	identity, err := d.verifier.Verify(token)
	if err != nil {
		content := "invalid credentials"
		if errors.Is(err, auth.ErrTokenExpired) {
			content = "credentials expired"
		}
		d.send(p, newErrorEvent(content))
		p.Close()
		return
	}

	if err := d.hub.Register(p, identity); err != nil {
		d.send(p, newErrorEvent("already authenticated"))
		return
	}

	d.logger.Info("client authenticated",
		zap.String("username", identity.Username),
		zap.String("role", identity.Role),
	)
	d.send(p, newAuthenticatedEvent(identity))
}

func (d *Dispatcher) send(p Peer, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("marshalling event", zap.Error(err))
		return
	}
	_ = p.Enqueue(data)
}
