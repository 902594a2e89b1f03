// Package api provides the HTTP surface: credential issuance, user
// administration, room CRUD, file upload, the websocket upgrade, and
// static asset delivery.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/auth"
	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/realtime"
	"github.com/parlorchat/parlor/internal/storage/postgres"
)

// UserStore defines the user persistence operations required by Handler.
type UserStore interface {
	Create(ctx context.Context, username, password, ip string) (postgres.User, error)
	Authenticate(ctx context.Context, username, password string) (postgres.User, error)
	List(ctx context.Context) ([]postgres.User, error)
	GetByID(ctx context.Context, id string) (postgres.User, error)
	SetStatus(ctx context.Context, id, status string) error
	SetBlocked(ctx context.Context, id string, blocked bool) error
	BlockIP(ctx context.Context, ip string) error
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// RoomStore defines the room persistence operations required by Handler.
type RoomStore interface {
	Create(ctx context.Context, name, kind, createdBy string) (postgres.Room, error)
	List(ctx context.Context) ([]postgres.Room, error)
	GetByID(ctx context.Context, id string) (postgres.Room, error)
	Delete(ctx context.Context, id string) error
}

// TokenIssuer issues credential tokens after a successful login.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

// Handler serves the REST and websocket endpoints.
type Handler struct {
	users      UserStore
	rooms      RoomStore
	issuer     TokenIssuer
	verifier   auth.Verifier
	dispatcher *realtime.Dispatcher
	content    config.ContentConfig
	logger     *zap.Logger
}

// NewHandler creates a Handler.
//
// Precondition: all dependencies must be non-nil.
func NewHandler(
	users UserStore,
	rooms RoomStore,
	issuer TokenIssuer,
	verifier auth.Verifier,
	dispatcher *realtime.Dispatcher,
	content config.ContentConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		users:      users,
		rooms:      rooms,
		issuer:     issuer,
		verifier:   verifier,
		dispatcher: dispatcher,
		content:    content,
		logger:     logger,
	}
}

// Routes returns the assembled request mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/login", h.handleLogin)

	mux.Handle("GET /api/users", h.requireAdmin(h.handleListUsers))
	mux.Handle("POST /api/users/{id}/approve", h.requireAdmin(h.handleApproveUser))
	mux.Handle("POST /api/users/{id}/decline", h.requireAdmin(h.handleDeclineUser))
	mux.Handle("POST /api/users/{id}/block", h.requireAdmin(h.handleBlockUser))
	mux.Handle("POST /api/users/{id}/unblock", h.requireAdmin(h.handleUnblockUser))
	mux.Handle("POST /api/blocked-ips", h.requireAdmin(h.handleBlockIP))

	mux.Handle("GET /api/rooms", h.requireAuth(h.handleListRooms))
	mux.Handle("POST /api/rooms", h.requireAuth(h.handleCreateRoom))
	mux.Handle("DELETE /api/rooms/{id}", h.requireAuth(h.handleDeleteRoom))

	mux.Handle("POST /api/upload", h.requireAuth(h.handleUpload))

	mux.HandleFunc("GET /ws", h.handleWebsocket)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(h.content.UploadDir))))
	mux.Handle("/", http.FileServer(http.Dir(h.content.StaticDir)))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// clientIP extracts the requester address, honouring the first
// X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 32 {
		writeError(w, http.StatusBadRequest, "username must be 3-32 characters")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	ip := clientIP(r)
	if blocked, err := h.users.IsIPBlocked(r.Context(), ip); err != nil {
		h.logger.Error("checking blocked ip", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if blocked {
		writeError(w, http.StatusForbidden, "registration not allowed")
		return
	}

	start := time.Now()
	user, err := h.users.Create(r.Context(), req.Username, req.Password, ip)
	if err != nil {
		if errors.Is(err, postgres.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		h.logger.Error("creating user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("user registered",
		zap.String("username", user.Username),
		zap.String("ip", ip),
		zap.Duration("elapsed", time.Since(start)),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "registration received, awaiting approval",
		"user":    user.Public(),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ip := clientIP(r)
	if blocked, err := h.users.IsIPBlocked(r.Context(), ip); err != nil {
		h.logger.Error("checking blocked ip", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if blocked {
		writeError(w, http.StatusForbidden, "login not allowed")
		return
	}

	start := time.Now()
	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrUserNotFound), errors.Is(err, postgres.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid username or password")
		case errors.Is(err, postgres.ErrUserNotActive):
			writeError(w, http.StatusForbidden, "account pending approval")
		case errors.Is(err, postgres.ErrUserBlocked):
			writeError(w, http.StatusForbidden, "account blocked")
		default:
			h.logger.Error("authenticating user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, err := h.issuer.Issue(auth.Identity{ID: user.ID, Username: user.Username, Role: user.Role})
	if err != nil {
		h.logger.Error("issuing token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("user logged in",
		zap.String("username", user.Username),
		zap.Duration("elapsed", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user.Public(),
	})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("listing users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) setUserStatus(w http.ResponseWriter, r *http.Request, status string) {
	id := r.PathValue("id")
	if err := h.users.SetStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("updating user status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user " + status})
}

func (h *Handler) handleApproveUser(w http.ResponseWriter, r *http.Request) {
	h.setUserStatus(w, r, postgres.StatusActive)
}

func (h *Handler) handleDeclineUser(w http.ResponseWriter, r *http.Request) {
	h.setUserStatus(w, r, postgres.StatusDeclined)
}

func (h *Handler) setUserBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	id := r.PathValue("id")
	if err := h.users.SetBlocked(r.Context(), id, blocked); err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("updating blocked flag", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	msg := "user unblocked"
	if blocked {
		msg = "user blocked"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (h *Handler) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	h.setUserBlocked(w, r, true)
}

func (h *Handler) handleUnblockUser(w http.ResponseWriter, r *http.Request) {
	h.setUserBlocked(w, r, false)
}

func (h *Handler) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		writeError(w, http.StatusBadRequest, "ip required")
		return
	}
	if err := h.users.BlockIP(r.Context(), req.IP); err != nil {
		h.logger.Error("blocking ip", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("ip blocked", zap.String("ip", req.IP))
	writeJSON(w, http.StatusOK, map[string]string{"message": "ip blocked"})
}

func roomJSON(rm postgres.Room) map[string]any {
	return map[string]any{
		"id":        rm.ID,
		"name":      rm.Name,
		"kind":      rm.Kind,
		"createdBy": rm.CreatedBy,
		"createdAt": rm.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.List(r.Context())
	if err != nil {
		h.logger.Error("listing rooms", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]map[string]any, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, roomJSON(rm))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())

	var req struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "room name required")
		return
	}
	if !postgres.ValidRoomKind(req.Kind) {
		writeError(w, http.StatusBadRequest, "room kind must be chat or game")
		return
	}

	room, err := h.rooms.Create(r.Context(), req.Name, req.Kind, caller.Username)
	if err != nil {
		h.logger.Error("creating room", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("kind", room.Kind),
		zap.String("created_by", caller.Username),
	)
	writeJSON(w, http.StatusCreated, roomJSON(room))
}

func (h *Handler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())
	id := r.PathValue("id")

	room, err := h.rooms.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		h.logger.Error("loading room", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if caller.Role != postgres.RoleAdmin && room.CreatedBy != caller.Username {
		writeError(w, http.StatusForbidden, "only the creator or an admin can delete a room")
		return
	}

	if err := h.rooms.Delete(r.Context(), id); err != nil {
		h.logger.Error("deleting room", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "room deleted"})
}
