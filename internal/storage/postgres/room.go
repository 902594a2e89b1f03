package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Room kind constants. A chat room carries only messages; a game room
// additionally carries a board game state while the process runs.
const (
	RoomKindChat = "chat"
	RoomKindGame = "game"
)

// ValidRoomKind reports whether kind is a recognised room kind.
func ValidRoomKind(kind string) bool {
	return kind == RoomKindChat || kind == RoomKindGame
}

// Room represents persistent room metadata. Live membership is held
// in memory by the realtime hub, never here.
type Room struct {
	ID        string
	Name      string
	Kind      string
	CreatedBy string
	CreatedAt time.Time
}

// ErrRoomNotFound is returned when a room lookup yields no results.
var ErrRoomNotFound = errors.New("room not found")

// ErrInvalidRoomKind is returned when an unrecognised kind is supplied.
var ErrInvalidRoomKind = errors.New("invalid room kind")

// RoomRepository provides room metadata persistence.
type RoomRepository struct {
	db *pgxpool.Pool
}

// NewRoomRepository creates a RoomRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `id, name, kind, created_by, created_at`

func scanRoom(row pgx.Row) (Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Kind, &rm.CreatedBy, &rm.CreatedAt)
	return rm, err
}

// Create inserts a new room.
//
// Precondition: name must be non-empty; kind must be a valid room kind.
// Postcondition: Returns the created Room with ID and CreatedAt set.
func (r *RoomRepository) Create(ctx context.Context, name, kind, createdBy string) (Room, error) {
	if !ValidRoomKind(kind) {
		return Room{}, ErrInvalidRoomKind
	}

	rm, err := scanRoom(r.db.QueryRow(ctx,
		`INSERT INTO rooms (id, name, kind, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+roomColumns,
		uuid.NewString(), name, kind, createdBy,
	))
	if err != nil {
		return Room{}, fmt.Errorf("inserting room: %w", err)
	}
	return rm, nil
}

// CreateWithID inserts a room with a caller-chosen ID if it does not
// already exist. Used by the seed loader so default rooms keep stable IDs.
//
// Postcondition: Returns true if the room was created, false if it existed.
func (r *RoomRepository) CreateWithID(ctx context.Context, id, name, kind, createdBy string) (bool, error) {
	if !ValidRoomKind(kind) {
		return false, ErrInvalidRoomKind
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO rooms (id, name, kind, created_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		id, name, kind, createdBy,
	)
	if err != nil {
		return false, fmt.Errorf("inserting room: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a room by ID.
//
// Postcondition: Returns the Room or ErrRoomNotFound.
func (r *RoomRepository) GetByID(ctx context.Context, id string) (Room, error) {
	rm, err := scanRoom(r.db.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, fmt.Errorf("querying room: %w", err)
	}
	return rm, nil
}

// List returns all rooms ordered by creation time.
//
// Postcondition: Returns a slice of rooms (may be empty).
func (r *RoomRepository) List(ctx context.Context) ([]Room, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+roomColumns+` FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, rm)
	}
	return rooms, rows.Err()
}

// Delete removes a room by ID.
//
// Postcondition: The room is deleted, or ErrRoomNotFound is returned.
func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}
