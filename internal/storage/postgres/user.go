package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Role constants for user privilege levels.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Status constants for the account approval workflow. New registrations
// start pending and must be approved by an admin before they can log in.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusDeclined = "declined"
)

// ValidRole reports whether role is a recognised privilege level.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// User represents a registered user.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	Status       string
	IsBlocked    bool
	IP           string
	CreatedAt    time.Time
}

// Public returns the subset of user fields safe to send to clients.
func (u User) Public() map[string]any {
	return map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"role":      u.Role,
		"status":    u.Status,
		"isBlocked": u.IsBlocked,
		"ip":        u.IP,
		"createdAt": u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ErrUserNotFound is returned when a user lookup yields no results.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when attempting to create a duplicate username.
var ErrUserExists = errors.New("user already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUserNotActive is returned when a pending or declined user tries to log in.
var ErrUserNotActive = errors.New("user not active")

// ErrUserBlocked is returned when a blocked user or IP tries to authenticate.
var ErrUserBlocked = errors.New("user blocked")

// ErrInvalidRole is returned when an unrecognised role string is supplied.
var ErrInvalidRole = errors.New("invalid role")

// UserRepository provides user persistence operations.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, password_hash, role, status, is_blocked, ip, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Status, &u.IsBlocked, &u.IP, &u.CreatedAt)
	return u, err
}

// Create inserts a new pending user with a bcrypt-hashed password.
//
// Precondition: username and password must be non-empty; ip may be empty.
// Postcondition: Returns the created User with status "pending",
// or ErrUserExists if the username is taken.
func (r *UserRepository) Create(ctx context.Context, username, password, ip string) (User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (id, username, password_hash, role, status, ip)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		uuid.NewString(), username, hash, RoleUser, StatusPending, ip,
	))
	if err != nil {
		if isDuplicateKeyError(err) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// Authenticate verifies credentials and gate conditions for login.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns the User if credentials are valid and the account
// is active and unblocked. Returns ErrUserNotFound, ErrInvalidCredentials,
// ErrUserNotActive, or ErrUserBlocked on the respective failures.
func (r *UserRepository) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return User{}, err
	}

	if !CheckPassword(password, u.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}
	if u.IsBlocked {
		return User{}, ErrUserBlocked
	}
	if u.Status != StatusActive {
		return User{}, ErrUserNotActive
	}
	return u, nil
}

// GetByUsername retrieves a user by username.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the User or ErrUserNotFound.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by ID.
//
// Postcondition: Returns the User or ErrUserNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// List returns all users ordered by creation time.
//
// Postcondition: Returns a slice of users (may be empty).
func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetStatus updates the approval status for the given user.
//
// Precondition: status must be one of pending, active, declined.
// Postcondition: The user's status is updated, or ErrUserNotFound is returned.
func (r *UserRepository) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetBlocked updates the blocked flag for the given user.
//
// Postcondition: The user's blocked flag is updated, or ErrUserNotFound is returned.
func (r *UserRepository) SetBlocked(ctx context.Context, id string, blocked bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET is_blocked = $1 WHERE id = $2`, blocked, id)
	if err != nil {
		return fmt.Errorf("updating blocked flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetRole updates the role for the given user.
//
// Precondition: role must be a valid role string (use ValidRole to check).
// Postcondition: The user's role is updated, or ErrInvalidRole / ErrUserNotFound is returned.
func (r *UserRepository) SetRole(ctx context.Context, id, role string) error {
	if !ValidRole(role) {
		return ErrInvalidRole
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// BlockIP records an address in the block list. Blocking an already
// blocked address is a no-op.
//
// Precondition: ip must be non-empty.
func (r *UserRepository) BlockIP(ctx context.Context, ip string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO blocked_ips (ip) VALUES ($1) ON CONFLICT (ip) DO NOTHING`, ip)
	if err != nil {
		return fmt.Errorf("blocking ip: %w", err)
	}
	return nil
}

// IsIPBlocked reports whether the address is in the block list.
func (r *UserRepository) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var blocked bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocked_ips WHERE ip = $1)`, ip).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("checking blocked ip: %w", err)
	}
	return blocked, nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
