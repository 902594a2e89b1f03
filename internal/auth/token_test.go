package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(secret string) *TokenService {
	return NewTokenService(secret, time.Hour)
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc := testService("test-secret")

	token, err := svc.Issue(Identity{ID: "u1", Username: "alice", Role: "user"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "user", id.Role)
}

func TestTokenService_WrongSecret(t *testing.T) {
	token, err := testService("secret-a").Issue(Identity{ID: "u1", Username: "alice", Role: "user"})
	require.NoError(t, err)

	_, err = testService("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_Garbage(t *testing.T) {
	_, err := testService("test-secret").Verify("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = testService("test-secret").Verify("")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_Expired(t *testing.T) {
	svc := testService("test-secret")

	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }

	token, err := svc.Issue(Identity{ID: "u1", Username: "alice", Role: "user"})
	require.NoError(t, err)

	// Advance past the TTL before verifying.
	svc.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenService_TamperedPayload(t *testing.T) {
	svc := testService("test-secret")
	token, err := svc.Issue(Identity{ID: "u1", Username: "alice", Role: "user"})
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = svc.Verify(tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_PreservesRole(t *testing.T) {
	svc := testService("test-secret")
	token, err := svc.Issue(Identity{ID: "a1", Username: "root", Role: "admin"})
	require.NoError(t, err)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", id.Role)
}
