package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPgTestRepository connects to ROOMS_TEST_DATABASE_DSN and migrates
// it. Tests using it are skipped when the variable is unset.
func newPgTestRepository(t *testing.T) *PgRepository {
	dsn := os.Getenv("ROOMS_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("ROOMS_TEST_DATABASE_DSN not set")
	}

	repo, err := NewPgRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, Migrate(repo.DB()))
	return repo
}

func uniqueRoomId(t *testing.T) string {
	return t.Name() + "-" + time.Now().Format("150405.000000000")
}

func TestPgRepository_CreateRoomReplacesStaleTemporary(t *testing.T) {
	repo := newPgTestRepository(t)
	ctx := context.Background()
	roomId := uniqueRoomId(t)
	t.Cleanup(func() { repo.DeleteRoom(ctx, roomId) })

	_, err := repo.CreateRoom(ctx, CreateRoomParams{RoomId: roomId})
	require.NoError(t, err)
	require.NoError(t, repo.CreateMessage(ctx, Message{RoomId: roomId, Username: "alice", Content: "hi", CreatedAt: time.Now()}))
	require.NoError(t, repo.StartSession(ctx, roomId))
	_, err = repo.CreateInvitation(ctx, CreateInvitationParams{RoomId: roomId, InvitedUserId: 5, InvitedBy: 1, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	room, err := repo.CreateRoom(ctx, CreateRoomParams{RoomId: roomId})
	require.NoError(t, err)
	assert.Zero(t, room.MessageCount)

	var count int
	for _, table := range []string{"messages", "chat_sessions", "room_invitations", "room_members"} {
		require.NoError(t, repo.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE room_id = $1", roomId).Scan(&count))
		assert.Zero(t, count, "expected %s of the stale room to be removed", table)
	}

	_, err = repo.CreateRoom(ctx, CreateRoomParams{RoomId: roomId, IsPermanent: true, CreatedBy: 42})
	require.NoError(t, err)
	_, err = repo.CreateRoom(ctx, CreateRoomParams{RoomId: roomId})
	assert.ErrorIs(t, err, ErrConflict, "expected a permanent room never to be replaced")
}

func TestPgRepository_AcceptInvitation(t *testing.T) {
	repo := newPgTestRepository(t)
	ctx := context.Background()
	roomId := uniqueRoomId(t)
	t.Cleanup(func() { repo.DeleteRoom(ctx, roomId) })

	_, err := repo.CreateRoom(ctx, CreateRoomParams{RoomId: roomId, IsPermanent: true, CreatedBy: 1})
	require.NoError(t, err)
	inv, err := repo.CreateInvitation(ctx, CreateInvitationParams{RoomId: roomId, InvitedUserId: 5, InvitedBy: 1, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	accepted, err := repo.AcceptInvitation(ctx, inv.Id)
	require.NoError(t, err)
	assert.Equal(t, types.InvitationAccepted, accepted.Status)
	member, err := repo.IsMember(ctx, roomId, 5)
	require.NoError(t, err)
	assert.True(t, member)

	_, err = repo.AcceptInvitation(ctx, inv.Id)
	assert.ErrorIs(t, err, ErrNotFound)
}
