package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/npezzotti/go-huddle/internal/types"
)

const (
	roomColumns       = "id, room_id, is_permanent, created_by, message_count, created_at"
	memberColumns     = "room_id, user_id, is_admin, added_by, joined_at"
	invitationColumns = "id, room_id, invited_user_id, invited_by, message, status, created_at, expires_at, updated_at"

	addMemberQuery = "INSERT INTO room_members (room_id, user_id, is_admin, added_by, joined_at) " +
		"VALUES ($1, $2, $3, $4, $5) RETURNING " + memberColumns
)

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (Room, error) {
	var (
		room      Room
		createdBy sql.NullInt64
	)
	err := row.Scan(
		&room.Id,
		&room.RoomId,
		&room.IsPermanent,
		&createdBy,
		&room.MessageCount,
		&room.CreatedAt,
	)
	room.CreatedBy = int(createdBy.Int64)
	return room, err
}

func scanMember(row scanner) (Member, error) {
	var (
		m       Member
		addedBy sql.NullInt64
	)
	err := row.Scan(
		&m.RoomId,
		&m.UserId,
		&m.IsAdmin,
		&addedBy,
		&m.JoinedAt,
	)
	m.AddedBy = int(addedBy.Int64)
	return m, err
}

func scanInvitation(row scanner) (Invitation, error) {
	var inv Invitation
	err := row.Scan(
		&inv.Id,
		&inv.RoomId,
		&inv.InvitedUserId,
		&inv.InvitedBy,
		&inv.Message,
		&inv.Status,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.UpdatedAt,
	)
	return inv, err
}

func (db *PgRepository) RoomExists(ctx context.Context, roomId string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM rooms WHERE room_id = $1)",
		roomId,
	).Scan(&exists)

	return exists, translate(err)
}

func (db *PgRepository) GetRoom(ctx context.Context, roomId string) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	room, err := scanRoom(row)
	return room, translate(err)
}

func (db *PgRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (room Room, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// a stale temporary record is dropped so its members, invitations,
	// messages and sessions cascade with it
	if _, err = tx.ExecContext(ctx,
		"DELETE FROM rooms WHERE room_id = $1 AND is_permanent = false",
		params.RoomId,
	); err != nil {
		return Room{}, err
	}

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		"INSERT INTO rooms (room_id, is_permanent, created_by, created_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (room_id) DO NOTHING "+
			"RETURNING "+roomColumns,
		params.RoomId,
		params.IsPermanent,
		nullInt(params.CreatedBy),
		now,
	)

	room, err = scanRoom(row)
	if err == sql.ErrNoRows {
		// the conflicting row is permanent
		return Room{}, fmt.Errorf("room %q: %w", params.RoomId, ErrConflict)
	}
	if err != nil {
		return Room{}, translate(err)
	}

	if params.IsPermanent && params.CreatedBy != 0 {
		_, err = tx.ExecContext(ctx, addMemberQuery,
			params.RoomId,
			params.CreatedBy,
			true,
			params.CreatedBy,
			now,
		)
		if err != nil {
			return Room{}, translate(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) DeleteRoom(ctx context.Context, roomId string) error {
	// members, invitations, messages and sessions cascade
	res, err := db.conn.ExecContext(ctx, "DELETE FROM rooms WHERE room_id = $1", roomId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgRepository) GetUserRooms(ctx context.Context, userId int) ([]Member, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.room_id, m.user_id, m.is_admin, m.added_by, m.joined_at, "+
			"r.id, r.room_id, r.is_permanent, r.created_by, r.message_count, r.created_at "+
			"FROM room_members m JOIN rooms r ON r.room_id = m.room_id "+
			"WHERE m.user_id = $1 ORDER BY m.joined_at",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var (
			m         Member
			addedBy   sql.NullInt64
			createdBy sql.NullInt64
		)
		if err := rows.Scan(
			&m.RoomId, &m.UserId, &m.IsAdmin, &addedBy, &m.JoinedAt,
			&m.Room.Id, &m.Room.RoomId, &m.Room.IsPermanent, &createdBy, &m.Room.MessageCount, &m.Room.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		m.AddedBy = int(addedBy.Int64)
		m.Room.CreatedBy = int(createdBy.Int64)
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgRepository) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)",
		roomId,
		userId,
	).Scan(&exists)

	return exists, translate(err)
}

func (db *PgRepository) GetMember(ctx context.Context, roomId string, userId int) (Member, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+memberColumns+" FROM room_members WHERE room_id = $1 AND user_id = $2 LIMIT 1",
		roomId,
		userId,
	)

	m, err := scanMember(row)
	return m, translate(err)
}

func (db *PgRepository) AddMember(ctx context.Context, params AddMemberParams) (Member, error) {
	row := db.conn.QueryRowContext(ctx, addMemberQuery,
		params.RoomId,
		params.UserId,
		params.IsAdmin,
		nullInt(params.AddedBy),
		time.Now().UTC(),
	)

	m, err := scanMember(row)
	return m, translate(err)
}

func (db *PgRepository) RemoveMember(ctx context.Context, roomId string, userId int) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)

	return err
}

func (db *PgRepository) SetMemberAdmin(ctx context.Context, roomId string, userId int, isAdmin bool) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE room_members SET is_admin = $3 WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
		isAdmin,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgRepository) ListMembers(ctx context.Context, roomId string) ([]Member, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM room_members WHERE room_id = $1 ORDER BY joined_at",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgRepository) CreateInvitation(ctx context.Context, params CreateInvitationParams) (Invitation, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO room_invitations (room_id, invited_user_id, invited_by, message, status, created_at, expires_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $6) RETURNING "+invitationColumns,
		params.RoomId,
		params.InvitedUserId,
		params.InvitedBy,
		params.Message,
		types.InvitationPending,
		now,
		params.ExpiresAt.UTC(),
	)

	inv, err := scanInvitation(row)
	return inv, translate(err)
}

func (db *PgRepository) GetInvitation(ctx context.Context, id int) (Invitation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM room_invitations WHERE id = $1 LIMIT 1",
		id,
	)

	inv, err := scanInvitation(row)
	return inv, translate(err)
}

func (db *PgRepository) GetPendingInvitation(ctx context.Context, roomId string, userId int) (Invitation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM room_invitations "+
			"WHERE room_id = $1 AND invited_user_id = $2 AND status = $3 "+
			"ORDER BY created_at DESC LIMIT 1",
		roomId,
		userId,
		types.InvitationPending,
	)

	inv, err := scanInvitation(row)
	return inv, translate(err)
}

func (db *PgRepository) SetInvitationStatus(ctx context.Context, id int, status types.InvitationStatus) error {
	// the status guard keeps terminal states immutable under concurrent writers
	res, err := db.conn.ExecContext(ctx,
		"UPDATE room_invitations SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4",
		id,
		status,
		time.Now().UTC(),
		types.InvitationPending,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgRepository) AcceptInvitation(ctx context.Context, id int) (inv Invitation, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Invitation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		"UPDATE room_invitations SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4 "+
			"RETURNING "+invitationColumns,
		id,
		types.InvitationAccepted,
		now,
		types.InvitationPending,
	)
	inv, err = scanInvitation(row)
	if err != nil {
		return Invitation{}, translate(err)
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO room_members (room_id, user_id, is_admin, added_by, joined_at) "+
			"VALUES ($1, $2, false, $3, $4) ON CONFLICT (room_id, user_id) DO NOTHING",
		inv.RoomId,
		inv.InvitedUserId,
		nullInt(inv.InvitedBy),
		now,
	); err != nil {
		return Invitation{}, translate(err)
	}

	if err = tx.Commit(); err != nil {
		return Invitation{}, err
	}

	return inv, nil
}

func (db *PgRepository) ListInvitations(ctx context.Context, userId int) ([]Invitation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+invitationColumns+" FROM room_invitations "+
			"WHERE invited_user_id = $1 AND status = $2 ORDER BY created_at DESC",
		userId,
		types.InvitationPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invitations := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

func (db *PgRepository) CreateMessage(ctx context.Context, msg Message) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (room_id, user_id, username, content, created_at) VALUES ($1, $2, $3, $4, $5)",
		msg.RoomId,
		nullInt(msg.UserId),
		msg.Username,
		msg.Content,
		msg.CreatedAt,
	)

	return translate(err)
}

func (db *PgRepository) IncrementMessageCount(ctx context.Context, roomId string) error {
	if _, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET message_count = message_count + 1 WHERE room_id = $1",
		roomId,
	); err != nil {
		return err
	}

	_, err := db.conn.ExecContext(ctx,
		"UPDATE chat_sessions SET message_count = message_count + 1 WHERE room_id = $1 AND ended_at IS NULL",
		roomId,
	)

	return err
}

func (db *PgRepository) StartSession(ctx context.Context, roomId string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO chat_sessions (room_id, started_at) VALUES ($1, $2)",
		roomId,
		time.Now().UTC(),
	)

	return translate(err)
}

func (db *PgRepository) EndSession(ctx context.Context, roomId string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE chat_sessions SET ended_at = $2 WHERE room_id = $1 AND ended_at IS NULL",
		roomId,
		time.Now().UTC(),
	)

	return err
}
