package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/buildhub/buildhub/internal/model"
)

// UnreadCount is one row of the unread summary: how many messages in a
// channel were authored by someone else after the member last read it.
type UnreadCount struct {
	ChannelID uint64 `json:"channelId"`
	Count     int64  `json:"count"`
}

// ChannelRepo reads channel membership and maintains per-member read state.
// Channels themselves are owned by the (external) chat CRUD service; this
// repository only covers what the realtime gateway needs.
type ChannelRepo struct{ DB *sql.DB }

func NewChannelRepo(db *sql.DB) *ChannelRepo { return &ChannelRepo{DB: db} }

// ListIDsForUser returns the ids of every non-deleted channel the user is a
// member of. The gateway joins one room per returned id on connect.
func (r *ChannelRepo) ListIDsForUser(ctx context.Context, userID uint64) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT cm.channel_id FROM channel_members cm
		 JOIN channels c ON c.id = cm.channel_id
		 WHERE cm.user_id=? AND c.deleted_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetMember fetches the membership row for a user in a channel, or
// ErrNotFound when the user does not belong to it.
func (r *ChannelRepo) GetMember(ctx context.Context, channelID, userID uint64) (model.ChannelMember, error) {
	var m model.ChannelMember
	err := r.DB.QueryRowContext(ctx,
		`SELECT channel_id, user_id, joined_at, last_read_at FROM channel_members
		 WHERE channel_id=? AND user_id=? LIMIT 1`,
		channelID, userID).Scan(&m.ChannelID, &m.UserID, &m.JoinedAt, &m.LastReadAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// UpdateLastRead moves the member's read marker forward.
func (r *ChannelRepo) UpdateLastRead(ctx context.Context, channelID, userID uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE channel_members SET last_read_at=? WHERE channel_id=? AND user_id=?",
		at, channelID, userID)
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

// UnreadCounts computes, for every channel the user belongs to, the number
// of live messages authored by someone else and created after the member's
// last read (all such messages when the member never read the channel).
func (r *ChannelRepo) UnreadCounts(ctx context.Context, userID uint64) ([]UnreadCount, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT cm.channel_id,
		        COUNT(m.id)
		 FROM channel_members cm
		 JOIN channels c ON c.id = cm.channel_id AND c.deleted_at IS NULL
		 LEFT JOIN messages m ON m.channel_id = cm.channel_id
		      AND m.author_id <> cm.user_id
		      AND m.deleted_at IS NULL
		      AND (cm.last_read_at IS NULL OR m.created_at > cm.last_read_at)
		 WHERE cm.user_id=?
		 GROUP BY cm.channel_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnreadCount
	for rows.Next() {
		var uc UnreadCount
		if err := rows.Scan(&uc.ChannelID, &uc.Count); err != nil {
			return nil, err
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}
