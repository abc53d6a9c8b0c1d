package repository

import (
	"context"
	"database/sql"

	"github.com/buildhub/buildhub/internal/model"
)

// MessageRepo persists chat messages. Deletion is soft so edit/delete events
// can still be audited; all reads exclude soft-deleted rows.
type MessageRepo struct{ DB *sql.DB }

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{DB: db} }

// Create inserts a message and returns the stored row with its id and
// creation timestamp filled in.
func (r *MessageRepo) Create(ctx context.Context, m model.Message) (model.Message, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO messages (channel_id, author_id, body) VALUES (?,?,?)",
		m.ChannelID, m.AuthorID, m.Body)
	if err != nil {
		return model.Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID fetches a live (not soft-deleted) message.
func (r *MessageRepo) GetByID(ctx context.Context, id uint64) (model.Message, error) {
	var (
		m   model.Message
		raw sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, channel_id, author_id, body, reactions, edited_at, deleted_at, created_at, updated_at
		 FROM messages WHERE id=? AND deleted_at IS NULL LIMIT 1`,
		id).Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Body, &raw,
		&m.EditedAt, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if err := m.UnmarshalReactions(raw); err != nil {
		return m, err
	}
	return m, nil
}

// UpdateBody replaces the message text and stamps the edit.
func (r *MessageRepo) UpdateBody(ctx context.Context, id uint64, body string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE messages SET body=?, edited_at=NOW() WHERE id=? AND deleted_at IS NULL",
		body, id)
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

// SoftDelete marks the message deleted without removing the row.
func (r *MessageRepo) SoftDelete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE messages SET deleted_at=NOW() WHERE id=? AND deleted_at IS NULL", id)
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

// UpdateReactions stores the serialized reaction map for a message.
func (r *MessageRepo) UpdateReactions(ctx context.Context, id uint64, reactions sql.NullString) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE messages SET reactions=? WHERE id=? AND deleted_at IS NULL", reactions, id)
	return err
}
