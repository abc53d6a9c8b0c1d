package model

import (
	"database/sql"
	"time"
)

// Channel represents a chat channel within one account. The realtime gateway
// maps each channel to one broadcast room.
type Channel struct {
	ID        uint64       // channels.id
	AccountID uint64       // channels.account_id
	Name      string       // channels.name
	CreatorID uint64       // channels.creator_id
	CreatedAt time.Time    // channels.created_at
	UpdatedAt time.Time    // channels.updated_at
	DeletedAt sql.NullTime // channels.deleted_at (soft delete)
}

// ChannelMember links a user to a channel. LastReadAt drives the unread
// summary: messages created after it (authored by someone else) count as
// unread; a NULL value means the member has never read the channel.
type ChannelMember struct {
	ChannelID  uint64       // channel_members.channel_id
	UserID     uint64       // channel_members.user_id
	JoinedAt   time.Time    // channel_members.joined_at
	LastReadAt sql.NullTime // channel_members.last_read_at
}
