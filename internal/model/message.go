package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Reactions maps a reaction token (usually an emoji) to the ids of the users
// who applied it. It is stored as a JSON column; an empty map serializes to
// NULL so unreacted messages stay cheap.
type Reactions map[string][]uint64

// Toggle adds userID under the given token, or removes it when already
// present. A token whose user list becomes empty is dropped entirely.
// It reports whether the user is listed after the call.
func (r Reactions) Toggle(token string, userID uint64) bool {
	users := r[token]
	for i, id := range users {
		if id == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(r, token)
			} else {
				r[token] = users
			}
			return false
		}
	}
	r[token] = append(users, userID)
	return true
}

// Message represents a row in the `messages` table. Edits set EditedAt and
// deletions are soft (the row survives with DeletedAt set).
type Message struct {
	ID        uint64       // messages.id
	ChannelID uint64       // messages.channel_id
	AuthorID  uint64       // messages.author_id
	Body      string       // messages.body
	Reactions Reactions    // messages.reactions (JSON, nullable)
	EditedAt  sql.NullTime // messages.edited_at
	DeletedAt sql.NullTime // messages.deleted_at (soft delete)
	CreatedAt time.Time    // messages.created_at
	UpdatedAt time.Time    // messages.updated_at
}

// MarshalReactions serializes the reaction map for storage. An empty or nil
// map yields a NULL column value.
func (m *Message) MarshalReactions() (sql.NullString, error) {
	if len(m.Reactions) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m.Reactions)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// UnmarshalReactions loads the reaction map from a stored column value.
func (m *Message) UnmarshalReactions(raw sql.NullString) error {
	m.Reactions = Reactions{}
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), &m.Reactions)
}
