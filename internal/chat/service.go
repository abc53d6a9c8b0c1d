package chat

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/buildhub/buildhub/internal/model"
	"github.com/buildhub/buildhub/internal/queue"
	"github.com/buildhub/buildhub/internal/repository"
	"github.com/buildhub/buildhub/internal/utils"
	"github.com/buildhub/buildhub/pkg/apperr"
)

// MessageStore is the persistence contract the chat service needs for
// messages. *repository.MessageRepo satisfies it.
type MessageStore interface {
	Create(ctx context.Context, m model.Message) (model.Message, error)
	GetByID(ctx context.Context, id uint64) (model.Message, error)
	UpdateBody(ctx context.Context, id uint64, body string) error
	SoftDelete(ctx context.Context, id uint64) error
	UpdateReactions(ctx context.Context, id uint64, reactions sql.NullString) error
}

// MemberStore is the membership/read-state contract. *repository.ChannelRepo
// satisfies it.
type MemberStore interface {
	ListIDsForUser(ctx context.Context, userID uint64) ([]uint64, error)
	GetMember(ctx context.Context, channelID, userID uint64) (model.ChannelMember, error)
	UpdateLastRead(ctx context.Context, channelID, userID uint64, at time.Time) error
	UnreadCounts(ctx context.Context, userID uint64) ([]repository.UnreadCount, error)
}

// EventPublisher pushes message-created events to the broker for the
// notification service. May be nil when no broker is configured.
type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, ev queue.MessageCreatedEvent) error
}

// Service implements the chat commands' persistence semantics: membership
// checks, authorship enforcement, reaction toggling and read markers. The
// gateway owns transport concerns; this type owns state.
type Service struct {
	Messages  MessageStore
	Members   MemberStore
	Publisher EventPublisher
}

func NewService(messages MessageStore, members MemberStore, pub EventPublisher) *Service {
	return &Service{Messages: messages, Members: members, Publisher: pub}
}

// Send persists a new message after confirming the author belongs to the
// channel, and hands the event to the broker (best effort).
func (s *Service) Send(ctx context.Context, author utils.Identity, channelID uint64, body string) (model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Message{}, apperr.InvalidArg("Message body required")
	}
	if _, err := s.Members.GetMember(ctx, channelID, author.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Message{}, apperr.Forbidden("Not a channel member")
		}
		return model.Message{}, err
	}

	msg, err := s.Messages.Create(ctx, model.Message{
		ChannelID: channelID,
		AuthorID:  author.UserID,
		Body:      body,
	})
	if err != nil {
		return model.Message{}, err
	}

	if s.Publisher != nil {
		ev := queue.MessageCreatedEvent{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			AuthorID:  msg.AuthorID,
			AccountID: author.AccountID,
			Body:      msg.Body,
			CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := s.Publisher.PublishMessageCreated(ctx, ev); err != nil {
			log.Printf("chat: publish message.created failed: %v", err)
		}
	}
	return msg, nil
}

// Edit replaces a message's body. Only the author may edit, and a missing or
// deleted message reports not-found.
func (s *Service) Edit(ctx context.Context, userID, messageID uint64, body string) (model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Message{}, apperr.InvalidArg("Message body required")
	}
	msg, err := s.authored(ctx, userID, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.Messages.UpdateBody(ctx, messageID, body); err != nil {
		return model.Message{}, err
	}
	msg.Body = body
	msg.EditedAt.Valid = true
	msg.EditedAt.Time = time.Now().UTC()
	return msg, nil
}

// Delete soft-deletes a message after the same authorship check as Edit.
func (s *Service) Delete(ctx context.Context, userID, messageID uint64) (model.Message, error) {
	msg, err := s.authored(ctx, userID, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.Messages.SoftDelete(ctx, messageID); err != nil {
		return model.Message{}, err
	}
	msg.DeletedAt.Valid = true
	msg.DeletedAt.Time = time.Now().UTC()
	return msg, nil
}

// ToggleReaction adds the user under the reaction token, or removes them if
// already present; a token with no users left disappears entirely. Applying
// the same reaction twice therefore restores the original state.
func (s *Service) ToggleReaction(ctx context.Context, userID, messageID uint64, token string) (model.Message, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Message{}, apperr.InvalidArg("Reaction required")
	}
	msg, err := s.Messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Message{}, apperr.NotFound("Message not found")
		}
		return model.Message{}, err
	}

	msg.Reactions.Toggle(token, userID)
	raw, err := msg.MarshalReactions()
	if err != nil {
		return model.Message{}, err
	}
	if err := s.Messages.UpdateReactions(ctx, messageID, raw); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// MarkRead moves the member's last-read marker for a channel to now and
// returns the new timestamp.
func (s *Service) MarkRead(ctx context.Context, userID, channelID uint64) (time.Time, error) {
	now := time.Now().UTC()
	if err := s.Members.UpdateLastRead(ctx, channelID, userID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, apperr.Forbidden("Not a channel member")
		}
		return time.Time{}, err
	}
	return now, nil
}

// UnreadSummary lists per-channel unread counts for the user.
func (s *Service) UnreadSummary(ctx context.Context, userID uint64) ([]repository.UnreadCount, error) {
	return s.Members.UnreadCounts(ctx, userID)
}

// authored loads a live message and verifies the acting user wrote it.
func (s *Service) authored(ctx context.Context, userID, messageID uint64) (model.Message, error) {
	msg, err := s.Messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Message{}, apperr.NotFound("Message not found")
		}
		return model.Message{}, err
	}
	if msg.AuthorID != userID {
		return model.Message{}, apperr.Forbidden("Not the message author")
	}
	return msg, nil
}
