package chat

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildhub/buildhub/internal/model"
	"github.com/buildhub/buildhub/internal/queue"
	"github.com/buildhub/buildhub/internal/repository"
	"github.com/buildhub/buildhub/internal/utils"
	"github.com/buildhub/buildhub/pkg/apperr"
)

// ----- fakes -----

type fakeMessageStore struct {
	nextID uint64
	byID   map[uint64]model.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{byID: map[uint64]model.Message{}}
}

func (s *fakeMessageStore) Create(_ context.Context, m model.Message) (model.Message, error) {
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()
	s.byID[m.ID] = m
	return m, nil
}

func (s *fakeMessageStore) GetByID(_ context.Context, id uint64) (model.Message, error) {
	m, ok := s.byID[id]
	if !ok || m.DeletedAt.Valid {
		return model.Message{}, repository.ErrNotFound
	}
	if m.Reactions == nil {
		m.Reactions = model.Reactions{}
	}
	return m, nil
}

func (s *fakeMessageStore) UpdateBody(_ context.Context, id uint64, body string) error {
	m, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Body = body
	m.EditedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	s.byID[id] = m
	return nil
}

func (s *fakeMessageStore) SoftDelete(_ context.Context, id uint64) error {
	m, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.DeletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	s.byID[id] = m
	return nil
}

func (s *fakeMessageStore) UpdateReactions(_ context.Context, id uint64, reactions sql.NullString) error {
	m, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := m.UnmarshalReactions(reactions); err != nil {
		return err
	}
	s.byID[id] = m
	return nil
}

type fakeMemberStore struct {
	// members[channelID] -> set of user ids
	members  map[uint64]map[uint64]bool
	lastRead map[[2]uint64]time.Time
	counts   []repository.UnreadCount
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{
		members:  map[uint64]map[uint64]bool{},
		lastRead: map[[2]uint64]time.Time{},
	}
}

func (s *fakeMemberStore) add(channelID, userID uint64) {
	if s.members[channelID] == nil {
		s.members[channelID] = map[uint64]bool{}
	}
	s.members[channelID][userID] = true
}

func (s *fakeMemberStore) ListIDsForUser(_ context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	for ch, users := range s.members {
		if users[userID] {
			ids = append(ids, ch)
		}
	}
	return ids, nil
}

func (s *fakeMemberStore) GetMember(_ context.Context, channelID, userID uint64) (model.ChannelMember, error) {
	if !s.members[channelID][userID] {
		return model.ChannelMember{}, repository.ErrNotFound
	}
	return model.ChannelMember{ChannelID: channelID, UserID: userID}, nil
}

func (s *fakeMemberStore) UpdateLastRead(_ context.Context, channelID, userID uint64, at time.Time) error {
	if !s.members[channelID][userID] {
		return repository.ErrNotFound
	}
	s.lastRead[[2]uint64{channelID, userID}] = at
	return nil
}

func (s *fakeMemberStore) UnreadCounts(_ context.Context, userID uint64) ([]repository.UnreadCount, error) {
	return s.counts, nil
}

type recordingPublisher struct {
	events []queue.MessageCreatedEvent
	err    error
}

func (p *recordingPublisher) PublishMessageCreated(_ context.Context, ev queue.MessageCreatedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

// ----- harness -----

func newTestService() (*Service, *fakeMessageStore, *fakeMemberStore, *recordingPublisher) {
	msgs := newFakeMessageStore()
	members := newFakeMemberStore()
	pub := &recordingPublisher{}
	return NewService(msgs, members, pub), msgs, members, pub
}

func alice() utils.Identity {
	return utils.Identity{UserID: 1, Email: "alice@x.com", AccountID: 10, Name: "Alice"}
}

// ----- tests -----

func TestSendRequiresMembership(t *testing.T) {
	svc, _, members, pub := newTestService()

	_, err := svc.Send(context.Background(), alice(), 5, "hello")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	assert.Empty(t, pub.events)

	members.add(5, 1)
	msg, err := svc.Send(context.Background(), alice(), 5, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, uint64(1), msg.AuthorID)
	require.Len(t, pub.events, 1)
	assert.Equal(t, msg.ID, pub.events[0].MessageID)
	assert.Equal(t, uint64(10), pub.events[0].AccountID)
}

func TestSendPublishFailureIsBestEffort(t *testing.T) {
	svc, msgs, members, pub := newTestService()
	members.add(5, 1)
	pub.err = assert.AnError

	msg, err := svc.Send(context.Background(), alice(), 5, "hello")
	require.NoError(t, err)
	// The message is persisted even though the broker rejected the event.
	_, getErr := msgs.GetByID(context.Background(), msg.ID)
	assert.NoError(t, getErr)
}

func TestSendRejectsBlankBody(t *testing.T) {
	svc, _, members, _ := newTestService()
	members.add(5, 1)

	_, err := svc.Send(context.Background(), alice(), 5, "   ")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestEditOnlyByAuthor(t *testing.T) {
	svc, msgs, members, _ := newTestService()
	members.add(5, 1)
	msg, err := svc.Send(context.Background(), alice(), 5, "original")
	require.NoError(t, err)

	_, err = svc.Edit(context.Background(), 2, msg.ID, "hijacked")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	// Rejected edits leave the row untouched.
	stored, _ := msgs.GetByID(context.Background(), msg.ID)
	assert.Equal(t, "original", stored.Body)
	assert.False(t, stored.EditedAt.Valid)

	edited, err := svc.Edit(context.Background(), 1, msg.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Body)
	assert.True(t, edited.EditedAt.Valid)
}

func TestDeleteOnlyByAuthor(t *testing.T) {
	svc, msgs, members, _ := newTestService()
	members.add(5, 1)
	msg, err := svc.Send(context.Background(), alice(), 5, "going away")
	require.NoError(t, err)

	_, err = svc.Delete(context.Background(), 2, msg.ID)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	deleted, err := svc.Delete(context.Background(), 1, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.DeletedAt.Valid)

	// A deleted message reads back as not-found, so a second delete is too.
	_, err = msgs.GetByID(context.Background(), msg.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.Delete(context.Background(), 1, msg.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestEditMissingMessage(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Edit(context.Background(), 1, 999, "nope")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestToggleReactionRoundTrip(t *testing.T) {
	svc, msgs, members, _ := newTestService()
	members.add(5, 1)
	msg, err := svc.Send(context.Background(), alice(), 5, "react to me")
	require.NoError(t, err)

	after, err := svc.ToggleReaction(context.Background(), 7, msg.ID, "+1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, after.Reactions["+1"])

	// Second user piles on.
	after, err = svc.ToggleReaction(context.Background(), 8, msg.ID, "+1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{7, 8}, after.Reactions["+1"])

	// Toggling twice restores the prior state: user 8 drops out again.
	after, err = svc.ToggleReaction(context.Background(), 8, msg.ID, "+1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, after.Reactions["+1"])

	// Last user out removes the token entirely.
	after, err = svc.ToggleReaction(context.Background(), 7, msg.ID, "+1")
	require.NoError(t, err)
	assert.NotContains(t, after.Reactions, "+1")

	stored, _ := msgs.GetByID(context.Background(), msg.ID)
	assert.Empty(t, stored.Reactions)
}

func TestToggleReactionValidation(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.ToggleReaction(context.Background(), 1, 999, "+1")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = svc.ToggleReaction(context.Background(), 1, 999, "  ")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestUnreadSummary(t *testing.T) {
	svc, _, members, _ := newTestService()
	members.counts = []repository.UnreadCount{
		{ChannelID: 5, Count: 3},
		{ChannelID: 9, Count: 0},
	}

	got, err := svc.UnreadSummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, members.counts, got)
}

func TestMarkRead(t *testing.T) {
	svc, _, members, _ := newTestService()
	members.add(5, 1)

	before := time.Now().UTC()
	at, err := svc.MarkRead(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.False(t, at.Before(before))
	assert.Equal(t, at, members.lastRead[[2]uint64{5, 1}])

	_, err = svc.MarkRead(context.Background(), 2, 5)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
}
