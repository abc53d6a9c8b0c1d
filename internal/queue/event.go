// Package queue defines message payloads exchanged over the message broker
// and the background consumer that processes them.
package queue

// MessageCreatedEvent is published whenever a chat message is persisted. The
// notification service consumes it to fan out push/email alerts without
// querying the primary database.
type MessageCreatedEvent struct {
	MessageID uint64 `json:"message_id"`
	ChannelID uint64 `json:"channel_id"`
	AuthorID  uint64 `json:"author_id"`
	AccountID uint64 `json:"account_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}
