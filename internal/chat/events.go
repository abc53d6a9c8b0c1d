package chat

import (
	"encoding/json"
	"time"
)

// Client-emitted commands and server-emitted events. Acknowledgements use
// the "<command>:ack" convention.
const (
	EvtMessageSend     = "message:send"
	EvtMessageEdit     = "message:edit"
	EvtMessageDelete   = "message:delete"
	EvtMessageReaction = "message:reaction"
	EvtMessageRead     = "message:read"
	EvtTypingStart     = "typing:start"
	EvtTypingStop      = "typing:stop"
	EvtChannelJoin     = "channel:join"
	EvtChannelLeave    = "channel:leave"

	EvtPresenceOnline   = "presence:online"
	EvtPresenceOffline  = "presence:offline"
	EvtMessageNew       = "message:new"
	EvtMessageEdited    = "message:edited"
	EvtMessageDeleted   = "message:deleted"
	EvtReactionUpdated  = "message:reaction:updated"
	EvtReadUpdated      = "message:read:updated"
	EvtError            = "error"
)

// Frame is the wire envelope for both directions: an event name plus an
// event-specific JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads.

type sendPayload struct {
	ChannelID uint64 `json:"channelId"`
	Body      string `json:"body"`
}

type editPayload struct {
	MessageID uint64 `json:"messageId"`
	Body      string `json:"body"`
}

type messageRefPayload struct {
	MessageID uint64 `json:"messageId"`
}

type reactionPayload struct {
	MessageID uint64 `json:"messageId"`
	Reaction  string `json:"reaction"`
}

type channelRefPayload struct {
	ChannelID uint64 `json:"channelId"`
}

// Outbound payloads.

type presencePayload struct {
	UserID uint64 `json:"userId"`
}

type typingPayload struct {
	ChannelID uint64 `json:"channelId"`
	UserID    uint64 `json:"userId"`
}

type readUpdatedPayload struct {
	ChannelID uint64    `json:"channelId"`
	UserID    uint64    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type errorPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// messagePayload is the client-facing projection of a chat message.
type messagePayload struct {
	ID        uint64              `json:"id"`
	ChannelID uint64              `json:"channelId"`
	AuthorID  uint64              `json:"authorId"`
	Body      string              `json:"body"`
	Reactions map[string][]uint64 `json:"reactions,omitempty"`
	Edited    bool                `json:"edited"`
	EditedAt  *time.Time          `json:"editedAt,omitempty"`
	Deleted   bool                `json:"deleted"`
	CreatedAt time.Time           `json:"createdAt"`
}

// encodeFrame marshals an event into wire bytes. Marshal failures are
// programming errors on our own payload types, so they are swallowed into an
// empty frame rather than propagated per call site.
func encodeFrame(event string, data any) []byte {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil
		}
		raw = b
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return out
}

func ackEvent(command string) string { return command + ":ack" }
