// Package chat implements the realtime messaging gateway: websocket
// transport, channel rooms, presence transitions and the guarded command
// set (message send/edit/delete/reaction/read, typing, room membership).
package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/internal/model"
	"github.com/buildhub/buildhub/internal/presence"
	"github.com/buildhub/buildhub/internal/utils"
	"github.com/buildhub/buildhub/pkg/apperr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway owns the websocket endpoint. Every connection is authenticated on
// handshake; unauthenticated transports are never admitted, so a *Client in
// the hub always carries a verified identity.
type Gateway struct {
	hub          *Hub
	presence     *presence.Tracker
	svc          *Service
	accessSecret string
}

func NewGateway(hub *Hub, tracker *presence.Tracker, svc *Service, accessSecret string) *Gateway {
	return &Gateway{hub: hub, presence: tracker, svc: svc, accessSecret: accessSecret}
}

// bearerToken pulls the access token from the Authorization header or the
// "token" query parameter, the two places a websocket handshake can carry it.
func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("token")
}

// HandleWS authenticates the handshake, upgrades the transport and runs the
// connect sequence: presence online, one room per channel membership, and a
// presence:online broadcast to everyone else. A handshake without a valid
// token is rejected before the upgrade; the transport is never left open
// anonymously.
func (g *Gateway) HandleWS(c echo.Context) error {
	raw := bearerToken(c)
	if raw == "" {
		return apperr.Unauthorized("Missing token")
	}
	identity, err := utils.VerifyAccessToken(g.accessSecret, raw)
	if err != nil {
		return apperr.Unauthorized("Invalid token")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Upgrade already wrote the handshake error
	}

	client := newClient(g, conn, identity)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.presence.MarkOnline(ctx, identity.UserID, client.id); err != nil {
		log.Printf("chat: mark online failed for user %d: %v", identity.UserID, err)
		_ = conn.Close()
		return nil
	}

	channelIDs, err := g.svc.Members.ListIDsForUser(ctx, identity.UserID)
	if err != nil {
		log.Printf("chat: list channels failed for user %d: %v", identity.UserID, err)
		if _, perr := g.presence.RemoveConnection(ctx, identity.UserID, client.id); perr != nil {
			log.Printf("chat: presence rollback failed: %v", perr)
		}
		_ = conn.Close()
		return nil
	}

	g.hub.Register(client)
	for _, id := range channelIDs {
		g.hub.JoinRoom(client, id)
	}
	g.hub.BroadcastAll(encodeFrame(EvtPresenceOnline, presencePayload{UserID: identity.UserID}), client)

	go client.writePump()
	go client.readPump()
	return nil
}

// handleDisconnect runs once per connection, whatever closed it. Presence is
// decremented first; only when the last connection for the user is gone does
// the offline broadcast fire.
func (g *Gateway) handleDisconnect(c *Client) {
	g.hub.Unregister(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stillOnline, err := g.presence.RemoveConnection(ctx, c.identity.UserID, c.id)
	if err != nil {
		log.Printf("chat: remove connection failed for user %d: %v", c.identity.UserID, err)
		return
	}
	if !stillOnline {
		g.hub.BroadcastAll(encodeFrame(EvtPresenceOffline, presencePayload{UserID: c.identity.UserID}), c)
	}
}

// dispatch routes one inbound frame. Each command re-checks that the client
// carries an authenticated identity before touching any state.
func (g *Gateway) dispatch(c *Client, frame Frame) {
	if c.identity.UserID == 0 {
		c.sendError("not authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch frame.Event {
	case EvtMessageSend:
		err = g.onSend(ctx, c, frame.Data)
	case EvtMessageEdit:
		err = g.onEdit(ctx, c, frame.Data)
	case EvtMessageDelete:
		err = g.onDelete(ctx, c, frame.Data)
	case EvtMessageReaction:
		err = g.onReaction(ctx, c, frame.Data)
	case EvtMessageRead:
		err = g.onRead(ctx, c, frame.Data)
	case EvtTypingStart, EvtTypingStop:
		err = g.onTyping(c, frame.Event, frame.Data)
	case EvtChannelJoin, EvtChannelLeave:
		err = g.onRoomChange(c, frame.Event, frame.Data)
	default:
		c.sendError("unknown event")
		return
	}

	if err != nil {
		log.Printf("chat: %s from user %d failed: %v", frame.Event, c.identity.UserID, err)
		c.sendError(clientMessage(err))
	}
}

// clientMessage sanitizes an error for the wire: AppError messages pass
// through, anything else collapses to a generic line.
func clientMessage(err error) string {
	if code := apperr.CodeOf(err); code != apperr.CodeUnknown && code != apperr.CodeInternal {
		return err.Error()
	}
	return "internal error"
}

func (g *Gateway) onSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	msg, err := g.svc.Send(ctx, c.identity, p.ChannelID, p.Body)
	if err != nil {
		return err
	}
	out := toMessagePayload(msg)
	g.hub.BroadcastRoom(msg.ChannelID, encodeFrame(EvtMessageNew, out), c)
	c.sendAck(EvtMessageSend, out)
	return nil
}

func (g *Gateway) onEdit(ctx context.Context, c *Client, data json.RawMessage) error {
	var p editPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	msg, err := g.svc.Edit(ctx, c.identity.UserID, p.MessageID, p.Body)
	if err != nil {
		return err
	}
	out := toMessagePayload(msg)
	g.hub.BroadcastRoom(msg.ChannelID, encodeFrame(EvtMessageEdited, out), nil)
	c.sendAck(EvtMessageEdit, out)
	return nil
}

func (g *Gateway) onDelete(ctx context.Context, c *Client, data json.RawMessage) error {
	var p messageRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	msg, err := g.svc.Delete(ctx, c.identity.UserID, p.MessageID)
	if err != nil {
		return err
	}
	// Scoped to the owning channel's room, like every other message event.
	g.hub.BroadcastRoom(msg.ChannelID, encodeFrame(EvtMessageDeleted, toMessagePayload(msg)), nil)
	c.sendAck(EvtMessageDelete, messageRefPayload{MessageID: msg.ID})
	return nil
}

func (g *Gateway) onReaction(ctx context.Context, c *Client, data json.RawMessage) error {
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	msg, err := g.svc.ToggleReaction(ctx, c.identity.UserID, p.MessageID, p.Reaction)
	if err != nil {
		return err
	}
	out := toMessagePayload(msg)
	g.hub.BroadcastRoom(msg.ChannelID, encodeFrame(EvtReactionUpdated, out), nil)
	c.sendAck(EvtMessageReaction, out)
	return nil
}

func (g *Gateway) onRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p channelRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	readAt, err := g.svc.MarkRead(ctx, c.identity.UserID, p.ChannelID)
	if err != nil {
		return err
	}
	out := readUpdatedPayload{ChannelID: p.ChannelID, UserID: c.identity.UserID, ReadAt: readAt}
	// Other connections of the same user, not the channel: this keeps a
	// multi-device client's unread badges in sync.
	g.hub.SendToUserExcept(c.identity.UserID, encodeFrame(EvtReadUpdated, out), c)
	c.sendAck(EvtMessageRead, out)
	return nil
}

func (g *Gateway) onTyping(c *Client, event string, data json.RawMessage) error {
	var p channelRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	out := typingPayload{ChannelID: p.ChannelID, UserID: c.identity.UserID}
	g.hub.BroadcastRoom(p.ChannelID, encodeFrame(event, out), c)
	return nil
}

func (g *Gateway) onRoomChange(c *Client, event string, data json.RawMessage) error {
	var p channelRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return apperr.InvalidArg("Malformed payload")
	}
	if event == EvtChannelJoin {
		g.hub.JoinRoom(c, p.ChannelID)
	} else {
		g.hub.LeaveRoom(c, p.ChannelID)
	}
	c.sendAck(event, channelRefPayload{ChannelID: p.ChannelID})
	return nil
}

// toMessagePayload projects a stored message into its wire shape.
func toMessagePayload(m model.Message) messagePayload {
	p := messagePayload{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.AuthorID,
		Body:      m.Body,
		Edited:    m.EditedAt.Valid,
		Deleted:   m.DeletedAt.Valid,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Reactions) > 0 {
		p.Reactions = m.Reactions
	}
	if m.EditedAt.Valid {
		at := m.EditedAt.Time
		p.EditedAt = &at
	}
	return p
}
