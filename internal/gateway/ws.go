// ABOUTME: WebSocket endpoint implementing the dataReady/requestData/sendMessage protocol
// ABOUTME: One reader handles frames in order; one writer owns every socket write

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/NightFury20/microbe-messaging/internal/auth"
	"github.com/NightFury20/microbe-messaging/internal/conversation"
	"github.com/NightFury20/microbe-messaging/internal/dedupe"
	"github.com/NightFury20/microbe-messaging/internal/hub"
)

// Frame types on the wire
const (
	frameRequestData = "requestData"
	frameSendMessage = "sendMessage"
	frameDataReady   = "dataReady"
	frameData        = "data"
	frameSent        = "sent"
	frameError       = "error"
)

// Error codes carried by error frames
const (
	codeBadRequest  = "bad_request"
	codeValidation  = "validation"
	codeRateLimited = "rate_limited"
	codeDuplicate   = "duplicate"
	codeInternal    = "internal"
)

const (
	// maxFrameBytes comfortably fits MaxContentLength runes of 4-byte UTF-8
	maxFrameBytes = 32 << 10

	// outboundBuffer bounds replies queued behind a slow socket
	outboundBuffer = 16
)

var errSessionClosed = errors.New("session closed")

// inboundFrame is the union of every client frame. Type picks which fields apply.
type inboundFrame struct {
	Type string `json:"type" validate:"required"`

	// requestData
	SelectedUserID *int64 `json:"selectedUserId" validate:"omitempty,gt=0"`

	// sendMessage
	Content         string `json:"content"`
	ToUserID        int64  `json:"toUserId"`
	ClientMessageID string `json:"clientMessageId" validate:"omitempty,max=128,printascii"`
}

type dataReadyFrame struct {
	Type string `json:"type"`
}

type dataFrame struct {
	Type string `json:"type"`
	*conversation.Bundle
}

// sentFrame acknowledges a sendMessage that carried a clientMessageId.
type sentFrame struct {
	Type            string `json:"type"`
	ClientMessageID string `json:"clientMessageId"`
	MessageID       int64  `json:"messageId"`
}

type errorFrame struct {
	Type            string `json:"type"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func newErrorFrame(code, message, clientMessageID string) errorFrame {
	return errorFrame{Type: frameError, Code: code, Message: message, ClientMessageID: clientMessageID}
}

// wsConn is one authenticated WebSocket connection and its hub session.
type wsConn struct {
	gw       *Gateway
	conn     *websocket.Conn
	identity *auth.Identity
	session  *hub.Session
	out      chan any
	logger   *slog.Logger
}

// handleWebSocket authenticates the upgrade request, joins the hub and runs
// the connection until either side goes away.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, errMsg := auth.Authenticate(r, g.verifier)
	if errMsg != "" {
		g.sendJSONError(w, http.StatusUnauthorized, errMsg)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error
		g.logger.Debug("websocket upgrade failed", "user_id", identity.ID, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		gw:       g,
		conn:     conn,
		identity: identity,
		session:  g.hub.Join(ctx, identity.ID),
		out:      make(chan any, outboundBuffer),
		logger:   g.logger.With("user_id", identity.ID),
	}
	defer g.hub.Leave(c.session)
	c.logger = c.logger.With("session_id", c.session.ID)
	c.logger.Info("websocket connected")

	// Every device of this user re-fetches, including the new one
	g.notify(ctx, identity.ID)

	err = c.run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		_ = conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, errSessionClosed):
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case websocket.CloseStatus(err) != -1:
		// peer closed; the library has already answered
	default:
		c.logger.Debug("websocket error", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "")
	}
	c.logger.Info("websocket disconnected")
}

// run starts the reader and writer and returns when either stops.
func (c *wsConn) run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.readLoop(egCtx) })
	eg.Go(func() error { return c.writeLoop(egCtx) })
	return eg.Wait()
}

// readLoop handles inbound frames one at a time, in arrival order.
func (c *wsConn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.reply(ctx, newErrorFrame(codeBadRequest, "expected a text frame", ""))
			continue
		}
		c.handleFrame(ctx, data)
	}
}

// writeLoop is the only goroutine that writes to the socket.
func (c *wsConn) writeLoop(ctx context.Context) error {
	cfg := c.gw.config.WebSocket
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-c.session.Signals():
			if !ok {
				return errSessionClosed
			}
			if err := c.write(ctx, dataReadyFrame{Type: frameDataReady}); err != nil {
				return err
			}

		case frame := <-c.out:
			if err := c.write(ctx, frame); err != nil {
				return err
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (c *wsConn) write(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.gw.config.WebSocket.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, v)
}

// reply queues a frame for this connection. Replies for a connection that is
// already gone are dropped.
func (c *wsConn) reply(ctx context.Context, v any) {
	select {
	case c.out <- v:
	case <-ctx.Done():
		c.logger.Debug("dropping reply for closed connection")
	}
}

func (c *wsConn) handleFrame(ctx context.Context, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply(ctx, newErrorFrame(codeBadRequest, "malformed JSON", ""))
		return
	}
	if err := validate.Struct(frame); err != nil {
		c.reply(ctx, newErrorFrame(codeBadRequest, "invalid frame", frame.ClientMessageID))
		return
	}

	switch frame.Type {
	case frameRequestData:
		c.handleRequestData(ctx, frame.SelectedUserID)
	case frameSendMessage:
		c.handleSendMessage(ctx, frame)
	default:
		c.reply(ctx, newErrorFrame(codeBadRequest, "unknown frame type", ""))
	}
}

// handleRequestData opens the selected thread, if any, and replies with the
// caller's bundle. Store failures are logged and get no reply; the client
// asks again on the next dataReady.
func (c *wsConn) handleRequestData(ctx context.Context, selected *int64) {
	storeCtx, cancel := c.gw.storeContext(ctx)
	defer cancel()

	bundle, err := c.gw.conversation.GetBundle(storeCtx, c.identity.ID, c.identity.Username, selected)
	if err != nil {
		c.logger.Error("failed to build data bundle", "error", err)
		return
	}
	c.reply(ctx, dataFrame{Type: frameData, Bundle: bundle})
}

// handleSendMessage persists a message and then signals both participants.
// With a clientMessageId the send is exactly-once: a retry of a finished send
// is acknowledged with the original message id and not stored again.
func (c *wsConn) handleSendMessage(ctx context.Context, frame inboundFrame) {
	clientID := frame.ClientMessageID
	// Content rules live in the conversation service
	if err := validate.Var(frame.ToUserID, "gt=0"); err != nil {
		c.reply(ctx, newErrorFrame(codeBadRequest, "toUserId is required", clientID))
		return
	}

	key := dedupe.Key{UserID: c.identity.ID, ClientID: clientID}
	if clientID != "" {
		switch result, messageID := c.gw.dedupe.Begin(key); result {
		case dedupe.Done:
			c.reply(ctx, sentFrame{Type: frameSent, ClientMessageID: clientID, MessageID: messageID})
			return
		case dedupe.InFlight:
			c.reply(ctx, newErrorFrame(codeDuplicate, "message already being sent", clientID))
			return
		}
	}
	abort := func() {
		if clientID != "" {
			c.gw.dedupe.Abort(key)
		}
	}

	if c.gw.limiter != nil && !c.gw.limiter.Allow(ctx, c.identity.ID) {
		abort()
		c.reply(ctx, newErrorFrame(codeRateLimited, "too many messages, slow down", clientID))
		return
	}

	storeCtx, cancel := c.gw.storeContext(ctx)
	defer cancel()

	msg, err := c.gw.conversation.SendMessage(storeCtx, frame.Content, c.identity.ID, frame.ToUserID)
	if err != nil {
		abort()
		var verr *conversation.ValidationError
		if errors.As(err, &verr) {
			c.reply(ctx, newErrorFrame(codeValidation, verr.Error(), clientID))
			return
		}
		c.logger.Error("failed to send message", "to_user_id", frame.ToUserID, "error", err)
		c.reply(ctx, newErrorFrame(codeInternal, "message could not be sent", clientID))
		return
	}
	if clientID != "" {
		c.gw.dedupe.Complete(key, msg.ID)
	}

	c.gw.notify(storeCtx, c.identity.ID, frame.ToUserID)

	if clientID != "" {
		c.reply(ctx, sentFrame{Type: frameSent, ClientMessageID: clientID, MessageID: msg.ID})
	}
}
