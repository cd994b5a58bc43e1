// ABOUTME: WebSocket session for the push-notify sync protocol
// ABOUTME: Decodes server frames into Events on a channel; writes are serialized

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/NightFury20/microbe-messaging/internal/conversation"
)

// Event types delivered by a Session
const (
	EventDataReady = "dataReady"
	EventData      = "data"
	EventSent      = "sent"
	EventError     = "error"
)

// Event is one frame from the gateway.
type Event struct {
	Type string

	// Bundle is set for data events
	Bundle *conversation.Bundle

	// Code and Message are set for error events
	Code    string
	Message string

	// ClientMessageID echoes the send an error or sent event refers to
	ClientMessageID string
	// MessageID is the stored message for sent events
	MessageID int64
}

// wireFrame matches every server frame shape
type wireFrame struct {
	Type string `json:"type"`
	conversation.Bundle
	Code            string `json:"code"`
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId"`
	MessageID       int64  `json:"messageId"`
}

func (f *wireFrame) event() Event {
	ev := Event{
		Type:            f.Type,
		Code:            f.Code,
		Message:         f.Message,
		ClientMessageID: f.ClientMessageID,
		MessageID:       f.MessageID,
	}
	if f.Type == EventData {
		b := f.Bundle
		ev.Bundle = &b
	}
	return ev
}

// Session is one WebSocket connection to the gateway.
type Session struct {
	conn   *websocket.Conn
	events chan Event

	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// Connect opens a WebSocket session authenticated with the client's token.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	u := *c.baseURL
	u.Path += "/ws"
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	// Dial is bounded by ctx; a client-wide timeout would also cut the
	// upgraded connection
	hc := *c.httpClient
	hc.Timeout = 0

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &APIError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	s := &Session{
		conn:   conn,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the channel of incoming events. It is closed when the
// connection ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Err returns why the events channel closed, or nil while it is open or
// after a normal close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		var f wireFrame
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
			return
		}
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		select {
		case s.events <- f.event():
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, v)
}

// RequestData asks for a fresh bundle. A non-nil selected opens that thread
// and marks it read; the answer arrives as a data event.
func (s *Session) RequestData(ctx context.Context, selected *int64) error {
	return s.write(ctx, map[string]any{
		"type":           "requestData",
		"selectedUserId": selected,
	})
}

// SendMessage sends content to toUserID. With a non-empty clientMessageID
// retries are safe and a sent event confirms the stored message.
func (s *Session) SendMessage(ctx context.Context, toUserID int64, content, clientMessageID string) error {
	if toUserID <= 0 {
		return errors.New("toUserID must be positive")
	}
	frame := map[string]any{
		"type":     "sendMessage",
		"toUserId": toUserID,
		"content":  content,
	}
	if clientMessageID != "" {
		frame["clientMessageId"] = clientMessageID
	}
	return s.write(ctx, frame)
}

// Close ends the session. Calling it more than once is safe.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}
