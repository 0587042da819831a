package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/tick"
)

const (
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns the HTTP handler for the /ws endpoint (spec.md §6).
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := newClientConn(conn, s.cfg.OutboxCapacity)
		s.clientsMu.Lock()
		s.clients[c.id] = c
		s.clientsMu.Unlock()

		go c.writePump()
		s.readPump(r.Context(), c)
	}
}

func (s *Server) readPump(ctx context.Context, c *clientConn) {
	defer s.cleanup(ctx, c)
	defer c.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("client_id", c.id).Msg("client read loop panicked, closing connection")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.replyError(c, gwerrors.InvalidJSON, "malformed JSON")
			continue
		}

		s.handleMessage(ctx, c, &msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *clientConn, msg *clientMessage) {
	switch msg.Action {
	case "authenticate":
		s.handleAuthenticate(ctx, c, msg)
	case "subscribe":
		s.handleSubscribe(ctx, c, msg)
	case "unsubscribe":
		s.handleUnsubscribe(ctx, c, msg)
	case "unsubscribe_all":
		s.handleUnsubscribeAll(ctx, c)
	default:
		s.replyError(c, gwerrors.InvalidAction, "unknown action: "+msg.Action)
	}
}

func (s *Server) handleAuthenticate(ctx context.Context, c *clientConn, msg *clientMessage) {
	if msg.APIKey == "" {
		s.replyError(c, gwerrors.InvalidParameters, "api_key is required")
		return
	}
	if err := s.authenticate(ctx, c, msg.APIKey); err != nil {
		code, text := errorCode(err)
		s.replyError(c, gwerrors.Code(code), text)
		return
	}
	s.reply(c, authAck{Status: "authenticated"})
}

func (s *Server) handleSubscribe(ctx context.Context, c *clientConn, msg *clientMessage) {
	userID, _, authed := c.identity()
	if !authed {
		s.replyError(c, gwerrors.NotAuthenticated, "authenticate first")
		return
	}
	if len(msg.Symbols) == 0 {
		s.replyError(c, gwerrors.InvalidParameters, "symbols is required")
		return
	}
	mode := tick.Mode(msg.Mode)
	if mode != tick.LTP && mode != tick.QUOTE && mode != tick.DEPTH {
		s.replyError(c, gwerrors.UnsupportedMode, "mode must be 1 (LTP), 2 (QUOTE), or 4 (DEPTH)")
		return
	}

	adapter := s.getAdapter(userID)
	if adapter == nil {
		s.replyError(c, gwerrors.ServerError, "no adapter for user")
		return
	}

	results := make([]subscribeResultFrame, 0, len(msg.Symbols))
	for _, sym := range msg.Symbols {
		results = append(results, s.subscribeOne(ctx, c.id, userID, adapter, sym.Symbol, sym.Exchange, mode, msg.DepthLevel))
	}
	s.reply(c, subscribeAckFrame{Status: "ok", Results: results})
}

func (s *Server) handleUnsubscribe(ctx context.Context, c *clientConn, msg *clientMessage) {
	userID, _, authed := c.identity()
	if !authed {
		s.replyError(c, gwerrors.NotAuthenticated, "authenticate first")
		return
	}
	if len(msg.Symbols) == 0 {
		s.replyError(c, gwerrors.InvalidParameters, "symbols is required")
		return
	}
	mode := tick.Mode(msg.Mode)
	adapter := s.getAdapter(userID)

	results := make([]unsubscribeResultFrame, 0, len(msg.Symbols))
	for _, sym := range msg.Symbols {
		results = append(results, s.unsubscribeOne(ctx, c.id, userID, adapter, sym.Symbol, sym.Exchange, mode))
	}
	s.reply(c, unsubscribeAckFrame{Status: "ok", Results: results})
}

func (s *Server) handleUnsubscribeAll(ctx context.Context, c *clientConn) {
	userID, _, authed := c.identity()
	if !authed {
		s.replyError(c, gwerrors.NotAuthenticated, "authenticate first")
		return
	}

	s.subMu.Lock()
	keys := make([]Key, 0, len(s.clientSubs[c.id]))
	for k := range s.clientSubs[c.id] {
		keys = append(keys, k)
	}
	s.subMu.Unlock()

	adapter := s.getAdapter(userID)
	for _, k := range keys {
		s.unsubscribeOne(ctx, c.id, userID, adapter, k.Symbol, k.Exchange, k.Mode)
	}
	s.reply(c, authAck{Status: "unsubscribed_all"})
}

func (s *Server) reply(c *clientConn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.sendDirect(payload)
}

func (s *Server) replyError(c *clientConn, code gwerrors.Code, message string) {
	s.reply(c, errorFrame{Status: "error", Code: string(code), Message: message})
}
