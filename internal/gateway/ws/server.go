// Package ws implements the WebSocket endpoint for interactive sessions.
// A client connects once, sends chat messages and approval decisions as JSON
// frames, and receives the live event stream of each turn — including
// tool_request events it can answer in-band, on the same connection that is
// streaming the turn.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/permission"
)

const writeTimeout = 10 * time.Second

// ClientFrame is a message from the client. Type selects which fields apply.
type ClientFrame struct {
	Type string `json:"type"` // "chat" or "approve"

	// chat fields
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Message   string `json:"message,omitempty"`

	// approve fields
	RequestID string `json:"request_id,omitempty"`
	Decision  string `json:"decision,omitempty"` // "once", "session", or "never"
}

// ServerFrame is a message to the client: either a turn event or a
// connection-level acknowledgement or error.
type ServerFrame struct {
	Type      string       `json:"type"` // event type, "ack", or "error"
	SessionID string       `json:"session_id,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	Event     *agent.Event `json:"event,omitempty"`
}

// Server upgrades HTTP connections and bridges frames to the orchestrator
// and the approval gateway.
type Server struct {
	orch      *agent.Orchestrator
	approvals *approval.Gateway
	token     string // empty = no connection auth
	logger    *slog.Logger
}

// NewServer creates a WebSocket server.
func NewServer(orch *agent.Orchestrator, approvals *approval.Gateway, token string, logger *slog.Logger) *Server {
	return &Server{
		orch:      orch,
		approvals: approvals,
		token:     token,
		logger:    logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if token != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"axon-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn)
}

// connection serializes writes: turn goroutines and the read loop both send
// frames, and websocket.Conn allows only one concurrent writer.
type connection struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	// Turns started by this connection, awaited on close.
	turns sync.WaitGroup
}

func (c *connection) send(ctx context.Context, frame ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

func (s *Server) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	// Turns started on this connection inherit ctx. Cancelling it once the
	// read loop exits aborts any turn still suspended on an approval, so
	// teardown never waits out the decision window for a client that is gone.
	ctx, cancel := context.WithCancel(ctx)
	conn := &connection{conn: wsConn}
	defer func() {
		cancel()
		conn.turns.Wait()
		wsConn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket client disconnected")
			} else if !errors.Is(err, context.Canceled) {
				s.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conn.send(ctx, ServerFrame{Type: "error", Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "chat":
			s.handleChat(ctx, conn, frame)
		case "approve":
			s.handleApprove(ctx, conn, frame)
		default:
			_ = conn.send(ctx, ServerFrame{Type: "error", Error: "unknown frame type: " + frame.Type})
		}
	}
}

// handleChat starts a turn and streams its events back on the connection.
// The read loop keeps running so approval decisions can arrive while the
// turn is suspended.
func (s *Server) handleChat(ctx context.Context, conn *connection, frame ClientFrame) {
	if frame.Message == "" {
		_ = conn.send(ctx, ServerFrame{Type: "error", Error: "message is required"})
		return
	}

	sessionID := frame.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	events, err := s.orch.Run(ctx, &agent.TurnInput{
		SessionID: sessionID,
		AgentID:   frame.AgentID,
		Message:   frame.Message,
	})
	if err != nil {
		_ = conn.send(ctx, ServerFrame{Type: "error", SessionID: sessionID, Error: err.Error()})
		return
	}

	_ = conn.send(ctx, ServerFrame{Type: "ack", SessionID: sessionID})

	conn.turns.Add(1)
	go func() {
		defer conn.turns.Done()
		for ev := range events {
			ev := ev
			ev.SessionID = sessionID
			if err := conn.send(ctx, ServerFrame{
				Type:      string(ev.Type),
				SessionID: sessionID,
				Event:     &ev,
			}); err != nil {
				// Client gone; drain remaining events so the turn finishes.
				for range events {
				}
				return
			}
		}
	}()
}

func (s *Server) handleApprove(ctx context.Context, conn *connection, frame ClientFrame) {
	decision := permission.Decision(frame.Decision)
	if frame.RequestID == "" || !decision.Valid() {
		_ = conn.send(ctx, ServerFrame{Type: "error", RequestID: frame.RequestID, Error: "request_id and a valid decision are required"})
		return
	}
	if s.approvals == nil {
		_ = conn.send(ctx, ServerFrame{Type: "error", RequestID: frame.RequestID, Error: "approvals are disabled"})
		return
	}

	if err := s.approvals.Resolve(frame.RequestID, decision, "websocket"); err != nil {
		_ = conn.send(ctx, ServerFrame{Type: "error", RequestID: frame.RequestID, Error: err.Error()})
		return
	}

	s.logger.Info("websocket approval decision",
		slog.String("request_id", frame.RequestID),
		slog.String("decision", frame.Decision),
	)
	_ = conn.send(ctx, ServerFrame{Type: "ack", RequestID: frame.RequestID})
}
