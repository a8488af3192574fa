package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/neurovexon/axon/internal/agent"
)

// ChatRequest is the JSON body for POST /v1/chat and /v1/chat/stream.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"` // Empty = new session.
	AgentID   string `json:"agent_id,omitempty"`   // Empty = default profile.
}

// ChatResponse is the JSON response for POST /v1/chat. It carries the
// assistant's final text plus the full ordered event stream of the turn, so
// non-streaming clients still see every authorization decision that was made.
type ChatResponse struct {
	SessionID     string        `json:"session_id"`
	Reply         string        `json:"reply"`
	CorrelationID string        `json:"correlation_id"`
	Events        []agent.Event `json:"events"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	req, correlationID, err := g.bindChat(c)
	if err != nil {
		return err
	}

	events, err := g.orch.Run(c.Context(), &agent.TurnInput{
		SessionID:     req.SessionID,
		AgentID:       req.AgentID,
		Message:       req.Message,
		CorrelationID: correlationID,
	})
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	resp := ChatResponse{
		SessionID:     req.SessionID,
		CorrelationID: correlationID,
	}
	for ev := range events {
		resp.Events = append(resp.Events, ev)
		switch ev.Type {
		case agent.EventText:
			resp.Reply += ev.Content
		case agent.EventError:
			g.logger.Error("turn failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", ev.Error),
			)
			return c.JSON(http.StatusInternalServerError, ErrorBody{Error: ev.Error})
		}
	}

	return c.OK(resp)
}

// handleChatStream handles POST /v1/chat/stream. The turn's events are
// forwarded as server-sent events as they happen, including tool_request
// events that a client UI turns into approval prompts. The connection stays
// open while an action is suspended awaiting its decision.
func (g *Gateway) handleChatStream(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	req, correlationID, err := g.bindChat(c)
	if err != nil {
		return err
	}

	events, err := g.orch.Run(c.Context(), &agent.TurnInput{
		SessionID:     req.SessionID,
		AgentID:       req.AgentID,
		Message:       req.Message,
		CorrelationID: correlationID,
	})
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}

	for ev := range events {
		ev.SessionID = req.SessionID
		c.SSEvent(string(ev.Type), ev)
	}
	return nil
}

// bindChat parses and validates the chat request body, filling in a fresh
// session ID when the client did not provide one.
func (g *Gateway) bindChat(c *okapi.Context) (*ChatRequest, string, error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return nil, "", c.AbortBadRequest("invalid request body")
	}
	if req.Message == "" {
		return nil, "", c.AbortBadRequest("message is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	correlationID := newCorrelationID()

	g.logger.Info("http chat",
		slog.String("client_id", c.GetString("clientID")),
		slog.String("correlation_id", correlationID),
		slog.String("session_id", req.SessionID),
		slog.String("agent_id", req.AgentID),
	)
	return &req, correlationID, nil
}
