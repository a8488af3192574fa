package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/llm"
)

// SessionSummary is one session in the list view, without its history.
type SessionSummary struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionDetail is a session with its full message history.
type SessionDetail struct {
	SessionSummary
	Messages []llm.Message `json:"messages"`
}

func (g *Gateway) handleSessionList(c *okapi.Context) error {
	sessions, err := g.orch.Sessions().List(c.Context())
	if err != nil {
		g.logger.Error("listing sessions failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing sessions failed")
	}

	resp := make([]SessionSummary, len(sessions))
	for i, s := range sessions {
		resp[i] = toSessionSummary(&s)
	}
	return c.OK(resp)
}

func (g *Gateway) handleSessionGet(c *okapi.Context) error {
	id := c.Param("id")

	sess, err := g.orch.Sessions().Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
		}
		g.logger.Error("loading session failed", slog.String("session_id", id), slog.String("error", err.Error()))
		return c.AbortInternalServerError("loading session failed")
	}

	return c.OK(SessionDetail{
		SessionSummary: toSessionSummary(sess),
		Messages:       sess.Messages,
	})
}

// handleSessionDelete removes the session's history, clears its standing
// permission grants, and cancels any approvals still pending for it.
func (g *Gateway) handleSessionDelete(c *okapi.Context) error {
	id := c.Param("id")

	if err := g.orch.Sessions().Delete(c.Context(), id); err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "session not found"})
		}
		g.logger.Error("deleting session failed", slog.String("session_id", id), slog.String("error", err.Error()))
		return c.AbortInternalServerError("deleting session failed")
	}

	g.orch.Ledger().Clear(id)
	if g.approvals != nil {
		g.approvals.CancelSession(id)
	}

	g.logger.Info("session deleted", slog.String("session_id", id))
	return c.OK(map[string]string{"status": "deleted"})
}

func (g *Gateway) handleSessionGrants(c *okapi.Context) error {
	grants := g.orch.Ledger().Grants(c.Param("id"))
	resp := make(map[string]string, len(grants))
	for tool, decision := range grants {
		resp[tool] = string(decision)
	}
	return c.OK(resp)
}

// AgentProfile is one agent identity in the list view.
type AgentProfile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"` // omitted = all tools
	AutoApprove  []string `json:"auto_approve,omitempty"`
	MaxRiskLevel string   `json:"max_risk_level"`
	Default      bool     `json:"default,omitempty"`
}

func (g *Gateway) handleAgentList(c *okapi.Context) error {
	profiles, err := g.orch.Profiles().List(c.Context())
	if err != nil {
		g.logger.Error("listing profiles failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing profiles failed")
	}

	resp := make([]AgentProfile, len(profiles))
	for i, p := range profiles {
		resp[i] = AgentProfile{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			AllowedTools: p.AllowedTools,
			AutoApprove:  p.AutoApprove,
			MaxRiskLevel: p.MaxRisk.String(),
			Default:      p.Default,
		}
	}
	return c.OK(resp)
}

// ToolInfo describes one registered tool to API clients.
type ToolInfo struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	RiskLevel        string         `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
	InputSchema      map[string]any `json:"input_schema"`
}

func (g *Gateway) handleToolList(c *okapi.Context) error {
	all := g.registry.All()
	resp := make([]ToolInfo, len(all))
	for i, t := range all {
		resp[i] = ToolInfo{
			Name:             t.Name(),
			Description:      t.Description(),
			RiskLevel:        t.RiskLevel().String(),
			RequiresApproval: t.RequiresApproval(),
			InputSchema:      t.InputSchema(),
		}
	}
	return c.OK(resp)
}

func toSessionSummary(s *agent.Session) SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		AgentID:   s.AgentID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
