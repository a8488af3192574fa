package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/permission"
)

// ApproveRequest is the JSON body for POST /v1/approve.
type ApproveRequest struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"` // "once", "session", or "never"
}

// ApproveResponse is the JSON response after a decision is delivered.
type ApproveResponse struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	Status    string `json:"status"`
}

func (g *Gateway) handleApprove(c *okapi.Context) error {
	if err := g.rateLimit(c); err != nil {
		return err
	}

	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.RequestID == "" {
		return c.AbortBadRequest("request_id is required")
	}
	decision := permission.Decision(req.Decision)
	if !decision.Valid() {
		return c.AbortBadRequest("decision must be \"once\", \"session\", or \"never\"")
	}

	clientID := c.GetString("clientID")
	g.logger.Info("http approval decision",
		slog.String("client_id", clientID),
		slog.String("request_id", req.RequestID),
		slog.String("decision", req.Decision),
	)

	if g.approvals == nil {
		return c.AbortServiceUnavailable("approvals are disabled")
	}

	if err := g.approvals.Resolve(req.RequestID, decision, clientID); err != nil {
		return approvalError(c, err)
	}

	return c.OK(ApproveResponse{
		RequestID: req.RequestID,
		Decision:  req.Decision,
		Status:    "resolved",
	})
}

// PendingApproval is one unresolved action awaiting a decision.
type PendingApproval struct {
	RequestID   string         `json:"request_id"`
	SessionID   string         `json:"session_id"`
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params,omitempty"`
	RiskLevel   string         `json:"risk_level"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

func (g *Gateway) handleApprovalsList(c *okapi.Context) error {
	if g.approvals == nil {
		return c.OK([]PendingApproval{})
	}

	pending := g.approvals.Pending()
	resp := make([]PendingApproval, len(pending))
	for i, p := range pending {
		resp[i] = PendingApproval{
			RequestID:   p.ID,
			SessionID:   p.SessionID,
			Tool:        p.Tool,
			Params:      p.Params,
			RiskLevel:   p.RiskLevel,
			Description: p.Description,
			CreatedAt:   p.CreatedAt,
			ExpiresAt:   p.ExpiresAt,
		}
	}
	return c.OK(resp)
}

// approvalError maps approval errors to appropriate HTTP responses.
func approvalError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "approval request not found"})
	case errors.Is(err, approval.ErrAlreadyResolved):
		return c.JSON(http.StatusConflict, okapi.M{"error": "approval request already resolved"})
	default:
		return c.AbortInternalServerError("approval error")
	}
}
