package httpapi

import (
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/neurovexon/axon/internal/audit"
)

// auditFilter builds an audit query filter from URL query parameters:
// session_id, request_id, tool, type, limit.
func auditFilter(c *okapi.Context) (audit.Filter, error) {
	q := c.Request().URL.Query()

	f := audit.Filter{
		SessionID: q.Get("session_id"),
		Tool:      q.Get("tool"),
		Type:      audit.EventType(q.Get("type")),
	}
	if raw := q.Get("request_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, err
		}
		f.RequestID = id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return f, strconv.ErrSyntax
		}
		f.Limit = limit
	}
	return f, nil
}

func (g *Gateway) handleAuditQuery(c *okapi.Context) error {
	f, err := auditFilter(c)
	if err != nil {
		return c.AbortBadRequest("invalid query parameters")
	}

	records, err := g.trail.Query(c.Context(), f)
	if err != nil {
		g.logger.Error("audit query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("audit query failed")
	}
	if records == nil {
		records = []audit.Record{}
	}
	return c.OK(records)
}

func (g *Gateway) handleAuditStats(c *okapi.Context) error {
	f, err := auditFilter(c)
	if err != nil {
		return c.AbortBadRequest("invalid query parameters")
	}

	stats, err := g.trail.Stats(c.Context(), f)
	if err != nil {
		g.logger.Error("audit stats failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("audit stats failed")
	}
	return c.OK(stats)
}
