package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/neurovexon/axon/internal/audit"
	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/tools/memory"
)

func toSessionMessageModel(sessionID string, seq int, msg llm.Message) SessionMessageModel {
	m := SessionMessageModel{
		ID:        uuid.New(),
		SessionID: sessionID,
		SeqNum:    seq,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: time.Now().UTC(),
	}
	if len(msg.ContentBlocks) > 0 {
		if data, err := json.Marshal(msg.ContentBlocks); err == nil {
			m.ContentBlocks = JSONB(data)
		}
	}
	return m
}

func toMessage(m *SessionMessageModel) llm.Message {
	msg := llm.Message{
		Role:    llm.Role(m.Role),
		Content: m.Content,
	}
	if len(m.ContentBlocks) > 0 {
		var blocks []llm.ContentBlock
		if err := json.Unmarshal(m.ContentBlocks, &blocks); err == nil {
			msg.ContentBlocks = blocks
		}
	}
	return msg
}

func toAuditModel(rec audit.Record) AuditRecordModel {
	m := AuditRecordModel{
		ID:        rec.ID,
		RequestID: rec.RequestID,
		SessionID: rec.SessionID,
		AgentID:   rec.AgentID,
		Tool:      rec.Tool,
		EventType: string(rec.Type),
		Decision:  rec.Decision,
		Result:    rec.Result,
		Error:     rec.Error,
		ElapsedMS: rec.ElapsedMS,
		CreatedAt: rec.CreatedAt,
	}
	if len(rec.Params) > 0 {
		if data, err := json.Marshal(rec.Params); err == nil {
			m.Params = JSONB(data)
		}
	}
	return m
}

func toAuditDomain(m *AuditRecordModel) audit.Record {
	rec := audit.Record{
		ID:        m.ID,
		RequestID: m.RequestID,
		SessionID: m.SessionID,
		AgentID:   m.AgentID,
		Tool:      m.Tool,
		Type:      audit.EventType(m.EventType),
		Decision:  m.Decision,
		Result:    m.Result,
		Error:     m.Error,
		ElapsedMS: m.ElapsedMS,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Params) > 0 {
		var params map[string]any
		if err := json.Unmarshal(m.Params, &params); err == nil {
			rec.Params = params
		}
	}
	return rec
}

func toMemoryModel(e memory.Entry) MemoryModel {
	return MemoryModel{
		Key:     e.Key,
		Content: e.Content,
		Source:  e.Source,
	}
}

func toMemoryEntry(m *MemoryModel) memory.Entry {
	return memory.Entry{
		Key:     m.Key,
		Content: m.Content,
		Source:  m.Source,
	}
}
