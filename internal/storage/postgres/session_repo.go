package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/llm"
)

// Compile-time interface check.
var _ agent.SessionStore = (*SessionRepository)(nil)

// SessionRepository implements agent.SessionStore with GORM.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Ensure creates the session if it does not exist and touches updated_at
// if it does. The title is only set on creation.
func (r *SessionRepository) Ensure(ctx context.Context, id, agentID, title string) error {
	var existing SessionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&existing).Error
	if err == nil {
		return r.db.WithContext(ctx).Model(&existing).Update("updated_at", time.Now().UTC()).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("looking up session: %w", err)
	}

	now := time.Now().UTC()
	model := SessionModel{
		ID:        id,
		AgentID:   agentID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Append atomically appends messages to a session. Sequence numbers are
// monotonically assigned starting after the current max.
func (r *SessionRepository) Append(ctx context.Context, id string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		err := tx.Model(&SessionMessageModel{}).
			Where("session_id = ?", id).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		models := make([]SessionMessageModel, 0, len(msgs))
		for i, msg := range msgs {
			models = append(models, toSessionMessageModel(id, maxSeq+i+1, msg))
		}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("inserting messages: %w", err)
		}

		return tx.Model(&SessionModel{}).
			Where("id = ?", id).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// History returns the most recent messages for a session, ordered
// oldest-first. limit <= 0 returns everything.
func (r *SessionRepository) History(ctx context.Context, id string, limit int) ([]llm.Message, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", id).
		Order("seq_num DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []SessionMessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}

	messages := make([]llm.Message, len(models))
	for i := range models {
		messages[i] = toMessage(&models[i])
	}
	return messages, nil
}

// Get returns a session with its full message history.
func (r *SessionRepository) Get(ctx context.Context, id string) (*agent.Session, error) {
	var model SessionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, agent.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	msgs, err := r.History(ctx, id, 0)
	if err != nil {
		return nil, err
	}

	return &agent.Session{
		ID:        model.ID,
		AgentID:   model.AgentID,
		Title:     model.Title,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
		Messages:  msgs,
	}, nil
}

// List returns all sessions without messages, most recently active first.
func (r *SessionRepository) List(ctx context.Context) ([]agent.Session, error) {
	var models []SessionModel
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]agent.Session, len(models))
	for i, m := range models {
		sessions[i] = agent.Session{
			ID:        m.ID,
			AgentID:   m.AgentID,
			Title:     m.Title,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		}
	}
	return sessions, nil
}

// Delete removes a session and all its messages.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&SessionMessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting session messages: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&SessionModel{})
		if result.Error != nil {
			return fmt.Errorf("deleting session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return agent.ErrSessionNotFound
		}
		return nil
	})
}
