package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/neurovexon/axon/internal/llm"
)

// ErrSessionNotFound is returned for lookups of unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// maxTitleLen bounds the auto-generated session title.
const maxTitleLen = 50

// Session is one conversation with its ordered history.
type Session struct {
	ID        string
	AgentID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []llm.Message // populated by Get, not List
}

// SessionStore persists sessions and their conversation history.
type SessionStore interface {
	// Ensure creates the session if absent. Title is applied only on creation.
	Ensure(ctx context.Context, id, agentID, title string) error
	// Append adds messages to the session's history and bumps UpdatedAt.
	Append(ctx context.Context, id string, msgs []llm.Message) error
	// History returns the last limit messages, oldest first.
	History(ctx context.Context, id string, limit int) ([]llm.Message, error)
	// Get returns the session with its full history.
	Get(ctx context.Context, id string) (*Session, error)
	// List returns all sessions without messages, most recently updated first.
	List(ctx context.Context) ([]Session, error)
	// Delete removes the session and its history.
	Delete(ctx context.Context, id string) error
}

// DeriveTitle produces a session title from its first user message.
func DeriveTitle(message string) string {
	if len(message) <= maxTitleLen {
		return message
	}
	return message[:maxTitleLen] + "..."
}

// MemorySessionStore is the in-memory SessionStore, used when no database
// backend is configured and in tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Ensure(_ context.Context, id, agentID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil
	}
	now := time.Now().UTC()
	s.sessions[id] = &Session{
		ID:        id,
		AgentID:   agentID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemorySessionStore) Append(_ context.Context, id string, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Messages = append(sess.Messages, msgs...)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemorySessionStore) History(_ context.Context, id string, limit int) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	cp.Messages = make([]llm.Message, len(sess.Messages))
	copy(cp.Messages, sess.Messages)
	return &cp, nil
}

func (s *MemorySessionStore) List(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		cp.Messages = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}
