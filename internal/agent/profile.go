package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/neurovexon/axon/internal/security"
)

// ErrProfileNotFound is returned when no profile matches the requested ID.
var ErrProfileNotFound = errors.New("agent profile not found")

// Profile bounds what an agent identity may do. It is immutable during a
// turn; the orchestrator reads it once at turn start.
type Profile struct {
	ID           string
	Name         string
	Description  string
	SystemPrompt string
	AllowedTools []string // nil = all tools
	AutoApprove  []string // tool names exempt from approval for this profile
	MaxRisk      security.RiskLevel
	Default      bool
}

// Allows reports whether the profile may propose the named tool.
// A nil allow-list means every tool is permitted.
func (p *Profile) Allows(tool string) bool {
	if p.AllowedTools == nil {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// AutoApproves reports whether the named tool skips the approval gateway
// for this profile.
func (p *Profile) AutoApproves(tool string) bool {
	for _, t := range p.AutoApprove {
		if t == tool {
			return true
		}
	}
	return false
}

// DefaultProfiles returns the built-in profiles seeded on first start.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:          "assistant",
			Name:        "Assistant",
			Description: "General assistant with access to all tools. Every action needs approval.",
			MaxRisk:     security.RiskHigh,
			Default:     true,
		},
		{
			ID:           "research",
			Name:         "Research",
			Description:  "Web research and information gathering. Searches run without approval.",
			SystemPrompt: "You are a research assistant. Use web_search and web_fetch to find information. Summarize findings clearly.",
			AllowedTools: []string{"web_search", "web_fetch", "file_read", "memory_save", "memory_search"},
			AutoApprove:  []string{"web_search", "memory_search"},
			MaxRisk:      security.RiskMedium,
		},
		{
			ID:           "system",
			Name:         "System",
			Description:  "System agent with shell access. Every action needs approval.",
			SystemPrompt: "You are a system administration assistant. You can run shell commands and manage files. Always explain what you intend to do before doing it.",
			MaxRisk:      security.RiskHigh,
		},
	}
}

// Profiles resolves agent profiles by ID.
type Profiles interface {
	// Get returns the profile for id, or the default profile when id is empty.
	Get(ctx context.Context, id string) (*Profile, error)
	// List returns all profiles, default first.
	List(ctx context.Context) ([]Profile, error)
}

// StaticProfiles is an in-memory Profiles implementation.
type StaticProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
	fallback string
}

// NewStaticProfiles creates a profile source from the given set.
// The first profile with Default set becomes the fallback for empty IDs.
func NewStaticProfiles(profiles []Profile) *StaticProfiles {
	s := &StaticProfiles{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if _, exists := s.profiles[p.ID]; exists {
			panic("duplicate agent profile: " + p.ID)
		}
		s.profiles[p.ID] = p
		s.order = append(s.order, p.ID)
		if p.Default && s.fallback == "" {
			s.fallback = p.ID
		}
	}
	return s
}

func (s *StaticProfiles) Get(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == "" {
		id = s.fallback
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (s *StaticProfiles) List(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.profiles))
	if s.fallback != "" {
		out = append(out, s.profiles[s.fallback])
	}
	for _, id := range s.order {
		if id == s.fallback {
			continue
		}
		out = append(out, s.profiles[id])
	}
	return out, nil
}
