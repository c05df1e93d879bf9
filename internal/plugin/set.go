package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"forge-ai/internal/domain"
	"forge-ai/internal/usecase"
)

// Registries are the targets a plugin's contributions register into.
type Registries struct {
	Tools     interface{ Register(domain.Tool) error }
	Providers domain.ProviderRegistry
	Commands  *usecase.CommandRegistry
}

// Set holds registered plugins and fans their contributions out into the
// agent's registries. It implements domain.PluginHost for the prompt hooks
// and domain.SkillProvider for skills loaded from plugin skill sources.
type Set struct {
	registries Registries
	logger     *slog.Logger

	mu      sync.RWMutex
	plugins []domain.Plugin
	byName  map[string]bool
	skills  map[string]domain.Skill
}

// NewSet creates an empty plugin set.
func NewSet(registries Registries, logger *slog.Logger) *Set {
	return &Set{
		registries: registries,
		logger:     logger,
		byName:     make(map[string]bool),
		skills:     make(map[string]domain.Skill),
	}
}

// Register adds a plugin and wires its contributions. Registration is
// one-shot: a second plugin with the same name fails, and a failure partway
// through leaves already-registered contributions in place (startup aborts
// on error, so partial state never reaches a running agent).
func (s *Set) Register(ctx context.Context, p domain.Plugin) error {
	if p.Name == "" {
		return domain.NewDomainError("plugin.Register", domain.ErrInvalidInput, "plugin name required")
	}

	s.mu.Lock()
	if s.byName[p.Name] {
		s.mu.Unlock()
		return domain.NewDomainError("plugin.Register", domain.ErrDuplicate, p.Name)
	}
	s.byName[p.Name] = true
	s.mu.Unlock()

	if p.OnRegister != nil {
		if err := p.OnRegister(ctx); err != nil {
			return fmt.Errorf("plugin %q on-register: %w", p.Name, err)
		}
	}

	for _, t := range p.Tools {
		if s.registries.Tools == nil {
			break
		}
		if err := s.registries.Tools.Register(t); err != nil {
			return fmt.Errorf("plugin %q tool: %w", p.Name, err)
		}
	}
	for _, prov := range p.Providers {
		if s.registries.Providers == nil {
			break
		}
		if err := s.registries.Providers.Register(prov); err != nil {
			return fmt.Errorf("plugin %q provider: %w", p.Name, err)
		}
	}
	for _, cmd := range p.Commands {
		if s.registries.Commands == nil {
			break
		}
		if err := s.registries.Commands.Register(cmd); err != nil {
			return fmt.Errorf("plugin %q command: %w", p.Name, err)
		}
	}

	for _, src := range p.SkillSources {
		skills, err := src.Load(ctx)
		if err != nil {
			return fmt.Errorf("plugin %q skills from %q: %w", p.Name, src.Name(), err)
		}
		s.mu.Lock()
		for _, sk := range skills {
			if _, dup := s.skills[sk.Name]; dup {
				s.mu.Unlock()
				return fmt.Errorf("plugin %q skill %q: %w", p.Name, sk.Name, domain.ErrDuplicate)
			}
			s.skills[sk.Name] = sk
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.plugins = append(s.plugins, p)
	s.mu.Unlock()

	s.logger.Info("plugin registered",
		"plugin", p.Name,
		"version", p.Version,
		"tools", len(p.Tools),
		"commands", len(p.Commands),
	)
	return nil
}

// Plugins returns registered plugin names in registration order.
func (s *Set) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.plugins))
	for i, p := range s.plugins {
		names[i] = p.Name
	}
	return names
}

// BeforePrompt runs every plugin's before-prompt hook in registration order,
// threading the (possibly rewritten) text through.
func (s *Set) BeforePrompt(ctx context.Context, text string) (string, error) {
	s.mu.RLock()
	plugins := s.plugins
	s.mu.RUnlock()

	var err error
	for _, p := range plugins {
		if p.OnBeforePrompt == nil {
			continue
		}
		text, err = p.OnBeforePrompt(ctx, text)
		if err != nil {
			return "", fmt.Errorf("plugin %q before-prompt: %w", p.Name, err)
		}
	}
	return text, nil
}

// AfterPrompt runs every plugin's after-prompt hook in registration order.
func (s *Set) AfterPrompt(ctx context.Context, msg *domain.Message) error {
	s.mu.RLock()
	plugins := s.plugins
	s.mu.RUnlock()

	for _, p := range plugins {
		if p.OnAfterPrompt == nil {
			continue
		}
		if err := p.OnAfterPrompt(ctx, msg); err != nil {
			return fmt.Errorf("plugin %q after-prompt: %w", p.Name, err)
		}
	}
	return nil
}

// Get implements domain.SkillProvider.
func (s *Set) Get(name string) (*domain.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[name]
	if !ok {
		return nil, domain.NewDomainError("plugin.Skills.Get", domain.ErrNotFound, name)
	}
	return &sk, nil
}

// List implements domain.SkillProvider.
func (s *Set) List() []domain.Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Skill, 0, len(s.skills))
	for _, sk := range s.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown runs plugin shutdown hooks in reverse registration order. All
// hooks run; the first error is returned.
func (s *Set) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	plugins := make([]domain.Plugin, len(s.plugins))
	copy(plugins, s.plugins)
	s.mu.RUnlock()

	var firstErr error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if p.OnShutdown == nil {
			continue
		}
		if err := p.OnShutdown(ctx); err != nil {
			s.logger.Warn("plugin shutdown failed", "plugin", p.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("plugin %q shutdown: %w", p.Name, err)
			}
		}
	}
	return firstErr
}

var (
	_ domain.PluginHost    = (*Set)(nil)
	_ domain.SkillProvider = (*Set)(nil)
)
