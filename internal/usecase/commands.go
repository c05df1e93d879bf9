package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"forge-ai/internal/domain"
)

// CommandRegistry holds named slash commands.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]domain.Command
}

// NewCommandRegistry creates an empty command registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]domain.Command),
	}
}

// Register adds a command. Returns error if the name is already registered.
func (r *CommandRegistry) Register(cmd domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("command %q: %w", cmd.Name, domain.ErrDuplicate)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Get retrieves a command by name.
func (r *CommandRegistry) Get(name string) (domain.Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	if !ok {
		return domain.Command{}, domain.NewDomainError("CommandRegistry.Get", domain.ErrCommandNotFound, name)
	}
	return cmd, nil
}

// List returns all commands sorted by name.
func (r *CommandRegistry) List() []domain.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]domain.Command, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Dispatch parses "/name args..." input and executes the named command.
func (r *CommandRegistry) Dispatch(ctx context.Context, input string, tc *domain.ToolContext) (*domain.CommandResult, error) {
	trimmed := strings.TrimPrefix(input, domain.CommandSigil)
	name, args, _ := strings.Cut(trimmed, " ")
	args = strings.TrimSpace(args)

	cmd, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return cmd.Execute(ctx, args, tc)
}
