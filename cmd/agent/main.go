package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"forge-ai/internal/adapter/llm"
	"forge-ai/internal/adapter/mcp"
	"forge-ai/internal/adapter/skill"
	"forge-ai/internal/adapter/store"
	"forge-ai/internal/adapter/tool"
	"forge-ai/internal/domain"
	"forge-ai/internal/infra/config"
	"forge-ai/internal/infra/logger"
	"forge-ai/internal/infra/tracer"
	"forge-ai/internal/plugin"
	"forge-ai/internal/usecase"
	"forge-ai/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`forge-ai - AI coding agent runtime

USAGE:
    forge-ai [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --session ID       Resume a stored session
    --provider NAME    Override the configured LLM provider
    --model NAME       Override the configured model

CONFIGURATION:
    Config file: ./config.yaml
    Environment: FORGE_* variables override config

During a session, input starting with "/" runs a command.
Type /help for the command list and /quit to exit.`)
}

// cliFlags holds CLI flags that override config values.
type cliFlags struct {
	Config   string
	Session  string
	Provider string
	Model    string
}

func parseFlags() cliFlags {
	flags := cliFlags{Config: "config.yaml"}
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			flags.Config = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			flags.Config = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--session" && i+1 < len(args):
			flags.Session = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--session="):
			flags.Session = strings.TrimPrefix(args[i], "--session=")
		case args[i] == "--provider" && i+1 < len(args):
			flags.Provider = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--provider="):
			flags.Provider = strings.TrimPrefix(args[i], "--provider=")
		case args[i] == "--model" && i+1 < len(args):
			flags.Model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--model="):
			flags.Model = strings.TrimPrefix(args[i], "--model=")
		}
	}
	return flags
}

func run() error {
	// 1. Config
	flags := parseFlags()
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flags.Provider != "" {
		cfg.Agent.Provider = flags.Provider
	}
	if flags.Model != "" {
		cfg.Agent.Model = flags.Model
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Session store
	sessions, err := store.NewSQLiteSessionStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessions.Close()

	// 5. MCP: token store, OAuth, manager, tool bridge
	tokens, err := mcp.NewFileTokenStore(cfg.MCP.TokenDir, cfg.MCP.TokenPassphrase)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	auth := mcp.NewOAuthManager(tokens, log, mcp.WithCallbackPort(cfg.MCP.CallbackPort))
	manager := mcp.NewManager(mcp.Connect, auth, bus, log)
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		manager.Shutdown(shutdownCtx)
	}()

	for name, srv := range cfg.MCP.Servers {
		if err := manager.AddServer(ctx, name, srv); err != nil {
			// A broken server must not take the agent down with it.
			log.Error("mcp server unavailable", "server", name, "error", err)
		}
	}

	// 6. Tool registry
	tools := tool.NewRegistry(log)
	if err := tools.Register(skill.NewTool()); err != nil {
		return fmt.Errorf("register skill tool: %w", err)
	}
	bridge := mcp.NewBridge(manager)
	if err := bridge.Sync(tools); err != nil {
		return fmt.Errorf("mcp bridge: %w", err)
	}

	// 7. Providers, wrapped in circuit breakers at registration time
	providers := llm.NewRegistry()
	var providerReg domain.ProviderRegistry = providers
	if cfg.Breaker.Enabled {
		providerReg = &breakerRegistry{
			inner: providers,
			cfg: llm.CircuitBreakerConfig{
				MaxFailures: cfg.Breaker.MaxFailures,
				Timeout:     cfg.Breaker.Timeout,
				Interval:    cfg.Breaker.Interval,
			},
			log: log,
		}
	}

	// 8. Commands
	commands := usecase.NewCommandRegistry()

	// 9. Plugins
	plugins := plugin.NewSet(plugin.Registries{
		Tools:     tools,
		Providers: providerReg,
		Commands:  commands,
	}, log)
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := plugins.Shutdown(shutdownCtx); err != nil {
			log.Error("plugin shutdown error", "error", err)
		}
	}()
	for _, p := range builtinPlugins() {
		if err := plugins.Register(ctx, p); err != nil {
			return fmt.Errorf("plugin: %w", err)
		}
	}

	// 10. Skill library from disk
	if cfg.Skills.Enabled {
		if _, statErr := os.Stat(cfg.Skills.Dir); statErr == nil {
			if err := plugins.Register(ctx, domain.Plugin{
				Name:         "skills",
				SkillSources: []domain.SkillSource{skill.NewDirSource("library", cfg.Skills.Dir)},
			}); err != nil {
				log.Warn("skill library unavailable", "dir", cfg.Skills.Dir, "error", err)
			}
		}
	}

	// 11. Permission gate with console prompt
	stdin := bufio.NewScanner(os.Stdin)
	gate := usecase.NewPermissionGate(cfg.Permissions, consoleApprover(stdin))

	// 12. Compactor
	var compactor *usecase.Compactor
	if cfg.Compaction.Enabled {
		if p, err := providerReg.Get(cfg.Agent.Provider); err == nil {
			model := cfg.Compaction.Model
			if model == "" {
				model = cfg.Agent.Model
			}
			compactor = usecase.NewCompactor(p, model, usecase.CompactionConfig{
				Enabled:            true,
				TokenThreshold:     cfg.Compaction.TokenThreshold,
				MessageThreshold:   cfg.Compaction.MessageThreshold,
				InceptionCount:     cfg.Compaction.InceptionCount,
				WorkingWindowCount: cfg.Compaction.WorkingWindowCount,
				Model:              cfg.Compaction.Model,
			}, usecase.NewTokenCounter("cl100k_base"), log)
		}
	}

	// 13. Agent
	agent := usecase.NewAgent(usecase.AgentDeps{
		Providers:       providerReg,
		DefaultProvider: cfg.Agent.Provider,
		Model:           cfg.Agent.Model,
		Tools:           tools,
		Commands:        commands,
		Hooks:           plugins,
		Gate:            gate,
		Compactor:       compactor,
		Bus:             bus,
		Store:           sessions,
		Skills:          plugins,
		Logger:          log,
		WorkDir:         cfg.Agent.WorkDir,
		MaxIterations:   cfg.Agent.MaxIterations,
		LoopWindow:      cfg.Agent.LoopWindow,
	})
	registerBuiltinCommands(commands, manager, gate, sessions, log)

	// 14. Session
	session := usecase.NewSession()
	if flags.Session != "" {
		rec, err := sessions.Load(ctx, flags.Session)
		if err != nil {
			return fmt.Errorf("resume session %q: %w", flags.Session, err)
		}
		session = usecase.SessionFromRecord(rec)
	}

	return repl(ctx, agent, session, bus, stdin)
}

// repl reads lines from stdin and feeds them to the agent, streaming
// assistant output as it arrives on the bus.
func repl(ctx context.Context, agent *usecase.Agent, session *usecase.Session, bus domain.EventBus, stdin *bufio.Scanner) error {
	streamed := false
	unsubDelta := bus.Subscribe(domain.EventMessageDelta, func(_ context.Context, ev domain.Event) {
		var p domain.MessageEventPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			streamed = true
			fmt.Print(p.Content)
		}
	})
	defer unsubDelta()
	unsubTool := bus.Subscribe(domain.EventToolStart, func(_ context.Context, ev domain.Event) {
		var p domain.ToolEventPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("\n[tool] %s\n", p.Name)
		}
	})
	defer unsubTool()

	fmt.Printf("session %s — /help for commands, /quit to exit\n", session.ID)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Print("> ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		streamed = false
		msg, err := agent.Prompt(ctx, session, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if streamed {
			fmt.Println()
		} else if msg.Content != "" {
			fmt.Println(msg.Content)
		}
	}
}

// consoleApprover resolves "ask" permission decisions on the terminal.
func consoleApprover(stdin *bufio.Scanner) domain.PermissionRequestFunc {
	return func(_ context.Context, call domain.ToolCall) (domain.ApprovalResponse, error) {
		fmt.Printf("\nallow tool %q? args: %s\n[y]es once / [a]lways / [N]o: ", call.Name, string(call.Arguments))
		if !stdin.Scan() {
			return domain.ApprovalDeny, stdin.Err()
		}
		switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
		case "y", "yes":
			return domain.ApprovalAllowOnce, nil
		case "a", "always":
			return domain.ApprovalAllowAlways, nil
		default:
			return domain.ApprovalDeny, nil
		}
	}
}

func registerBuiltinCommands(commands *usecase.CommandRegistry, manager *mcp.Manager, gate *usecase.PermissionGate, sessions domain.SessionStore, log *slog.Logger) {
	register := func(cmd domain.Command) {
		if err := commands.Register(cmd); err != nil {
			log.Warn("builtin command not registered", "command", cmd.Name, "error", err)
		}
	}
	register(domain.Command{
		Name:        "help",
		Description: "List available commands",
		Execute: func(context.Context, string, *domain.ToolContext) (*domain.CommandResult, error) {
			var b strings.Builder
			for _, cmd := range commands.List() {
				fmt.Fprintf(&b, "/%s\t%s\n", cmd.Name, cmd.Description)
			}
			b.WriteString("/quit\tExit")
			return &domain.CommandResult{Output: b.String()}, nil
		},
	})
	register(domain.Command{
		Name:        "servers",
		Description: "List connected MCP servers and their tools",
		Execute: func(context.Context, string, *domain.ToolContext) (*domain.CommandResult, error) {
			names := manager.Servers()
			if len(names) == 0 {
				return &domain.CommandResult{Output: "no MCP servers connected"}, nil
			}
			byServer := make(map[string][]string)
			for _, t := range manager.Tools() {
				byServer[t.Server] = append(byServer[t.Server], t.BareName)
			}
			var b strings.Builder
			for _, name := range names {
				tools := byServer[name]
				sort.Strings(tools)
				fmt.Fprintf(&b, "%s: %s\n", name, strings.Join(tools, ", "))
			}
			return &domain.CommandResult{Output: strings.TrimRight(b.String(), "\n")}, nil
		},
	})
	register(domain.Command{
		Name:        "skills",
		Description: "List loaded skills",
		Execute: func(_ context.Context, _ string, tc *domain.ToolContext) (*domain.CommandResult, error) {
			if tc.Skills == nil {
				return &domain.CommandResult{Output: "no skills loaded"}, nil
			}
			skills := tc.Skills.List()
			if len(skills) == 0 {
				return &domain.CommandResult{Output: "no skills loaded"}, nil
			}
			var b strings.Builder
			for _, sk := range skills {
				fmt.Fprintf(&b, "%s\t%s\n", sk.Name, sk.Description)
			}
			return &domain.CommandResult{Output: strings.TrimRight(b.String(), "\n")}, nil
		},
	})
	register(domain.Command{
		Name:        "allow",
		Description: "Allow a tool for the rest of this session",
		Execute: func(_ context.Context, args string, _ *domain.ToolContext) (*domain.CommandResult, error) {
			name := strings.TrimSpace(args)
			if name == "" {
				return &domain.CommandResult{Output: "usage: /allow <tool>"}, nil
			}
			gate.AllowForSession(name)
			return &domain.CommandResult{Output: fmt.Sprintf("tool %q allowed for this session", name)}, nil
		},
	})
	register(domain.Command{
		Name:        "deny",
		Description: "Deny a tool for the rest of this session",
		Execute: func(_ context.Context, args string, _ *domain.ToolContext) (*domain.CommandResult, error) {
			name := strings.TrimSpace(args)
			if name == "" {
				return &domain.CommandResult{Output: "usage: /deny <tool>"}, nil
			}
			gate.DenyForSession(name)
			return &domain.CommandResult{Output: fmt.Sprintf("tool %q denied for this session", name)}, nil
		},
	})
	register(domain.Command{
		Name:        "sessions",
		Description: "List stored sessions",
		Execute: func(ctx context.Context, _ string, _ *domain.ToolContext) (*domain.CommandResult, error) {
			ids, err := sessions.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(ids) == 0 {
				return &domain.CommandResult{Output: "no stored sessions"}, nil
			}
			return &domain.CommandResult{Output: strings.Join(ids, "\n")}, nil
		},
	})
}

// breakerRegistry wraps every registered provider in a circuit breaker.
type breakerRegistry struct {
	inner *llm.Registry
	cfg   llm.CircuitBreakerConfig
	log   *slog.Logger
}

func (r *breakerRegistry) Register(p domain.LLMProvider) error {
	return r.inner.Register(llm.NewCircuitBreakerProvider(p, r.cfg, r.log))
}

func (r *breakerRegistry) Get(name string) (domain.LLMProvider, error) {
	return r.inner.Get(name)
}

func (r *breakerRegistry) List() []string {
	return r.inner.List()
}
