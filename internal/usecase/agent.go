package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"forge-ai/internal/domain"
	"forge-ai/internal/infra/tracer"
)

// Loop bounds. Both are configurable on AgentDeps; these are the defaults.
const (
	// DefaultMaxIterations caps tool-call round trips per prompt.
	DefaultMaxIterations = 200
	// DefaultLoopWindow is the size of the repeated-signature window that
	// trips loop detection.
	DefaultLoopWindow = 5
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	Providers       domain.ProviderRegistry
	DefaultProvider string
	Model           string
	Tools           domain.ToolExecutor
	Commands        *CommandRegistry     // optional, nil = no slash commands
	Hooks           domain.PluginHost    // optional, nil = no plugin hooks
	Gate            *PermissionGate      // optional, nil = no permission gating
	Compactor       *Compactor           // optional, nil = no auto-compaction
	Bus             domain.EventBus      // optional, nil = no events
	Store           domain.SessionStore  // optional, nil = no persistence
	Skills          domain.SkillProvider // optional
	Logger          *slog.Logger
	WorkDir         string
	MaxIterations   int
	LoopWindow      int
}

// Agent orchestrates one request/response cycle per user turn: it appends
// the user message, streams model responses, executes requested tools (via
// the permission gate), and loops until the model answers without tool
// calls. Prompt is single-flight per Agent.
type Agent struct {
	deps   AgentDeps
	todos  *domain.ItemList
	phases *domain.ItemList
	ext    map[string]any

	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = DefaultMaxIterations
	}
	if deps.LoopWindow <= 0 {
		deps.LoopWindow = DefaultLoopWindow
	}
	return &Agent{
		deps:   deps,
		todos:  domain.NewItemList(),
		phases: domain.NewItemList(),
		ext:    make(map[string]any),
	}
}

// Todos returns the agent-owned todo list.
func (a *Agent) Todos() *domain.ItemList { return a.todos }

// Phases returns the agent-owned phase list.
func (a *Agent) Phases() *domain.ItemList { return a.phases }

// Abort cancels the in-flight prompt, if any. Provider streams and tool
// executions observe the cancellation at their next checkpoint.
func (a *Agent) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Prompt processes a single user message through the agent loop and returns
// the final assistant message. It fails if no provider is configured, if the
// iteration cap is exceeded, or if loop detection trips.
func (a *Agent) Prompt(ctx context.Context, session *Session, text string) (domain.Message, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return domain.Message{}, domain.NewDomainError("Agent.Prompt", domain.ErrInvalidInput, "prompt already in flight")
	}
	defer a.busy.Store(false)

	provider, err := a.resolveProvider()
	if err != nil {
		return domain.Message{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	ctx, span := tracer.StartSpan(ctx, "agent.prompt")
	defer span.End()

	ctx = domain.ContextWithSessionID(ctx, session.ID)
	tc := a.toolContext(ctx, session)

	// Slash commands dispatch before anything touches the history.
	if strings.HasPrefix(text, domain.CommandSigil) && a.deps.Commands != nil {
		res, cmdErr := a.deps.Commands.Dispatch(ctx, text, tc)
		if cmdErr != nil {
			tracer.RecordError(span, cmdErr)
			return domain.Message{}, cmdErr
		}
		if !res.Continue {
			a.publish(ctx, session.ID, domain.EventCommandResult, domain.CommandResultPayload{
				Command: text,
				Output:  res.Output,
			})
			return domain.Message{
				ID:        NewULID(time.Now()),
				Role:      domain.RoleAssistant,
				Content:   res.Output,
				Timestamp: time.Now(),
			}, nil
		}
		text = res.Rewrite
	}

	if a.deps.Hooks != nil {
		text, err = a.deps.Hooks.BeforePrompt(ctx, text)
		if err != nil {
			tracer.RecordError(span, err)
			return domain.Message{}, domain.WrapOp("before-prompt hook", err)
		}
	}

	userMsg := session.AddMessage(domain.Message{Role: domain.RoleUser, Content: text})
	a.publish(ctx, session.ID, domain.EventUserMessage, domain.MessageEventPayload{
		MessageID: userMsg.ID,
		Content:   text,
	})

	window := newSignatureWindow(a.deps.LoopWindow)

	for i := 0; i < a.deps.MaxIterations; i++ {
		if ctx.Err() != nil {
			return domain.Message{}, ctx.Err()
		}
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		a.maybeCompact(ctx, session)

		msg, usage, genErr := a.generate(ctx, session, provider)
		if genErr != nil {
			a.publish(ctx, session.ID, domain.EventError, map[string]string{"error": genErr.Error()})
			tracer.RecordError(span, genErr)
			return domain.Message{}, genErr
		}

		msg = session.AddMessage(msg)
		a.deps.Logger.Debug("model response",
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", usage.TotalTokens,
		)

		// No tool calls = terminal success state.
		if len(msg.ToolCalls) == 0 {
			if a.deps.Hooks != nil {
				if hookErr := a.deps.Hooks.AfterPrompt(ctx, &msg); hookErr != nil {
					a.deps.Logger.Warn("after-prompt hook failed", "error", hookErr)
				}
			}
			a.saveSession(ctx, session)
			tracer.SetOK(span)
			return msg, nil
		}

		if window.push(toolCallSetSignature(msg.ToolCalls)) {
			tracer.RecordError(span, domain.ErrLoopDetected)
			a.publish(ctx, session.ID, domain.EventError, map[string]string{"error": domain.ErrLoopDetected.Error()})
			return domain.Message{}, domain.NewDomainError("Agent.Prompt", domain.ErrLoopDetected,
				fmt.Sprintf("identical tool-call set repeated %d times", a.deps.LoopWindow))
		}

		results := a.executeCalls(ctx, session, tc, msg.ToolCalls)
		session.AddMessage(domain.Message{
			Role:        domain.RoleUser,
			ToolResults: results,
		})
	}

	a.publish(ctx, session.ID, domain.EventError, map[string]string{"error": domain.ErrMaxIterations.Error()})
	tracer.RecordError(span, domain.ErrMaxIterations)
	return domain.Message{}, domain.ErrMaxIterations
}

// resolveProvider returns the active provider or ErrNoProvider.
func (a *Agent) resolveProvider() (domain.LLMProvider, error) {
	if a.deps.Providers == nil || a.deps.DefaultProvider == "" {
		return nil, domain.NewDomainError("Agent.Prompt", domain.ErrNoProvider, "")
	}
	provider, err := a.deps.Providers.Get(a.deps.DefaultProvider)
	if err != nil {
		return nil, domain.NewDomainError("Agent.Prompt", domain.ErrNoProvider, a.deps.DefaultProvider)
	}
	return provider, nil
}

// maybeCompact runs auto-compaction synchronously when the compactor
// recommends it. Compaction failure is reported but never aborts the turn.
func (a *Agent) maybeCompact(ctx context.Context, session *Session) {
	c := a.deps.Compactor
	if c == nil || !c.Enabled() {
		return
	}
	msgs := session.Messages()
	stats := c.ShouldCompact(msgs)
	if stats == nil {
		return
	}

	a.publish(ctx, session.ID, domain.EventCompactionStart, domain.CompactionEventPayload{
		OriginalTokens: stats.EstimatedTokens,
	})

	res, err := c.Compact(ctx, msgs)
	if err != nil {
		a.deps.Logger.Warn("compaction failed", "error", err)
		a.publish(ctx, session.ID, domain.EventCompactionError, domain.CompactionEventPayload{
			Error: err.Error(),
		})
		return
	}

	session.ReplaceMessages(c.BuildCompactedMessages(msgs, res.Summary))
	a.publish(ctx, session.ID, domain.EventCompactionComplete, domain.CompactionEventPayload{
		OriginalTokens:   res.OriginalTokens,
		CompactedTokens:  res.CompactedTokens,
		MessagesPruned:   res.MessagesPruned,
		CompressionRatio: res.CompressionRatio,
	})
}

// generate asks the provider for the next assistant message, streaming when
// the provider supports it.
func (a *Agent) generate(ctx context.Context, session *Session, provider domain.LLMProvider) (domain.Message, domain.Usage, error) {
	req := domain.ChatRequest{
		Model:    a.deps.Model,
		Messages: session.Messages(),
		Tools:    a.deps.Tools.Schemas(),
	}

	msgID := NewULID(time.Now())
	a.publish(ctx, session.ID, domain.EventMessageStart, domain.MessageEventPayload{MessageID: msgID})

	var msg domain.Message
	var usage domain.Usage

	if sp, ok := provider.(domain.StreamingLLMProvider); ok {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_stream")
		deltaCh, err := sp.ChatStream(llmCtx, req)
		llmSpan.End()
		if err != nil {
			return domain.Message{}, domain.Usage{}, domain.WrapOp("provider stream", err)
		}

		acc := newStreamAccumulator()
		started := make(map[int]bool)
		for delta := range deltaCh {
			if delta.Err != nil {
				return domain.Message{}, domain.Usage{}, domain.WrapOp("provider stream", delta.Err)
			}
			acc.addDelta(delta)
			if delta.Content != "" {
				a.publish(ctx, session.ID, domain.EventMessageDelta, domain.MessageEventPayload{
					MessageID: msgID,
					Content:   delta.Content,
				})
			}
			for idx, tcall := range delta.ToolCalls {
				if tcall.Name != "" && !started[idx] {
					started[idx] = true
					a.publish(ctx, session.ID, domain.EventToolStart, domain.ToolEventPayload{
						CallID: tcall.ID,
						Name:   tcall.Name,
					})
				}
			}
		}
		msg, usage = acc.build()
	} else {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
		resp, err := provider.Chat(llmCtx, req)
		llmSpan.End()
		if err != nil {
			return domain.Message{}, domain.Usage{}, domain.WrapOp("provider call", err)
		}
		msg = resp.Message
		usage = resp.Usage
		for _, tcall := range msg.ToolCalls {
			a.publish(ctx, session.ID, domain.EventToolStart, domain.ToolEventPayload{
				CallID: tcall.ID,
				Name:   tcall.Name,
			})
		}
	}

	msg.ID = msgID
	msg.Role = domain.RoleAssistant
	a.publish(ctx, session.ID, domain.EventMessageComplete, domain.MessageEventPayload{
		MessageID: msgID,
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
		Usage:     &usage,
	})
	return msg, usage, nil
}

// executeCalls runs the tool-call set, preserving original call order in the
// results. Calls execute in parallel on behalf of the same turn.
func (a *Agent) executeCalls(ctx context.Context, session *Session, tc *domain.ToolContext, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			results[idx] = a.executeTool(ctx, session.ID, tc, c)
		}(i, call)
	}
	wg.Wait()

	for _, res := range results {
		a.publish(ctx, session.ID, domain.EventToolComplete, domain.ToolEventPayload{
			CallID:  res.ID,
			Name:    res.Name,
			Content: res.Content,
			IsError: res.IsError,
		})
	}
	return results
}

// executeTool runs a single tool call. Unknown tools, denied calls, and
// tool-internal failures all become error-flagged results, never loop
// failures.
func (a *Agent) executeTool(ctx context.Context, sessionID string, tc *domain.ToolContext, call domain.ToolCall) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	if a.deps.Gate != nil {
		allowed, err := a.deps.Gate.CheckPermission(ctx, call)
		if err != nil || !allowed {
			detail := "denied by permission policy"
			if err != nil {
				detail = err.Error()
			}
			tracer.RecordError(span, domain.ErrPermissionDenied)
			return domain.ToolResult{
				ID:      call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Permission denied for tool %q: %s", call.Name, detail),
				IsError: true,
			}
		}
	}

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("Unknown tool: %q", call.Name),
			IsError: true,
		}
	}

	res, err := tool.Execute(ctx, call.Arguments, tc)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: err.Error(),
			IsError: true,
		}
	}
	if res == nil {
		res = &domain.ToolResult{}
	}

	tracer.SetOK(span)
	return domain.ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		Content: res.Content,
		IsError: res.IsError,
	}
}

// toolContext builds the per-turn context handed to tools and commands.
func (a *Agent) toolContext(ctx context.Context, session *Session) *domain.ToolContext {
	return &domain.ToolContext{
		WorkDir:   a.deps.WorkDir,
		SessionID: session.ID,
		Emit: func(eventType domain.EventType, payload any) {
			a.publish(ctx, session.ID, eventType, payload)
		},
		Todos:      a.todos,
		Phases:     a.phases,
		Sessions:   a.deps.Store,
		Skills:     a.deps.Skills,
		Extensions: a.ext,
	}
}

// saveSession persists the session when a store is configured.
func (a *Agent) saveSession(ctx context.Context, session *Session) {
	if a.deps.Store == nil {
		return
	}
	if err := a.deps.Store.Save(ctx, session.Record()); err != nil {
		a.deps.Logger.Warn("session save failed", "session", session.ID, "error", err)
	}
}

// publish emits an event on the bus if one is configured.
func (a *Agent) publish(ctx context.Context, sessionID string, eventType domain.EventType, payload any) {
	if a.deps.Bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			a.deps.Logger.Warn("event payload marshal failed", "event", string(eventType), "error", err)
		} else {
			raw = data
		}
	}
	a.deps.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}

// --- Loop detection ---

// toolCallSignature is a deterministic signature for one tool call: the name
// plus a hash of its arguments.
func toolCallSignature(call domain.ToolCall) string {
	h := sha256.Sum256(call.Arguments)
	return call.Name + ":" + hex.EncodeToString(h[:8])
}

// toolCallSetSignature is the order-independent signature of a tool-call set.
func toolCallSetSignature(calls []domain.ToolCall) string {
	sigs := make([]string, len(calls))
	for i, c := range calls {
		sigs[i] = toolCallSignature(c)
	}
	sort.Strings(sigs)
	h := sha256.Sum256([]byte(strings.Join(sigs, "|")))
	return hex.EncodeToString(h[:])
}

// signatureWindow is a fixed-size sliding window of tool-call set signatures.
// push reports true when the window is full and every entry is identical —
// the model is repeating the same tool calls without making progress.
type signatureWindow struct {
	size int
	sigs []string
}

func newSignatureWindow(size int) *signatureWindow {
	return &signatureWindow{size: size}
}

func (w *signatureWindow) push(sig string) bool {
	w.sigs = append(w.sigs, sig)
	if len(w.sigs) > w.size {
		w.sigs = w.sigs[1:]
	}
	if len(w.sigs) < w.size {
		return false
	}
	for _, s := range w.sigs {
		if s != w.sigs[0] {
			return false
		}
	}
	return true
}

// --- Stream accumulation ---

// maxToolCallsPerDelta bounds the tool call slots the accumulator allocates
// so malformed deltas cannot exhaust memory.
const maxToolCallsPerDelta = 50

// streamAccumulator collects incremental deltas into a complete message.
// Tool calls are tracked by index: the first fragment for an index provides
// ID and Name, later fragments append to Arguments.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall
	usage     domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for idx, tc := range delta.ToolCalls {
		if idx >= maxToolCallsPerDelta {
			break
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}
		existing := &acc.toolCalls[idx]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			existing.Arguments = append(existing.Arguments, tc.Arguments...)
		}
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

func (acc *streamAccumulator) build() (domain.Message, domain.Usage) {
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}
	return msg, acc.usage
}
