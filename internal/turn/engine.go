// Package turn is the L11 component: the per-turn state machine that
// drives one request through streaming, tool dispatch, and (optionally)
// the plan-approval gate, then folds the result back into the session
// (spec §4.11). No teacher file covers a turn-engine directly —
// theRebelliousNerd-codenerd's closest analogue is its Mangle query loop
// (internal/engine), which this package borrows the shape of: a small
// state enum driving a for-loop, side effects dispatched through
// injected collaborators rather than owned directly (see DESIGN.md).
package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"kaioken/internal/approval"
	"kaioken/internal/config"
	"kaioken/internal/extract"
	"kaioken/internal/logging"
	"kaioken/internal/model"
	"kaioken/internal/retrieval"
	"kaioken/internal/session"
	"kaioken/internal/store"
	"kaioken/internal/subagent"
	"kaioken/internal/streaming"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// Engine owns one session's turn-by-turn state machine. A single Engine
// only ever drives one session at a time; a subagent's child conversation
// gets its own Engine wired over its own Session (internal/turn/subagent.go).
type Engine struct {
	session    *session.Session
	client     model.Client
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	gate       *approval.Gate
	retriever  *retrieval.Retriever
	memStore   *store.MemoryStore
	rules      *extract.RuleExtractor
	extractor  *extract.ModelExtractor // nil disables L4 (e.g. a subagent child)
	scheduler  *subagent.Scheduler     // stored only; subagent_run runs iff the registry holds it
	cfg        *config.Config

	renderWidth int // 0 disables line wrapping (headless/child engines)

	mu       sync.Mutex
	state    State
	planGate chan planDecision
}

// New builds an Engine wired over an existing session and its collaborators.
// gate, retriever, extractor, and scheduler may each be nil: a bare Engine
// with none of them still runs the text/tool-call loop, just without
// approval gating, memory injection, or model-driven extraction
// respectively. The engine does not read scheduler: whether subagent_run
// is available depends only on whether registry holds that tool.
func New(
	s *session.Session,
	client model.Client,
	registry *tools.Registry,
	gate *approval.Gate,
	retriever *retrieval.Retriever,
	memStore *store.MemoryStore,
	rules *extract.RuleExtractor,
	extractor *extract.ModelExtractor,
	scheduler *subagent.Scheduler,
	cfg *config.Config,
) *Engine {
	return &Engine{
		session:    s,
		client:     client,
		registry:   registry,
		dispatcher: tools.NewDispatcher(registry, gate),
		gate:       gate,
		retriever:  retriever,
		memStore:   memStore,
		rules:      rules,
		extractor:  extractor,
		scheduler:  scheduler,
		cfg:        cfg,
		state:      StateIdle,
	}
}

// SetRenderWidth configures the line width the streaming controller wraps
// assistant text at; 0 (the default) disables wrapping.
func (e *Engine) SetRenderWidth(w int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderWidth = w
}

// State returns the engine's current substate, for observers (tests, a UI).
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run drives one user turn to completion: submit, stream, dispatch any
// tool calls the model requests, repeat until the model produces a turn
// with no further tool calls, then returns the final assistant text (spec
// §4.11's ASCII diagram, Idle->...->TurnComplete->Idle).
func (e *Engine) Run(ctx context.Context, userText string) (*Result, error) {
	e.setState(StateAwaitingUser)

	injected := e.injectMemoryContext(ctx, userText)
	e.session.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: userText})
	e.session.SendEvent(types.Event{Kind: types.EventTaskStarted, Payload: userText})
	e.runUserMessageExtraction(ctx, userText)

	e.setState(StateSubmitted)

	var (
		toolCallCount int
		finalText     string
		finalUsage    types.TokenUsage
		toolSummaries []string
		filesTouched  []string
	)

	first := true
	for {
		messages := buildMessages(e.session.Items())
		if first && injected != "" {
			messages = prependContext(messages, injected)
			first = false
		}

		defs, err := toolDefinitions(e.registry)
		if err != nil {
			return nil, fmt.Errorf("turn: build tool definitions: %w", err)
		}

		req := model.Request{
			Model:           e.cfg.Model.Model,
			ReasoningEffort: e.cfg.Model.ReasoningEffort,
			Messages:        messages,
			Tools:           defs,
		}

		e.setState(StateStreaming)
		e.session.Interrupt().SetActive(true)
		logging.Turn("session %s: starting model stream", e.session.ID())

		events, err := e.streamWithRetry(ctx, req)
		if err != nil {
			e.session.Interrupt().Flush()
			e.session.SendEvent(types.Event{Kind: types.EventStreamError, Payload: err.Error()})
			return nil, fmt.Errorf("turn: stream: %w", err)
		}

		outcome, err := e.consumeStream(ctx, events, &toolSummaries, &filesTouched)
		e.flushInterrupts()

		if err != nil {
			e.session.SendEvent(types.Event{Kind: types.EventStreamError, Payload: err.Error()})
			return nil, fmt.Errorf("turn: consume stream: %w", err)
		}

		finalUsage = e.session.AccumulateUsage(outcome.usage)

		if outcome.reasoning != "" {
			e.session.Append(types.Item{Kind: types.ItemReasoning, Reasoning: &types.ReasoningBlock{Summary: outcome.reasoning}})
			e.session.SendEvent(types.Event{Kind: types.EventAgentReasoning, Payload: outcome.reasoning})
		}

		if outcome.text != "" {
			e.setState(StateAssistantText)
			e.session.Append(types.Item{Kind: types.ItemAssistantMessage, AssistantMessage: outcome.text})
			e.session.SendEvent(types.Event{Kind: types.EventAgentMessage, Payload: outcome.text})
			finalText = outcome.text
		}

		if outcome.refineFeedback != "" {
			e.session.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: outcome.refineFeedback})
			continue
		}

		toolCallCount += outcome.toolCalls
		if outcome.toolCalls == 0 {
			break
		}
		e.setState(StateToolCalled)
	}

	e.setState(StateTurnComplete)
	e.session.SendEvent(types.Event{Kind: types.EventTaskComplete, Payload: finalText})

	e.runPostTurnExtraction(userText, toolSummaries, filesTouched, finalText)

	e.setState(StateIdle)
	return &Result{AssistantText: finalText, ToolCallCount: toolCallCount, Usage: finalUsage}, nil
}

// streamWithRetry opens the model stream, retrying exactly once on a
// transient transport error before surfacing it (spec §7: "Transient
// network/stream error... retried once, then surfaced as StreamError").
func (e *Engine) streamWithRetry(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	events, err := e.client.Stream(ctx, req)
	if err == nil {
		return events, nil
	}
	logging.TurnDebug("session %s: stream open failed, retrying once: %v", e.session.ID(), err)
	return e.client.Stream(ctx, req)
}

// injectMemoryContext runs the retrieval pipeline (L5) against the user's
// text and renders a budget-capped context block, or "" if retrieval is
// unavailable or turns up nothing (spec §4.5 degrades non-fatally).
func (e *Engine) injectMemoryContext(ctx context.Context, userText string) string {
	if e.retriever == nil {
		return ""
	}
	memories, err := e.retriever.Retrieve(ctx, retrieval.Request{
		Query: userText,
		N:     e.cfg.Memory.MaxRetrievalCount,
	})
	if err != nil {
		logging.TurnDebug("session %s: memory retrieval failed, continuing without context: %v", e.session.ID(), err)
		return ""
	}
	return retrieval.BuildMemoryContext(memories, e.cfg.Memory.MaxInjectionChars)
}

// prependContext folds a rendered memory-context block into the first
// user message of the outgoing request, rather than a synthetic message
// of its own, so the model sees it as part of the user's ask.
func prependContext(messages []model.Message, context string) []model.Message {
	for i := range messages {
		if messages[i].Role == "user" {
			messages[i].Content = context + "\n\n" + messages[i].Content
			return messages
		}
	}
	return messages
}

// runUserMessageExtraction routes an incoming user message through the
// rule-based extractor's explicit-command and correction classifiers
// before the turn streams, so "decision: ..." and "no, actually ..."
// messages land as memories even if the turn that follows never touches a
// file or a shell command.
func (e *Engine) runUserMessageExtraction(ctx context.Context, userText string) {
	if e.rules == nil || e.memStore == nil {
		return
	}
	switch {
	case extract.IsExplicitCommand(userText):
		if _, err := e.rules.OnUserCommand(ctx, e.memStore, userText); err != nil {
			logging.TurnDebug("session %s: rule extraction on user command failed: %v", e.session.ID(), err)
		}
	case extract.IsCorrection(userText):
		if _, err := e.rules.OnUserCorrection(ctx, e.memStore, userText); err != nil {
			logging.TurnDebug("session %s: rule extraction on user correction failed: %v", e.session.ID(), err)
		}
	}
}

// runPostTurnExtraction fires the asynchronous model-driven extractor
// (L4) over a summary of the just-completed turn; it never blocks Run's
// return and any failure is logged only (spec §4.4 runs "asynchronously,
// off the turn-completion critical path").
func (e *Engine) runPostTurnExtraction(userText string, toolCalls, filesTouched []string, agentResponse string) {
	if e.extractor == nil || e.memStore == nil {
		return
	}
	summary := extract.BuildTurnSummary(extract.TurnSummaryInput{
		UserRequest:   userText,
		ToolCalls:     toolCalls,
		FilesTouched:  filesTouched,
		AgentResponse: agentResponse,
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), extract.ModelDeadline)
		defer cancel()
		if _, err := e.extractor.Extract(ctx, e.memStore, summary); err != nil {
			logging.TurnDebug("session %s: model-driven extraction failed: %v", e.session.ID(), err)
		}
	}()
}

// streamOutcome is what a single pass over a model stream produced.
type streamOutcome struct {
	text           string
	reasoning      string
	toolCalls      int
	usage          types.TokenUsage
	refineFeedback string // non-empty if the plan gate received RefinePlan
}

// consumeStream drains one model response: accumulating text through the
// streaming controller (L7), dispatching every tool call inline as it
// arrives, and suspending on a plan update until the operator approves or
// refines it (spec §9's second gated state).
func (e *Engine) consumeStream(ctx context.Context, events <-chan model.StreamEvent, toolSummaries, filesTouched *[]string) (streamOutcome, error) {
	var outcome streamOutcome
	ctrl := streaming.New(e.renderWidth)
	var reasoning strings.Builder

	for ev := range events {
		switch ev.Kind {
		case model.EventTextDelta:
			ctrl.Push(ev.TextDelta)

		case model.EventReasoningDelta:
			reasoning.WriteString(ev.ReasoningDelta)

		case model.EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			outcome.toolCalls++
			e.runTool(ctx, *ev.ToolCall, toolSummaries, filesTouched)

		case model.EventPlanUpdate:
			e.setState(StatePlanSuspended)
			item := types.Item{Kind: types.ItemPlanUpdate, PlanUpdate: &types.PlanUpdateItem{Steps: ev.PlanSteps}}
			e.session.Append(item)
			e.session.SendEvent(types.Event{Kind: types.EventPlanUpdate, Payload: item.PlanUpdate})

			decision, ok := e.awaitPlanDecision(ctx)
			if !ok {
				return outcome, ctx.Err()
			}
			if decision.kind == planRefined {
				outcome.refineFeedback = decision.feedback
			}
			e.setState(StateStreaming)

		case model.EventUsage:
			if ev.Usage != nil {
				outcome.usage = types.TokenUsage{
					InputTokens:  ev.Usage.InputTokens,
					OutputTokens: ev.Usage.OutputTokens,
					TotalTokens:  ev.Usage.TotalTokens,
				}
			}

		case model.EventError:
			return outcome, ev.Err
		}
	}

	ctrl.Finalize()
	outcome.text = strings.Join(ctrl.Lines(), "\n")
	outcome.reasoning = reasoning.String()
	return outcome, nil
}

// runTool dispatches a single model-requested tool call, bracketing
// exec/patch kinds with Begin/End items routed through the session's
// interrupt FIFO so their ordering survives an in-flight stream (spec §5,
// GLOSSARY "Interrupt event").
func (e *Engine) runTool(ctx context.Context, tc model.ToolCall, toolSummaries, filesTouched *[]string) {
	tool := e.registry.Get(tc.Name)
	var kind tools.Kind
	if tool != nil {
		kind = tool.Kind
	}

	*toolSummaries = append(*toolSummaries, summarizeCall(tc))

	switch kind {
	case tools.KindExec:
		e.runExecTool(ctx, tc)
	case tools.KindPatch:
		e.runPatchTool(ctx, tc, filesTouched)
	default:
		result := e.dispatcher.Dispatch(ctx, tc.ID, tc.Name, tc.Arguments)
		e.commitOrQueue(result.ToItem(tc.ID, tc.Arguments))
	}
}

func summarizeCall(tc model.ToolCall) string {
	if cmd, ok := tc.Arguments["command"].(string); ok {
		return fmt.Sprintf("%s: %s", tc.Name, cmd)
	}
	return tc.Name
}

func (e *Engine) runExecTool(ctx context.Context, tc model.ToolCall) {
	cmd := commandStrings(tc.Arguments)
	begin := types.Item{
		Kind: types.ItemExecBegin,
		Exec: &types.ExecItem{CallID: tc.ID, Command: cmd},
	}
	e.commitOrQueue(begin)

	result := e.dispatcher.Dispatch(ctx, tc.ID, tc.Name, tc.Arguments)
	item := result.ToItem(tc.ID, tc.Arguments)

	exitCode := 0
	if result.Err != nil {
		exitCode = 1
	}
	end := types.Item{
		Kind: types.ItemExecEnd,
		Exec: &types.ExecItem{
			CallID:    tc.ID,
			Command:   cmd,
			ExitCode:  exitCode,
			Stdout:    result.Output,
			Completed: true,
		},
	}
	e.commitOrQueue(end)
	e.commitOrQueue(item)

	if e.rules != nil && e.memStore != nil {
		stderr := ""
		if result.Err != nil {
			stderr = result.Err.Error()
		}
		if _, err := e.rules.OnExecComplete(ctx, e.memStore, extract.ExecEvent{
			Command:  strings.Join(cmd, " "),
			ExitCode: exitCode,
			Stdout:   result.Output,
			Stderr:   stderr,
		}); err != nil {
			logging.TurnDebug("session %s: rule extraction on exec failed: %v", e.session.ID(), err)
		}
	}
}

func (e *Engine) runPatchTool(ctx context.Context, tc model.ToolCall, filesTouched *[]string) {
	files := fileArgList(tc.Arguments)
	*filesTouched = append(*filesTouched, files...)

	begin := types.Item{
		Kind:  types.ItemPatchBegin,
		Patch: &types.PatchItem{CallID: tc.ID, Files: files},
	}
	e.commitOrQueue(begin)

	result := e.dispatcher.Dispatch(ctx, tc.ID, tc.Name, tc.Arguments)
	item := result.ToItem(tc.ID, tc.Arguments)

	end := types.Item{
		Kind: types.ItemPatchEnd,
		Patch: &types.PatchItem{
			CallID:    tc.ID,
			Files:     files,
			Success:    result.Success(),
			Completed: true,
		},
	}
	e.commitOrQueue(end)
	e.commitOrQueue(item)

	if e.rules != nil && e.memStore != nil && result.Success() {
		for _, f := range files {
			if _, err := e.rules.OnFileEdit(ctx, e.memStore, f); err != nil {
				logging.TurnDebug("session %s: rule extraction on file edit failed: %v", e.session.ID(), err)
			}
		}
	}
}

// commitOrQueue routes item through the interrupt FIFO: if no stream is
// active and the queue is already empty, it is appended and published
// immediately; otherwise it waits for flushInterrupts.
func (e *Engine) commitOrQueue(item types.Item) {
	if e.session.Interrupt().Offer(item) {
		e.commitItem(item)
	}
}

// flushInterrupts drains and commits every item queued while the stream
// was active, in the order they were offered.
func (e *Engine) flushInterrupts() {
	for _, item := range e.session.Interrupt().Flush() {
		e.commitItem(item)
	}
}

func (e *Engine) commitItem(item types.Item) {
	e.session.Append(item)
	if ev, ok := eventForItem(item); ok {
		e.session.SendEvent(ev)
	}
}

func eventForItem(item types.Item) (types.Event, bool) {
	switch item.Kind {
	case types.ItemExecBegin:
		return types.Event{Kind: types.EventExecCommandBegin, Payload: item.Exec}, true
	case types.ItemExecEnd:
		return types.Event{Kind: types.EventExecCommandEnd, Payload: item.Exec}, true
	case types.ItemPatchBegin:
		return types.Event{Kind: types.EventPatchApplyBegin, Payload: item.Patch}, true
	case types.ItemPatchEnd:
		return types.Event{Kind: types.EventPatchApplyEnd, Payload: item.Patch}, true
	default:
		return types.Event{}, false
	}
}

func commandStrings(args map[string]any) []string {
	if raw, ok := args["command"].(string); ok {
		return strings.Fields(raw)
	}
	if list, ok := args["command"].([]any); ok {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fileArgList(args map[string]any) []string {
	if path, ok := args["path"].(string); ok {
		return []string{path}
	}
	if list, ok := args["files"].([]any); ok {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
