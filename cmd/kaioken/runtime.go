package main

import (
	"context"
	"fmt"
	"path/filepath"

	"kaioken/internal/approval"
	"kaioken/internal/config"
	"kaioken/internal/embedding"
	"kaioken/internal/extract"
	"kaioken/internal/logging"
	"kaioken/internal/model"
	"kaioken/internal/modelclient"
	"kaioken/internal/retrieval"
	"kaioken/internal/session"
	"kaioken/internal/store"
	"kaioken/internal/subagent"
	"kaioken/internal/tools"
	"kaioken/internal/tools/handlers"
	"kaioken/internal/turn"
	"kaioken/internal/types"
)

// runtime holds every collaborator one root session's turn engine is wired
// over. A subagent child gets its own runtime, built by spawnChild, sharing
// the parent's store/embedding engine/client but owning its own session,
// gate, and engine (spec §4.10: a child is a full session in its own right).
type runtime struct {
	cfg       *config.Config
	client    model.Client
	memStore  *store.MemoryStore
	retriever *retrieval.Retriever
	rules     *extract.RuleExtractor
	modelExt  *extract.ModelExtractor
	scheduler *subagent.Scheduler
	session   *session.Session
	gate      *approval.Gate
	engine    *turn.Engine
	watcher   *handlers.FileWatcher
}

// presetByName resolves the --preset flag to a types.Preset, matching the
// three named presets types/policy.go ships.
func presetByName(name string) (types.Preset, error) {
	switch name {
	case "", types.PresetAuto.Name:
		return types.PresetAuto, nil
	case types.PresetReadOnly.Name:
		return types.PresetReadOnly, nil
	case types.PresetFullAccess.Name:
		return types.PresetFullAccess, nil
	default:
		return types.Preset{}, fmt.Errorf("unknown preset %q (want read-only, auto, or full-access)", name)
	}
}

// buildRuntime loads the workspace config, applies CLI overrides, and wires
// every L1-L11 component into one root-session runtime, in the order the
// turn engine's own New(...) parameter list expects them assembled.
func buildRuntime(ctx context.Context, ws string) (*runtime, error) {
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if provider != "" {
		cfg.Model.Provider = provider
	}
	if modelName != "" {
		cfg.Model.Model = modelName
	}
	if p, perr := presetByName(preset); perr != nil {
		return nil, perr
	} else {
		cfg.Approval.FromPreset(p)
	}

	approvalMode, sandbox, err := cfg.Approval.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve approval policy: %w", err)
	}

	embEngine, err := embedding.NewEngine(embedding.Config{
		Provider:        cfg.Embedding.Provider,
		LocalDimensions: cfg.Embedding.LocalDimensions,
		OllamaEndpoint:  cfg.Embedding.OllamaEndpoint,
		OllamaModel:     cfg.Embedding.OllamaModel,
		GenAIAPIKey:     cfg.Embedding.GenAIAPIKey,
		GenAIModel:      cfg.Embedding.GenAIModel,
		TaskType:        cfg.Embedding.TaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedding engine: %w", err)
	}

	memDir := filepath.Join(ws, ".kaioken", "memory")
	dbPath := cfg.Memory.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(ws, ".kaioken", dbPath)
	}
	memStore, err := store.Open(store.Options{
		DBPath:  dbPath,
		DocsDir: filepath.Join(memDir, "docs"),
		Engine:  embEngine,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	client, err := modelclient.New(cfg)
	if err != nil {
		memStore.Close()
		return nil, fmt.Errorf("build model client: %w", err)
	}

	sessCfg := session.Config{
		WorkingDir:      ws,
		Model:           cfg.Model.Model,
		ReasoningEffort: cfg.Model.ReasoningEffort,
		Approval:        approvalMode,
		Sandbox:         sandbox,
	}
	sess, err := session.New(sessCfg, filepath.Join(ws, ".kaioken", "rollouts"))
	if err != nil {
		memStore.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}

	gate := approval.New(approvalMode, sandbox, sess)

	registry := tools.NewRegistry()
	retriever := retrieval.New(memStore)
	rules := extract.NewRuleExtractor()
	modelExt := extract.NewModelExtractor(client, cfg.Model.Model)

	registry.MustRegister(handlers.MemoryRecallTool(retriever))
	registry.MustRegister(handlers.MemorySaveTool(memStore))
	registry.MustRegister(handlers.SemanticSearchTool())
	registry.MustRegister(handlers.RunCommandTool())
	registry.MustRegister(handlers.ReadFileTool(rules, memStore))
	registry.MustRegister(handlers.ApplyPatchTool(rules, memStore))

	rt := &runtime{
		cfg:       cfg,
		client:    client,
		memStore:  memStore,
		retriever: retriever,
		rules:     rules,
		modelExt:  modelExt,
		session:   sess,
		gate:      gate,
	}

	scheduler := subagent.New(rt.spawnChild, cfg.Subagent.MaxConcurrent)
	rt.scheduler = scheduler
	registry.MustRegister(handlers.SubagentRunTool(scheduler, sess))

	rt.engine = turn.New(sess, client, registry, gate, retriever, memStore, rules, modelExt, scheduler, cfg)

	watcher, err := handlers.NewFileWatcher(ws, rules)
	if err != nil {
		logging.ToolsDebug("file watcher disabled: %v", err)
	} else {
		watcher.Start(ctx)
		rt.watcher = watcher
	}

	logging.Boot("runtime ready: workspace=%s provider=%s model=%s preset=%s", ws, cfg.Model.Provider, cfg.Model.Model, preset)
	return rt, nil
}

// spawnChild implements subagent.SpawnFunc: it builds a full child session
// and turn engine sharing the parent's store, embedding engine, and model
// client, runs exactly the one prompt task to completion, and returns the
// child's event bus for the scheduler to forward display-worthy events
// from (spec §4.10). The child disables model-driven extraction and
// further subagent fan-out, matching the teacher's one-level-deep fan-out
// discipline.
func (rt *runtime) spawnChild(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
	child, err := session.New(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("spawn child session: %w", err)
	}

	childGate := approval.New(cfg.Approval, cfg.Sandbox, child)

	childRegistry := tools.NewRegistry()
	childRegistry.MustRegister(handlers.MemoryRecallTool(rt.retriever))
	childRegistry.MustRegister(handlers.MemorySaveTool(rt.memStore))
	childRegistry.MustRegister(handlers.SemanticSearchTool())
	childRegistry.MustRegister(handlers.RunCommandTool())
	childRegistry.MustRegister(handlers.ReadFileTool(rt.rules, rt.memStore))
	childRegistry.MustRegister(handlers.ApplyPatchTool(rt.rules, rt.memStore))

	childEngine := turn.New(child, rt.client, childRegistry, childGate, rt.retriever, rt.memStore, rt.rules, nil, nil, rt.cfg)

	runCtx := ctx
	if !rt.cfg.Subagent.CancelOnParentEnd {
		runCtx = context.Background()
	}

	events, unsubscribe := child.Bus().Subscribe()
	go func() {
		defer unsubscribe()
		defer child.Close()
		if _, err := childEngine.Run(runCtx, prompt); err != nil {
			child.SendEvent(types.Event{Kind: types.EventError, Payload: err.Error()})
		}
		child.Bus().Close()
	}()
	return events, nil
}

// close releases the runtime's owned resources. The session's event bus is
// closed by the caller once it has drained every subscriber.
func (rt *runtime) close() {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	rt.memStore.Close()
	rt.session.Close()
}
