package turn

import (
	"context"
	"fmt"
	"sync"

	"kaioken/internal/config"
	"kaioken/internal/extract"
	"kaioken/internal/model"
	"kaioken/internal/retrieval"
	"kaioken/internal/session"
	"kaioken/internal/store"
	"kaioken/internal/subagent"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// ChildEngineFactory holds everything needed to construct a subagent
// child conversation's Engine+Session so the scheduler (L10) can spawn one
// without internal/subagent ever importing internal/turn (the import-cycle
// concern subagent.SpawnFunc's doc comment names). No teacher file covers
// recursive session spawn; grounded on spec §4.10's child-session
// bootstrap, restoring the original subagent.rs's practice of deriving a
// child's config from the parent and forbidding nested fan-out.
type ChildEngineFactory struct {
	Client     model.Client
	Registry   *tools.Registry // used as given; build it with ChildRegistry to leave out subagent_run
	MemStore   *store.MemoryStore
	Retriever  *retrieval.Retriever
	Rules      *extract.RuleExtractor
	Cfg        *config.Config
	RolloutDir string // "" disables durable rollout for child sessions
}

// NewSpawnFunc adapts f into a subagent.SpawnFunc: each call opens a fresh
// child Session and Engine, runs prompt as that child's sole turn, and
// streams every event the child publishes onto the returned channel,
// closing it once the child's turn ends.
//
// The child runs with f.Registry exactly as given; NewSpawnFunc does not
// remove subagent_run itself. A Registry built with ChildRegistry leaves
// it out, so a child spawned this way can run commands, edit files, and
// touch memory, but it cannot itself fan out further children. Spec §4.10 describes one level
// of parallel children, not recursive trees, and an unbounded registry
// here would let one subagent_run call spawn another without limit.
func (f *ChildEngineFactory) NewSpawnFunc() subagent.SpawnFunc {
	return func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		child, err := session.New(cfg, f.RolloutDir)
		if err != nil {
			return nil, fmt.Errorf("turn: spawn child session: %w", err)
		}

		runCtx := ctx
		if !f.Cfg.Subagent.CancelOnParentEnd {
			runCtx = context.Background()
		}

		out := make(chan types.Event, 64)
		sub, unsubscribe := child.Bus().Subscribe()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			for ev := range sub {
				select {
				case out <- ev:
				case <-runCtx.Done():
					return
				}
			}
		}()

		engine := New(child, f.Client, f.Registry, nil, f.Retriever, f.MemStore, f.Rules, nil, nil, f.Cfg)

		go func() {
			if _, err := engine.Run(runCtx, prompt); err != nil {
				child.SendEvent(types.Event{Kind: types.EventError, Payload: err.Error()})
			}
			child.Bus().Close()
			wg.Wait()
			child.Close()
			close(out)
		}()

		return out, nil
	}
}

// ChildRegistry returns a copy of base with subagent_run removed, for
// callers building a ChildEngineFactory.Registry from the parent's full
// registry (spec §4.10: children never fan out further).
func ChildRegistry(base *tools.Registry) *tools.Registry {
	child := tools.NewRegistry()
	for _, t := range base.All() {
		if t.Kind == tools.KindSubagent {
			continue
		}
		t := t
		child.MustRegister(t)
	}
	return child
}
