package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kaioken/internal/logging"
	"kaioken/internal/session"
	"kaioken/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session over stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

// runInteractive is the CLI's own turn loop: read one line from stdin,
// submit it as a user turn, print every session event until the turn
// completes, repeat until EOF or "exit". Approval requests are resolved
// inline by prompting the same stdin (spec §4.8's OnRequest path; there is
// no separate UI surface here per spec §1's Non-goals).
func runInteractive(ctx context.Context) error {
	rt, err := buildRuntime(ctx, workspace)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.memStore.ApplyDecay(ctx, rt.cfg.Memory.DecayRate); err != nil {
		logging.Boot("memory decay at session start failed: %v", err)
	}

	events, unsubscribe := rt.session.Bus().Subscribe()
	defer unsubscribe()

	cancelPoller := session.StartRateLimitPoller(ctx, rt.session, noopRateLimitPoll)
	defer cancelPoller()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(events, rt, scanner)
	}()

	fmt.Fprintf(os.Stdout, "kaioken ready (workspace=%s, model=%s/%s). Type a message, or \"exit\" to quit.\n",
		workspace, rt.cfg.Model.Provider, rt.cfg.Model.Model)

	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		result, err := rt.engine.Run(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn error: %v\n", err)
			continue
		}
		logging.TurnDebug("turn complete: %d tool calls, %d total tokens", result.ToolCallCount, result.Usage.TotalTokens)
	}

	rt.session.Bus().Close()
	<-done
	return scanner.Err()
}

// noopRateLimitPoll satisfies session.PollFunc with an always-empty
// snapshot: parsing a provider's actual rate-limit headers is HTTP
// transport detail the spec places out of scope (§1 Non-goals), so the
// poller runs on schedule but never has real usage to report here.
func noopRateLimitPoll(ctx context.Context) (session.RateLimitSnapshot, error) {
	return session.RateLimitSnapshot{}, nil
}

// printEvents renders the session event stream to stdout, resolving any
// approval request by prompting stdin for y/n, until the bus closes. It
// shares the same stdin scanner the main input loop uses: an approval
// prompt only ever arrives while that loop is blocked inside engine.Run,
// so the two never read concurrently.
func printEvents(events <-chan types.Event, rt *runtime, scanner *bufio.Scanner) {
	for ev := range events {
		switch ev.Kind {
		case types.EventAgentMessage:
			fmt.Fprintf(os.Stdout, "\n%s\n", ev.Payload)
		case types.EventAgentReasoning:
			fmt.Fprintf(os.Stdout, "\n[reasoning] %s\n", ev.Payload)
		case types.EventWarning:
			fmt.Fprintf(os.Stdout, "[warning] %v\n", ev.Payload)
		case types.EventError, types.EventStreamError:
			fmt.Fprintf(os.Stderr, "[error] %v\n", ev.Payload)
		case types.EventExecApprovalRequest, types.EventApplyPatchApprovalRequest:
			item, ok := ev.Payload.(types.ApprovalItem)
			if !ok {
				continue
			}
			resolveApproval(rt, item, scanner)
		case types.EventSubagentTaskUpdate, types.EventSubagentLog:
			fmt.Fprintf(os.Stdout, "[subagent] %v\n", ev.Payload)
		case types.EventPlanUpdate:
			fmt.Fprintf(os.Stdout, "[plan] %v\n", ev.Payload)
		}
	}
}

func resolveApproval(rt *runtime, item types.ApprovalItem, scanner *bufio.Scanner) {
	fmt.Fprintf(os.Stdout, "\napprove %s? %s [y/N] ", item.Kind, item.Summary)
	decision := types.DecisionDenied
	if scanner.Scan() && strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
		decision = types.DecisionApproved
	}
	if err := rt.gate.Resolve(item.CallID, decision); err != nil {
		logging.ApprovalDebug("resolve %s: %v", item.CallID, err)
	}
}
