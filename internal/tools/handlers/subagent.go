package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kaioken/internal/session"
	"kaioken/internal/subagent"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// promptFile is the YAML shape a task's prompt_file may point at, adapted
// from the teacher's session.AgentConfig loader: a task description kept
// in its own file reads better under version control than an inline prompt
// string buried in a tool call.
type promptFile struct {
	Prompt  string `yaml:"prompt"`
	Cwd     string `yaml:"cwd"`
	Timeout string `yaml:"timeout"`
}

func loadPromptFile(path string) (subagent.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return subagent.Task{}, fmt.Errorf("read prompt_file %s: %w", path, err)
	}
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return subagent.Task{}, fmt.Errorf("parse prompt_file %s: %w", path, err)
	}
	if pf.Prompt == "" {
		return subagent.Task{}, fmt.Errorf("prompt_file %s: prompt is required", path)
	}
	task := subagent.Task{Prompt: pf.Prompt, Cwd: pf.Cwd}
	if pf.Timeout != "" {
		d, err := time.ParseDuration(pf.Timeout)
		if err != nil {
			return subagent.Task{}, fmt.Errorf("prompt_file %s: invalid timeout %q: %w", path, pf.Timeout, err)
		}
		task.Timeout = d
	}
	return task, nil
}

// SubagentRunTool returns the subagent_run tool bound to the given
// scheduler and session, per spec §6's schema:
// {tasks: [{name, prompt, cwd?, timeout_ms?}]}. Status and history updates
// are forwarded onto the session's event bus as they arrive, so the turn
// engine never has to poll the scheduler itself (spec §4.10 steps 1/3/4).
func SubagentRunTool(sched *subagent.Scheduler, s *session.Session) *tools.Tool {
	return &tools.Tool{
		Name:        "subagent_run",
		Description: "Run one or more independent child tasks concurrently, each in its own conversation",
		Kind:        tools.KindSubagent,
		Schema: tools.Schema{
			Required: []string{"tasks"},
			Properties: map[string]tools.Property{
				"tasks": {
					Type:        "array",
					Description: "The child tasks to run concurrently",
					Items: &tools.PropertyItems{
						Type:     "object",
						Required: []string{"name"},
						Properties: map[string]tools.Property{
							"name":        {Type: "string", Description: "Short identifier for this task"},
							"prompt":      {Type: "string", Description: "The task's sole user instruction"},
							"prompt_file": {Type: "string", Description: "Path to a YAML file holding prompt/cwd/timeout, instead of an inline prompt"},
							"cwd":         {Type: "string", Description: "Working directory override for this task"},
							"timeout_ms":  {Type: "number", Description: "Per-task deadline in milliseconds"},
						},
					},
				},
			},
		},
		Execute: executeSubagentRun(sched, s),
	}
}

func executeSubagentRun(sched *subagent.Scheduler, s *session.Session) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		tasks, err := parseSubagentTasks(args)
		if err != nil {
			return "", err
		}

		statusCh := make(chan subagent.StatusUpdate, 64)
		historyCh := make(chan subagent.HistoryItem, 64)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for statusCh != nil || historyCh != nil {
				select {
				case u, ok := <-statusCh:
					if !ok {
						statusCh = nil
						continue
					}
					s.SendEvent(types.Event{Kind: types.EventSubagentTaskUpdate, Payload: u})
				case h, ok := <-historyCh:
					if !ok {
						historyCh = nil
						continue
					}
					s.SendEvent(types.Event{Kind: types.EventSubagentHistoryItem, Payload: h})
				}
			}
		}()

		_, summary, err := sched.Run(ctx, s.Config().WorkingDir, tasks, statusCh, historyCh)
		close(statusCh)
		close(historyCh)
		<-done
		if err != nil {
			return "", err
		}
		return summary, nil
	}
}

func parseSubagentTasks(args map[string]any) ([]subagent.Task, error) {
	raw, ok := args["tasks"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("tasks must be a non-empty array")
	}

	tasks := make([]subagent.Task, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tasks[%d] must be an object", i)
		}
		name, _ := obj["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("tasks[%d] requires name", i)
		}

		var task subagent.Task
		if promptFilePath, ok := obj["prompt_file"].(string); ok && promptFilePath != "" {
			t, err := loadPromptFile(promptFilePath)
			if err != nil {
				return nil, fmt.Errorf("tasks[%d]: %w", i, err)
			}
			task = t
		} else {
			prompt, _ := obj["prompt"].(string)
			if prompt == "" {
				return nil, fmt.Errorf("tasks[%d] requires prompt or prompt_file", i)
			}
			task = subagent.Task{Prompt: prompt}
		}
		task.Name = name

		if cwd, ok := obj["cwd"].(string); ok && cwd != "" {
			task.Cwd = cwd
		}
		if ms, ok := asInt(obj["timeout_ms"]); ok && ms > 0 {
			task.Timeout = time.Duration(ms) * time.Millisecond
		}

		tasks = append(tasks, task)
	}
	return tasks, nil
}
