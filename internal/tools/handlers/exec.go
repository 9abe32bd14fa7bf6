package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"kaioken/internal/logging"
	"kaioken/internal/tools"
)

const maxOutputBytes = 50_000

// RunCommandTool returns the run_command tool: an approval-gated shell
// execution, adapted from the teacher's shell.RunCommandTool with its
// category/priority fields replaced by a Kind the dispatcher's approval
// gate understands.
func RunCommandTool() *tools.Tool {
	return &tools.Tool{
		Name:        "run_command",
		Description: "Execute a shell command and return its output",
		Kind:        tools.KindExec,
		Schema: tools.Schema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command":         {Type: "string", Description: "The command to execute"},
				"working_dir":     {Type: "string", Description: "Working directory for the command"},
				"timeout_seconds": {Type: "number", Description: "Timeout in seconds", Default: 60},
				"env":             {Type: "object", Description: "Additional environment variables", AdditionalProperties: &tools.Property{Type: "string"}},
			},
		},
		Execute: executeRunCommand,
	}
}

func executeRunCommand(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	workingDir, _ := args["working_dir"].(string)

	timeout := 60
	if t, ok := asInt(args["timeout_seconds"]); ok && t > 0 {
		timeout = t
	}

	logging.ToolsDebug("run_command: cmd=%s dir=%s timeout=%ds", command, workingDir, timeout)

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	cmd.Env = os.Environ()
	if envMap, ok := args["env"].(map[string]any); ok {
		for k, v := range envMap {
			if vs, ok := v.(string); ok {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, vs))
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n...[truncated]"
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("command timed out after %d seconds", timeout)
		}
		logging.Tools("run_command failed: %s (%v)", command, err)
		return output, fmt.Errorf("command failed: %w\noutput:\n%s", err, output)
	}

	logging.Tools("run_command completed: %s (%d bytes output)", command, len(output))
	return output, nil
}
