package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// BashTool executes shell commands
func BashTool() *ToolDef {
	return &ToolDef{
		Name:        "bash",
		Description: "Execute a shell command in the project directory. Default timeout: 120s.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"timeout": map[string]interface{}{
					"type":        "integer",
					"description": "Timeout in seconds (default: 120)",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Brief description of what the command does",
				},
			},
			"required": []string{"command"},
		},
		Execute: func(ctx context.Context, tc *ToolContext, input map[string]interface{}) (*ToolResult, error) {
			command, _ := input["command"].(string)
			if command == "" {
				return &ToolResult{Output: "Error: command is required", IsError: true}, nil
			}

			timeoutSecs := 120
			if v, ok := input["timeout"].(float64); ok && v > 0 {
				timeoutSecs = int(v)
			}

			workDir := tc.WorkDir
			if workDir == "" {
				workDir = "."
			}
			workDir, _ = filepath.Abs(workDir)

			timeout := time.Duration(timeoutSecs) * time.Second
			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			output, runErr := runShellCommand(cmdCtx, command, workDir)

			// Truncate output if too large (30KB cap to save tokens)
			if len(output) > 30*1024 {
				output = output[:15*1024] + "\n\n... (output truncated) ...\n\n" + output[len(output)-15*1024:]
			}

			if runErr != nil {
				if cmdCtx.Err() == context.DeadlineExceeded {
					return &ToolResult{
						Output:  fmt.Sprintf("Command timed out after %d seconds.\nPartial output:\n%s", timeoutSecs, output),
						IsError: true,
					}, nil
				}
				return &ToolResult{
					Output:  fmt.Sprintf("Command failed (exit code %d):\n%s", shellExitCode(runErr), output),
					IsError: true,
				}, nil
			}

			if strings.TrimSpace(output) == "" {
				output = "(no output)"
			}

			return &ToolResult{Output: output}, nil
		},
	}
}

// runShellCommand parses and runs command through an in-process POSIX shell
// interpreter rather than shelling out to an external /bin/bash, so bash
// tool calls behave identically regardless of what shell (or lack of one)
// is installed on the host. Stdout and stderr are combined into a single
// stream, matching the combined-output convention the rest of this tool's
// callers expect.
func runShellCommand(ctx context.Context, command, workDir string) (string, error) {
	parsed, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return "", fmt.Errorf("could not parse command: %w", err)
	}

	var out bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(nil, &out, &out),
		interp.Interactive(false),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.Dir(workDir),
	)
	if err != nil {
		return "", fmt.Errorf("could not create shell interpreter: %w", err)
	}

	runErr := runner.Run(ctx, parsed)
	return out.String(), runErr
}

// shellExitCode extracts the command's exit status from a shell run error,
// defaulting to -1 when the error isn't an interp.ExitStatus (e.g. a parse
// or setup failure rather than the command itself exiting non-zero).
func shellExitCode(err error) int {
	var exitErr interp.ExitStatus
	if errors.As(err, &exitErr) {
		return int(exitErr)
	}
	return -1
}
