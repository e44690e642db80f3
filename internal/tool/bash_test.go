package tool

import (
	"context"
	"strings"
	"testing"
)

func TestBashToolRunsSimpleCommand(t *testing.T) {
	tmpDir := t.TempDir()
	tool := BashTool()

	result, err := tool.Execute(context.Background(), &ToolContext{WorkDir: tmpDir}, map[string]interface{}{
		"command": "echo hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Output)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Errorf("expected output to contain %q, got %q", "hello", result.Output)
	}
}

func TestBashToolReportsNonZeroExit(t *testing.T) {
	tmpDir := t.TempDir()
	tool := BashTool()

	result, err := tool.Execute(context.Background(), &ToolContext{WorkDir: tmpDir}, map[string]interface{}{
		"command": "exit 3",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error for nonzero exit")
	}
	if !strings.Contains(result.Output, "exit code 3") {
		t.Errorf("expected exit code 3 in output, got %q", result.Output)
	}
}

func TestBashToolRequiresCommand(t *testing.T) {
	tool := BashTool()
	result, err := tool.Execute(context.Background(), &ToolContext{}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error when command is missing")
	}
}

func TestBashToolHonorsWorkDir(t *testing.T) {
	tmpDir := t.TempDir()
	tool := BashTool()

	result, err := tool.Execute(context.Background(), &ToolContext{WorkDir: tmpDir}, map[string]interface{}{
		"command": "pwd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, tmpDir) {
		t.Errorf("expected output to reference workdir %q, got %q", tmpDir, result.Output)
	}
}
