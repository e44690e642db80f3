package tool

import (
	"context"
	"strings"
	"testing"
)

func TestSetMCPConfigAndListServers(t *testing.T) {
	SetMCPConfig(map[string]interface{}{
		"docs": map[string]interface{}{
			"type": "http",
			"url":  "https://example.com/mcp",
		},
	})
	defer SetMCPConfig(nil)

	result, err := listMCPServers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "docs") {
		t.Errorf("expected server name in output, got %q", result.Output)
	}
}

func TestGetMCPServerConfigMissing(t *testing.T) {
	SetMCPConfig(map[string]interface{}{})
	defer SetMCPConfig(nil)

	_, err := getMCPServerConfig("nope")
	if err == nil {
		t.Fatalf("expected error for unconfigured server")
	}
}

func TestEnsureSessionRejectsUnsupportedType(t *testing.T) {
	server := &MCPServer{Name: "weird", Type: "carrier-pigeon"}
	_, err := ensureSession(context.Background(), server)
	if err == nil {
		t.Fatalf("expected error for unsupported server type")
	}
}

func TestExecuteMCPRequiresOperation(t *testing.T) {
	result, err := executeMCP(context.Background(), &ToolContext{}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error when operation is missing")
	}
}
