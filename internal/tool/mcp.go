package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/blackmanai/ted/internal/config"
)

// ─── Global MCP server config + live session registry ──────────────────────

var (
	mcpMu           sync.RWMutex
	mcpServerConfig map[string]*MCPServer           // name → config, set at startup
	mcpSessions     map[string]*mcppkg.ClientSession // name → live connection, lazily populated
)

// SetMCPConfig wires the config-loaded MCP map into the tool.
// Call this from main after config.Load().
func SetMCPConfig(cfg map[string]interface{}) {
	mcpMu.Lock()
	defer mcpMu.Unlock()
	closeSessionsLocked()
	mcpServerConfig = make(map[string]*MCPServer)
	for name, raw := range cfg {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		srv := &MCPServer{Name: name}
		if t, ok := m["type"].(string); ok {
			srv.Type = t
		}
		if u, ok := m["url"].(string); ok {
			srv.URL = u
			if srv.Type == "" {
				srv.Type = "http"
			}
		}
		if rawCmd, ok := m["command"]; ok {
			switch v := rawCmd.(type) {
			case []interface{}:
				for _, c := range v {
					if s, ok := c.(string); ok {
						srv.Command = append(srv.Command, s)
					}
				}
			case []string:
				srv.Command = v
			}
			if srv.Type == "" {
				srv.Type = "process"
			}
		}
		if rawEnv, ok := m["env"].(map[string]interface{}); ok {
			srv.Env = make(map[string]string)
			for k, v := range rawEnv {
				if s, ok := v.(string); ok {
					srv.Env[k] = s
				}
			}
		}
		if rawHeaders, ok := m["headers"].(map[string]interface{}); ok {
			srv.Headers = make(map[string]string)
			for k, v := range rawHeaders {
				if s, ok := v.(string); ok {
					srv.Headers[k] = s
				}
			}
		}
		srv.Status = "configured"
		mcpServerConfig[name] = srv
	}
}

// SetMCPConfigFromConfig wires the config.Config.MCP map into the MCP tool.
// This is the primary way to configure MCP servers from the app config.
func SetMCPConfigFromConfig(cfg *config.Config) {
	if cfg == nil || len(cfg.MCP) == 0 {
		return
	}
	entries := make(map[string]MCPServerEntry, len(cfg.MCP))
	for name, mc := range cfg.MCP {
		// Skip disabled servers
		if mc.Enabled != nil && !*mc.Enabled {
			continue
		}
		entries[name] = MCPServerEntry{
			Type:    mc.Type,
			Command: mc.Command,
			URL:     mc.URL,
			Env:     mc.Env,
			Headers: mc.Headers,
		}
	}
	SetMCPConfigTyped(entries)
}

// SetMCPConfigTyped wires typed config map (config.MCPConfig).
// Accepts map[string]MCPConfigEntry where MCPConfigEntry has the same fields.
func SetMCPConfigTyped(servers map[string]MCPServerEntry) {
	mcpMu.Lock()
	defer mcpMu.Unlock()
	closeSessionsLocked()
	mcpServerConfig = make(map[string]*MCPServer)
	for name, entry := range servers {
		srv := &MCPServer{
			Name:    name,
			Type:    entry.Type,
			URL:     entry.URL,
			Command: entry.Command,
			Env:     entry.Env,
			Headers: entry.Headers,
			Status:  "configured",
		}
		if srv.Type == "" {
			if srv.URL != "" {
				srv.Type = "http"
			} else if len(srv.Command) > 0 {
				srv.Type = "process"
			}
		}
		mcpServerConfig[name] = srv
	}
}

// closeSessionsLocked tears down every live MCP connection. Callers must
// hold mcpMu. Reconfiguring (SetMCPConfig*) invalidates any session built
// against the old server list, so every reconfiguration starts fresh.
func closeSessionsLocked() {
	for _, s := range mcpSessions {
		_ = s.Close()
	}
	mcpSessions = nil
}

// MCPServerEntry is the typed config struct passed from config package.
type MCPServerEntry struct {
	Type    string // "local" | "remote" | "http" | "process"
	Command []string
	URL     string
	Env     map[string]string
	Headers map[string]string
}

// MCPTool provides Model Context Protocol client operations
func MCPTool() *ToolDef {
	return &ToolDef{
		Name:        "MCP",
		Description: "Connect to MCP servers for external tools. Supports HTTP/Streamable-HTTP and stdio process-based servers.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"operation": map[string]interface{}{
					"type":        "string",
					"description": "MCP operation to perform",
					"enum": []string{
						"list_servers",
						"list_tools",
						"call_tool",
						"get_resource",
						"list_resources",
					},
				},
				"server": map[string]interface{}{
					"type":        "string",
					"description": "MCP server name (from config)",
				},
				"tool": map[string]interface{}{
					"type":        "string",
					"description": "Tool name to call",
				},
				"arguments": map[string]interface{}{
					"type":        "object",
					"description": "Arguments to pass to the tool",
				},
				"resource": map[string]interface{}{
					"type":        "string",
					"description": "Resource URI to fetch",
				},
			},
			"required": []string{"operation"},
		},
		Execute: executeMCP,
	}
}

func executeMCP(ctx context.Context, tc *ToolContext, input map[string]interface{}) (*ToolResult, error) {
	operation, ok := input["operation"].(string)
	if !ok {
		return &ToolResult{Output: "operation parameter is required", IsError: true}, nil
	}

	switch operation {
	case "list_servers":
		return listMCPServers()
	case "list_tools":
		serverName, ok := input["server"].(string)
		if !ok {
			return &ToolResult{Output: "server parameter is required for list_tools", IsError: true}, nil
		}
		return listMCPTools(ctx, serverName)
	case "call_tool":
		serverName, ok := input["server"].(string)
		if !ok {
			return &ToolResult{Output: "server parameter is required for call_tool", IsError: true}, nil
		}
		toolName, ok := input["tool"].(string)
		if !ok {
			return &ToolResult{Output: "tool parameter is required for call_tool", IsError: true}, nil
		}
		args, _ := input["arguments"].(map[string]interface{})
		return callMCPTool(ctx, serverName, toolName, args)
	case "get_resource":
		serverName, ok := input["server"].(string)
		if !ok {
			return &ToolResult{Output: "server parameter is required for get_resource", IsError: true}, nil
		}
		resourceURI, ok := input["resource"].(string)
		if !ok {
			return &ToolResult{Output: "resource parameter is required for get_resource", IsError: true}, nil
		}
		return getMCPResource(ctx, serverName, resourceURI)
	case "list_resources":
		serverName, ok := input["server"].(string)
		if !ok {
			return &ToolResult{Output: "server parameter is required for list_resources", IsError: true}, nil
		}
		return listMCPResources(ctx, serverName)
	default:
		return &ToolResult{Output: fmt.Sprintf("unknown MCP operation: %s", operation), IsError: true}, nil
	}
}

// MCPServer represents an MCP server configuration
type MCPServer struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"` // "http", "remote", "process", "local"
	URL     string            `json:"url,omitempty"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Status  string            `json:"status"`
}

// getMCPServerConfig retrieves an MCP server from the config registry.
func getMCPServerConfig(name string) (*MCPServer, error) {
	mcpMu.RLock()
	defer mcpMu.RUnlock()
	if mcpServerConfig == nil {
		return nil, fmt.Errorf("no MCP servers configured (add 'mcp' section to ted.yaml)")
	}
	srv, ok := mcpServerConfig[name]
	if !ok {
		names := make([]string, 0, len(mcpServerConfig))
		for k := range mcpServerConfig {
			names = append(names, k)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no MCP servers configured")
		}
		return nil, fmt.Errorf("MCP server %q not found; configured: %s", name, strings.Join(names, ", "))
	}
	return srv, nil
}

// ensureSession returns a live ClientSession for server, connecting and
// caching one on first use. The stdio transport spawns server.Command as a
// child process; the HTTP transport speaks Streamable-HTTP to server.URL
// with server.Headers attached to every request.
func ensureSession(ctx context.Context, server *MCPServer) (*mcppkg.ClientSession, error) {
	mcpMu.Lock()
	defer mcpMu.Unlock()

	if mcpSessions == nil {
		mcpSessions = make(map[string]*mcppkg.ClientSession)
	}
	if s, ok := mcpSessions[server.Name]; ok {
		return s, nil
	}

	client := mcppkg.NewClient(&mcppkg.Implementation{Name: "ted", Version: "1"}, nil)

	var session *mcppkg.ClientSession
	var err error
	switch server.Type {
	case "process", "local":
		if len(server.Command) == 0 {
			return nil, fmt.Errorf("process MCP server %s has no command configured", server.Name)
		}
		cmd := exec.Command(server.Command[0], server.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range server.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		session, err = client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case "http", "remote", "":
		if server.URL == "" {
			return nil, fmt.Errorf("http MCP server %s has no url configured", server.Name)
		}
		httpClient := &http.Client{Timeout: 30 * time.Second}
		if len(server.Headers) > 0 {
			httpClient.Transport = &headerRoundTripper{headers: server.Headers, base: http.DefaultTransport}
		}
		transport := &mcppkg.StreamableClientTransport{Endpoint: server.URL, HTTPClient: httpClient}
		session, err = client.Connect(ctx, transport, nil)
	default:
		return nil, fmt.Errorf("unsupported MCP server type: %s", server.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server %s: %w", server.Name, err)
	}

	mcpSessions[server.Name] = session
	return session, nil
}

// headerRoundTripper injects static headers (e.g. Authorization) onto every
// outgoing request to a remote MCP server.
type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

// listMCPServers lists all configured MCP servers.
func listMCPServers() (*ToolResult, error) {
	mcpMu.RLock()
	defer mcpMu.RUnlock()

	if len(mcpServerConfig) == 0 {
		output := "# No MCP Servers Configured\n\n"
		output += "Add servers to your ted.yaml:\n\n"
		output += "```yaml\n"
		output += "mcp:\n"
		output += "  filesystem:\n"
		output += "    type: process\n"
		output += "    command: [\"npx\", \"-y\", \"@modelcontextprotocol/server-filesystem\", \"/path\"]\n"
		output += "  github:\n"
		output += "    type: http\n"
		output += "    url: \"https://mcp.github.com\"\n"
		output += "    headers:\n"
		output += "      Authorization: \"Bearer your-token\"\n"
		output += "```\n"
		return &ToolResult{Output: output}, nil
	}

	output := "# Configured MCP Servers\n\n"
	for _, srv := range mcpServerConfig {
		output += fmt.Sprintf("## %s (%s) — %s\n", srv.Name, srv.Type, srv.Status)
		if srv.URL != "" {
			output += fmt.Sprintf("  URL: %s\n", srv.URL)
		}
		if len(srv.Command) > 0 {
			output += fmt.Sprintf("  Command: %s\n", strings.Join(srv.Command, " "))
		}
	}
	return &ToolResult{Output: output}, nil
}

// listMCPTools lists tools advertised by an MCP server, paging through the
// SDK's auto-paginating iterator until exhausted.
func listMCPTools(ctx context.Context, serverName string) (*ToolResult, error) {
	server, err := getMCPServerConfig(serverName)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}
	session, err := ensureSession(ctx, server)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}

	output := fmt.Sprintf("# Tools from MCP Server: %s\n\n", server.Name)
	count := 0
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return &ToolResult{Output: fmt.Sprintf("error listing tools: %v", err), IsError: true}, nil
		}
		output += fmt.Sprintf("- **%s**: %s\n", t.Name, t.Description)
		count++
	}
	if count == 0 {
		output += "(no tools returned)\n"
	}
	return &ToolResult{Output: output}, nil
}

// callMCPTool invokes a tool on an MCP server and renders its content
// blocks (text content verbatim, anything else as indented JSON).
func callMCPTool(ctx context.Context, serverName, toolName string, args map[string]interface{}) (*ToolResult, error) {
	server, err := getMCPServerConfig(serverName)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}
	session, err := ensureSession(ctx, server)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := session.CallTool(ctx, &mcppkg.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return &ToolResult{Output: fmt.Sprintf("MCP tool call failed: %v", err), IsError: true}, nil
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := c.(*mcppkg.TextContent); ok {
			sb.WriteString(text.Text)
			sb.WriteString("\n")
			continue
		}
		if b, err := json.MarshalIndent(c, "", "  "); err == nil {
			sb.Write(b)
			sb.WriteString("\n")
		}
	}
	return &ToolResult{Output: strings.TrimSpace(sb.String()), IsError: res.IsError}, nil
}

// getMCPResource reads one resource by URI from an MCP server.
func getMCPResource(ctx context.Context, serverName, resourceURI string) (*ToolResult, error) {
	server, err := getMCPServerConfig(serverName)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}
	session, err := ensureSession(ctx, server)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}

	res, err := session.ReadResource(ctx, &mcppkg.ReadResourceParams{URI: resourceURI})
	if err != nil {
		return &ToolResult{Output: fmt.Sprintf("failed to read resource %s: %v", resourceURI, err), IsError: true}, nil
	}

	var sb strings.Builder
	for _, c := range res.Contents {
		if c.Text != "" {
			sb.WriteString(c.Text)
			sb.WriteString("\n")
		} else if len(c.Blob) > 0 {
			sb.WriteString(fmt.Sprintf("(binary resource, %d bytes, mime=%s)\n", len(c.Blob), c.MIMEType))
		}
	}
	return &ToolResult{Output: strings.TrimSpace(sb.String())}, nil
}

// listMCPResources lists every resource an MCP server advertises, paging
// through the SDK's auto-paginating iterator until exhausted.
func listMCPResources(ctx context.Context, serverName string) (*ToolResult, error) {
	server, err := getMCPServerConfig(serverName)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}
	session, err := ensureSession(ctx, server)
	if err != nil {
		return &ToolResult{Output: err.Error(), IsError: true}, nil
	}

	output := fmt.Sprintf("# Resources from MCP Server: %s\n\n", server.Name)
	count := 0
	for r, err := range session.Resources(ctx, nil) {
		if err != nil {
			return &ToolResult{Output: fmt.Sprintf("error listing resources: %v", err), IsError: true}, nil
		}
		output += fmt.Sprintf("- **%s** (%s): %s\n", r.Name, r.URI, r.Description)
		count++
	}
	if count == 0 {
		output += "(no resources returned)\n"
	}
	return &ToolResult{Output: output}, nil
}
