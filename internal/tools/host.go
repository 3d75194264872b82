package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agewell-labs/donna/pkg/types"
)

// defaultTimeout bounds tool execution when the definition declares no
// MaxDurationMs. A stalled tool is an audible silence on the call, so the
// default is short.
const defaultTimeout = 5 * time.Second

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// toolEntry holds the metadata for a single registered tool.
type toolEntry struct {
	def        types.ToolDefinition
	serverName string
	timeout    time.Duration

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host manages the tool catalogue: in-process builtins plus the tools
// imported from external MCP servers. All methods are safe for concurrent
// use; one Host serves every active call.
//
// The zero value is not usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections; the official SDK
	// allows a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// New creates and returns a ready-to-use Host with an empty catalogue.
func New() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "donna-tools", Version: "1.0.0"},
		nil,
	)
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer connects to the MCP server described by spec and imports
// its tool catalogue. If a server with the same Name is already registered,
// the old connection is closed and its tools replaced.
//
// For [TransportStdio]: spec.Command is split on spaces into executable and
// arguments; spec.Env is appended to the subprocess environment.
//
// For [TransportStreamableHTTP]: spec.URL is the endpoint address.
func (h *Host) RegisterServer(ctx context.Context, spec ServerSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool host: server spec must have a non-empty name")
	}
	if !spec.Transport.IsValid() {
		return fmt.Errorf("tool host: unknown transport %q for server %q", spec.Transport, spec.Name)
	}

	var transport mcpsdk.Transport

	switch spec.Transport {
	case TransportStdio:
		executable, args := splitCommand(spec.Command)
		if executable == "" {
			return fmt.Errorf("tool host: stdio server %q requires a non-empty Command", spec.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if spec.URL == "" {
			return fmt.Errorf("tool host: streamable-http server %q requires a non-empty URL", spec.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: spec.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tool host: failed to connect to server %q: %w", spec.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tool host: failed to list tools for server %q: %w", spec.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Close the previous connection and drop its tools.
	if old, ok := h.servers[spec.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == spec.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[spec.Name] = serverConn{session: session}

	for _, t := range discovered {
		def := types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		}
		h.tools[t.Name] = toolEntry{
			def:        def,
			serverName: spec.Name,
			timeout:    timeoutFor(def),
		}
	}

	return nil
}

// Definitions returns all registered tool definitions sorted by name, so a
// given catalogue always renders identically in the model prompt.
func (h *Host) Definitions() []types.ToolDefinition {
	h.mu.RLock()
	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool with JSON-encoded args and returns its result.
// Execution is bounded by the tool's MaxDurationMs (or [defaultTimeout]).
//
// Tool-reported application errors come back as content so the model can see
// and react to them; a Go error means the tool could not be run at all.
func (h *Host) Execute(ctx context.Context, name, args string) (string, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool host: tool %q not found", name)
	}

	ctx, cancel := context.WithTimeout(ctx, entry.timeout)
	defer cancel()

	if entry.builtinFn != nil {
		return entry.builtinFn(ctx, args)
	}
	return h.executeRemote(ctx, entry, args)
}

// executeRemote routes the call to the owning server session.
func (h *Host) executeRemote(ctx context.Context, entry toolEntry, args string) (string, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool host: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("tool host: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("tool host: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if result.IsError && sb.Len() == 0 {
		return "", fmt.Errorf("tool host: tool %q reported an error with no detail", entry.def.Name)
	}
	return sb.String(), nil
}

// Close shuts down all server connections and clears the catalogue. The Host
// must not be used after Close returns.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tool host: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)

	return firstErr
}

// timeoutFor derives the execution timeout from a definition's declared
// upper bound, falling back to [defaultTimeout].
func timeoutFor(def types.ToolDefinition) time.Duration {
	if def.MaxDurationMs > 0 {
		return time.Duration(def.MaxDurationMs) * time.Millisecond
	}
	return defaultTimeout
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
