// Package tools hosts the tool surface offered to the conversation model:
// in-process builtins (memory recall) plus optional external MCP servers
// connected through the official Go SDK.
//
// One [Host] is shared across calls and owns the external server
// connections. Per-call tools, the builtins bound to a single senior, are
// layered on top with [Host.Bind]:
//
//	h := tools.New()
//	err := h.RegisterServer(ctx, tools.ServerSpec{
//	    Name:      "pharmacy",
//	    Transport: tools.TransportStdio,
//	    Command:   "/usr/local/bin/pharmacy-mcp",
//	})
//
//	// Per call:
//	exec := h.Bind(tools.RecallMemory(store, embedder, seniorID, 0.65))
//	defs := exec.Definitions()
//	result, err := exec.Execute(ctx, "recall_memory", `{"query":"grandson"}`)
package tools

// Transport selects the connection mechanism for an external MCP tool server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerSpec describes an external MCP server to connect to.
type ServerSpec struct {
	// Name identifies the server within the host. Must be non-empty; a
	// re-registered name replaces the previous connection.
	Name string

	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the subprocess command line for stdio servers, split on
	// spaces into executable and arguments.
	Command string

	// URL is the endpoint address for streamable-http servers.
	URL string

	// Env holds additional environment variables for stdio subprocesses.
	Env map[string]string
}
