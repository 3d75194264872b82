package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/agewell-labs/donna/pkg/types"
)

// Builtin is a tool implemented as a Go function that runs in-process.
//
// Builtins bypass MCP protocol overhead: Execute calls the Handler directly
// with no subprocess or network round-trip. They are otherwise identical to
// external tools and share the same per-tool timeout handling.
type Builtin struct {
	// Definition is the tool's model-facing schema.
	Definition types.ToolDefinition

	// Handler executes the tool. args is a JSON object string (e.g. "{}" or
	// `{"key":"value"}`). Implementations must be safe for concurrent use
	// and must respect context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// RegisterBuiltin adds an in-process tool to the host catalogue, replacing
// any tool with the same name. Use this for tools shared by every call;
// per-call tools belong in [Host.Bind] instead.
func (h *Host) RegisterBuiltin(tool Builtin) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tool host: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool host: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:        tool.Definition,
		serverName: builtinServerName,
		timeout:    timeoutFor(tool.Definition),
		builtinFn:  tool.Handler,
	}
	return nil
}

// Bound is a per-call view of a [Host]: the shared catalogue extended with
// builtins bound to one call (typically [RecallMemory] closed over the
// senior's id). Extras shadow same-named host tools.
type Bound struct {
	host   *Host
	extras map[string]Builtin
}

// Bind returns a per-call tool executor layering extras over the host
// catalogue. The returned Bound is read-only and safe for concurrent use.
func (h *Host) Bind(extras ...Builtin) *Bound {
	m := make(map[string]Builtin, len(extras))
	for _, b := range extras {
		if b.Definition.Name == "" || b.Handler == nil {
			continue
		}
		m[b.Definition.Name] = b
	}
	return &Bound{host: h, extras: m}
}

// Definitions lists the host catalogue plus the per-call extras, sorted by
// name. Extras replace same-named host tools.
func (b *Bound) Definitions() []types.ToolDefinition {
	defs := b.host.Definitions()

	out := defs[:0]
	for _, d := range defs {
		if _, shadowed := b.extras[d.Name]; !shadowed {
			out = append(out, d)
		}
	}
	for _, e := range b.extras {
		out = append(out, e.Definition)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a per-call extra if one matches the name, otherwise delegates
// to the host. Extras get the same timeout treatment as host tools.
func (b *Bound) Execute(ctx context.Context, name, args string) (string, error) {
	if extra, ok := b.extras[name]; ok {
		ctx, cancel := context.WithTimeout(ctx, timeoutFor(extra.Definition))
		defer cancel()
		return extra.Handler(ctx, args)
	}
	return b.host.Execute(ctx, name, args)
}
