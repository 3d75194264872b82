package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agewell-labs/donna/pkg/types"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// echoTool returns a Builtin that echoes its args back as the result.
func echoTool(name string) Builtin {
	return Builtin{
		Definition: types.ToolDefinition{Name: name, Description: "echoes args"},
		Handler: func(_ context.Context, args string) (string, error) {
			return args, nil
		},
	}
}

// failTool returns a Builtin that always returns an error.
func failTool(name string) Builtin {
	return Builtin{
		Definition: types.ToolDefinition{Name: name},
		Handler: func(_ context.Context, _ string) (string, error) {
			return "", fmt.Errorf("always fails")
		},
	}
}

// slowTool returns a Builtin that waits for delay unless cancelled first.
// maxMs becomes the tool's declared execution bound.
func slowTool(name string, delay time.Duration, maxMs int) Builtin {
	return Builtin{
		Definition: types.ToolDefinition{Name: name, MaxDurationMs: maxMs},
		Handler: func(ctx context.Context, _ string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
				return "ok", nil
			}
		},
	}
}

// toolNamed returns the first ToolDefinition with the given name, or nil.
func toolNamed(defs []types.ToolDefinition, name string) *types.ToolDefinition {
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i]
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestRegisterBuiltin(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool("greet")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	if toolNamed(h.Definitions(), "greet") == nil {
		t.Errorf("tool %q not found in Definitions", "greet")
	}
}

func TestRegisterBuiltinValidation(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(Builtin{Handler: func(context.Context, string) (string, error) { return "", nil }}); err == nil {
		t.Error("expected error for builtin with empty name")
	}
	if err := h.RegisterBuiltin(Builtin{Definition: types.ToolDefinition{Name: "broken"}}); err == nil {
		t.Error("expected error for builtin with nil handler")
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := h.RegisterBuiltin(echoTool(name)); err != nil {
			t.Fatalf("RegisterBuiltin(%q): %v", name, err)
		}
	}

	defs := h.Definitions()
	if len(defs) != 3 {
		t.Fatalf("Definitions returned %d tools, want 3", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name > defs[i].Name {
			t.Errorf("Definitions not sorted: %q before %q", defs[i-1].Name, defs[i].Name)
		}
	}
}

func TestExecuteBuiltin(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool("echo")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	got, err := h.Execute(context.Background(), "echo", `{"x":1}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != `{"x":1}` {
		t.Errorf("Execute = %q, want %q", got, `{"x":1}`)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if _, err := h.Execute(context.Background(), "nope", "{}"); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestExecuteBuiltinError(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(failTool("boom")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	if _, err := h.Execute(context.Background(), "boom", "{}"); err == nil {
		t.Error("expected handler error to propagate")
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	// Declared bound of 50ms, handler wants 5s: the deadline must win.
	if err := h.RegisterBuiltin(slowTool("slow", 5*time.Second, 50)); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	start := time.Now()
	_, err := h.Execute(context.Background(), "slow", "{}")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execute took %v, expected the 50ms bound to cancel it", elapsed)
	}
}

func TestRegisterServerValidation(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	ctx := context.Background()

	tests := []struct {
		name string
		spec ServerSpec
		want string
	}{
		{
			name: "empty name",
			spec: ServerSpec{Transport: TransportStdio, Command: "/bin/true"},
			want: "non-empty name",
		},
		{
			name: "unknown transport",
			spec: ServerSpec{Name: "x", Transport: "carrier-pigeon"},
			want: "unknown transport",
		},
		{
			name: "stdio without command",
			spec: ServerSpec{Name: "x", Transport: TransportStdio},
			want: "non-empty Command",
		},
		{
			name: "http without url",
			spec: ServerSpec{Name: "x", Transport: TransportStreamableHTTP},
			want: "non-empty URL",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := h.RegisterServer(ctx, tc.spec)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestTransportIsValid(t *testing.T) {
	t.Parallel()

	if !TransportStdio.IsValid() || !TransportStreamableHTTP.IsValid() {
		t.Error("known transports must be valid")
	}
	if Transport("smoke-signal").IsValid() {
		t.Error("unknown transport must be invalid")
	}
}

func TestBindExtrasVisibleAndShadowing(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool("shared")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	override := Builtin{
		Definition: types.ToolDefinition{Name: "shared", Description: "per-call override"},
		Handler: func(context.Context, string) (string, error) {
			return "override", nil
		},
	}
	b := h.Bind(override, echoTool("extra"))

	defs := b.Definitions()
	if len(defs) != 2 {
		t.Fatalf("Definitions returned %d tools, want 2 (shadowing must dedup)", len(defs))
	}
	if d := toolNamed(defs, "shared"); d == nil || d.Description != "per-call override" {
		t.Errorf("expected extras to shadow the host definition, got %+v", d)
	}
	if toolNamed(defs, "extra") == nil {
		t.Error("per-call extra missing from Definitions")
	}

	got, err := b.Execute(context.Background(), "shared", "{}")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "override" {
		t.Errorf("Execute = %q, want the per-call override", got)
	}
}

func TestBindFallsThroughToHost(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool("hosted")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}

	b := h.Bind()
	got, err := b.Execute(context.Background(), "hosted", `{"ok":true}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("Execute = %q, want pass-through to the host tool", got)
	}
}

func TestCloseClearsCatalogue(t *testing.T) {
	t.Parallel()
	h := New()

	if err := h.RegisterBuiltin(echoTool("gone")); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(h.Definitions()); n != 0 {
		t.Errorf("Definitions after Close returned %d tools, want 0", n)
	}
}
