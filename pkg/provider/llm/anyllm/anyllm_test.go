package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/agewell-labs/donna/pkg/types"
)

func TestNewRejectsEmptyArguments(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New with empty provider: err = nil, want error")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("New with empty model: err = nil, want error")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("New(fakecloud) = nil error, want error")
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error should list supported backends, got %q", err)
	}
}

func TestNewBackendNameIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	p, err := New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New = %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", p.model)
	}
}

func TestNewWithoutCredentials(t *testing.T) {
	// Ollama is local and needs no key; OpenAI must refuse when neither an
	// option nor the environment provides one.
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New("ollama", "llama3"); err != nil {
		t.Errorf("New(ollama) = %v, want nil", err)
	}
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Error("New(openai) without key: err = nil, want error")
	}
}

func TestBackendNames(t *testing.T) {
	t.Parallel()

	names := BackendNames()
	if !slices.IsSorted(names) {
		t.Errorf("BackendNames() = %v, want sorted", names)
	}
	for _, want := range []string{"openai", "anthropic", "gemini", "ollama", "llamacpp"} {
		if !slices.Contains(names, want) {
			t.Errorf("BackendNames() missing %q", want)
		}
	}
}

func TestMessageParamCarriesFields(t *testing.T) {
	t.Parallel()

	got := messageParam(types.Message{
		Role:    "user",
		Content: "The choir sang beautifully on Sunday.",
		Name:    "margaret",
	})
	if got.Role != "user" {
		t.Errorf("Role = %q, want user", got.Role)
	}
	if got.ContentString() != "The choir sang beautifully on Sunday." {
		t.Errorf("Content = %q", got.ContentString())
	}
	if got.Name != "margaret" {
		t.Errorf("Name = %q, want margaret", got.Name)
	}
	if len(got.ToolCalls) != 0 {
		t.Errorf("len(ToolCalls) = %d, want 0", len(got.ToolCalls))
	}
}

func TestMessageParamToolCalls(t *testing.T) {
	t.Parallel()

	got := messageParam(types.Message{
		Role: "assistant",
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "recall_memory", Arguments: `{"query":"church choir"}`},
		},
	})
	if len(got.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("ToolCalls[0] = %+v", tc)
	}
	if tc.Function.Name != "recall_memory" {
		t.Errorf("Function.Name = %q, want recall_memory", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"query":"church choir"}` {
		t.Errorf("Function.Arguments = %q", tc.Function.Arguments)
	}
}

func TestMessageParamToolResponse(t *testing.T) {
	t.Parallel()

	got := messageParam(types.Message{
		Role:       "tool",
		Content:    "choir practice is Thursday",
		ToolCallID: "call_1",
	})
	if got.Role != "tool" {
		t.Errorf("Role = %q, want tool", got.Role)
	}
	if got.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want call_1", got.ToolCallID)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model  string
		window int
		maxOut int
		tools  bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"gpt-4o", 128_000, 16_384, true},
		{"gpt-4-turbo", 128_000, 4_096, true},
		{"gpt-4", 8_192, 4_096, true},
		{"gpt-3.5-turbo", 16_385, 4_096, true},
		{"o1-mini", 128_000, 65_536, false},
		{"o1", 200_000, 100_000, true},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true},
		{"anthropic/claude-3-5-sonnet", 200_000, 8_192, true},
		{"claude-3-haiku-20240307", 200_000, 8_192, true},
		{"claude-3-opus-20240229", 200_000, 4_096, true},
		{"claude-next-year-model", 200_000, 8_192, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true},
		{"gemini-1.5-flash", 1_048_576, 8_192, true},
		{"gemini-pro", 128_000, 8_192, true},
		{"GPT-4O", 128_000, 16_384, true},
		{"homegrown-model", 128_000, 4_096, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.MaxOutputTokens != tt.maxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOut)
			}
			if caps.SupportsToolCalling != tt.tools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.tools)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming = false, want true")
			}
		})
	}
}

func TestCountTokensApproximation(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}

	got, err := p.CountTokens(nil)
	if err != nil {
		t.Fatalf("CountTokens(nil) = %v", err)
	}
	if got != 0 {
		t.Errorf("CountTokens(nil) = %d, want 0", got)
	}

	got, err = p.CountTokens([]types.Message{
		{Role: "user", Content: "How are you feeling today, Margaret?"},
		{Role: "assistant", Content: "Oh, not too bad."},
	})
	if err != nil {
		t.Fatalf("CountTokens = %v", err)
	}
	// 36 chars -> 9 tokens, 16 chars -> 4 tokens, plus 4 overhead each.
	if want := 21; got != want {
		t.Errorf("CountTokens = %d, want %d", got, want)
	}
}

func TestCapabilitiesUsesConfiguredModel(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-3-5-sonnet-latest"}
	caps := p.Capabilities()
	if caps.ContextWindow != 200_000 {
		t.Errorf("ContextWindow = %d, want 200000", caps.ContextWindow)
	}
}
