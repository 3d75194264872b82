package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agewell-labs/donna/internal/director"
	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/types"
)

const (
	extractTemp      = 0.2
	extractMaxTokens = 800
)

const extractSystemPrompt = `You extract long-term memories about a senior from one phone call transcript. Record only durable information about the senior: health changes, stated preferences, people in their life, upcoming or past events, and anything worrying. Reply with ONLY a JSON object, no prose, in exactly this shape:
{
  "memories": [
    {"type": "fact|preference|event|concern|relationship", "content": "one self-contained sentence", "importance": 50}
  ]
}
importance is 0-100; reserve 80+ for things a caregiver must know. An empty list is a valid answer. Never record things Donna said, small talk, or the reminders themselves.`

// memoryItem is one extracted memory in its wire shape.
type memoryItem struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// extract asks the model for the call's durable memories and writes them
// through the manager, whose store-level dedup folds repeats of things
// already known.
func (o *Orchestrator) extract(ctx context.Context, seniorID, callID string, transcript []types.TranscriptEntry) error {
	if len(transcript) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Complete(ctx, buildExtractRequest(transcript))
	if err != nil {
		return fmt.Errorf("extraction completion: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return fmt.Errorf("extraction completion: empty response")
	}
	items, err := parseMemories(resp.Content)
	if err != nil {
		return err
	}

	var lastErr error
	inserted := 0
	for _, it := range items {
		typ := memory.MemoryType(strings.ToLower(strings.TrimSpace(it.Type)))
		if !typ.Valid() {
			// The content is worth more than the label the model botched.
			typ = memory.MemoryFact
		}
		ok, err := o.memories.Remember(ctx, seniorID, typ, it.Content, it.Importance, callID)
		if err != nil {
			lastErr = err
			slog.Warn("extracted memory not stored", "call_sid", callID, "senior_id", seniorID, "err", err)
			continue
		}
		if ok {
			inserted++
		}
	}
	slog.Info("memories extracted",
		"call_sid", callID,
		"senior_id", seniorID,
		"candidates", len(items),
		"inserted", inserted,
	)
	return lastErr
}

func buildExtractRequest(transcript []types.TranscriptEntry) llm.CompletionRequest {
	var b strings.Builder
	b.WriteString("Transcript:\n")
	for _, turn := range transcript {
		speaker := "Donna"
		if turn.Role == "user" {
			speaker = "Senior"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}

	return llm.CompletionRequest{
		SystemPrompt: extractSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: b.String()}},
		Temperature:  extractTemp,
		MaxTokens:    extractMaxTokens,
	}
}

// parseMemories decodes the model reply, strict parse first, then once more
// after [director.Repair]. Items with empty content are dropped.
func parseMemories(raw string) ([]memoryItem, error) {
	var out struct {
		Memories []memoryItem `json:"memories"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if err := json.Unmarshal([]byte(director.Repair(raw)), &out); err != nil {
			return nil, fmt.Errorf("postcall: unparseable memories: %w", err)
		}
	}
	items := out.Memories[:0]
	for _, it := range out.Memories {
		if strings.TrimSpace(it.Content) == "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
