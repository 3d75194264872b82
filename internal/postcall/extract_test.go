package postcall

import (
	"context"
	"testing"

	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	llmmock "github.com/agewell-labs/donna/pkg/provider/llm/mock"
)

func rememberedRecords(f *fixtures) []memory.Record {
	var recs []memory.Record
	for _, c := range f.store.Calls() {
		if c.Method == "Remember" {
			recs = append(recs, c.Args[0].(memory.Record))
		}
	}
	return recs
}

func TestExtractWritesThroughManager(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	o := f.orchestrator()

	if err := o.extract(context.Background(), "senior-1", "CA100", endedSession().Transcript()); err != nil {
		t.Fatalf("extract() error = %v", err)
	}

	recs := rememberedRecords(f)
	if len(recs) != 2 {
		t.Fatalf("remembered %d records, want 2", len(recs))
	}
	first := recs[0]
	if first.Type != memory.MemoryEvent {
		t.Errorf("Type = %q, want event", first.Type)
	}
	if first.Content != "Planted tomatoes in the garden this week" {
		t.Errorf("Content = %q", first.Content)
	}
	if first.Importance != 40 {
		t.Errorf("Importance = %v, want 40", first.Importance)
	}
	if first.SeniorID != "senior-1" || first.SourceCallID != "CA100" {
		t.Errorf("SeniorID/SourceCallID = %q/%q", first.SeniorID, first.SourceCallID)
	}
	if recs[1].Type != memory.MemoryConcern || recs[1].Importance != 85 {
		t.Errorf("second record = %q/%v, want concern/85", recs[1].Type, recs[1].Importance)
	}

	embeds := f.embedder.Calls()
	if got := len(embeds); got != 2 {
		t.Fatalf("embedded %d texts, want 2", got)
	}
	if embeds[0].Text != first.Content {
		t.Errorf("embedded %q, want the memory content", embeds[0].Text)
	}
}

func TestExtractCoercesUnknownType(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.provider = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"memories": [{"type": "observation", "content": "Prefers tea over coffee", "importance": 30}]}`,
	}}

	if err := f.orchestrator().extract(context.Background(), "senior-1", "CA100", endedSession().Transcript()); err != nil {
		t.Fatalf("extract() error = %v", err)
	}

	recs := rememberedRecords(f)
	if len(recs) != 1 {
		t.Fatalf("remembered %d records, want 1", len(recs))
	}
	if recs[0].Type != memory.MemoryFact {
		t.Errorf("Type = %q, want the unknown label coerced to fact", recs[0].Type)
	}
}

func TestExtractSkipsEmptyTranscript(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	if err := f.orchestrator().extract(context.Background(), "senior-1", "CA100", nil); err != nil {
		t.Fatalf("extract() error = %v", err)
	}
	if got := len(f.provider.CompleteCalls); got != 0 {
		t.Errorf("model completions = %d, want 0 for a silent call", got)
	}
}

func TestExtractEmptyListIsValid(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.provider = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"memories": []}`,
	}}

	if err := f.orchestrator().extract(context.Background(), "senior-1", "CA100", endedSession().Transcript()); err != nil {
		t.Fatalf("extract() error = %v", err)
	}
	if n := f.store.CallCount("Remember"); n != 0 {
		t.Errorf("Remember calls = %d, want 0", n)
	}
}

func TestParseMemoriesRepairsTruncatedReply(t *testing.T) {
	t.Parallel()

	raw := `{"memories": [{"type": "event", "content": "Planted tomatoes", "importance": 40}, {"type": "concern", "content": "Felt diz`
	items, err := parseMemories(raw)
	if err != nil {
		t.Fatalf("parseMemories() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("parsed %d items, want 2", len(items))
	}
	if items[1].Content != "Felt diz" {
		t.Errorf("second content = %q, want the salvaged prefix", items[1].Content)
	}
	if items[1].Importance != 0 {
		t.Errorf("second importance = %v, want the missing field's zero", items[1].Importance)
	}
}

func TestParseMemoriesDropsBlankContent(t *testing.T) {
	t.Parallel()

	raw := `{"memories": [{"type": "fact", "content": "  ", "importance": 10}, {"type": "fact", "content": "Lives alone", "importance": 60}]}`
	items, err := parseMemories(raw)
	if err != nil {
		t.Fatalf("parseMemories() error = %v", err)
	}
	if len(items) != 1 || items[0].Content != "Lives alone" {
		t.Errorf("items = %v, want only the non-blank entry", items)
	}
}

func TestParseMemoriesGarbage(t *testing.T) {
	t.Parallel()

	if _, err := parseMemories("No durable memories here."); err == nil {
		t.Error("parseMemories() accepted a reply with no object in it")
	}
}
