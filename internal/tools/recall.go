package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/provider/embeddings"
	"github.com/agewell-labs/donna/pkg/types"
)

// defaultRecallTopK is the result limit when the model does not pass top_k.
const defaultRecallTopK = 5

// recallArgs is the JSON-decoded input for the "recall_memory" tool.
type recallArgs struct {
	// Query is a natural-language description of what to recall.
	Query string `json:"query"`

	// TopK caps the number of memories returned. Defaults to
	// defaultRecallTopK when ≤ 0.
	TopK int `json:"top_k,omitempty"`
}

// recalledMemory is the wire shape of one recalled memory.
type recalledMemory struct {
	ID             string    `json:"id"`
	SeniorID       string    `json:"seniorId"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	Importance     float64   `json:"importance"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	Similarity     float64   `json:"similarity"`
}

// RecallMemory returns the "recall_memory" builtin bound to one senior.
//
// The handler embeds the query, runs a semantic search over the senior's
// memories and returns the matches as a JSON array ordered by similarity
// descending. Register it per call via [Host.Bind] so the model can only
// ever reach the memories of the person on the line.
func RecallMemory(store memory.MemoryStore, embedder embeddings.Provider, seniorID string, minSimilarity float64) Builtin {
	return Builtin{
		Definition: types.ToolDefinition{
			Name: "recall_memory",
			Description: "Search your long-term memories about this person. " +
				"Use it when they reference something from a past conversation " +
				"you don't see in your context: a name, a place, an appointment, " +
				"a story they told you before.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to recall, in natural language (e.g. \"her grandson's name\").",
					},
					"top_k": map[string]any{
						"type":        "integer",
						"description": "Maximum number of memories to return (default 5).",
					},
				},
				"required": []string{"query"},
			},
			EstimatedDurationMs: 400,
			MaxDurationMs:       2000,
			Idempotent:          true,
		},
		Handler: makeRecallHandler(store, embedder, seniorID, minSimilarity),
	}
}

// makeRecallHandler returns the handler for the "recall_memory" tool.
func makeRecallHandler(store memory.MemoryStore, embedder embeddings.Provider, seniorID string, minSimilarity float64) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a recallArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("recall_memory: failed to parse arguments: %w", err)
		}
		if a.Query == "" {
			return "", fmt.Errorf("recall_memory: query must not be empty")
		}
		topK := a.TopK
		if topK <= 0 {
			topK = defaultRecallTopK
		}

		vec, err := embedder.Embed(ctx, a.Query)
		if err != nil {
			return "", fmt.Errorf("recall_memory: failed to embed query: %w", err)
		}

		results, err := store.Search(ctx, seniorID, vec, topK, minSimilarity)
		if err != nil {
			return "", fmt.Errorf("recall_memory: %w", err)
		}

		out := make([]recalledMemory, 0, len(results))
		for _, res := range results {
			out = append(out, recalledMemory{
				ID:             res.Record.ID,
				SeniorID:       res.Record.SeniorID,
				Type:           string(res.Record.Type),
				Content:        res.Record.Content,
				Importance:     res.Record.Importance,
				CreatedAt:      res.Record.CreatedAt,
				LastAccessedAt: res.Record.LastAccessedAt,
				Similarity:     res.Similarity,
			})
		}

		data, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("recall_memory: failed to encode result: %w", err)
		}
		return string(data), nil
	}
}
