package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agewell-labs/donna/pkg/provider/embeddings"
)

// Manager pairs a MemoryStore with an embedding provider so that callers
// deal in text. It owns embedding generation, input validation, and ID
// assignment; dedup and ranking stay in the store.
type Manager struct {
	store    MemoryStore
	embedder embeddings.Provider
}

// NewManager returns a Manager backed by the given store and embedder.
func NewManager(store MemoryStore, embedder embeddings.Provider) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// Remember embeds content and stores it as a memory for the senior.
// Importance is clamped to 0–100. Returns true when a new record was
// inserted, false when the write was folded into an existing duplicate.
func (m *Manager) Remember(ctx context.Context, seniorID string, typ MemoryType, content string, importance float64, sourceCallID string) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, fmt.Errorf("memory: remember: empty content")
	}
	if !typ.Valid() {
		return false, fmt.Errorf("memory: remember: unknown memory type %q", typ)
	}
	if importance < 0 {
		importance = 0
	} else if importance > 100 {
		importance = 100
	}

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return false, fmt.Errorf("memory: embed content: %w", err)
	}

	return m.store.Remember(ctx, Record{
		ID:           uuid.NewString(),
		SeniorID:     seniorID,
		Type:         typ,
		Content:      content,
		Embedding:    embedding,
		Importance:   importance,
		CreatedAt:    time.Now(),
		SourceCallID: sourceCallID,
	})
}

// Search embeds the query and returns the senior's closest memories with
// similarity of at least minSimilarity, most similar first, capped at topK.
func (m *Manager) Search(ctx context.Context, seniorID, query string, topK int, minSimilarity float64) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("memory: search: empty query")
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	return m.store.Search(ctx, seniorID, embedding, topK, minSimilarity)
}

// Critical returns the senior's must-know memories. See [MemoryStore.Critical].
func (m *Manager) Critical(ctx context.Context, seniorID string, limit int) ([]Record, error) {
	return m.store.Critical(ctx, seniorID, limit)
}

// Background returns the senior's general-context memories ranked by
// effective importance. See [MemoryStore.Background].
func (m *Manager) Background(ctx context.Context, seniorID string, minEffective float64, limit int) ([]Record, error) {
	return m.store.Background(ctx, seniorID, minEffective, limit)
}
