// Package ollama embeds text with a local Ollama server.
//
// Deployments that keep everything on-premise point the memory layer here
// instead of a hosted embeddings API. Ollama's native /api/embed endpoint
// serves models like nomic-embed-text and mxbai-embed-large; the vectors
// feed pgvector recall, write-time dedup, and context ranking exactly as
// the hosted providers do.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agewell-labs/donna/pkg/provider/embeddings"
)

// DefaultBaseURL is where an out-of-the-box Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// defaultTimeout bounds a single embed request. Local inference can stall
// badly when the model is cold; recall during a live call would rather fail
// fast than hold the turn.
const defaultTimeout = 30 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// Provider talks to one Ollama server with one embedding model.
//
// The vector dimension is resolved from, in order: the WithDimensions
// option, the built-in model table, or a one-off probe embed on the first
// Dimensions call. Safe for concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	dims      int
	probeOnce sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout overrides the per-request timeout. Zero or negative disables
// it entirely.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d <= 0 {
			p.client.Timeout = 0
			return
		}
		p.client.Timeout = d
	}
}

// WithDimensions pins the vector dimension, skipping both the model table
// and the probe request.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		p.dims = dims
	}
}

// New builds a Provider for the given server and model. An empty baseURL
// means [DefaultBaseURL]; the model name is required and may carry an
// Ollama tag ("nomic-embed-text:v1.5").
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims == 0 {
		p.dims = tableDims(model)
	}
	return p, nil
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for one text. The text goes through verbatim;
// models that want a "query: " style prefix rely on the caller adding it.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in a single request, preserving order. An
// empty input returns (nil, nil) without touching the network; any failure
// returns nil rather than partial results.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama: embed batch: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions returns the vector length this provider produces. For models
// missing from the built-in table it issues one probe embed against the
// live server and caches the answer; a failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.probeOnce.Do(func() {
		vecs, err := p.post(context.Background(), []string{"dimension probe"})
		if err != nil {
			return
		}
		p.dims = len(vecs[0])
	})
	return p.dims
}

// ModelID returns the model name given at construction.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(apiRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return result.Embeddings, nil
}

// dimsByModel maps base model names (tag stripped) to their output width.
var dimsByModel = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"bge-m3":                 1024,
	"snowflake-arctic-embed": 1024,
}

// tableDims resolves the dimension for a model name, tolerating Ollama
// tags and minor name variants. Unknown models return 0, which defers to
// the probe in Dimensions.
func tableDims(model string) int {
	base, _, _ := strings.Cut(strings.ToLower(model), ":")
	if d, ok := dimsByModel[base]; ok {
		return d
	}
	for name, d := range dimsByModel {
		if strings.Contains(base, name) {
			return d
		}
	}
	return 0
}
