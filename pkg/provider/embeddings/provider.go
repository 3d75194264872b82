// Package embeddings turns text into vectors for the memory layer. What
// a caller says gets embedded and stored; later calls embed their own
// context and search against it. Semantic recall, write-time
// deduplication and similarity ranking all run on these vectors.
//
// OpenAI's text-embedding-3-small is the primary backend, with Ollama
// for self-hosted deployments and a deterministic mock for tests.
package embeddings

import "context"

// Provider is a text-embedding backend. Implementations are safe for
// concurrent use.
//
// Every vector a Provider returns has the same length, reported by
// Dimensions. Vectors only ever live in the space of the model that made
// them; comparing vectors from different models produces garbage
// similarities, so a deployment keeps one model for the life of its
// stored memories.
type Provider interface {
	// Embed returns the vector for one text, of length Dimensions().
	// Text goes to the backend verbatim; any prompt prefix a model
	// wants is the caller's business.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one backend call, which is
	// much cheaper than a loop over Embed. The result lines up
	// index-for-index with texts. It is all or nothing: any failure
	// returns a nil slice and the error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every vector this provider produces,
	// fixed by the underlying model.
	Dimensions() int

	// ModelID names the embedding model, e.g. "text-embedding-3-small".
	// It belongs in logs wherever vectors are written, so a deployment
	// that switched models can be diagnosed.
	ModelID() string
}
