package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/agewell-labs/donna/pkg/provider/embeddings"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factoryTable holds the registered constructors for one provider kind,
// keyed by provider name. The zero value is ready to use.
type factoryTable[P any] struct {
	mu     sync.RWMutex
	byName map[string]func(ProviderEntry) (P, error)
}

func (t *factoryTable[P]) register(name string, factory func(ProviderEntry) (P, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byName == nil {
		t.byName = make(map[string]func(ProviderEntry) (P, error))
	}
	t.byName[name] = factory
}

func (t *factoryTable[P]) create(kind string, entry ProviderEntry) (P, error) {
	t.mu.RLock()
	factory, ok := t.byName[entry.Name]
	t.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	llm        factoryTable[llm.Provider]
	stt        factoryTable[stt.Provider]
	tts        factoryTable[tts.Provider]
	embeddings factoryTable[embeddings.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry { return &Registry{} }

// RegisterLLM registers an LLM provider factory under name. Registering the
// same name twice overwrites the earlier factory.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create("llm", entry)
}

// CreateSTT instantiates an STT provider using the factory registered under
// entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create("stt", entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under
// entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create("tts", entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create("embeddings", entry)
}
