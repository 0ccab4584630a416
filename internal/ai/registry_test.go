package ai

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct{}

func (stubProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	return &Completion{Content: "stub"}, nil
}

func TestRegistryNormalizesNames(t *testing.T) {
	r := NewRegistry()
	r.Register("  Ollama ", func(ctx context.Context, model string) (Provider, error) {
		return stubProvider{}, nil
	})

	if !r.Known("ollama") || !r.Known("OLLAMA") {
		t.Fatal("registered provider not known under normalized name")
	}
	if r.Known("openrouter") {
		t.Fatal("unregistered provider reported as known")
	}

	p, err := r.Get(context.Background(), "oLLaMa", "llama3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := p.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(context.Background(), "missing", "m"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("no endpoint configured")
	r.Register("broken", func(ctx context.Context, model string) (Provider, error) {
		return nil, boom
	})
	if _, err := r.Get(context.Background(), "broken", "m"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error passthrough, got %v", err)
	}
}
