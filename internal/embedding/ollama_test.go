package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbedBatchSingleRequest(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request failed: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q, want nomic-embed-text", req.Model)
		}
		if len(req.Input) != 3 {
			t.Errorf("input length = %d, want 3", len(req.Input))
		}

		resp := embedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = []float32{0.1, 0.2}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(Config{OllamaEndpoint: srv.URL, OllamaModel: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}

	vectors, err := engine.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1 (native batch)", requests)
	}
	if engine.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d, want 2 after first response", engine.Dimensions())
	}
}

func TestOllamaEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1}}})
	}))
	defer srv.Close()

	engine, err := NewOllamaEngine(Config{OllamaEndpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}

	if _, err := engine.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected an error when the server returns fewer embeddings than texts")
	}
}

func TestOllamaDefaults(t *testing.T) {
	engine, err := NewOllamaEngine(Config{})
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}
	if engine.Name() != "ollama:embeddinggemma" {
		t.Errorf("Name() = %q, want ollama:embeddinggemma", engine.Name())
	}
}
