package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

func TestGenerateJSONRequestsJSONFormat(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  {\"intent\":\"semantic\"}  "}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3.2", "nomic-embed-text", time.Second))
	out, err := gen.GenerateJSON(context.Background(), "route this")
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if out != `{"intent":"semantic"}` {
		t.Fatalf("unexpected response %q", out)
	}
	if payload["format"] != "json" || payload["stream"] != false || payload["model"] != "llama3.2" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", time.Second))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("502 must be reported as unavailable, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected HTTPStatusError, got %T", err)
	}
}

func TestEmbedClientErrorIsNotUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model \"nope\" not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "nope", time.Second)).Embed(context.Background(), []string{"hello"})
	if err == nil || domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("404 must not be retried as an outage, got %v", err)
	}
}

func TestEmbedRejectsShortBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "embed", time.Second)).Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatalf("expected a vector count error")
	}
}

func TestStreamChatReadsChunksUntilDone(t *testing.T) {
	var payload struct {
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Try "},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"the chili."},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3.2", "embed", time.Second))
	stream, err := gen.StreamChat(context.Background(), []domain.ConversationTurn{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "dinner?"},
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	defer stream.Close()

	var got strings.Builder
	for {
		chunk, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got.WriteString(chunk)
	}
	if got.String() != "Try the chili." {
		t.Fatalf("unexpected text %q", got.String())
	}
	if !payload.Stream || len(payload.Messages) != 2 || payload.Messages[1].Content != "dinner?" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestStreamChatTruncatedStreamIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"partial"},"done":false}`+"\n")
	}))
	defer server.Close()

	stream, err := NewGenerator(New(server.URL, "m", "e", time.Second)).StreamChat(context.Background(), []domain.ConversationTurn{{Role: domain.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if chunk, err := stream.Next(context.Background()); err != nil || chunk != "partial" {
		t.Fatalf("unexpected first chunk %q, %v", chunk, err)
	}
	if _, err := stream.Next(context.Background()); !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected an interrupted stream error, got %v", err)
	}
}

func TestStreamChatErrorLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"model crashed"}`+"\n")
	}))
	defer server.Close()

	stream, err := NewGenerator(New(server.URL, "m", "e", time.Second)).StreamChat(context.Background(), []domain.ConversationTurn{{Role: domain.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	_, err = stream.Next(context.Background())
	if err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Fatalf("expected the upstream error, got %v", err)
	}
}

func TestStreamChatOpenFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewGenerator(New(server.URL, "m", "e", time.Second)).StreamChat(context.Background(), []domain.ConversationTurn{{Role: domain.RoleUser, Content: "hi"}})
	if !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestStreamChatObservesCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"first"},"done":false}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewGenerator(New(server.URL, "m", "e", time.Second)).StreamChat(ctx, []domain.ConversationTurn{{Role: domain.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if chunk, err := stream.Next(ctx); err != nil || chunk != "first" {
		t.Fatalf("unexpected first chunk %q, %v", chunk, err)
	}

	cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
