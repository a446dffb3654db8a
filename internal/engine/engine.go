// Package engine adapts a local Ollama server for chat, embeddings, and model pulls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"
)

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string
	Content string
	Images  [][]byte
}

// Options are the sampling parameters forwarded with a chat request.
type Options struct {
	ContextLen  int
	Temperature float64
	TopP        float64
	TopK        int
}

func (o Options) toMap() map[string]any {
	out := make(map[string]any, 4)
	if o.ContextLen > 0 {
		out["num_ctx"] = o.ContextLen
	}
	out["temperature"] = o.Temperature
	if o.TopP > 0 {
		out["top_p"] = o.TopP
	}
	if o.TopK > 0 {
		out["top_k"] = o.TopK
	}
	return out
}

// ChatRequest is one streamed completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
	Options  Options
}

// Ollama is a thin, concurrency-safe wrapper over the Ollama HTTP API.
type Ollama struct {
	client   *api.Client
	logger   *slog.Logger
	autoPull bool

	mu      sync.Mutex
	present map[string]bool
}

// NewOllama builds a client for the server at host (e.g. http://127.0.0.1:11434).
//
// With autoPull set, models missing on the server are pulled before first use.
func NewOllama(host string, autoPull bool, logger *slog.Logger) (*Ollama, error) {
	base, err := url.Parse(strings.TrimSpace(host))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q", host)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ollama{
		client:   api.NewClient(base, http.DefaultClient),
		logger:   logger,
		autoPull: autoPull,
		present:  make(map[string]bool),
	}, nil
}

// Chat streams a completion, calling onChunk for every non-empty content delta in
// arrival order. It returns when the server reports completion, ctx ends, or
// onChunk returns an error.
func (o *Ollama) Chat(ctx context.Context, req ChatRequest, onChunk func(string) error) error {
	if o.autoPull {
		if err := o.EnsureModel(ctx, req.Model); err != nil {
			return err
		}
	}

	stream := true
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := api.Message{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			msg.Images = append(msg.Images, api.ImageData(img))
		}
		messages = append(messages, msg)
	}

	request := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  req.Options.toMap(),
	}

	err := o.client.Chat(ctx, request, func(response api.ChatResponse) error {
		if response.Message.Content == "" {
			return nil
		}
		return onChunk(response.Message.Content)
	})
	if err != nil {
		return fmt.Errorf("ollama chat %s: %w", req.Model, err)
	}
	return nil
}

// Embed returns one embedding vector per input, in input order.
func (o *Ollama) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if o.autoPull {
		if err := o.EnsureModel(ctx, model); err != nil {
			return nil, err
		}
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("ollama embed %s: %w", model, err)
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama embed %s: got %d vectors for %d inputs", model, len(resp.Embeddings), len(inputs))
	}
	return resp.Embeddings, nil
}

// Heartbeat checks that the server is reachable.
func (o *Ollama) Heartbeat(ctx context.Context) error {
	return o.client.Heartbeat(ctx)
}

// Models lists the model names installed on the server.
func (o *Ollama) Models(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// EnsureModel pulls model unless the server already has it.
func (o *Ollama) EnsureModel(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return errors.New("model name is empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.present[model] {
		return nil
	}

	installed, err := o.Models(ctx)
	if err != nil {
		return err
	}
	for _, name := range installed {
		if sameModel(name, model) {
			o.present[model] = true
			return nil
		}
	}

	o.logger.Info("pulling model", "model", model)
	lastStatus := ""
	err = o.client.Pull(ctx, &api.PullRequest{Model: model}, func(p api.ProgressResponse) error {
		if p.Status != lastStatus {
			lastStatus = p.Status
			o.logger.Debug("pull progress", "model", model, "status", p.Status, "completed", p.Completed, "total", p.Total)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	o.present[model] = true
	return nil
}

// sameModel treats an untagged name as the :latest tag.
func sameModel(installed, wanted string) bool {
	withTag := func(name string) string {
		if strings.Contains(name[strings.LastIndex(name, "/")+1:], ":") {
			return name
		}
		return name + ":latest"
	}
	return withTag(installed) == withTag(wanted)
}
