package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaAdapter builds clients for a local or remote Ollama server.
// Ollama needs no credentials; only a base URL.
type OllamaAdapter struct{}

// NewOllamaAdapter returns the adapter for the ollama family.
func NewOllamaAdapter() *OllamaAdapter { return &OllamaAdapter{} }

func (a *OllamaAdapter) Name() string { return "ollama" }

func (a *OllamaAdapter) Claims(cfg ModelConfig) bool {
	return cfg.Provider == FamilyOllama
}

func (a *OllamaAdapter) Validate(cfg ModelConfig) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("ollama model %s: base URL is required", cfg.Model)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("ollama model %s: invalid base URL: %w", cfg.Model, err)
	}
	return nil
}

func (a *OllamaAdapter) newClient(cfg ModelConfig) (*api.Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base URL: %w", err)
	}
	// The generation deadline comes from the request context, not the
	// transport, so local models may take as long as they need to load.
	return api.NewClient(u, &http.Client{Timeout: 0}), nil
}

func (a *OllamaAdapter) BuildStreamingChat(cfg ModelConfig) (StreamingChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ollamaChat{client: client, cfg: cfg}, nil
}

func (a *OllamaAdapter) BuildChat(cfg ModelConfig) (ChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ollamaChat{client: client, cfg: cfg}, nil
}

func (a *OllamaAdapter) BuildEmbedding(cfg ModelConfig) (EmbeddingClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeEmbedding {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ollamaEmbedding{client: client, cfg: cfg}, nil
}

// BuildImage always returns (nil, nil): Ollama has no image generation API.
func (a *OllamaAdapter) BuildImage(cfg ModelConfig) (ImageClient, error) {
	return nil, nil
}

type ollamaChat struct {
	client *api.Client
	cfg    ModelConfig
}

func (c *ollamaChat) request(messages []Message, stream bool) *api.ChatRequest {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{
			Role:    string(m.Role),
			Content: m.Text,
		})
	}

	options := map[string]any{}
	if c.cfg.Temperature > 0 {
		options["temperature"] = c.cfg.Temperature
	}
	if c.cfg.TopP > 0 {
		options["top_p"] = c.cfg.TopP
	}
	if c.cfg.ResponseLimit > 0 {
		options["num_predict"] = c.cfg.ResponseLimit
	}

	return &api.ChatRequest{
		Model:    c.cfg.Model,
		Messages: apiMessages,
		Options:  options,
		Stream:   &stream,
	}
}

func (c *ollamaChat) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var result ChatResult
	var full strings.Builder
	err := c.client.Chat(ctx, c.request(messages, false), func(resp api.ChatResponse) error {
		full.WriteString(resp.Message.Content)
		if resp.Done {
			result.FinishReason = resp.DoneReason
			result.Usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	result.Text = full.String()
	return &result, nil
}

func (c *ollamaChat) StreamChat(ctx context.Context, messages []Message, onPartial PartialFunc) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var result ChatResult
	var full strings.Builder
	err := c.client.Chat(ctx, c.request(messages, true), func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			full.WriteString(resp.Message.Content)
			if perr := onPartial(resp.Message.Content); perr != nil {
				return perr
			}
		}
		if resp.Done {
			result.FinishReason = resp.DoneReason
			result.Usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat stream: %w", err)
	}

	result.Text = full.String()
	return &result, nil
}

type ollamaEmbedding struct {
	client *api.Client
	cfg    ModelConfig
}

func (c *ollamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{
		Model: c.cfg.Model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (c *ollamaEmbedding) Dimension() int { return c.cfg.Dimension }
