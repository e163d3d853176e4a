package provider

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openAICompatible lists the provider families served through the OpenAI
// wire protocol. Alternative vendors expose compatible endpoints and differ
// only in base URL and credentials.
var openAICompatible = map[string]bool{
	FamilyOpenAI:      true,
	FamilyAzureOpenAI: true,
	FamilyDeepSeek:    true,
	FamilySilicon:     true,
	FamilyYi:          true,
	FamilyDouyin:      true,
	FamilySpark:       true,
}

// OpenAIAdapter builds clients for OpenAI and OpenAI-compatible vendors.
type OpenAIAdapter struct{}

// NewOpenAIAdapter returns the adapter for OpenAI-compatible families.
func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Claims(cfg ModelConfig) bool {
	return openAICompatible[cfg.Provider]
}

func (a *OpenAIAdapter) Validate(cfg ModelConfig) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("provider %s model %s: %w", cfg.Provider, cfg.Model, ErrMissingAPIKey)
	}
	if cfg.Provider == FamilyAzureOpenAI && cfg.Endpoint == "" {
		return fmt.Errorf("provider %s model %s: endpoint is required", cfg.Provider, cfg.Model)
	}
	return nil
}

func (a *OpenAIAdapter) newClient(cfg ModelConfig) *openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	switch {
	case cfg.Provider == FamilyAzureOpenAI:
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	case cfg.BaseURL != "":
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &client
}

// modelName resolves the wire-level model identifier. Azure routes by
// deployment name rather than model name.
func (a *OpenAIAdapter) modelName(cfg ModelConfig) string {
	if cfg.Provider == FamilyAzureOpenAI && cfg.AzureDeployment != "" {
		return cfg.AzureDeployment
	}
	return cfg.Model
}

func (a *OpenAIAdapter) BuildStreamingChat(cfg ModelConfig) (StreamingChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	return &openAIChat{client: a.newClient(cfg), cfg: cfg, model: a.modelName(cfg)}, nil
}

func (a *OpenAIAdapter) BuildChat(cfg ModelConfig) (ChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	return &openAIChat{client: a.newClient(cfg), cfg: cfg, model: a.modelName(cfg)}, nil
}

func (a *OpenAIAdapter) BuildEmbedding(cfg ModelConfig) (EmbeddingClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeEmbedding {
		return nil, nil
	}
	return &openAIEmbedding{client: a.newClient(cfg), cfg: cfg, model: a.modelName(cfg)}, nil
}

func (a *OpenAIAdapter) BuildImage(cfg ModelConfig) (ImageClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeImage {
		return nil, nil
	}
	return &openAIImage{client: a.newClient(cfg), cfg: cfg, model: a.modelName(cfg)}, nil
}

// openAIChat serves both the blocking and the streaming chat capability
// from one vendor binding.
type openAIChat struct {
	client *openai.Client
	cfg    ModelConfig
	model  string
}

func (c *openAIChat) params(messages []Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			converted = append(converted, openai.SystemMessage(m.Text))
		case RoleAssistant:
			converted = append(converted, openai.AssistantMessage(m.Text))
		default:
			converted = append(converted, openai.UserMessage(m.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: converted,
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	if c.cfg.TopP > 0 {
		params.TopP = openai.Float(c.cfg.TopP)
	}
	if c.cfg.ResponseLimit > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.ResponseLimit))
	}
	return params
}

func (c *openAIChat) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: empty choices")
	}

	return &ChatResult{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (c *openAIChat) StreamChat(ctx context.Context, messages []Message, onPartial PartialFunc) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages))
	defer stream.Close()

	var acc openai.ChatCompletionAccumulator
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := onPartial(delta); err != nil {
				return nil, fmt.Errorf("openai stream aborted: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}

	result := &ChatResult{
		Usage: Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}
	if len(acc.Choices) > 0 {
		result.Text = acc.Choices[0].Message.Content
		result.FinishReason = string(acc.Choices[0].FinishReason)
	}
	return result, nil
}

type openAIEmbedding struct {
	client *openai.Client
	cfg    ModelConfig
	model  string
}

func (c *openAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: c.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if c.cfg.Dimension > 0 {
		params.Dimensions = openai.Int(int64(c.cfg.Dimension))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (c *openAIEmbedding) Dimension() int { return c.cfg.Dimension }

type openAIImage struct {
	client *openai.Client
	cfg    ModelConfig
	model  string
}

func (c *openAIImage) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  c.model,
		N:      openai.Int(1),
	}
	if c.cfg.ImageSize != "" {
		params.Size = openai.ImageGenerateParamsSize(c.cfg.ImageSize)
	}
	if c.cfg.ImageQuality != "" {
		params.Quality = openai.ImageGenerateParamsQuality(c.cfg.ImageQuality)
	}
	if c.cfg.ImageStyle != "" {
		params.Style = openai.ImageGenerateParamsStyle(c.cfg.ImageStyle)
	}

	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai image generation: empty response")
	}
	return &ImageResult{URL: resp.Data[0].URL, B64: resp.Data[0].B64JSON}, nil
}
