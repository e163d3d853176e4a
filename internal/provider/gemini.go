package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiAdapter builds clients for Google Gemini models, either through the
// Gemini API (API key) or Vertex AI (project + location).
type GeminiAdapter struct{}

// NewGeminiAdapter returns the adapter for the gemini family.
func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Claims(cfg ModelConfig) bool {
	return cfg.Provider == FamilyGemini
}

func (a *GeminiAdapter) Validate(cfg ModelConfig) error {
	if cfg.GeminiProject != "" {
		if cfg.GeminiLocation == "" {
			return fmt.Errorf("gemini model %s: vertex mode requires a location", cfg.Model)
		}
		return nil
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("gemini model %s: %w", cfg.Model, ErrMissingAPIKey)
	}
	return nil
}

func (a *GeminiAdapter) newClient(cfg ModelConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{}
	if cfg.GeminiProject != "" {
		cc.Project = cfg.GeminiProject
		cc.Location = cfg.GeminiLocation
		cc.Backend = genai.BackendVertexAI
	} else {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

func (a *GeminiAdapter) BuildStreamingChat(cfg ModelConfig) (StreamingChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &geminiChat{client: client, cfg: cfg}, nil
}

func (a *GeminiAdapter) BuildChat(cfg ModelConfig) (ChatClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeChat {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &geminiChat{client: client, cfg: cfg}, nil
}

func (a *GeminiAdapter) BuildEmbedding(cfg ModelConfig) (EmbeddingClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeEmbedding {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &geminiEmbedding{client: client, cfg: cfg}, nil
}

func (a *GeminiAdapter) BuildImage(cfg ModelConfig) (ImageClient, error) {
	if !a.Claims(cfg) || cfg.Type != TypeImage {
		return nil, nil
	}
	client, err := a.newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &geminiImage{client: client, cfg: cfg}, nil
}

type geminiChat struct {
	client *genai.Client
	cfg    ModelConfig
}

// convert maps neutral messages into genai contents. The system turn
// becomes the system instruction; assistant turns use the "model" role.
func (c *geminiChat) convert(messages []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system *genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = &genai.Content{Parts: []*genai.Part{{Text: m.Text}}}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Text}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Text}},
			})
		}
	}
	return contents, system
}

func (c *geminiChat) genConfig(system *genai.Content) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{SystemInstruction: system}
	if c.cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(c.cfg.Temperature))
	}
	if c.cfg.TopP > 0 {
		gc.TopP = genai.Ptr(float32(c.cfg.TopP))
	}
	if c.cfg.ResponseLimit > 0 {
		gc.MaxOutputTokens = int32(c.cfg.ResponseLimit)
	}
	return gc
}

func usageFromMetadata(md *genai.GenerateContentResponseUsageMetadata) Usage {
	if md == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CompletionTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
	}
}

func (c *geminiChat) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	contents, system := c.convert(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, c.genConfig(system))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	result := &ChatResult{Text: resp.Text(), Usage: usageFromMetadata(resp.UsageMetadata)}
	if len(resp.Candidates) > 0 {
		result.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	return result, nil
}

func (c *geminiChat) StreamChat(ctx context.Context, messages []Message, onPartial PartialFunc) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	contents, system := c.convert(messages)

	var full strings.Builder
	result := &ChatResult{}
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.cfg.Model, contents, c.genConfig(system)) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		if resp.UsageMetadata != nil {
			result.Usage = usageFromMetadata(resp.UsageMetadata)
		}
		for _, cand := range resp.Candidates {
			if cand.FinishReason != "" {
				result.FinishReason = strings.ToLower(string(cand.FinishReason))
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text == "" || part.Thought {
					continue
				}
				full.WriteString(part.Text)
				if perr := onPartial(part.Text); perr != nil {
					return nil, fmt.Errorf("gemini stream aborted: %w", perr)
				}
			}
		}
	}

	result.Text = full.String()
	return result, nil
}

type geminiEmbedding struct {
	client *genai.Client
	cfg    ModelConfig
}

func (c *geminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var ec *genai.EmbedContentConfig
	if c.cfg.Dimension > 0 {
		ec = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(c.cfg.Dimension))}
	}

	resp, err := c.client.Models.EmbedContent(ctx, c.cfg.Model, contents, ec)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (c *geminiEmbedding) Dimension() int { return c.cfg.Dimension }

type geminiImage struct {
	client *genai.Client
	cfg    ModelConfig
}

func (c *geminiImage) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	resp, err := c.client.Models.GenerateImages(ctx, c.cfg.Model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini image generation: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("gemini image generation: empty response")
	}

	img := resp.GeneratedImages[0].Image
	return &ImageResult{URL: img.GCSURI, B64: base64.StdEncoding.EncodeToString(img.ImageBytes)}, nil
}
