// Package provider turns persisted model configuration into live,
// capability-typed client bindings.
//
// A ModelConfig row declares a provider family (openai, gemini, ollama, ...)
// and a model type (chat, embedding, image). Adapters claim the families
// they understand and construct vendor-bound clients for the capabilities
// the config declares. The Registry holds the constructed clients, one map
// per capability, and republishes them wholesale on every rebuild.
package provider

import (
	"context"
	"errors"
	"time"
)

// Model types as stored in configuration rows. A chat config yields both a
// streaming and a blocking client; embedding and image configs yield one
// client each.
const (
	TypeChat      = "chat"
	TypeEmbedding = "embedding"
	TypeImage     = "image"
)

// Provider families recognized by the shipped adapters.
// OpenAI-compatible families share one adapter.
const (
	FamilyOpenAI      = "openai"
	FamilyAzureOpenAI = "azure_openai"
	FamilyDeepSeek    = "deepseek"
	FamilySilicon     = "silicon"
	FamilyYi          = "yi"
	FamilyDouyin      = "douyin"
	FamilySpark       = "spark"
	FamilyGemini      = "gemini"
	FamilyOllama      = "ollama"
)

// RequestTimeout bounds a single provider call. Generous to accommodate
// long generations; providers are never retried by the gateway.
const RequestTimeout = 10 * time.Minute

// Sentinel errors for registry and adapter operations.
var (
	// ErrModelNotFound indicates no client is registered for the model ID
	// and capability.
	ErrModelNotFound = errors.New("model not found")

	// ErrMissingAPIKey indicates a config row lacks the credential its
	// provider family requires.
	ErrMissingAPIKey = errors.New("missing API key")
)

// ModelConfig is one persisted model row. Created and mutated by the
// configuration CRUD surface; the registry only reads it.
type ModelConfig struct {
	ID       string
	Type     string // chat | embedding | image
	Provider string // provider family, see Family* constants
	Model    string // vendor model name, e.g. "gpt-4o"
	Name     string // operator-facing display name

	APIKey    string
	SecretKey string
	BaseURL   string
	Endpoint  string

	// Generation parameters
	Temperature   float64
	TopP          float64
	ResponseLimit int

	// Embedding parameters
	Dimension int

	// Vendor-specific fields
	AzureDeployment string
	GeminiProject   string
	GeminiLocation  string
	ImageSize       string
	ImageQuality    string
	ImageStyle      string
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation, vendor-neutral.
type Message struct {
	Role Role
	Text string
}

// Usage carries token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatResult is the outcome of a completed generation, streaming or not.
type ChatResult struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// PartialFunc receives one partial token of a streaming generation.
// Returning an error aborts the stream.
type PartialFunc func(token string) error

// ChatClient generates a full response in one blocking call.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message) (*ChatResult, error)
}

// StreamingChatClient generates token by token, pushing each partial into
// onPartial in generation order before returning the final result.
type StreamingChatClient interface {
	StreamChat(ctx context.Context, messages []Message, onPartial PartialFunc) (*ChatResult, error)
}

// EmbeddingClient embeds a batch of texts in one provider call.
// The returned vectors are index-aligned with the input.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ImageResult is a generated image, referenced by URL or inline data.
type ImageResult struct {
	URL string `json:"url"`
	B64 string `json:"b64,omitempty"`
}

// ImageClient generates an image from a text prompt.
type ImageClient interface {
	GenerateImage(ctx context.Context, prompt string) (*ImageResult, error)
}

// Adapter builds clients for the provider families it claims.
//
// Build methods return (nil, nil) for configs the adapter does not claim or
// for capabilities the config does not declare, so the registry can run
// every adapter over every config without caring about order. A non-nil
// error means the config was claimed but is unusable (for example a missing
// credential); the registry logs it and moves on.
type Adapter interface {
	Name() string
	Claims(cfg ModelConfig) bool
	Validate(cfg ModelConfig) error

	BuildStreamingChat(cfg ModelConfig) (StreamingChatClient, error)
	BuildChat(cfg ModelConfig) (ChatClient, error)
	BuildEmbedding(cfg ModelConfig) (EmbeddingClient, error)
	BuildImage(cfg ModelConfig) (ImageClient, error)
}
