package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/zhouzirui/persona-counsel/backend/internal/config"
)

// ErrEmptyReply is returned when a backend answers with no text.
var ErrEmptyReply = errors.New("generation returned empty reply")

// Generator is the external language-generation call.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, userPrompt string) (string, error)
}

// ChainGenerator runs an eino chain: chat template -> chat model.
type ChainGenerator struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewArkGenerator builds a ChainGenerator over the configured Ark model.
func NewArkGenerator(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*ChainGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewChainGenerator(ctx, chatModel, logger)
}

// NewChainGenerator compiles the system/query chain around chatModel.
func NewChainGenerator(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*ChainGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainGenerator{chain: runnable, logger: logger.With(zap.String("component", "ai.chain"))}, nil
}

// Generate runs the chain once.
func (g *ChainGenerator) Generate(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	response, err := g.chain.Invoke(ctx, map[string]any{
		"system": systemInstruction,
		"query":  userPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || response.Content == "" {
		return "", ErrEmptyReply
	}

	g.logger.Debug("generated response", zap.Int("length", len(response.Content)))
	return response.Content, nil
}

// GeminiGenerator calls the Gemini API through google.golang.org/genai.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *zap.Logger
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("GEMINI_API_KEY and GEMINI_MODEL are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		genCfg.Temperature = &t
	}
	if cfg.MaxOutputTokens != nil {
		genCfg.MaxOutputTokens = int32(*cfg.MaxOutputTokens)
	}

	return &GeminiGenerator{
		client: client,
		model:  cfg.Model,
		config: genCfg,
		logger: logger.With(zap.String("component", "ai.gemini")),
	}, nil
}

// Generate sends the user prompt with the persona instruction as system instruction.
func (g *GeminiGenerator) Generate(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	reqCfg := *g.config
	reqCfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt), &reqCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyReply
	}

	g.logger.Debug("generated response", zap.String("model", g.model), zap.Int("length", len(text)))
	return text, nil
}

// NewGenerator selects the backend named by cfg.Generation.Provider and wraps
// it in a circuit breaker when enabled. The mock backend is only returned
// when explicitly configured.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.Generation.Provider {
	case config.ProviderArk:
		gen, err = NewArkGenerator(ctx, cfg.AI, logger)
	case config.ProviderGemini:
		gen, err = NewGeminiGenerator(ctx, cfg.Gemini, logger)
	case config.ProviderMock:
		gen = NewMockGenerator()
	default:
		err = fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Generation.BreakerEnabled && cfg.Generation.Provider != config.ProviderMock {
		gen = NewBreakerGenerator(gen, BreakerSettings{
			Name:         cfg.Generation.Provider,
			Timeout:      cfg.Generation.BreakerTimeout,
			Interval:     cfg.Generation.BreakerInterval,
			MinRequests:  cfg.Generation.BreakerMinCalls,
			FailureRatio: cfg.Generation.BreakerFailRatio,
		}, logger)
	}
	return gen, nil
}
