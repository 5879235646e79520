package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Generation GenerationConfig
	AI         AIConfig
	Gemini     GeminiConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	generation, err := loadGenerationConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	gemini, err := loadGeminiConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Log:        loadLogConfig(),
		Store:      store,
		Generation: generation,
		AI:         ai,
		Gemini:     gemini,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Production bool
	Level      string
}

func loadLogConfig() LogConfig {
	env := strings.ToLower(getEnvOrDefault("APP_ENV", "development"))
	return LogConfig{
		Production: env == "production" || env == "prod",
		Level:      strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
	}
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// StoreConfig 选择 persona / 性格问卷数据的存储后端。
type StoreConfig struct {
	Backend       string // memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SeedDefaults  bool
}

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("PERSONA_BACKEND", BackendMemory))
	if backend != BackendMemory && backend != BackendRedis {
		return StoreConfig{}, fmt.Errorf("invalid PERSONA_BACKEND value %q: want memory or redis", backend)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		db = *override
	}

	seed, err := parseBoolEnv("PERSONA_SEED", true)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Backend:       backend,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       db,
		SeedDefaults:  seed,
	}, nil
}

// Generation providers.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// GenerationConfig 选择回复生成后端以及熔断参数。
type GenerationConfig struct {
	Provider         string
	BreakerEnabled   bool
	BreakerTimeout   time.Duration
	BreakerInterval  time.Duration
	BreakerMinCalls  uint32
	BreakerFailRatio float64
}

func loadGenerationConfig() (GenerationConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("GENERATION_PROVIDER", ProviderArk))
	switch provider {
	case ProviderArk, ProviderGemini, ProviderMock:
	default:
		return GenerationConfig{}, fmt.Errorf("invalid GENERATION_PROVIDER value %q", provider)
	}

	enabled, err := parseBoolEnv("BREAKER_ENABLED", true)
	if err != nil {
		return GenerationConfig{}, err
	}

	timeout := 30 * time.Second
	if secs, err := parseOptionalIntEnv("BREAKER_TIMEOUT_SECONDS"); err != nil {
		return GenerationConfig{}, err
	} else if secs != nil && *secs > 0 {
		timeout = time.Duration(*secs) * time.Second
	}

	minCalls := uint32(5)
	if n, err := parseOptionalIntEnv("BREAKER_MIN_REQUESTS"); err != nil {
		return GenerationConfig{}, err
	} else if n != nil && *n > 0 {
		minCalls = uint32(*n)
	}

	ratio := 0.6
	if r, err := parseOptionalFloatEnv("BREAKER_FAILURE_RATIO"); err != nil {
		return GenerationConfig{}, err
	} else if r != nil {
		if *r <= 0 || *r > 1 {
			return GenerationConfig{}, fmt.Errorf("invalid BREAKER_FAILURE_RATIO value %v: want (0,1]", *r)
		}
		ratio = *r
	}

	return GenerationConfig{
		Provider:         provider,
		BreakerEnabled:   enabled,
		BreakerTimeout:   timeout,
		BreakerInterval:  60 * time.Second,
		BreakerMinCalls:  minCalls,
		BreakerFailRatio: ratio,
	}, nil
}

// AIConfig 描述 Ark 大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// GeminiConfig 描述 Gemini 生成后端。
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     *float64
	MaxOutputTokens *int
}

// Enabled 表示是否提供了 API Key。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

func loadGeminiConfig() (GeminiConfig, error) {
	temperature, err := parseOptionalFloatEnv("GEMINI_TEMPERATURE")
	if err != nil {
		return GeminiConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("GEMINI_MAX_OUTPUT_TOKENS")
	if err != nil {
		return GeminiConfig{}, err
	}

	return GeminiConfig{
		APIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:           getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
	}, nil
}

// splitList 解析逗号分隔的列表，忽略空项。
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
