package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/nort-backend/internal/data/db"
	"github.com/yungbote/nort-backend/internal/jobs/dispatcher"
	"github.com/yungbote/nort-backend/internal/jobs/queue"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/platform/completion"
	"github.com/yungbote/nort-backend/internal/platform/envutil"
	"github.com/yungbote/nort-backend/internal/realtime"
	"github.com/yungbote/nort-backend/internal/realtime/bus"
	"github.com/yungbote/nort-backend/internal/services"
)

const (
	QueueBackendMemory = "memory"
	QueueBackendAsynq  = "asynq"
)

type Config struct {
	Env  string
	Port string

	JWTSecretKey       string
	AccessTokenTTL     time.Duration
	TokenSweepInterval time.Duration

	DB db.Config

	RedisAddr    string
	RedisChannel string

	QueueBackend string
	QueueName    string
	AsynqServer  queue.ServerConfig

	Completion completion.Config
	Generation services.GenerationConfig
	Dispatcher dispatcher.Config

	Heartbeat      time.Duration
	PostRatePerSec float64
	PostRateBurst  int
	CORSOrigins    []string
}

// generationProfile is the optional YAML file named by GENERATION_CONFIG_FILE.
// Fields left out keep the environment values.
type generationProfile struct {
	BaseURL          string   `yaml:"base_url"`
	Model            string   `yaml:"model"`
	Temperature      *float64 `yaml:"temperature"`
	MaxTokens        int      `yaml:"max_tokens"`
	TopP             *float64 `yaml:"top_p"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty"`
	PresencePenalty  *float64 `yaml:"presence_penalty"`
	Timeout          string   `yaml:"timeout"`
	MaxRetries       *int     `yaml:"max_retries"`

	Protocol      string `yaml:"protocol"`
	MaxAttempts   int    `yaml:"max_attempts"`
	MinChars      int    `yaml:"min_chars"`
	MaxChainDepth int    `yaml:"max_chain_depth"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	def := completion.DefaultConfig()
	cfg := Config{
		Env:  envutil.GetEnv("ENV", "development", log),
		Port: envutil.GetEnv("PORT", "8080", log),

		JWTSecretKey:       envutil.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		AccessTokenTTL:     time.Duration(envutil.GetEnvAsInt("ACCESS_TOKEN_TTL", int(services.DefaultAccessTTL/time.Second), log)) * time.Second,
		TokenSweepInterval: envutil.Duration("TOKEN_SWEEP_INTERVAL", time.Hour),

		DB: db.Config{
			Driver:           envutil.GetEnv("DB_DRIVER", "postgres", log),
			PostgresHost:     envutil.GetEnv("POSTGRES_HOST", "localhost", log),
			PostgresPort:     envutil.GetEnv("POSTGRES_PORT", "5432", log),
			PostgresUser:     envutil.GetEnv("POSTGRES_USER", "postgres", log),
			PostgresPassword: envutil.GetEnv("POSTGRES_PASSWORD", "", log),
			PostgresName:     envutil.GetEnv("POSTGRES_NAME", "nort", log),
			SQLitePath:       envutil.GetEnv("SQLITE_PATH", "", log),
		},

		RedisAddr:    envutil.GetEnv("REDIS_ADDR", "", log),
		RedisChannel: envutil.GetEnv("REDIS_CHANNEL", bus.DefaultChannel, log),

		QueueBackend: strings.ToLower(envutil.GetEnv("QUEUE_BACKEND", QueueBackendMemory, log)),
		QueueName:    envutil.GetEnv("ASYNQ_QUEUE", queue.DefaultQueue, log),
		AsynqServer: queue.ServerConfig{
			Concurrency: envutil.GetEnvAsInt("ASYNQ_CONCURRENCY", 10, log),
			Queues:      envutil.GetEnv("ASYNQ_QUEUES", "", log),
		},

		Completion: completion.Config{
			BaseURL:          envutil.GetEnv("COMPLETION_BASE_URL", def.BaseURL, log),
			APIKey:           envutil.GetEnv("COMPLETION_API_KEY", "", log),
			Model:            envutil.GetEnv("COMPLETION_MODEL", "", log),
			Temperature:      envutil.Float("COMPLETION_TEMPERATURE", def.Temperature),
			MaxTokens:        envutil.GetEnvAsInt("COMPLETION_MAX_TOKENS", def.MaxTokens, log),
			TopP:             envutil.Float("COMPLETION_TOP_P", def.TopP),
			FrequencyPenalty: envutil.Float("COMPLETION_FREQUENCY_PENALTY", def.FrequencyPenalty),
			PresencePenalty:  envutil.Float("COMPLETION_PRESENCE_PENALTY", def.PresencePenalty),
			Timeout:          envutil.Duration("COMPLETION_TIMEOUT", def.Timeout),
			MaxRetries:       envutil.GetEnvAsInt("COMPLETION_MAX_RETRIES", def.MaxRetries, log),
			RatePerSecond:    envutil.Float("COMPLETION_RATE_PER_SEC", 0),
			RateBurst:        envutil.GetEnvAsInt("COMPLETION_RATE_BURST", 1, log),
		},
		Generation: services.GenerationConfig{
			DefaultProtocol: envutil.GetEnv("GENERATION_PROTOCOL", "", log),
			MaxAttempts:     envutil.GetEnvAsInt("GENERATION_MAX_ATTEMPTS", 3, log),
			MinChars:        envutil.GetEnvAsInt("GENERATION_MIN_CHARS", 0, log),
		},
		Dispatcher: dispatcher.Config{
			Concurrency:   envutil.GetEnvAsInt("DISPATCHER_CONCURRENCY", 4, log),
			MaxChainDepth: envutil.GetEnvAsInt("MAX_CHAIN_DEPTH", 6, log),
			QueueSize:     envutil.GetEnvAsInt("DISPATCHER_QUEUE_SIZE", 256, log),
		},

		Heartbeat:      envutil.Duration("SSE_HEARTBEAT", realtime.DefaultHeartbeat),
		PostRatePerSec: envutil.Float("POST_RATE_PER_SEC", 1),
		PostRateBurst:  envutil.GetEnvAsInt("POST_RATE_BURST", 5, log),
		CORSOrigins:    splitList(envutil.GetEnv("CORS_ALLOWED_ORIGINS", "", log)),
	}

	switch cfg.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendAsynq:
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("QUEUE_BACKEND=asynq requires REDIS_ADDR")
		}
	default:
		return Config{}, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	if path := envutil.GetEnv("GENERATION_CONFIG_FILE", "", log); path != "" {
		if err := cfg.applyProfileFile(path); err != nil {
			return Config{}, err
		}
		log.Info("Loaded generation profile", "path", path)
	}
	return cfg, nil
}

func (c *Config) applyProfileFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read generation profile: %w", err)
	}
	var p generationProfile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse generation profile %s: %w", path, err)
	}
	return c.applyProfile(p)
}

func (c *Config) applyProfile(p generationProfile) error {
	if p.BaseURL != "" {
		c.Completion.BaseURL = p.BaseURL
	}
	if p.Model != "" {
		c.Completion.Model = p.Model
	}
	if p.Temperature != nil {
		c.Completion.Temperature = *p.Temperature
	}
	if p.MaxTokens > 0 {
		c.Completion.MaxTokens = p.MaxTokens
	}
	if p.TopP != nil {
		c.Completion.TopP = *p.TopP
	}
	if p.FrequencyPenalty != nil {
		c.Completion.FrequencyPenalty = *p.FrequencyPenalty
	}
	if p.PresencePenalty != nil {
		c.Completion.PresencePenalty = *p.PresencePenalty
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("generation profile timeout: %w", err)
		}
		c.Completion.Timeout = d
	}
	if p.MaxRetries != nil {
		c.Completion.MaxRetries = *p.MaxRetries
	}
	if p.Protocol != "" {
		c.Generation.DefaultProtocol = p.Protocol
	}
	if p.MaxAttempts > 0 {
		c.Generation.MaxAttempts = p.MaxAttempts
	}
	if p.MinChars > 0 {
		c.Generation.MinChars = p.MinChars
	}
	if p.MaxChainDepth > 0 {
		c.Dispatcher.MaxChainDepth = p.MaxChainDepth
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
