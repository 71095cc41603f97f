package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration.
type Config struct {
	// Provider is the backend used when the providers file names none.
	Provider      string `envconfig:"STORYLOOM_PROVIDER" default:"google-genai"`
	ProvidersFile string `envconfig:"STORYLOOM_PROVIDERS_FILE" default:"providers.yaml"`

	Gemini GeminiConfig
	OpenAI OpenAIConfig
	Store  StoreConfig
	Log    LogConfig
	HTTP   HTTPConfig
}

type GeminiConfig struct {
	APIKey string `envconfig:"GEMINI_API_KEY"`
}

type OpenAIConfig struct {
	APIKey  string `envconfig:"OPENAI_API_KEY"`
	BaseURL string `envconfig:"OPENAI_BASE_URL"`
}

// StoreConfig selects the save backend: dir, sqlite, redis or memory.
type StoreConfig struct {
	Kind       string `envconfig:"STORYLOOM_STORE" default:"dir"`
	Dir        string `envconfig:"STORYLOOM_SAVE_DIR" default:".saves"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"storyloom.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisHash     string `envconfig:"REDIS_HASH" default:"storyloom:kv"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"HTTP_ALLOWED_ORIGINS" default:"*"`
}

// LoadConfig loads the configuration from environment variables. A .env
// file in the working directory is read first if present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &cfg, nil
}
