package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const (
	BackendSSE    = "sse"
	BackendVertex = "vertex"
	BackendMock   = "mock"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Mode         Mode           `mapstructure:"mode"`
	Port         string         `mapstructure:"port"`
	SoundEffects bool           `mapstructure:"sound_effects"`
	Log          LogConfig      `mapstructure:"log"`
	Gemini       GeminiConfig   `mapstructure:"gemini"`
	GCP          GCPConfig      `mapstructure:"gcp"`
	Storage      StorageConfig  `mapstructure:"storage"`
	Delivery     DeliveryConfig `mapstructure:"delivery"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// GeminiConfig selects and configures the remote stream transport.
type GeminiConfig struct {
	Backend  string `mapstructure:"backend"` // "sse", "vertex" or "mock"
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

type GCPConfig struct {
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "memory" o "firestore"
}

// DeliveryConfig tunes the delivery engine.
type DeliveryConfig struct {
	ContextTurns     int           `mapstructure:"context_turns"`
	FallbackDelayMin time.Duration `mapstructure:"fallback_delay_min"`
	FallbackDelayMax time.Duration `mapstructure:"fallback_delay_max"`
	ChunkTimeout     time.Duration `mapstructure:"chunk_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeLocal))
	v.SetDefault("port", "8080")
	v.SetDefault("sound_effects", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("gemini.backend", BackendSSE)
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.endpoint", "https://generativelanguage.googleapis.com/v1beta")

	v.SetDefault("gcp.project", "")
	v.SetDefault("gcp.location", "us-central1")

	v.SetDefault("storage.backend", "memory")

	v.SetDefault("delivery.context_turns", 10)
	v.SetDefault("delivery.fallback_delay_min", time.Second)
	v.SetDefault("delivery.fallback_delay_max", 2*time.Second)
	v.SetDefault("delivery.chunk_timeout", 30*time.Second)
}

// Load reads the optional config file, .env and RISEUP_* env vars and builds the config.
// An empty path searches for riseup.yaml in the working directory.
func Load(path string) (*Config, error) {
	// .env is optional, existing env vars win
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RISEUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini.api_key", "RISEUP_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding gemini.api_key: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("riseup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the minimal rules the rest of the app relies on.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	switch c.Gemini.Backend {
	case BackendSSE, BackendVertex, BackendMock:
	default:
		return fmt.Errorf("unknown gemini.backend %q", c.Gemini.Backend)
	}

	// Minimal validation in GCP mode
	if c.Mode == ModeGCP && c.GCP.Project == "" {
		return errors.New("gcp.project must be set in gcp mode")
	}
	if c.Gemini.Backend == BackendVertex && c.GCP.Project == "" {
		return errors.New("gcp.project is required for the vertex backend")
	}
	if c.Storage.Backend == "firestore" && c.GCP.Project == "" {
		return errors.New("gcp.project is required for firestore storage")
	}

	if c.Delivery.FallbackDelayMax < c.Delivery.FallbackDelayMin {
		return fmt.Errorf("delivery.fallback_delay_max (%s) is below fallback_delay_min (%s)",
			c.Delivery.FallbackDelayMax, c.Delivery.FallbackDelayMin)
	}
	return nil
}
