package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DefaultLocale string
	GeoIPDBPath   string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	ReplicateModel    string
	ReplicateVersion  string

	PromptEditAPIKey  string
	PromptEditBaseURL string
	PromptEditModel   string

	DefaultGender    string
	DefaultHairColor string
	SchemaMaxAge     time.Duration
	ProviderTimeout  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Provider credentials come from here and nowhere
// else; at least one of the two must be present.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:    getEnv("REPLICATE_MODEL", "flux-kontext-apps/change-haircut"),
		ReplicateVersion:  os.Getenv("REPLICATE_MODEL_VERSION"),

		PromptEditAPIKey:  os.Getenv("PROMPTEDIT_API_KEY"),
		PromptEditBaseURL: getEnv("PROMPTEDIT_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		PromptEditModel:   getEnv("PROMPTEDIT_MODEL", "qwen-image-edit"),

		DefaultGender:    getEnv("HAIR_DEFAULT_GENDER", "female"),
		DefaultHairColor: getEnv("HAIR_DEFAULT_COLOR", "no change"),
		SchemaMaxAge:     time.Minute * time.Duration(getEnvInt("SCHEMA_MAX_AGE_MINUTES", 15)),
		ProviderTimeout:  time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 15)),

		HTTPReadTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Write timeout must outlive the whole submit+poll budget of one job.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 330)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.ReplicateAPIToken == "" && cfg.PromptEditAPIKey == "" {
		return nil, fmt.Errorf("at least one of REPLICATE_API_TOKEN and PROMPTEDIT_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
