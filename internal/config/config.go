package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort              = "8080"
	defaultFrontendOrigin    = "https://aksara-ai.web.app"
	defaultDatabaseURL       = "file:aksara.db"
	defaultModel             = "gemini"
	defaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel       = "gemini-2.5-flash"
	defaultDeepSeekBaseURL   = "https://api.deepseek.com/v1"
	defaultDeepSeekModel     = "deepseek-chat"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterAppName = "Aksara AI"
	defaultUpstreamTimeout   = 120
	defaultRateLimitPerMin   = 30
	defaultStoragePrefix     = "aksara-uploads"
	defaultMaxUploadMB       = 10
)

type Config struct {
	Port                     string
	Environment              string
	LogLevel                 string
	LogPretty                bool
	FrontendOrigin           string
	AllowedOrigins           []string
	AuthRequired             bool
	GoogleClientID           string
	InsecureSkipGoogleVerify bool
	DatabaseURL              string
	TursoAuthToken           string

	DefaultModel      string
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	DeepSeekAPIKey    string
	DeepSeekBaseURL   string
	DeepSeekModel     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterSiteURL string
	OpenRouterAppName string
	UpstreamTimeout   time.Duration

	RedisAddr          string
	RedisPassword      string
	RateLimitPerMinute int

	StorageBackend string
	StoragePrefix  string
	GCSBucket      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MaxUploadBytes int64
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) RateLimitEnabled() bool {
	return c.RedisAddr != "" && c.RateLimitPerMinute > 0
}

// Load reads configuration from the environment and, when CONFIG_FILE is set,
// from that file. Environment values win over file values.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                     str(v, "PORT"),
		Environment:              str(v, "APP_ENV"),
		LogLevel:                 strings.ToLower(str(v, "LOG_LEVEL")),
		LogPretty:                v.GetBool("LOG_PRETTY"),
		FrontendOrigin:           str(v, "FRONTEND_ORIGIN"),
		AuthRequired:             v.GetBool("AUTH_REQUIRED"),
		GoogleClientID:           str(v, "GOOGLE_CLIENT_ID"),
		InsecureSkipGoogleVerify: v.GetBool("AUTH_INSECURE_SKIP_GOOGLE_VERIFY"),
		DatabaseURL:              str(v, "DATABASE_URL"),
		TursoAuthToken:           str(v, "TURSO_AUTH_TOKEN"),
		DefaultModel:             strings.ToLower(str(v, "DEFAULT_MODEL")),
		GeminiAPIKey:             str(v, "GEMINI_API_KEY"),
		GeminiBaseURL:            strings.TrimRight(str(v, "GEMINI_BASE_URL"), "/"),
		GeminiModel:              str(v, "GEMINI_MODEL"),
		DeepSeekAPIKey:           str(v, "DEEPSEEK_API_KEY"),
		DeepSeekBaseURL:          strings.TrimRight(str(v, "DEEPSEEK_BASE_URL"), "/"),
		DeepSeekModel:            str(v, "DEEPSEEK_MODEL"),
		OpenRouterAPIKey:         str(v, "OPENROUTER_API_KEY"),
		OpenRouterBaseURL:        strings.TrimRight(str(v, "OPENROUTER_BASE_URL"), "/"),
		OpenRouterSiteURL:        str(v, "OPENROUTER_SITE_URL"),
		OpenRouterAppName:        str(v, "OPENROUTER_APP_NAME"),
		UpstreamTimeout:          time.Duration(v.GetInt("UPSTREAM_TIMEOUT_SECONDS")) * time.Second,
		RedisAddr:                str(v, "REDIS_ADDR"),
		RedisPassword:            str(v, "REDIS_PASSWORD"),
		RateLimitPerMinute:       v.GetInt("RATE_LIMIT_PER_MINUTE"),
		StorageBackend:           strings.ToLower(str(v, "STORAGE_BACKEND")),
		StoragePrefix:            strings.Trim(str(v, "STORAGE_PREFIX"), "/"),
		GCSBucket:                str(v, "GCS_BUCKET"),
		MinioEndpoint:            str(v, "MINIO_ENDPOINT"),
		MinioAccessKey:           str(v, "MINIO_ACCESS_KEY"),
		MinioSecretKey:           str(v, "MINIO_SECRET_KEY"),
		MinioBucket:              str(v, "MINIO_BUCKET"),
		MinioUseSSL:              v.GetBool("MINIO_USE_SSL"),
		MaxUploadBytes:           v.GetInt64("MAX_UPLOAD_MB") * 1024 * 1024,
	}

	if cfg.Environment == "development" && !v.IsSet("LOG_PRETTY") {
		cfg.LogPretty = true
	}

	origins := parseList(v.GetString("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{cfg.FrontendOrigin, "http://localhost:5173", "http://localhost:3000"}
	}
	cfg.AllowedOrigins = origins

	if cfg.UpstreamTimeout <= 0 {
		return Config{}, errors.New("UPSTREAM_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, errors.New("MAX_UPLOAD_MB must be > 0")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.TursoAuthToken == "" {
		return Config{}, errors.New("TURSO_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.AuthRequired && !cfg.InsecureSkipGoogleVerify && cfg.GoogleClientID == "" {
		return Config{}, errors.New("GOOGLE_CLIENT_ID is required unless AUTH_INSECURE_SKIP_GOOGLE_VERIFY=true")
	}

	switch cfg.StorageBackend {
	case "", "none":
		cfg.StorageBackend = "none"
	case "gcs":
		if cfg.GCSBucket == "" {
			return Config{}, errors.New("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return Config{}, errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required when STORAGE_BACKEND=minio")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FRONTEND_ORIGIN", defaultFrontendOrigin)
	v.SetDefault("AUTH_REQUIRED", true)
	v.SetDefault("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", false)
	v.SetDefault("DATABASE_URL", defaultDatabaseURL)
	v.SetDefault("DEFAULT_MODEL", defaultModel)
	v.SetDefault("GEMINI_BASE_URL", defaultGeminiBaseURL)
	v.SetDefault("GEMINI_MODEL", defaultGeminiModel)
	v.SetDefault("DEEPSEEK_BASE_URL", defaultDeepSeekBaseURL)
	v.SetDefault("DEEPSEEK_MODEL", defaultDeepSeekModel)
	v.SetDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL)
	v.SetDefault("OPENROUTER_APP_NAME", defaultOpenRouterAppName)
	v.SetDefault("UPSTREAM_TIMEOUT_SECONDS", defaultUpstreamTimeout)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMin)
	v.SetDefault("STORAGE_BACKEND", "none")
	v.SetDefault("STORAGE_PREFIX", defaultStoragePrefix)
	v.SetDefault("MINIO_USE_SSL", true)
	v.SetDefault("MAX_UPLOAD_MB", defaultMaxUploadMB)
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
