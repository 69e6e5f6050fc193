package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"remotestream/internal/services/resolver"
	"remotestream/internal/services/transport"
	"remotestream/internal/telemetry"
)

// Config is assembled from defaults, then an optional TOML file named by
// CONFIG_FILE, then environment variables. Later sources win.
type Config struct {
	HTTPAddr           string   `koanf:"http_addr"`
	HTTPRateLimitRPS   float64  `koanf:"http_rate_limit_rps"`
	HTTPRateLimitBurst int      `koanf:"http_rate_limit_burst"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	LogLevel      string `koanf:"log_level"`
	LogFormat     string `koanf:"log_format"`
	LogFile       string `koanf:"log_file"`
	LogMaxSizeMB  int    `koanf:"log_max_size_mb"`
	LogMaxBackups int    `koanf:"log_max_backups"`

	MongoURI        string `koanf:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_db"`
	MongoCollection string `koanf:"mongo_collection"`

	UpstreamHeaderTimeout  time.Duration `koanf:"upstream_header_timeout"`
	UpstreamDialTimeout    time.Duration `koanf:"upstream_dial_timeout"`
	UpstreamMaxIdlePerHost int           `koanf:"upstream_max_idle_per_host"`
	UpstreamRPS            float64       `koanf:"upstream_rps"`
	UpstreamBurst          int           `koanf:"upstream_burst"`
	UpstreamProxy          string        `koanf:"upstream_proxy"`
	UpstreamUserAgent      string        `koanf:"upstream_user_agent"`

	S3Endpoint      string        `koanf:"s3_endpoint"`
	S3Region        string        `koanf:"s3_region"`
	S3AccessKeyID   string        `koanf:"s3_access_key_id"`
	S3SecretKey     string        `koanf:"s3_secret_access_key"`
	S3UsePathStyle  bool          `koanf:"s3_use_path_style"`
	S3PresignExpiry time.Duration `koanf:"s3_presign_expiry"`

	RefreshInterval    time.Duration `koanf:"refresh_interval"`
	RefreshConcurrency int           `koanf:"refresh_concurrency"`
	RefreshAttempts    int           `koanf:"refresh_attempts"`

	OTELServiceName string  `koanf:"otel_service_name"`
	OTELEndpoint    string  `koanf:"otel_endpoint"`
	OTELSampleRate  float64 `koanf:"otel_sample_rate"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:               ":8080",
		HTTPRateLimitRPS:       100,
		HTTPRateLimitBurst:     200,
		LogLevel:               "info",
		LogFormat:              "text",
		LogMaxSizeMB:           100,
		LogMaxBackups:          3,
		MongoURI:               "mongodb://localhost:27017",
		MongoDatabase:          "remotestream",
		MongoCollection:        "sources",
		UpstreamHeaderTimeout:  15 * time.Second,
		UpstreamDialTimeout:    10 * time.Second,
		UpstreamMaxIdlePerHost: 16,
		UpstreamUserAgent:      "remotestream/1.0",
		S3PresignExpiry:        6 * time.Hour,
		RefreshInterval:        5 * time.Minute,
		RefreshConcurrency:     4,
		RefreshAttempts:        3,
		OTELServiceName:        "remotestream",
		OTELSampleRate:         0.1,
	}
}

func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.HTTPRateLimitRPS = getEnvFloat("HTTP_RATE_LIMIT_RPS", cfg.HTTPRateLimitRPS)
	cfg.HTTPRateLimitBurst = int(getEnvInt64("HTTP_RATE_LIMIT_BURST", int64(cfg.HTTPRateLimitBurst)))
	if origins := parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")); origins != nil {
		cfg.CORSAllowedOrigins = origins
	}

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogMaxSizeMB = int(getEnvInt64("LOG_MAX_SIZE_MB", int64(cfg.LogMaxSizeMB)))
	cfg.LogMaxBackups = int(getEnvInt64("LOG_MAX_BACKUPS", int64(cfg.LogMaxBackups)))

	cfg.MongoURI = getEnv("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("MONGO_DB", cfg.MongoDatabase)
	cfg.MongoCollection = getEnv("MONGO_COLLECTION", cfg.MongoCollection)

	cfg.UpstreamHeaderTimeout = getEnvDuration("UPSTREAM_HEADER_TIMEOUT", cfg.UpstreamHeaderTimeout)
	cfg.UpstreamDialTimeout = getEnvDuration("UPSTREAM_DIAL_TIMEOUT", cfg.UpstreamDialTimeout)
	cfg.UpstreamMaxIdlePerHost = int(getEnvInt64("UPSTREAM_MAX_IDLE_PER_HOST", int64(cfg.UpstreamMaxIdlePerHost)))
	cfg.UpstreamRPS = getEnvFloat("UPSTREAM_RPS", cfg.UpstreamRPS)
	cfg.UpstreamBurst = int(getEnvInt64("UPSTREAM_BURST", int64(cfg.UpstreamBurst)))
	cfg.UpstreamProxy = getEnv("UPSTREAM_PROXY", cfg.UpstreamProxy)
	cfg.UpstreamUserAgent = getEnv("UPSTREAM_USER_AGENT", cfg.UpstreamUserAgent)

	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", cfg.S3AccessKeyID)
	cfg.S3SecretKey = getEnv("S3_SECRET_ACCESS_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.S3PresignExpiry = getEnvDuration("S3_PRESIGN_EXPIRY", cfg.S3PresignExpiry)

	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.RefreshConcurrency = int(getEnvInt64("REFRESH_CONCURRENCY", int64(cfg.RefreshConcurrency)))
	cfg.RefreshAttempts = int(getEnvInt64("REFRESH_ATTEMPTS", int64(cfg.RefreshAttempts)))

	cfg.OTELServiceName = getEnv("OTEL_SERVICE_NAME", cfg.OTELServiceName)
	cfg.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.OTELSampleRate = getEnvFloat("OTEL_TRACES_SAMPLER_ARG", cfg.OTELSampleRate)

	return cfg, nil
}

func (c Config) Transport() transport.Config {
	return transport.Config{
		ResponseHeaderTimeout: c.UpstreamHeaderTimeout,
		DialTimeout:           c.UpstreamDialTimeout,
		MaxIdleConnsPerHost:   c.UpstreamMaxIdlePerHost,
		RequestsPerSecond:     c.UpstreamRPS,
		Burst:                 c.UpstreamBurst,
		ProxyURL:              c.UpstreamProxy,
		UserAgent:             c.UpstreamUserAgent,
	}
}

func (c Config) S3() resolver.S3Config {
	return resolver.S3Config{
		Endpoint:      c.S3Endpoint,
		Region:        c.S3Region,
		AccessKeyID:   c.S3AccessKeyID,
		AccessSecret:  c.S3SecretKey,
		UsePathStyle:  c.S3UsePathStyle,
		PresignExpiry: c.S3PresignExpiry,
	}
}

func (c Config) Telemetry() telemetry.Config {
	return telemetry.Config{
		ServiceName: c.OTELServiceName,
		Endpoint:    c.OTELEndpoint,
		SampleRate:  c.OTELSampleRate,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
