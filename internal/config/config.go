// Package config loads the service's static configuration: connection
// settings for Redis, the KMIP key manager, the detection engine, and
// the content platform, plus the scan engine's tunables. It is loaded
// once at startup via Viper (YAML file + environment overrides) and
// never changes at runtime — contrast internal/pconfig, which holds
// the mutable detection rules reloaded on file change.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KMIPConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	KeyID          string `mapstructure:"keyId"`
	KeyVersion     int    `mapstructure:"keyVersion"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
	DualReadWindow int    `mapstructure:"dualReadWindow"`
	// WrappedKEKHex is the hex-encoded KeyEnvelope ciphertext produced by a
	// prior WrapKey call against this KMIP server, persisted here so the
	// process can unwrap the same field-encryption key on every restart.
	WrappedKEKHex string `mapstructure:"wrappedKekHex"`
}

type DetectionConfig struct {
	Target         string `mapstructure:"target"`
	TimeoutMs      int    `mapstructure:"timeoutMs"`
}

func (c DetectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type ContentConfig struct {
	Platform string `mapstructure:"platform"`
	Endpoint string `mapstructure:"endpoint"`
}

type CacheConfig struct {
	InitialDelayMs  int `mapstructure:"initialDelayMs"`
	RefreshInterval int `mapstructure:"refreshIntervalMs"`
}

func (c CacheConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}
func (c CacheConfig) Interval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Millisecond
}

type EventBusConfig struct {
	BufferCapacity int `mapstructure:"bufferCapacity"`
}

type ScanConfig struct {
	Parallelism             int `mapstructure:"parallelism"`
	PiiDetectionTimeoutMs   int `mapstructure:"piiDetectionTimeoutMs"`
}

func (c ScanConfig) PiiDetectionTimeout() time.Duration {
	return time.Duration(c.PiiDetectionTimeoutMs) * time.Millisecond
}

type PiiConfig struct {
	AuditRetentionDays int  `mapstructure:"auditRetentionDays"`
	AllowSecretReveal  bool `mapstructure:"allowSecretReveal"`
}

type TextQualityConfig struct {
	MinLength         int     `mapstructure:"minLength"`
	MinAlnumRatio     float64 `mapstructure:"minAlnumRatio"`
	MinPrintableRatio float64 `mapstructure:"minPrintableRatio"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig selects the OpenTelemetry span exporter cmd/server wires
// up at startup. "stdout" is the zero-dependency local default; "otlp"
// and "jaeger" ship real collectors' wire protocols for production use.
type TracingConfig struct {
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
}

// ArchiveConfig is the S3-compatible bucket a completed scan's event log
// is snapshotted to for long-term retention. Disabled (zero value, Enabled
// false) by default — Redis alone remains the source of truth either way.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
}

// Config is the fully resolved, immutable static configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	KMIP        KMIPConfig        `mapstructure:"kmip"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	Content     ContentConfig     `mapstructure:"content"`
	Cache       CacheConfig       `mapstructure:"cache"`
	EventBus    EventBusConfig    `mapstructure:"eventBus"`
	Scan        ScanConfig        `mapstructure:"scan"`
	Pii         PiiConfig         `mapstructure:"pii"`
	TextQuality TextQualityConfig `mapstructure:"document.textQuality"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PConfigPath string            `mapstructure:"pconfig.path"`
	DevKEKHex   string            `mapstructure:"devKekHex"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kmip.timeoutSeconds", 10)
	v.SetDefault("kmip.dualReadWindow", 1)
	v.SetDefault("detection.timeoutMs", 5000)
	v.SetDefault("cache.initialDelayMs", 0)
	v.SetDefault("cache.refreshIntervalMs", 300000)
	v.SetDefault("eventBus.bufferCapacity", 1000)
	v.SetDefault("scan.parallelism", 1)
	v.SetDefault("scan.piiDetectionTimeoutMs", 5000)
	v.SetDefault("pii.auditRetentionDays", 90)
	v.SetDefault("pii.allowSecretReveal", false)
	v.SetDefault("document.textQuality.minLength", 1)
	v.SetDefault("document.textQuality.minAlnumRatio", 0.1)
	v.SetDefault("document.textQuality.minPrintableRatio", 0.85)
	v.SetDefault("pconfig.path", "./config/detection-rules.yaml")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("content.platform", "http")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.provider", "aws")
}

// Load reads configuration from path (if non-empty) layered under
// environment variables prefixed AI_SENTINEL_ (nested keys use "_" in
// place of "."), then validates required fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("AI_SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required", domain.ErrConfigInvalid)
	}
	if c.Detection.Target == "" {
		return fmt.Errorf("%w: detection.target is required", domain.ErrConfigInvalid)
	}
	if c.Scan.Parallelism < 1 {
		return fmt.Errorf("%w: scan.parallelism must be >= 1", domain.ErrConfigInvalid)
	}
	if c.Content.Endpoint == "" {
		return fmt.Errorf("%w: content.endpoint is required", domain.ErrConfigInvalid)
	}
	if c.KMIP.Endpoint != "" && len(c.KMIP.KeyID) == 0 {
		return fmt.Errorf("%w: kmip.keyId is required when kmip.endpoint is set", domain.ErrConfigInvalid)
	}
	if c.KMIP.Endpoint != "" && c.KMIP.WrappedKEKHex == "" {
		return fmt.Errorf("%w: kmip.wrappedKekHex is required when kmip.endpoint is set", domain.ErrConfigInvalid)
	}
	if c.KMIP.Endpoint == "" && c.DevKEKHex == "" {
		return fmt.Errorf("%w: either kmip.endpoint or devKekHex must be set to obtain the field-encryption key", domain.ErrConfigInvalid)
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("%w: archive.bucket is required when archive.enabled is true", domain.ErrConfigInvalid)
	}
	return nil
}
