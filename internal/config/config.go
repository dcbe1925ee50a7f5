package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "KEEPSAKE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "keepsake.db"
	defaultLogLevel          = "info"
	defaultEnvironment       = "development"
	defaultBaseDomain        = "keepsake.gifts"
	defaultTokenTTLMinutes   = 60
	defaultReadAttempts      = 4
	defaultReadBackoffMillis = 250
	defaultPinMaxAttempts    = 5
	defaultPinWindowSeconds  = 900
	defaultS3Region          = "eu-west-3"
)

// Environment names accepted for app.environment.
const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

// AssetConfig describes the S3-compatible object store holding uploaded media.
type AssetConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// Enabled reports whether an asset bucket is configured.
func (c AssetConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	Environment    string
	ViewerDomain   string
	SigningSecret  string
	AdminAPIKey    string
	TokenTTL       time.Duration
	ReadAttempts   int
	ReadBackoff    time.Duration
	PinMaxAttempts int
	PinWindow      time.Duration
	PinEndpoint    string
	IntakeSecret   string
	Assets         AssetConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("app.environment", defaultEnvironment)
	configViper.SetDefault("viewer.base_domain", defaultBaseDomain)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("store.read_attempts", defaultReadAttempts)
	configViper.SetDefault("store.read_backoff_ms", defaultReadBackoffMillis)
	configViper.SetDefault("pin.max_attempts", defaultPinMaxAttempts)
	configViper.SetDefault("pin.window_seconds", defaultPinWindowSeconds)
	configViper.SetDefault("assets.s3_region", defaultS3Region)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		Environment:    strings.ToLower(strings.TrimSpace(configViper.GetString("app.environment"))),
		ViewerDomain:   strings.TrimSpace(configViper.GetString("viewer.base_domain")),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		AdminAPIKey:    configViper.GetString("auth.admin_api_key"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		ReadAttempts:   configViper.GetInt("store.read_attempts"),
		ReadBackoff:    time.Duration(configViper.GetInt("store.read_backoff_ms")) * time.Millisecond,
		PinMaxAttempts: configViper.GetInt("pin.max_attempts"),
		PinWindow:      time.Duration(configViper.GetInt("pin.window_seconds")) * time.Second,
		PinEndpoint:    strings.TrimSpace(configViper.GetString("pin.endpoint")),
		IntakeSecret:   configViper.GetString("intake.secret"),
		Assets: AssetConfig{
			Bucket:        strings.TrimSpace(configViper.GetString("assets.s3_bucket")),
			Region:        strings.TrimSpace(configViper.GetString("assets.s3_region")),
			Endpoint:      strings.TrimSpace(configViper.GetString("assets.s3_endpoint")),
			AccessKey:     configViper.GetString("assets.s3_access_key"),
			SecretKey:     configViper.GetString("assets.s3_secret_key"),
			PublicBaseURL: strings.TrimRight(strings.TrimSpace(configViper.GetString("assets.public_base_url")), "/"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminAPIKey) == "" {
		return fmt.Errorf("auth.admin_api_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Environment {
	case EnvironmentDevelopment, EnvironmentStaging, EnvironmentProduction:
	default:
		return fmt.Errorf("app.environment must be one of development, staging, production")
	}
	if c.Environment == EnvironmentProduction && c.ViewerDomain == "" {
		return fmt.Errorf("viewer.base_domain is required in production")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.ReadAttempts < 1 {
		return fmt.Errorf("store.read_attempts must be at least 1")
	}
	if c.ReadBackoff < 0 {
		return fmt.Errorf("store.read_backoff_ms must not be negative")
	}
	if c.PinMaxAttempts < 1 {
		return fmt.Errorf("pin.max_attempts must be at least 1")
	}
	if c.PinWindow <= 0 {
		return fmt.Errorf("pin.window_seconds must be positive")
	}
	if c.Assets.Enabled() && c.Assets.PublicBaseURL == "" {
		return fmt.Errorf("assets.public_base_url is required when assets.s3_bucket is set")
	}
	return nil
}
