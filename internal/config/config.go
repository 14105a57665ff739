package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/visionai/drscreen/internal/platform/middleware"
)

// devSigningKey is used only when ENV=development and no JWT_SIGNING_KEY is
// configured. Validate refuses it anywhere else.
const devSigningKey = "drscreen-development-signing-key-do-not-use"

const minSigningKeyLen = 32

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	LogLevel      string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	ArtifactRoot      string `mapstructure:"ARTIFACT_ROOT"`
	ArtifactRefPrefix string `mapstructure:"ARTIFACT_REF_PREFIX"`

	ClassifierURL       string        `mapstructure:"CLASSIFIER_URL"`
	ClassifierModel     string        `mapstructure:"CLASSIFIER_MODEL"`
	ClassIndicesPath    string        `mapstructure:"CLASS_INDICES_PATH"`
	ClassSeverityOrder  []string      `mapstructure:"CLASS_SEVERITY_ORDER"`
	ClassifierInputSize int           `mapstructure:"CLASSIFIER_INPUT_SIZE"`
	ClassifierTimeout   time.Duration `mapstructure:"CLASSIFIER_TIMEOUT"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`
	LoginRate     float64       `mapstructure:"LOGIN_RATE"`
	LoginBurst    int           `mapstructure:"LOGIN_BURST"`

	MaxUploadSize  string        `mapstructure:"MAX_UPLOAD_SIZE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"CORS_ORIGINS", "ARTIFACT_ROOT", "ARTIFACT_REF_PREFIX",
	"CLASSIFIER_URL", "CLASSIFIER_MODEL", "CLASS_INDICES_PATH", "CLASS_SEVERITY_ORDER",
	"CLASSIFIER_INPUT_SIZE", "CLASSIFIER_TIMEOUT",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL", "LOGIN_RATE", "LOGIN_BURST",
	"MAX_UPLOAD_SIZE", "REQUEST_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. Only DATABASE_URL is required here; Validate
// applies the remaining checks before the server starts.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ARTIFACT_ROOT", "./uploads")
	v.SetDefault("ARTIFACT_REF_PREFIX", "uploads")
	v.SetDefault("CLASSIFIER_URL", "http://localhost:8501")
	v.SetDefault("CLASSIFIER_MODEL", "dr_model")
	v.SetDefault("CLASS_INDICES_PATH", "./models/class_indices.json")
	v.SetDefault("CLASS_SEVERITY_ORDER", "")
	v.SetDefault("CLASSIFIER_INPUT_SIZE", 224)
	v.SetDefault("CLASSIFIER_TIMEOUT", "30s")
	v.SetDefault("JWT_ISSUER", "drscreen")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("LOGIN_RATE", 0.5)
	v.SetDefault("LOGIN_BURST", 10)
	v.SetDefault("MAX_UPLOAD_SIZE", "20M")
	v.SetDefault("REQUEST_TIMEOUT", "90s")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists arrive from the environment as one string.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.ClassSeverityOrder = splitList(v.GetString("CLASS_SEVERITY_ORDER"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSigningKey == "" && cfg.IsDev() {
		cfg.JWTSigningKey = devSigningKey
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesDevSigningKey reports whether tokens are signed with the built-in
// development key. The server logs a warning at startup when it is.
func (c *Config) UsesDevSigningKey() bool {
	return c.JWTSigningKey == devSigningKey
}

// Validate checks that the configuration is safe to serve with.
func (c *Config) Validate() error {
	switch {
	case c.JWTSigningKey == "":
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	case len(c.JWTSigningKey) < minSigningKeyLen:
		return fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes", minSigningKeyLen)
	case c.UsesDevSigningKey() && !c.IsDev():
		return fmt.Errorf("the development signing key cannot be used with ENV=%q", c.Env)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.ClassifierInputSize <= 0 {
		return fmt.Errorf("CLASSIFIER_INPUT_SIZE must be positive, got %d", c.ClassifierInputSize)
	}
	if c.ClassifierURL == "" || c.ClassifierModel == "" {
		return fmt.Errorf("CLASSIFIER_URL and CLASSIFIER_MODEL are required")
	}
	if c.ArtifactRoot == "" {
		return fmt.Errorf("ARTIFACT_ROOT is required")
	}
	if _, err := middleware.ParseSize(c.MaxUploadSize); err != nil {
		return fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	if c.LoginRate <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("LOGIN_RATE and LOGIN_BURST must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
