package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	DynamoDB      DynamoDBConfig      `envconfig:"DYNAMODB"`
	Auth          AuthConfig          `envconfig:"AUTH"`
	RateLimit     RateLimitConfig     `envconfig:"RATE_LIMIT"`
	Content       ContentConfig       `envconfig:"CONTENT"`
	Export        ExportConfig        `envconfig:"EXPORT"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
	AWS           AWSConfig           `envconfig:"AWS"`
}

type AWSConfig struct {
	Region     string `envconfig:"REGION" default:"ap-northeast-2"`
	Profile    string `envconfig:"PROFILE" default:""`
	SecretName string `envconfig:"SECRET_NAME" default:""`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8000"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}

type RedisConfig struct {
	Address             string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password            string        `envconfig:"PASSWORD" default:""`
	Database            int           `envconfig:"DATABASE" default:"0"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"100"`
	PoolTimeout         time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	TLSEnabled          bool          `envconfig:"TLS_ENABLED" default:"false"`
	PasswordFromSecrets bool          `envconfig:"PASSWORD_FROM_SECRETS" default:"false"`
}

type DynamoDBConfig struct {
	UsersTableName       string `envconfig:"USERS_TABLE_NAME" default:"tavernchat-users"`
	InvitationsTableName string `envconfig:"INVITATIONS_TABLE_NAME" default:"tavernchat-invitations"`
	Region               string `envconfig:"REGION" default:"ap-northeast-2"`
}

// AuthConfig carries the login-policy switches. DiscreetLogin suppresses the
// public user list, PreferRealIPHeader changes how the client IP is resolved
// for rate limiting, and InvitationRequired gates registration on a valid
// invitation code.
type AuthConfig struct {
	DiscreetLogin      bool          `envconfig:"DISCREET_LOGIN" default:"false"`
	PreferRealIPHeader bool          `envconfig:"PREFER_REAL_IP_HEADER" default:"false"`
	InvitationRequired bool          `envconfig:"INVITATION_REQUIRED" default:"false"`
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionCookie      string        `envconfig:"SESSION_COOKIE" default:"tavern_session"`
	RecoveryCodeTTL    time.Duration `envconfig:"RECOVERY_CODE_TTL" default:"5m"`
	MinPasswordLength  int           `envconfig:"MIN_PASSWORD_LENGTH" default:"6"`
}

// BucketConfig is a point budget over a rolling window, keyed per client IP.
type BucketConfig struct {
	Points int           `envconfig:"POINTS"`
	Window time.Duration `envconfig:"WINDOW"`
}

type RateLimitConfig struct {
	Login    BucketConfig `envconfig:"LOGIN"`
	Recover  BucketConfig `envconfig:"RECOVER"`
	Register BucketConfig `envconfig:"REGISTER"`
}

type ContentConfig struct {
	DataRoot  string `envconfig:"DATA_ROOT" default:"./data"`
	SourceDir string `envconfig:"SOURCE_DIR" default:"./default/content"`
}

type ExportConfig struct {
	S3Bucket string `envconfig:"S3_BUCKET" default:""`
	S3Prefix string `envconfig:"S3_PREFIX" default:"exports"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	applyRateLimitDefaults(&cfg.RateLimit)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyRateLimitDefaults fills in the stock budgets: 5 points/60s for login,
// 5 points/300s for recovery, 3 points/300s for registration.
func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.Login.Points == 0 {
		cfg.Login.Points = 5
	}
	if cfg.Login.Window == 0 {
		cfg.Login.Window = 60 * time.Second
	}
	if cfg.Recover.Points == 0 {
		cfg.Recover.Points = 5
	}
	if cfg.Recover.Window == 0 {
		cfg.Recover.Window = 300 * time.Second
	}
	if cfg.Register.Points == 0 {
		cfg.Register.Points = 3
	}
	if cfg.Register.Window == 0 {
		cfg.Register.Window = 300 * time.Second
	}
}

func validateConfig(cfg *Config) error {
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	if cfg.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("invalid minimum password length: %d", cfg.Auth.MinPasswordLength)
	}

	if cfg.Auth.RecoveryCodeTTL <= 0 {
		return fmt.Errorf("recovery code TTL must be positive")
	}

	for name, bucket := range map[string]BucketConfig{
		"login":    cfg.RateLimit.Login,
		"recover":  cfg.RateLimit.Recover,
		"register": cfg.RateLimit.Register,
	} {
		if bucket.Points < 1 || bucket.Window <= 0 {
			return fmt.Errorf("invalid %s rate limit budget: %d points / %s", name, bucket.Points, bucket.Window)
		}
	}

	return nil
}
