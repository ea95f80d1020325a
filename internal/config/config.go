package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"dispatchq/internal/constants"
	"dispatchq/internal/models"
	"dispatchq/internal/security"
	"dispatchq/internal/validation"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
	ErrMissingDBDSN        = models.ConfigError{Message: "postgres driver requires database.dsn (or DISPATCHQ_DB_DSN)"}
	ErrMissingHTTPEndpoint = models.ConfigError{Message: "http channel requires channel.http.endpoint"}
	ErrMissingSMTPHost     = models.ConfigError{Message: "smtp channel requires channel.smtp.host"}
	ErrMissingAMQPURL      = models.ConfigError{Message: "amqp channel requires channel.amqp.url (or DISPATCHQ_AMQP_URL)"}
)

// Environment variables that override file settings
const (
	EnvEnvironment     = "DISPATCHQ_ENV"
	EnvLogLevel        = "DISPATCHQ_LOG_LEVEL"
	EnvDBDriver        = "DISPATCHQ_DB_DRIVER"
	EnvDBPath          = "DISPATCHQ_DB_PATH"
	EnvDBDSN           = "DISPATCHQ_DB_DSN"
	EnvChannelProvider = "DISPATCHQ_CHANNEL_PROVIDER"
	EnvHTTPAPIKey      = "DISPATCHQ_HTTP_API_KEY"
	EnvSMTPPassword    = "DISPATCHQ_SMTP_PASSWORD"
	EnvAMQPURL         = "DISPATCHQ_AMQP_URL"
	EnvAdminToken      = "DISPATCHQ_ADMIN_TOKEN"
	EnvPort            = "PORT"
)

// LoadEnvFile loads variables from a dotenv file without overriding the existing environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Default returns the configuration used for every field the file leaves out
func Default() *models.Config {
	return &models.Config{
		LogLevel:             constants.DefaultLogLevel,
		RetentionDays:        constants.DefaultRetentionDays,
		CleanupIntervalHours: constants.DefaultCleanupIntervalHours,
		Database: models.DatabaseConfig{
			Driver: constants.DefaultDatabaseDriver,
			Path:   constants.DefaultDatabasePath,
		},
		Processor: models.ProcessorConfig{
			Enabled:           true,
			IntervalSec:       constants.DefaultProcessorIntervalSec,
			BatchSize:         constants.DefaultBatchSize,
			MaxRetries:        constants.DefaultMaxRetries,
			BackoffInitialSec: constants.DefaultBackoffInitialSec,
			BackoffMaxSec:     constants.DefaultBackoffMaxSec,
			StaleClaimMinutes: constants.DefaultStaleClaimMinutes,
		},
		Channel: models.ChannelConfig{
			Provider:      constants.DefaultChannelProvider,
			DefaultSender: constants.DefaultSender,
			HTTP:          models.HTTPChannelConfig{TimeoutSec: constants.DefaultChannelTimeoutSec},
			SMTP: models.SMTPChannelConfig{
				Port:       constants.DefaultSMTPPort,
				TimeoutSec: constants.DefaultChannelTimeoutSec,
			},
			AMQP: models.AMQPChannelConfig{RoutingKey: constants.DefaultAMQPRoutingKey},
			CircuitBreaker: models.CircuitBreakerConfig{
				MaxFailures: constants.DefaultCircuitBreakerFailures,
				TimeoutSec:  constants.DefaultCircuitBreakerTimeoutSec,
			},
		},
		Server: models.ServerConfig{
			Port:            constants.DefaultServerPort,
			ReadTimeoutSec:  constants.DefaultServerReadTimeoutSec,
			WriteTimeoutSec: constants.DefaultServerWriteTimeoutSec,
			IdleTimeoutSec:  constants.DefaultServerIdleTimeoutSec,
		},
		Tracing: models.TracingConfig{
			ServiceName: "dispatchq",
			SampleRate:  0.1,
			UseStdout:   true,
		},
	}
}

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(config); err != nil {
		return nil, err
	}

	return config, nil
}

func validate(c *models.Config) error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level %q", c.LogLevel)}
	}

	switch c.Database.Driver {
	case "", constants.DefaultDatabaseDriver:
		c.Database.Driver = constants.DefaultDatabaseDriver
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
	case "postgres":
		if c.Database.DSN == "" {
			return ErrMissingDBDSN
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported database driver %q", c.Database.Driver)}
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.CleanupIntervalHours <= 0 {
		c.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}

	if err := validateProcessor(&c.Processor); err != nil {
		return err
	}
	if err := validateChannel(&c.Channel); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "dispatchq"
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}
	return nil
}

func validateProcessor(p *models.ProcessorConfig) error {
	if p.IntervalSec <= 0 {
		p.IntervalSec = constants.DefaultProcessorIntervalSec
	}
	if p.BatchSize <= 0 {
		p.BatchSize = constants.DefaultBatchSize
	}
	if p.BatchSize > constants.MaxBatchSize {
		return models.ConfigError{Message: fmt.Sprintf("processor.batch_size cannot exceed %d", constants.MaxBatchSize)}
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = constants.DefaultMaxRetries
	}
	if p.MaxRetries > constants.MaxAllowedRetries {
		return models.ConfigError{Message: fmt.Sprintf("processor.max_retries cannot exceed %d", constants.MaxAllowedRetries)}
	}
	if p.BackoffInitialSec <= 0 {
		p.BackoffInitialSec = constants.DefaultBackoffInitialSec
	}
	if p.BackoffMaxSec <= 0 {
		p.BackoffMaxSec = constants.DefaultBackoffMaxSec
	}
	if p.BackoffMaxSec < p.BackoffInitialSec {
		return models.ConfigError{Message: "processor.backoff_max_sec must not be below backoff_initial_sec"}
	}
	if p.StaleClaimMinutes <= 0 {
		p.StaleClaimMinutes = constants.DefaultStaleClaimMinutes
	}
	return nil
}

func validateChannel(c *models.ChannelConfig) error {
	if c.DefaultSender == "" {
		c.DefaultSender = constants.DefaultSender
	}
	if err := validation.ValidateEmail("channel.default_sender", c.DefaultSender); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid channel.default_sender %q", c.DefaultSender)}
	}

	if c.HTTP.TimeoutSec <= 0 {
		c.HTTP.TimeoutSec = constants.DefaultChannelTimeoutSec
	}
	if c.SMTP.TimeoutSec <= 0 {
		c.SMTP.TimeoutSec = constants.DefaultChannelTimeoutSec
	}
	if c.SMTP.Port <= 0 {
		c.SMTP.Port = constants.DefaultSMTPPort
	}
	if c.CircuitBreaker.MaxFailures < 0 {
		return models.ConfigError{Message: "channel.circuit_breaker.max_failures cannot be negative"}
	}
	if c.CircuitBreaker.TimeoutSec <= 0 {
		c.CircuitBreaker.TimeoutSec = constants.DefaultCircuitBreakerTimeoutSec
	}

	switch c.Provider {
	case "":
		c.Provider = constants.DefaultChannelProvider
	case constants.ProviderLog:
	case constants.ProviderHTTP:
		if c.HTTP.Endpoint == "" {
			return ErrMissingHTTPEndpoint
		}
	case constants.ProviderSMTP:
		if c.SMTP.Host == "" {
			return ErrMissingSMTPHost
		}
	case constants.ProviderAMQP:
		if c.AMQP.URL == "" {
			return ErrMissingAMQPURL
		}
		if c.AMQP.Exchange == "" && c.AMQP.RoutingKey == "" {
			c.AMQP.RoutingKey = constants.DefaultAMQPRoutingKey
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown channel provider %q", c.Provider)}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}

	if driver := os.Getenv(EnvDBDriver); driver != "" {
		c.Database.Driver = driver
	}
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Database.Path = path
	}
	if dsn := os.Getenv(EnvDBDSN); dsn != "" {
		c.Database.DSN = dsn
	}

	if provider := os.Getenv(EnvChannelProvider); provider != "" {
		c.Channel.Provider = provider
	}

	// SECURITY: credentials should be set via environment variables
	if key := os.Getenv(EnvHTTPAPIKey); key != "" {
		c.Channel.HTTP.APIKey = key
	}
	if password := os.Getenv(EnvSMTPPassword); password != "" {
		c.Channel.SMTP.Password = password
	}
	if url := os.Getenv(EnvAMQPURL); url != "" {
		c.Channel.AMQP.URL = url
	}
	if token := os.Getenv(EnvAdminToken); token != "" {
		c.Server.AdminToken = token
	}

	if port := os.Getenv(EnvPort); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// IsProduction reports whether DISPATCHQ_ENV selects production mode
func IsProduction() bool {
	return os.Getenv(EnvEnvironment) == "production"
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		// In production, the admin API must be protected
		if c.Server.AdminToken == "" {
			return models.ConfigError{Message: "admin token is required in production (set DISPATCHQ_ADMIN_TOKEN environment variable)"}
		}

		if len(c.Server.AdminToken) < constants.MinSecretLength {
			return models.ConfigError{Message: fmt.Sprintf("admin token must be at least %d characters long", constants.MinSecretLength)}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Server.AdminToken == "" {
		fmt.Fprintf(os.Stderr, "WARNING: admin token not set. Set DISPATCHQ_ADMIN_TOKEN environment variable to protect the admin API.\n")
	}

	return nil
}
