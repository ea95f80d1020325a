package models

// Config holds the application configuration
type Config struct {
	Database             DatabaseConfig  `json:"database"`
	Processor            ProcessorConfig `json:"processor"`
	Channel              ChannelConfig   `json:"channel"`
	Server               ServerConfig    `json:"server"`
	Tracing              TracingConfig   `json:"tracing"`
	LogLevel             string          `json:"log_level"`
	RetentionDays        int             `json:"retention_days"`
	CleanupIntervalHours int             `json:"cleanup_interval_hours"`
}

// DatabaseConfig selects the storage dialect. Path is used by sqlite3, DSN by postgres.
type DatabaseConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
}

// ProcessorConfig controls the dispatch cycle and retry policy
type ProcessorConfig struct {
	Enabled           bool   `json:"enabled"`
	IntervalSec       int    `json:"interval_sec"`
	BatchSize         int    `json:"batch_size"`
	MaxRetries        int    `json:"max_retries"`
	BackoffInitialSec int    `json:"backoff_initial_sec"`
	BackoffMaxSec     int    `json:"backoff_max_sec"`
	FastFailPermanent bool   `json:"fast_fail_permanent"`
	StaleClaimMinutes int    `json:"stale_claim_minutes"`
	InstanceID        string `json:"instance_id"`
}

// ChannelConfig selects and configures the transmission backend
type ChannelConfig struct {
	Provider       string               `json:"provider"`
	DefaultSender  string               `json:"default_sender"`
	HTTP           HTTPChannelConfig    `json:"http"`
	SMTP           SMTPChannelConfig    `json:"smtp"`
	AMQP           AMQPChannelConfig    `json:"amqp"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

type HTTPChannelConfig struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeout_sec"`
}

type SMTPChannelConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Helo         string `json:"helo"`
	DKIMSelector string `json:"dkim_selector"`
	DKIMDomain   string `json:"dkim_domain"`
	DKIMKeyPath  string `json:"dkim_key_path"`
	TimeoutSec   int    `json:"timeout_sec"`
}

type AMQPChannelConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// CircuitBreakerConfig guards the channel; MaxFailures of 0 disables it
type CircuitBreakerConfig struct {
	MaxFailures int `json:"max_failures"`
	TimeoutSec  int `json:"timeout_sec"`
}

// ServerConfig holds admin HTTP API settings
type ServerConfig struct {
	Port            int    `json:"port"`
	AdminToken      string `json:"admin_token"`
	ReadTimeoutSec  int    `json:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec"`
	IdleTimeoutSec  int    `json:"idle_timeout_sec"`
}

// TracingConfig mirrors tracing.TracingConfig for JSON loading
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
