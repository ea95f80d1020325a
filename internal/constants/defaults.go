package constants

import "time"

// Default processor configuration values
const (
	DefaultProcessorIntervalSec = 30
	DefaultBatchSize            = 10
	DefaultMaxRetries           = 3
	MaxAllowedRetries           = 20
	DefaultBackoffInitialSec    = 120
	DefaultBackoffMaxSec        = 86400
	DefaultStaleClaimMinutes    = 15
	DefaultRetentionDays        = 30
	DefaultCleanupIntervalHours = 24
)

// Message defaults
const (
	DefaultPriority      = 5
	MinPriority          = 1
	MaxPriority          = 10
	MaxSubjectLength     = 998
	MaxMessageTypeLength = 64
	MaxMessageIDLength   = 128
	MaxTemplateNameLen   = 128
	DefaultListLimit     = 50
	MaxListLimit         = 500
)

// MaxScheduleHorizon bounds scheduled_for. Times are stored as unix
// nanoseconds, which overflow in 2262.
const MaxScheduleHorizon = 10 * 365 * 24 * time.Hour

// Channel provider names accepted in configuration
const (
	ProviderLog  = "log"
	ProviderHTTP = "http"
	ProviderSMTP = "smtp"
	ProviderAMQP = "amqp"
)

// Default channel values
const (
	DefaultChannelProvider          = ProviderLog
	DefaultSender                   = "no-reply@example.com"
	DefaultChannelTimeoutSec        = 30
	DefaultSMTPPort                 = 587
	DefaultAMQPRoutingKey           = "notifications"
	DefaultCircuitBreakerFailures   = 5
	DefaultCircuitBreakerTimeoutSec = 60
	MinSecretLength                 = 32
)

// Default storage and logging values
const (
	DefaultDatabaseDriver = "sqlite3"
	DefaultDatabasePath   = "dispatchq.db"
	DefaultLogLevel       = "info"
	MaxBatchSize          = 1000
)

// Default server values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	ServerErrorChannelSize       = 1
	MaxRequestBodyBytes          = 1 << 20
)

// Privacy settings
const (
	DefaultEmailMaskLength = 2
	DefaultMessageIDLength = 8
)

// Encryption salts
const (
	EncryptionSalt = "dispatchq-field-encryption-v1"
)
