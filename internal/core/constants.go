package core

import "time"

// Persistence keys for the blob store
const (
	StorageKeyStats        = "ai_module_stats"
	StorageKeyRateLimit    = "ai_module_ratelimit"
	StorageKeyCache        = "ai_response_cache"
	StorageKeyCredentials  = "ai_module_multikeys"
	StorageKeyConversation = "ai_module_conversation"
)

// Dispatcher defaults
const (
	DefaultProvider      = "groq"
	DefaultMaxRetries    = 3
	DefaultMaxAttempts   = 10
	DefaultTimeout       = 90 * time.Second
	DefaultMobileTimeout = 120 * time.Second
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 4096
	DefaultParallelLimit = 3
	DefaultProviderRPM   = 15
	RateLimitWindow      = 60 * time.Second
	BackoffBase          = time.Second
	TimeoutRetries       = 1
	PromptPreviewLength  = 50
	SecretPreviewLength  = 10
	MinCredentialLength  = 10
)

// Response cache defaults
const (
	CacheDefaultMaxSize    = 100
	CacheDefaultMaxAge     = time.Hour
	CacheFingerprintLength = 150
	CachePersistedEntries  = 50
	DefaultFuzzyThreshold  = 0.85
)

// Conversation log constants
const (
	ConversationMaxLength     = 20
	ConversationMinSummarize  = 4
	ConversationKeepLast      = 2
	ConversationSummaryTokens = 2000
	ConversationSummaryTemp   = 0.3
	ConversationSummaryMaxOut = 512
)

// Model ranking constants
const (
	RankMinRPM         = 20
	BalancedMinQuality = 80
	DefaultModelSpeed  = 80
)

// Token budget defaults
const (
	DefaultCharsPerToken  = 3.5
	TokensPerLine         = 10
	SmartTruncateMinLines = 50
)

// Request queue and persistence defaults
const (
	DefaultQueueDelay      = time.Second
	DefaultPersistInterval = 30 * time.Second
	DefaultDataDir         = "data"
	HistoryBufferSize      = 1000
)

// HTTP client config constants
const (
	HTTPMaxIdleConns          = 100
	HTTPMaxIdleConnsPerHost   = 20
	HTTPMaxConnsPerHost       = 50
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 15 * time.Second
	HTTPResponseHeaderTimeout = 60 * time.Second
	HTTPExpectContinueTimeout = 5 * time.Second
)

// Response body size limits
const (
	MaxResponseBodySize = 10 * 1024 * 1024
	MaxErrorBodySize    = 64 * 1024
	MaxRequestBodySize  = 4 * 1024 * 1024
)

// Logging config constants
const (
	MaxLogFilePathLength = 260
)

// File permission constants
const (
	FilePermissionReadWrite = 0644
	DirPermission           = 0o750
)

// Time format constants
const (
	TimeFormatDateTime = "2006-01-02 15:04:05"
	TimeFormatDate     = "2006-01-02"
)
