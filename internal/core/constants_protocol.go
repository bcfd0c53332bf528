package core

// Default server config constants
const (
	DefaultPort      = "7860"
	DefaultGinMode   = "release"
	DefaultRateLimit = 120
	CORSMaxAge       = "86400"
)

// Content type and header constants
const (
	ContentTypeEventStream = "text/event-stream"
	ContentTypeJSON        = "application/json"
	CacheControlNoCache    = "no-cache"
	ConnectionKeepAlive    = "keep-alive"
	HeaderContentType      = "Content-Type"
	HeaderAuthorization    = "Authorization"
	HeaderAccept           = "Accept"
	HeaderCacheControl     = "Cache-Control"
	HeaderConnection       = "Connection"
	HeaderXAPIKey          = "x-api-key"
	HeaderGoogAPIKey       = "x-goog-api-key"
	HeaderRequestID        = "X-Request-ID"
	AuthBearerPrefix       = "Bearer "
)

// Role constants
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleGemini    = "model"
)

// Provider wire protocol identifiers
const (
	ProtocolOpenAI = "openai"
	ProtocolGemini = "gemini"
)

// Event type identifiers
const (
	EventRequestStart     = "request:start"
	EventCacheHit         = "cache:hit"
	EventAttemptStart     = "attempt:start"
	EventAttemptFailed    = "attempt:failed"
	EventKeyRotated       = "key:rotated"
	EventFallbackModel    = "fallback:model"
	EventFallbackProvider = "fallback:provider"
	EventRequestComplete  = "request:complete"
	EventRequestError     = "request:error"

	EventConversationSummarized = "conversation:summarized"
)

// Server-sent event framing and extra status codes
const (
	StreamChunkPrefix         = "data: "
	StreamChunkDoneMessage    = "[DONE]"
	StatusClientClosedRequest = 499
	MaxQueryBest              = 50
)
