// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"aidispatch/internal/catalog"
	"aidispatch/internal/core"
	"aidispatch/internal/provider"
	"aidispatch/internal/storage"
	"aidispatch/internal/util"
)

// ServerConfig HTTP surface configuration
type ServerConfig struct {
	Port            string
	GinMode         string
	ClientAPIKeys   []string
	RateLimit       int
	CORSAllowOrigin string
}

// DispatchConfig dispatcher, cache, budget and queue tuning
type DispatchConfig struct {
	DefaultProvider string
	MaxRetries      int
	MaxAttempts     int
	Timeout         time.Duration
	CacheMaxSize    int
	CacheMaxAge     time.Duration
	FuzzyThreshold  float64
	CharsPerToken   float64
	QueueDelay      time.Duration
	PersistInterval time.Duration

	ConversationMaxLength     int
	ConversationSummaryTokens int
}

// Config is the complete environment configuration
type Config struct {
	Server             ServerConfig
	Dispatch           DispatchConfig
	Storage            storage.Options
	HTTPClientSettings provider.HTTPClientSettings
	CatalogPath        string
	Keys               map[string][]string
}

// envLoader collects parse failures so every bad value is reported once.
type envLoader struct {
	logger core.Logger
}

func (l envLoader) warn(err error) {
	if err != nil {
		l.logger.Warn("%v, using default", err)
	}
}

func (l envLoader) intVar(key string, def int) int {
	v, err := util.GetEnvInt(key, def)
	l.warn(err)
	if v <= 0 {
		if err == nil && os.Getenv(key) != "" {
			l.logger.Warn("%s must be positive, using default", key)
		}
		return def
	}
	return v
}

func (l envLoader) floatVar(key string, def float64) float64 {
	v, err := util.GetEnvFloat(key, def)
	l.warn(err)
	if v <= 0 {
		return def
	}
	return v
}

func (l envLoader) durationVar(key string, def time.Duration) time.Duration {
	v, err := util.GetEnvDuration(key, def)
	l.warn(err)
	if v <= 0 {
		return def
	}
	return v
}

// EnvName maps a provider name to its environment variable stem,
// e.g. "openrouter" to "AI_OPENROUTER".
func EnvName(provider string) string {
	var b strings.Builder
	b.WriteString("AI_")
	for _, r := range strings.ToUpper(provider) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// LoadFromEnv loads the configuration. Keys are read for every provider
// named; invalid numeric values log a warning and keep their default.
func LoadFromEnv(providers []string, logger core.Logger) Config {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	env := envLoader{logger: logger}

	clientAPIKeys := util.ParseEnvList(os.Getenv("CLIENT_API_KEYS"))
	if len(clientAPIKeys) == 0 {
		logger.Warn("CLIENT_API_KEYS environment variable is empty")
	} else {
		logger.Info("Loaded %d client API keys", len(clientAPIKeys))
	}

	timeout := core.DefaultTimeout
	if util.GetEnvBool("AI_MOBILE") {
		timeout = core.DefaultMobileTimeout
	}

	config := Config{
		Server: ServerConfig{
			Port:            util.GetEnvWithDefault("PORT", core.DefaultPort),
			GinMode:         util.GetEnvWithDefault("GIN_MODE", core.DefaultGinMode),
			ClientAPIKeys:   clientAPIKeys,
			RateLimit:       env.intVar("RATE_LIMIT", core.DefaultRateLimit),
			CORSAllowOrigin: util.GetEnvWithDefault("CORS_ALLOW_ORIGIN", "*"),
		},
		Dispatch: DispatchConfig{
			DefaultProvider: util.GetEnvWithDefault("AI_DEFAULT_PROVIDER", core.DefaultProvider),
			MaxRetries:      env.intVar("AI_MAX_RETRIES", core.DefaultMaxRetries),
			MaxAttempts:     env.intVar("AI_MAX_ATTEMPTS", core.DefaultMaxAttempts),
			Timeout:         env.durationVar("AI_TIMEOUT", timeout),
			CacheMaxSize:    env.intVar("AI_CACHE_MAX_SIZE", core.CacheDefaultMaxSize),
			CacheMaxAge:     env.durationVar("AI_CACHE_MAX_AGE", core.CacheDefaultMaxAge),
			FuzzyThreshold:  env.floatVar("AI_FUZZY_THRESHOLD", core.DefaultFuzzyThreshold),
			CharsPerToken:   env.floatVar("AI_CHARS_PER_TOKEN", core.DefaultCharsPerToken),
			QueueDelay:      env.durationVar("AI_QUEUE_DELAY", core.DefaultQueueDelay),
			PersistInterval: env.durationVar("AI_PERSIST_INTERVAL", core.DefaultPersistInterval),

			ConversationMaxLength:     env.intVar("AI_CONVERSATION_MAX_LENGTH", core.ConversationMaxLength),
			ConversationSummaryTokens: env.intVar("AI_CONVERSATION_SUMMARY_TOKENS", core.ConversationSummaryTokens),
		},
		Storage: storage.Options{
			RedisURL:   os.Getenv("REDIS_URL"),
			SQLitePath: os.Getenv("SQLITE_PATH"),
			DataDir:    util.GetEnvWithDefault("DATA_DIR", core.DefaultDataDir),
		},
		HTTPClientSettings: provider.DefaultHTTPClientSettings(),
		CatalogPath:        os.Getenv("AI_CATALOG_PATH"),
		Keys:               make(map[string][]string),
	}

	if t := config.Dispatch.FuzzyThreshold; t > 1 {
		logger.Warn("AI_FUZZY_THRESHOLD %.2f is above 1, using default", t)
		config.Dispatch.FuzzyThreshold = core.DefaultFuzzyThreshold
	}

	for _, name := range providers {
		keys := util.ParseEnvList(os.Getenv(EnvName(name) + "_KEYS"))
		if len(keys) == 0 {
			continue
		}
		config.Keys[name] = keys
		logger.Info("Loaded %d keys for %s", len(keys), name)
	}

	return config
}

// ModelOverrides reads AI_<PROVIDER>_MODEL for every provider
func ModelOverrides(providers []string) map[string]string {
	overrides := make(map[string]string)
	for _, name := range providers {
		if model := strings.TrimSpace(os.Getenv(EnvName(name) + "_MODEL")); model != "" {
			overrides[name] = model
		}
	}
	return overrides
}

// LoadCatalog loads the catalog file when one is configured, or the
// built-in catalog, then applies default model overrides.
func LoadCatalog(path string, logger core.Logger) (*catalog.Catalog, error) {
	if logger == nil {
		logger = &core.NopLogger{}
	}

	cat := catalog.Default()
	if path != "" {
		loaded, err := catalog.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		cat = loaded
		logger.Info("Loaded %d models from %s", cat.Len(), path)
	}

	overrides := ModelOverrides(cat.Providers())
	if len(overrides) == 0 {
		return cat, nil
	}
	withDefaults, err := cat.WithDefaults(overrides)
	if err != nil {
		return nil, fmt.Errorf("invalid default model override: %w", err)
	}
	return withDefaults, nil
}

// Load reads the catalog named by AI_CATALOG_PATH and then the environment
// configuration for the providers it lists.
func Load(logger core.Logger) (Config, *catalog.Catalog, error) {
	cat, err := LoadCatalog(os.Getenv("AI_CATALOG_PATH"), logger)
	if err != nil {
		return Config{}, nil, err
	}
	return LoadFromEnv(cat.Providers(), logger), cat, nil
}
