// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment lookup through viper, with defaults
// - Typed conversion through cast, so malformed values are errors
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/storage"
)

// Storage backends.
const (
	BackendSqlite = storage.BackendSqlite
	BackendBolt   = storage.BackendBolt
	BackendMemory = storage.BackendMemory
)

// Environment keys.
const (
	KeyMaxTokens     = "LLM_MAX_TOKENS"
	KeyTemperature   = "LLM_TEMPERATURE"
	KeyDBPath        = "CHAT_DB_PATH"
	KeyBackend       = "CHAT_BACKEND"
	KeyWindowSize    = "CHAT_WINDOW_SIZE"
	KeyMaxToolRounds = "AGENT_MAX_TOOL_ROUNDS"
	KeySearchAPIKey  = "SEARCHAPI_API_KEY"
	KeyLogLevel      = "LOG_LEVEL"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Agent    AgentConfig
	Store    StoreConfig
	Tools    ToolsConfig
	LogLevel string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// AgentConfig holds agent execution configuration.
type AgentConfig struct {
	// MaxToolRounds bounds the model/tool round trips of one agent run.
	MaxToolRounds int
	// WindowSize is how many recent messages the context-memory chat sends.
	WindowSize int
}

// StoreConfig selects and locates the conversation store.
type StoreConfig struct {
	Backend string
	Path    string
}

// ToolsConfig holds credentials for external tools.
type ToolsConfig struct {
	SearchAPIKey string
}

// newViper returns a viper instance bound to the process environment with
// every default registered.
func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(KeyMaxTokens, 4096)
	v.SetDefault(KeyTemperature, 0.7)
	v.SetDefault(KeyDBPath, ".colloquy/chat_history.db")
	v.SetDefault(KeyBackend, BackendSqlite)
	v.SetDefault(KeyWindowSize, 5)
	v.SetDefault(KeyMaxToolRounds, 5)
	v.SetDefault(KeyLogLevel, "info")
	return v
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return Settings{}, err
	}

	v := newViper()

	maxTokens, err := cast.ToUint32E(v.Get(KeyMaxTokens))
	if err != nil {
		return Settings{}, invalid(v, KeyMaxTokens, err)
	}
	temperature, err := cast.ToFloat64E(v.Get(KeyTemperature))
	if err != nil {
		return Settings{}, invalid(v, KeyTemperature, err)
	}
	windowSize, err := cast.ToIntE(v.Get(KeyWindowSize))
	if err != nil {
		return Settings{}, invalid(v, KeyWindowSize, err)
	}
	maxToolRounds, err := cast.ToIntE(v.Get(KeyMaxToolRounds))
	if err != nil {
		return Settings{}, invalid(v, KeyMaxToolRounds, err)
	}

	settings := Settings{
		LLM: LLMConfig{
			Provider:    pt.String(),
			Model:       modelFor(v, pt),
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Agent: AgentConfig{
			MaxToolRounds: maxToolRounds,
			WindowSize:    windowSize,
		},
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString(KeyBackend)),
			Path:    v.GetString(KeyDBPath),
		},
		Tools: ToolsConfig{
			SearchAPIKey: v.GetString(KeySearchAPIKey),
		},
		LogLevel: v.GetString(KeyLogLevel),
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate checks value ranges that the environment parser cannot.
func (s Settings) Validate() error {
	switch s.Store.Backend {
	case BackendSqlite, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("invalid value for %s: %q (want sqlite, bolt or memory)", KeyBackend, s.Store.Backend)
	}
	if s.Store.Backend != BackendMemory && s.Store.Path == "" {
		return fmt.Errorf("%s must not be empty for the %s backend", KeyDBPath, s.Store.Backend)
	}
	if s.Agent.WindowSize < 1 {
		return fmt.Errorf("invalid value for %s: %d (must be at least 1)", KeyWindowSize, s.Agent.WindowSize)
	}
	if s.Agent.MaxToolRounds < 1 {
		return fmt.Errorf("invalid value for %s: %d (must be at least 1)", KeyMaxToolRounds, s.Agent.MaxToolRounds)
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		return fmt.Errorf("invalid value for %s: %v (must be within [0, 2])", KeyTemperature, s.LLM.Temperature)
	}
	if _, err := s.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel into a slog level.
func (s Settings) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", KeyLogLevel, s.LogLevel, err)
	}
	return level, nil
}

func invalid(v *viper.Viper, key string, err error) error {
	return fmt.Errorf("invalid value for %s: %q: %w", key, v.GetString(key), err)
}

func modelEnv(pt llm.ProviderType) string {
	return strings.ToUpper(pt.String()) + "_MODEL"
}

func modelFor(v *viper.Viper, pt llm.ProviderType) string {
	if model := v.GetString(modelEnv(pt)); model != "" {
		return model
	}
	return pt.DefaultModel()
}

// APIKeyFor returns the API key for a provider from environment variables.
// A missing key is reported as llm.ErrMissingCredential.
func APIKeyFor(provider string) (string, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}

	key := newViper().GetString(pt.EnvVar())
	if key == "" {
		return "", fmt.Errorf("%w: %s environment variable not set", llm.ErrMissingCredential, pt.EnvVar())
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}
	return modelFor(newViper(), pt), nil
}

// SupportedProviders returns the sorted list of supported provider names.
func SupportedProviders() []string {
	all := []llm.ProviderType{llm.ProviderOpenAI, llm.ProviderGroq, llm.ProviderAnthropic, llm.ProviderDeepSeek, llm.ProviderGemini}
	result := make([]string, 0, len(all))
	for _, pt := range all {
		result = append(result, pt.String())
	}
	sort.Strings(result)
	return result
}
