// Provider and store construction from settings.
//
// Information Hiding:
// - API key lookup hidden
// - Storage backend selection hidden

package cli

import (
	"github.com/richinex/colloquy/config"
	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/storage"
)

// CreateClient builds the LLM client for the configured provider.
func CreateClient(settings config.Settings) (*llm.Client, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	provider, err := providerType.
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(provider), nil
}

// OpenStore opens the configured conversation store.
func OpenStore(settings config.Settings) (storage.ConversationStore, error) {
	return storage.Open(settings.Store.Backend, settings.Store.Path)
}
