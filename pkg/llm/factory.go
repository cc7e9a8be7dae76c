package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ModelConfig configures a model client created through the factory.
type ModelConfig struct {
	// ModelName selects the provider and model, e.g. "claude-sonnet-4-5"
	// or "gpt-4o".
	ModelName string

	// APIKey overrides the provider's environment variable when set.
	APIKey string

	// Default generation settings; zero values defer to the adapter.
	MaxTokens   int
	Temperature *float64
}

// OpenFunc builds a client for a model config.
type OpenFunc func(ModelConfig) (Client, error)

type provider struct {
	name    string
	matches func(model string) bool
	open    OpenFunc
}

var (
	providersMu sync.RWMutex
	providers   []provider
)

// RegisterProvider makes a model family available to Factory. Adapters call
// it from init, so importing an adapter package is what enables its models,
// the same way database/sql drivers register themselves.
func RegisterProvider(name string, matches func(model string) bool, open OpenFunc) {
	if name == "" || matches == nil || open == nil {
		panic("llm: RegisterProvider called with incomplete provider")
	}
	providersMu.Lock()
	defer providersMu.Unlock()
	for _, p := range providers {
		if p.name == name {
			panic(fmt.Sprintf("llm: provider %q registered twice", name))
		}
	}
	providers = append(providers, provider{name: name, matches: matches, open: open})
}

// Factory returns a client for the configured model: claude models map to
// the Anthropic adapter, gpt and o- families to the OpenAI adapter. The
// adapter packages must be imported for their families to be available.
func Factory(cfg ModelConfig) (Client, error) {
	model := strings.ToLower(strings.TrimSpace(cfg.ModelName))
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	providersMu.RLock()
	defer providersMu.RUnlock()

	if len(providers) == 0 {
		return nil, fmt.Errorf("no model providers registered; import the provider packages")
	}

	for _, p := range providers {
		if p.matches(model) {
			return p.open(cfg)
		}
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unsupported model %q; registered providers: %s",
		cfg.ModelName, strings.Join(names, ", "))
}
