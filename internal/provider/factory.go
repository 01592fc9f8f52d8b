package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"scriptgate/internal/config"
	"scriptgate/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches text generation providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	invoker      Invoker
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors
// registered. invoker backs the script provider and may be nil when that
// provider is not enabled.
func NewFactory(cfg *config.Config, invoker Invoker, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		invoker:      invoker,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func timeout(pc config.ProviderConfig) time.Duration {
	return time.Duration(pc.TimeoutSeconds) * time.Second
}

func (f *Factory) registerDefaults() {
	f.constructors["claude"] = func(_ string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout(pc), Logger: logger})
	}
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: timeout(pc), Logger: logger})
	}
	f.constructors["ollama"] = func(_ string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Timeout: timeout(pc), Logger: logger})
	}
	f.constructors["script"] = func(_ string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewScript(ScriptConfig{Target: pc.Target, Invoker: f.invoker, Logger: logger})
	}
}

// Get returns the named provider, or the chat provider if name is empty.
// Instances are cached.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.Chat.Provider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	if name == "script" && f.invoker == nil {
		return nil, fmt.Errorf("provider script: no runner available")
	}

	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		p = ctor(name, pc, f.logger)
	} else if pc.APIBase != "" {
		// Unknown names are treated as OpenAI-compatible endpoints.
		p = f.constructors["openai"](name, pc, f.logger)
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// ChatProvider returns the provider configured for the chat route.
func (f *Factory) ChatProvider() (domain.Provider, error) {
	return f.Get("")
}

// Status is one provider's health probe result.
type Status struct {
	Name    string
	Enabled bool
	Err     error
}

// CheckAll probes every configured provider, sorted by name. Disabled
// providers are listed but not probed.
func (f *Factory) CheckAll(ctx context.Context) []Status {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		st := Status{Name: name, Enabled: f.cfg.Providers[name].Enabled}
		if st.Enabled {
			p, err := f.Get(name)
			if err == nil {
				err = p.Healthy(ctx)
			}
			st.Err = err
		}
		out = append(out, st)
	}
	return out
}
