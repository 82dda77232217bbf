// Command demo wires an AgentRuntime end to end against a real model
// provider and runs one prompt/response interaction, printing the
// assistant's reply and final run state. It is an integration point for
// the execution core, not part of its public API: CLI flag parsing, YAML
// settings, and process-level logging setup all live here and nowhere
// else in the module.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rocisdk/agentcore/agent"
	"github.com/rocisdk/agentcore/compaction"
	"github.com/rocisdk/agentcore/config"
	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/middleware"
	"github.com/rocisdk/agentcore/provider"
	"github.com/rocisdk/agentcore/providers/anthropic"
	"github.com/rocisdk/agentcore/providers/bedrock"
	"github.com/rocisdk/agentcore/providers/openai"
	"github.com/rocisdk/agentcore/store/mongostore"
	"github.com/rocisdk/agentcore/telemetry"
	"github.com/rocisdk/agentcore/tool"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	settingsPath := flag.String("settings", "cmd/demo/settings.example.yaml", "path to the YAML settings file")
	promptOverride := flag.String("prompt", "", "override the settings file's prompt")
	flag.Parse()

	if err := run(*settingsPath, *promptOverride); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

func run(settingsPath, promptOverride string) error {
	s, err := loadSettings(settingsPath)
	if err != nil {
		return err
	}
	if promptOverride != "" {
		s.Prompt = promptOverride
	}

	logger := telemetry.NewNoopLogger()

	registry := buildRegistry(s)
	credentials := config.New()
	if s.APIKey != "" {
		credentials.SetAPIKey(s.Provider, s.APIKey)
	}
	if s.BaseURL != "" {
		credentials.SetBaseURL(s.Provider, s.BaseURL)
	}

	runtime := agent.New(agent.Config{
		ProviderRegistry: registry,
		Credentials:      credentials,
		Logger:           logger,
	})

	if err := runtime.SetSystemPrompt(s.SystemPrompt); err != nil {
		return fmt.Errorf("set system prompt: %w", err)
	}
	if err := runtime.SetModel(s.Provider, s.Model); err != nil {
		return fmt.Errorf("set model: %w", err)
	}
	if err := runtime.SetTools(demoTools()); err != nil {
		return fmt.Errorf("set tools: %w", err)
	}
	maxTokens := s.MaxTokens
	if err := runtime.SetGenerationSettings(provider.Settings{
		MaxTokens:   &maxTokens,
		Temperature: s.Temperature,
	}); err != nil {
		return fmt.Errorf("set generation settings: %w", err)
	}
	if err := runtime.SetMaxIterations(s.MaxIterations); err != nil {
		return fmt.Errorf("set max iterations: %w", err)
	}
	if s.Compaction.Enabled {
		if err := runtime.SetAutoCompaction(&compaction.Settings{
			Enabled:          true,
			ReserveTokens:    s.Compaction.ReserveTokens,
			KeepRecentTokens: s.Compaction.KeepRecentTokens,
		}, s.MaxTokens); err != nil {
			return fmt.Errorf("set auto compaction: %w", err)
		}
	}

	bus := hooks.NewBus()
	sub := bus.Register(hooks.SubscriberFunc(logTurnEvents(logger)))
	defer sub.Close()
	if err := runtime.SetEventSink(hooks.SinkFunc(bus.Publish)); err != nil {
		return fmt.Errorf("set event sink: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), demoTimeout)
	defer cancel()

	if s.Metadata.Enabled {
		store, disconnect, err := connectMetadataStore(ctx, s.Metadata)
		if err != nil {
			return fmt.Errorf("connect metadata store: %w", err)
		}
		defer disconnect()
		if err := runtime.SetMetadataStore(store); err != nil {
			return fmt.Errorf("set metadata store: %w", err)
		}
	}

	if err := runtime.Prompt(ctx, s.Prompt); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	if err := runtime.WaitForIdle(ctx); err != nil {
		return fmt.Errorf("wait for idle: %w", err)
	}

	snap := runtime.Snapshot()
	if snap.LastError != nil {
		return fmt.Errorf("run failed: %s", *snap.LastError)
	}

	messages := runtime.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == message.RoleAssistant {
			fmt.Println(messages[i].Text())
			break
		}
	}

	return nil
}

// connectMetadataStore dials Mongo and returns a mongostore.Store wired for
// the demo run, along with a func to close the underlying client. The
// caller owns disconnecting it once the run is done.
func connectMetadataStore(ctx context.Context, s metadataSettings) (mongostore.Store, func(), error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(s.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("dial mongo: %w", err)
	}
	disconnect := func() { _ = client.Disconnect(context.Background()) }

	store, err := mongostore.New(ctx, mongostore.Options{Client: client, Database: s.Database})
	if err != nil {
		disconnect()
		return nil, nil, err
	}
	return store, disconnect, nil
}

// buildRegistry registers every provider adapter this module ships, keyed
// the way config.Config and settings.provider expect, wrapping each
// factory with the adaptive rate limiter when the settings file asks for
// one.
func buildRegistry(s *settings) *provider.Registry {
	registry := provider.NewRegistry()
	const defaultMaxTokens = 4096
	wrap := wrapWithRateLimiter(s)
	registry.Register(wrap(anthropic.Factory(defaultMaxTokens)), "anthropic")
	registry.Register(wrap(openai.Factory(defaultMaxTokens)), "openai")
	registry.Register(wrap(bedrock.Factory(defaultMaxTokens)), "bedrock")
	return registry
}

// demoTools returns the small, stateless toolset the demo exercises so a
// prompt can trigger at least one tool round trip.
func demoTools() *tool.Registry {
	registry := tool.NewRegistry()
	_ = registry.Register(tool.Func{
		FuncName:        "current_time",
		FuncDescription: "Returns the current UTC time in RFC3339 format.",
		FuncParameters: tool.Parameters{
			Schema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
		},
		FuncExecute: func(_ context.Context, _ json.RawMessage, _ func(json.RawMessage)) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"time": time.Now().UTC().Format(time.RFC3339)})
		},
	})
	return registry
}

// wrapWithRateLimiter applies the adaptive rate limiter middleware to a
// single-shot provider construction path. The demo registry wraps every
// factory output directly, so this is used only when rate_limit.enabled is
// set in the settings file.
func wrapWithRateLimiter(s *settings) func(provider.Factory) provider.Factory {
	if !s.RateLimit.Enabled {
		return func(f provider.Factory) provider.Factory { return f }
	}
	limiter := middleware.NewAdaptiveRateLimiter(s.RateLimit.InitialTPM, s.RateLimit.MaxTPM)
	mw := limiter.Middleware()
	return func(f provider.Factory) provider.Factory {
		return func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
			p, err := f(modelID, settings)
			if err != nil {
				return nil, err
			}
			return mw(p), nil
		}
	}
}

func logTurnEvents(logger telemetry.Logger) func(hooks.Event) {
	ctx := context.Background()
	return func(event hooks.Event) {
		switch ev := event.(type) {
		case hooks.RunFailedEvent:
			logger.Error(ctx, "run failed", "run_id", ev.RunID(), "error", ev.Error)
		case hooks.ToolExecutionStartEvent:
			logger.Debug(ctx, "tool execution started", "run_id", ev.RunID(), "tool", ev.ToolName)
		}
	}
}
