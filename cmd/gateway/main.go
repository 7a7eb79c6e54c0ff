package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"

	"gatewaycore/agent"
	"gatewaycore/compaction"
	"gatewaycore/config"
	"gatewaycore/core"
	"gatewaycore/credentials"
	"gatewaycore/gateway"
	"gatewaycore/hooks"
	"gatewaycore/llmprovider"
	"gatewaycore/logger"
	"gatewaycore/memory"
	"gatewaycore/pairing"
	"gatewaycore/skills"
	"gatewaycore/store"
	"gatewaycore/tools"
)

// rootCmd is the CLI entrypoint. Its only subcommand is "serve" (channel
// adapters, onboarding, and the rest of the CLI surface are out of
// scope), so operators invoke the binary as "gatewaycore serve".
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatewaycore",
		Short: "Run the gatewaycore agent gateway",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the websocket gateway and agent runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
		}
	}

	log := logger.Get()

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		log = log.Level(level)
	}
	configSnapshot := config.NewSnapshot(cfg)

	creds := credentials.Default()
	anthropicKey, _ := creds.GetSecret("ANTHROPIC_API_KEY")
	openaiKey, _ := creds.GetSecret("OPENAI_API_KEY")
	googleKey, _ := creds.GetSecret("GOOGLE_API_KEY")

	dataHome, err := store.DefaultDataHome()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve session data directory")
	}
	sessionStore := store.NewFileStore(dataHome)

	stateHome, err := logger.StateHome()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve state directory")
	}
	pairingStore := pairing.NewStore(stateHome + "/pairing.json")
	memoryStore := memory.NewStore(stateHome)

	hookRegistry := hooks.NewRegistry(log)

	toolRegistry := tools.NewRegistry()

	var runtime *agent.Runtime

	toolRegistry.Register(tools.SessionsSendTool{Send: func(ctx context.Context, targetSessionHash, text string) (string, error) {
		return sessionsSend(ctx, sessionStore, targetSessionHash, text)
	}})
	toolRegistry.Register(tools.AgentsSpawnTool{
		MaxDepth: maxSpawnDepth,
		Spawn: func(ctx context.Context, parentSessionHash, task string, depth int) (string, error) {
			return agentsSpawn(ctx, sessionStore, runtime, parentSessionHash, task, depth)
		},
	})
	toolRegistry.Register(tools.MemoryGetTool{Get: memoryStore.Get})
	toolRegistry.Register(tools.MemorySetTool{Set: memoryStore.Set})

	provider := llmprovider.RoutingProvider{AnthropicKey: anthropicKey, OpenaiKey: openaiKey, GoogleKey: googleKey}

	compactor := &compaction.Compactor{
		Provider:         provider,
		Hooks:            hookRegistry,
		Model:            cfg.Agents.Defaults.Model,
		MaxContextTokens: defaultMaxContextTokens,
		KeepRecent:       defaultKeepRecentEntries,
		Log:              log,
	}

	runtime = &agent.Runtime{
		Provider:           provider,
		Tools:              toolRegistry,
		Hooks:              hookRegistry,
		Compactor:          compactor,
		BasePersona:        cfg.Agents.Defaults.BasePersona,
		DefaultModel:       cfg.Agents.Defaults.Model,
		DefaultMaxTokens:   cfg.Agents.Defaults.MaxTokens,
		MaxToolIterations:  cfg.Agents.Defaults.MaxToolIterations,
		AutoCompactEnabled: true,
		Log:                log,
	}

	gatewayState := gateway.NewState(sessionStore, runtime, log)

	// The channel router (router.NewRouter) drains per-channel inbound
	// queues from channel adapters; adapters themselves (Telegram, Discord,
	// Slack) are out of scope here, so there is nothing yet to route. The
	// websocket "agent" method is the only inbound path this process wires.

	skillsDir := config.Dir() + "/skills"
	defs, err := skills.LoadDir(skillsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", skillsDir).Msg("failed to load skills directory")
	}
	skillRegistry := skills.NewRegistry(defs)
	log.Info().Int("count", len(skillRegistry.List())).Msg("loaded skill definitions")

	gatewayState.Config = configSnapshot
	gatewayState.Pairing = pairingStore
	gatewayState.Skills = skillRegistry

	hookRegistry.Fire(context.Background(), hooks.GatewayStart, hooks.Context{}, nil)

	limiter := gateway.NewConnRateLimiter(cfg.Gateway.MaxConnectionsPerIPPerMinute)
	server := gateway.NewServer(gatewayState, limiter, log, version(), pairingStore)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Bind, cfg.Gateway.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(addr)
	}()

	watcher, err := config.NewWatcher(config.DefaultPath(), log, func(newCfg config.Config) {
		log.Info().Msg("config reloaded")
		configSnapshot.Replace(newCfg)
	})
	if err != nil {
		log.Warn().Err(err).Msg("config file watching disabled")
	} else {
		defer watcher.Close()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down")
		hookRegistry.Fire(context.Background(), hooks.GatewayStop, hooks.Context{}, nil)
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("gateway server exited")
		}
	}
	return nil
}

const (
	maxSpawnDepth            = 3
	defaultMaxContextTokens  = 100_000
	defaultKeepRecentEntries = 20
)

func version() string {
	if v := os.Getenv("GATEWAYCORE_VERSION"); v != "" {
		return v
	}
	return "dev"
}

// findSessionKey scans the session index for the key hashing to hash,
// since the store is keyed by SessionKey but tools address sessions by
// their opaque hash.
func findSessionKey(st store.Store, hash string) (core.SessionKey, bool, error) {
	metas, err := st.List()
	if err != nil {
		return core.SessionKey{}, false, err
	}
	for _, m := range metas {
		if m.Key.HashKey() == hash {
			return m.Key, true, nil
		}
	}
	return core.SessionKey{}, false, nil
}

// sessionsSend delivers text into the target session's transcript as a
// system{"cross_session_message"} bookkeeping entry, the way a human
// operator's message would be recorded without invoking a fresh agent
// turn; the target session picks it up the next time it runs. The
// sending session's own transcript is left untouched.
func sessionsSend(ctx context.Context, st store.Store, targetHash, text string) (string, error) {
	key, ok, err := findSessionKey(st, targetHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("session %s not found", targetHash)
	}

	messageID := ksuid.New().String()
	entry := core.NewSystemEntry("cross_session_message", mustJSON(map[string]any{
		"message_id": messageID,
		"message":    text,
	}))
	if err := st.AppendEntry(key, entry); err != nil {
		return "", fmt.Errorf("append cross-session message: %w", err)
	}
	_ = ctx
	return messageID, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// agentsSpawn creates a child session scoped under parentHash and starts
// it running task in the background, returning the child's hash
// immediately so the spawning tool call does not block on the child's
// full turn.
func agentsSpawn(ctx context.Context, st store.Store, runtime *agent.Runtime, parentHash, task string, depth int) (string, error) {
	parentKey, ok, err := findSessionKey(st, parentHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("parent session %s not found", parentHash)
	}

	childKey := core.SessionKey{
		Channel:   "agent",
		AccountID: parentKey.AccountID,
		ChatType:  core.ChatTypeThread,
		PeerID:    ksuid.New().String(),
		Scope:     core.ScopePerSender,
	}
	child := core.NewSession(childKey)
	child.Meta.SpawnedBy = parentHash
	child.Meta.SpawnDepth = depth
	if err := st.Save(child); err != nil {
		return "", err
	}

	go func() {
		events := make(chan agent.Event, 64)
		go func() {
			for range events {
			}
		}()
		runtime.Run(context.Background(), child, []core.ContentBlock{core.NewTextBlock(task)}, events)
		close(events)
		st.Save(child) //nolint:errcheck
	}()
	_ = ctx

	return childKey.HashKey(), nil
}
