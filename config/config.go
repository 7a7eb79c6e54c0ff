// Package config loads and watches the gateway's YAML configuration file,
// following the teacher's koanf + xdg pattern for local config discovery.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Config is the top-level gateway configuration file structure. json tags
// mirror the koanf ones so config.get/config.set's dot paths address the
// same keys the YAML file uses.
type Config struct {
	Agents   AgentsConfig   `koanf:"agents" json:"agents"`
	Channels ChannelsConfig `koanf:"channels" json:"channels"`
	Tools    ToolsConfig    `koanf:"tools" json:"tools"`
	Gateway  GatewayConfig  `koanf:"gateway" json:"gateway"`
	Logging  LoggingConfig  `koanf:"logging" json:"logging"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `koanf:"defaults" json:"defaults"`
}

type AgentDefaults struct {
	Model             string  `koanf:"model" json:"model"`
	MaxTokens         int     `koanf:"max_tokens" json:"max_tokens"`
	Temperature       float64 `koanf:"temperature" json:"temperature"`
	MaxToolIterations int     `koanf:"max_tool_iterations" json:"max_tool_iterations"`
	BasePersona       string  `koanf:"base_persona" json:"base_persona"`
}

type ChannelsConfig struct {
	Telegram map[string]any `koanf:"telegram" json:"telegram"`
	Discord  map[string]any `koanf:"discord" json:"discord"`
	Slack    map[string]any `koanf:"slack" json:"slack"`
}

type ToolsConfig struct {
	Allow []string `koanf:"allow" json:"allow"`
	Deny  []string `koanf:"deny" json:"deny"`
}

type GatewayConfig struct {
	Port                         int               `koanf:"port" json:"port"`
	Bind                         string            `koanf:"bind" json:"bind"`
	MaxConnectionsPerIPPerMinute int               `koanf:"max_connections_per_ip_per_minute" json:"max_connections_per_ip_per_minute"`
	Auth                         GatewayAuthConfig `koanf:"auth" json:"auth"`
}

type GatewayAuthConfig struct {
	Mode     string `koanf:"mode" json:"mode"`
	Token    string `koanf:"token" json:"token"`
	Password string `koanf:"password" json:"password"`
}

type LoggingConfig struct {
	Level string `koanf:"level" json:"level"`
}

const defaultGatewayPort = 18789

// Default returns a Config populated with the gateway's built-in defaults,
// used when no config file is present.
func Default() Config {
	return Config{
		Agents: AgentsConfig{Defaults: AgentDefaults{
			Model:             "claude-opus-4-5",
			MaxTokens:         16000,
			MaxToolIterations: 10,
		}},
		Gateway: GatewayConfig{
			Port:                         defaultGatewayPort,
			Bind:                         "0.0.0.0",
			MaxConnectionsPerIPPerMinute: 30,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and parses the YAML config file at path. A missing file is
// not an error: it yields Default().
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return cfg, nil
}

// Dir resolves the gateway's config directory, preferring a literal
// ".config" entry in XDG_CONFIG_DIRS when present (matches how the
// teacher's local config resolves a developer-editable path on macOS).
func Dir() string {
	dir := xdg.ConfigHome
	for _, d := range xdg.ConfigDirs {
		if filepath.Base(d) == ".config" {
			dir = d
			break
		}
	}
	return filepath.Join(dir, "gatewaycore")
}

// DefaultPath is the conventional config file location: Dir()/config.yml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yml")
}

// Watcher reloads Config from path whenever the file changes on disk, and
// invokes onChange with the newly parsed config. Parse errors are logged
// and skipped, keeping the last-known-good config in effect.
type Watcher struct {
	path     string
	log      zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange func(Config)
}

// NewWatcher starts watching path's parent directory (fsnotify does not
// reliably follow atomic renames of a watched file itself) and calls
// onChange with the reloaded config on every write/create event for path.
func NewWatcher(path string, log zerolog.Logger, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fw.Close()
		return nil, fmt.Errorf("ensure config dir %s: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	w := &Watcher{path: path, log: log, watcher: fw, onChange: onChange}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
