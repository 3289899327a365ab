package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from and written as a Go duration string
// such as "5s" or "1m30s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type WebserverConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`
}

type TelemetryConfig struct {
	PollInterval   Duration `json:"pollInterval" yaml:"pollInterval"`
	AlertCooldown  Duration `json:"alertCooldown" yaml:"alertCooldown"`
	CacheTTL       Duration `json:"cacheTTL" yaml:"cacheTTL"`
	CommandTimeout Duration `json:"commandTimeout" yaml:"commandTimeout"`
	// AlertRetention bounds the stored alert log. Zero keeps everything.
	AlertRetention Duration `json:"alertRetention" yaml:"alertRetention"`
}

type LogsConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Command      []string `json:"command,omitempty" yaml:"command,omitempty"`
	BufferSize   int      `json:"bufferSize" yaml:"bufferSize"`
	RestartDelay Duration `json:"restartDelay" yaml:"restartDelay"`
}

type DispatchConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Target       string   `json:"target" yaml:"target"`
	PollInterval Duration `json:"pollInterval" yaml:"pollInterval"`
	History      int      `json:"history" yaml:"history"`
	// KeepMessages bounds the stored transcript. Zero keeps everything.
	KeepMessages int `json:"keepMessages" yaml:"keepMessages"`
}

type ClientConfig struct {
	Server         string   `json:"server" yaml:"server"`
	ReconnectDelay Duration `json:"reconnectDelay" yaml:"reconnectDelay"`
	EventCap       int      `json:"eventCap" yaml:"eventCap"`
	DedupWindow    Duration `json:"dedupWindow" yaml:"dedupWindow"`
}

type NotificationsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Desktop       bool   `json:"desktop" yaml:"desktop"`
	Webhook       string `json:"webhook" yaml:"webhook"`
	NtfyURL       string `json:"ntfy" yaml:"ntfy"`
	AllSeverities bool   `json:"allSeverities" yaml:"allSeverities"`
}

type Config struct {
	// Town is the town root. Empty means search upward from the working
	// directory.
	Town          string              `json:"town" yaml:"town"`
	GTBin         string              `json:"gtBin" yaml:"gtBin"`
	BDBin         string              `json:"bdBin" yaml:"bdBin"`
	TmuxBin       string              `json:"tmuxBin" yaml:"tmuxBin"`
	DBPath        string              `json:"dbPath" yaml:"dbPath"`
	LogDir        string              `json:"logDir" yaml:"logDir"`
	LogLevel      string              `json:"logLevel" yaml:"logLevel"`
	LogFormat     string              `json:"logFormat" yaml:"logFormat"`
	Webserver     WebserverConfig     `json:"webserver" yaml:"webserver"`
	Telemetry     TelemetryConfig     `json:"telemetry" yaml:"telemetry"`
	Logs          LogsConfig          `json:"logs" yaml:"logs"`
	Dispatch      DispatchConfig      `json:"dispatch" yaml:"dispatch"`
	Client        ClientConfig        `json:"client" yaml:"client"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
}

func Defaults() Config {
	return Config{
		GTBin:     "gt",
		BDBin:     "bd",
		TmuxBin:   "tmux",
		DBPath:    DBPath(),
		LogDir:    filepath.Join(Dir(), "logs"),
		LogLevel:  "info",
		LogFormat: "text",
		Webserver: WebserverConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Telemetry: TelemetryConfig{
			PollInterval:   Duration(5 * time.Second),
			AlertCooldown:  Duration(60 * time.Second),
			CacheTTL:       Duration(2 * time.Second),
			CommandTimeout: Duration(15 * time.Second),
			AlertRetention: Duration(7 * 24 * time.Hour),
		},
		Logs: LogsConfig{
			Enabled:      true,
			BufferSize:   200,
			RestartDelay: Duration(2 * time.Second),
		},
		Dispatch: DispatchConfig{
			Enabled:      true,
			Target:       "mayor",
			PollInterval: Duration(2 * time.Second),
			History:      50,
			KeepMessages: 1000,
		},
		Client: ClientConfig{
			Server:         "http://127.0.0.1:8080",
			ReconnectDelay: Duration(3 * time.Second),
			EventCap:       100,
			DedupWindow:    Duration(time.Second),
		},
		Notifications: NotificationsConfig{Desktop: true},
	}
}

// Dir is the per-user state directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gtdash")
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

func DBPath() string {
	return filepath.Join(Dir(), "state.db")
}

// Load reads path over the defaults. A missing file yields the defaults.
// Files ending in .yaml or .yml are read as YAML, anything else as JSON.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	if c.Webserver.Port < 0 || c.Webserver.Port > 65535 {
		return fmt.Errorf("webserver.port %d out of range", c.Webserver.Port)
	}
	for name, d := range map[string]Duration{
		"telemetry.pollInterval":   c.Telemetry.PollInterval,
		"telemetry.commandTimeout": c.Telemetry.CommandTimeout,
		"client.reconnectDelay":    c.Client.ReconnectDelay,
		"dispatch.pollInterval":    c.Dispatch.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Telemetry.AlertCooldown < 0 || c.Telemetry.CacheTTL < 0 {
		return errors.New("telemetry durations must not be negative")
	}
	if c.Dispatch.KeepMessages < 0 {
		return fmt.Errorf("dispatch.keepMessages must not be negative, got %d", c.Dispatch.KeepMessages)
	}
	if c.Client.EventCap <= 0 {
		return fmt.Errorf("client.eventCap must be positive, got %d", c.Client.EventCap)
	}
	return nil
}
