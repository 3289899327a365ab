package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsprackett/gtdash/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telemetry.PollInterval.Std() != 5*time.Second {
		t.Errorf("poll interval: got %s want 5s", cfg.Telemetry.PollInterval)
	}
	if cfg.Telemetry.AlertCooldown.Std() != time.Minute {
		t.Errorf("alert cooldown: got %s want 1m0s", cfg.Telemetry.AlertCooldown)
	}
	if cfg.Client.EventCap != 100 || cfg.Client.ReconnectDelay.Std() != 3*time.Second {
		t.Errorf("unexpected client defaults %+v", cfg.Client)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"town":"/home/me/gt","telemetry":{"pollInterval":"10s"}}`), 0644)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Town != "/home/me/gt" {
		t.Errorf("got %q want /home/me/gt", cfg.Town)
	}
	if cfg.Telemetry.PollInterval.Std() != 10*time.Second {
		t.Errorf("got %s want 10s", cfg.Telemetry.PollInterval)
	}
	// Unset fields keep their defaults.
	if cfg.Telemetry.CacheTTL.Std() != 2*time.Second {
		t.Errorf("cache ttl: got %s want 2s", cfg.Telemetry.CacheTTL)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "webserver:\n  port: 9090\ndispatch:\n  target: gastown/witness\nclient:\n  reconnectDelay: 500ms\n"
	os.WriteFile(path, []byte(body), 0644)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Webserver.Port != 9090 || cfg.Dispatch.Target != "gastown/witness" {
		t.Errorf("unexpected config %+v %+v", cfg.Webserver, cfg.Dispatch)
	}
	if cfg.Client.ReconnectDelay.Std() != 500*time.Millisecond {
		t.Errorf("got %s want 500ms", cfg.Client.ReconnectDelay)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad duration": `{"telemetry":{"pollInterval":"soon"}}`,
		"numeric":      `{"telemetry":{"pollInterval":5}}`,
		"zero poll":    `{"telemetry":{"pollInterval":"0s"}}`,
		"port":         `{"webserver":{"port":70000}}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".json")
		os.WriteFile(path, []byte(body), 0644)
		if _, err := config.Load(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestDurationMarshalsAsString(t *testing.T) {
	data, err := json.Marshal(config.Defaults().Telemetry)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"pollInterval":"5s"`) {
		t.Errorf("unexpected encoding %s", data)
	}
}
