package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Group != "rollout" {
		t.Fatalf("group = %q", cfg.Group)
	}
	if cfg.Coordinator.NumActors != 1 || cfg.Coordinator.NumEvalActors != 1 {
		t.Fatalf("coordinator defaults = %+v", cfg.Coordinator)
	}
	if cfg.Worker.RouterPort != 9100 {
		t.Fatalf("worker defaults = %+v", cfg.Worker)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout.yaml")
	content := `
group: trainers
coordinator:
  num_actors: 4
  num_eval_actors: 2
  max_staleness: 1
  receive_timeout_ms: 250
worker:
  router_host: coord.internal
  router_port: 9200
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Group != "trainers" {
		t.Fatalf("group = %q", cfg.Group)
	}
	if cfg.Coordinator.NumActors != 4 || cfg.Coordinator.MaxStaleness != 1 {
		t.Fatalf("coordinator = %+v", cfg.Coordinator)
	}
	if got := cfg.Coordinator.ReceiveTimeout().Milliseconds(); got != 250 {
		t.Fatalf("receive timeout = %dms", got)
	}
	if cfg.Worker.RouterHost != "coord.internal" || cfg.Worker.RouterPort != 9200 {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
}

func TestWorkerBootstrapFromEnv(t *testing.T) {
	t.Setenv("WORKER_ID", "actor-7")
	t.Setenv("ROUTER_HOST", "10.0.0.5")
	t.Setenv("ROUTER_PORT", "9300")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.ID != "actor-7" {
		t.Fatalf("worker id = %q", cfg.Worker.ID)
	}
	if cfg.Worker.RouterHost != "10.0.0.5" || cfg.Worker.RouterPort != 9300 {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"eval actors exceed actors", func(c *Config) { c.Coordinator.NumEvalActors = 5 }},
		{"zero actors", func(c *Config) { c.Coordinator.NumActors = 0 }},
		{"negative staleness", func(c *Config) { c.Coordinator.MaxStaleness = -1 }},
		{"negative steps", func(c *Config) { c.Coordinator.NumSteps = -3 }},
		{"empty group", func(c *Config) { c.Group = "" }},
		{"bad port", func(c *Config) { c.Worker.RouterPort = 0 }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed", tc.name)
		}
	}
}
