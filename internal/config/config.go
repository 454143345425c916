// Package config loads coordinator and worker settings from an optional
// config file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for both binaries.
type Config struct {
	Group       string            `mapstructure:"group"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CoordinatorConfig controls the quorum coordinator process.
type CoordinatorConfig struct {
	// ListenAddr is the host:port the bus hub binds to.
	ListenAddr string `mapstructure:"listen_addr"`
	// NumActors is the roster size to wait for before training starts.
	NumActors int `mapstructure:"num_actors"`
	// NumEvalActors is how many actors each evaluation samples.
	NumEvalActors int `mapstructure:"num_eval_actors"`
	// NumSteps bounds each collect round; 0 runs to episode end.
	NumSteps int `mapstructure:"num_steps"`
	// MaxReceiveAttempts bounds the gather loop; 0 defaults to the
	// roster size.
	MaxReceiveAttempts int `mapstructure:"max_receive_attempts"`
	// ReceiveTimeoutMS bounds each receive attempt; 0 blocks.
	ReceiveTimeoutMS int `mapstructure:"receive_timeout_ms"`
	// MaxStaleness is the oldest tolerated segment lag.
	MaxStaleness int `mapstructure:"max_staleness"`
	// RequireFullQuorum makes a partial round an error.
	RequireFullQuorum bool `mapstructure:"require_full_quorum"`
	// Episodes is how many episodes the training loop runs.
	Episodes int `mapstructure:"episodes"`
	// EvalInterval evaluates every n episodes; 0 disables evaluation.
	EvalInterval int `mapstructure:"eval_interval"`
	Seed         int64 `mapstructure:"seed"`
}

// ReceiveTimeout converts the millisecond setting to a duration.
func (c CoordinatorConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMS) * time.Millisecond
}

// WorkerConfig controls a rollout worker process. ID, RouterHost and
// RouterPort bind to the WORKER_ID, ROUTER_HOST and ROUTER_PORT
// environment variables.
type WorkerConfig struct {
	ID         string `mapstructure:"id"`
	RouterHost string `mapstructure:"router_host"`
	RouterPort int    `mapstructure:"router_port"`
	Seed       int64  `mapstructure:"seed"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file (optional), layered
// under environment variables, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("group", "rollout")
	v.SetDefault("coordinator.listen_addr", "0.0.0.0:9100")
	v.SetDefault("coordinator.num_actors", 1)
	v.SetDefault("coordinator.num_eval_actors", 1)
	v.SetDefault("coordinator.num_steps", 0)
	v.SetDefault("coordinator.max_receive_attempts", 0)
	v.SetDefault("coordinator.receive_timeout_ms", 0)
	v.SetDefault("coordinator.max_staleness", 0)
	v.SetDefault("coordinator.require_full_quorum", false)
	v.SetDefault("coordinator.episodes", 10)
	v.SetDefault("coordinator.eval_interval", 0)
	v.SetDefault("coordinator.seed", 0)
	v.SetDefault("worker.id", "")
	v.SetDefault("worker.router_host", "127.0.0.1")
	v.SetDefault("worker.router_port", 9100)
	v.SetDefault("worker.seed", 0)
	v.SetDefault("logging.level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the bootstrap variables the workers are launched with
	mustBindEnv(v, "worker.id", "WORKER_ID")
	mustBindEnv(v, "worker.router_host", "ROUTER_HOST")
	mustBindEnv(v, "worker.router_port", "ROUTER_PORT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mustBindEnv(v *viper.Viper, key, envVar string) {
	// BindEnv only errors on an empty key
	if err := v.BindEnv(key, envVar); err != nil {
		panic(err)
	}
}

// Validate surfaces configuration errors before anything is built.
func (c *Config) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("config: group must not be empty")
	}
	coord := c.Coordinator
	if coord.NumActors <= 0 {
		return fmt.Errorf("config: coordinator.num_actors must be positive")
	}
	if coord.NumEvalActors <= 0 || coord.NumEvalActors > coord.NumActors {
		return fmt.Errorf("config: coordinator.num_eval_actors must be in [1, num_actors]")
	}
	if coord.NumSteps < 0 {
		return fmt.Errorf("config: coordinator.num_steps must be >= 0 (0 = run to episode end)")
	}
	if coord.MaxStaleness < 0 {
		return fmt.Errorf("config: coordinator.max_staleness must be >= 0")
	}
	if coord.ReceiveTimeoutMS < 0 {
		return fmt.Errorf("config: coordinator.receive_timeout_ms must be >= 0")
	}
	if coord.Episodes <= 0 {
		return fmt.Errorf("config: coordinator.episodes must be positive")
	}
	if c.Worker.RouterPort <= 0 || c.Worker.RouterPort > 65535 {
		return fmt.Errorf("config: worker.router_port out of range")
	}
	return nil
}
