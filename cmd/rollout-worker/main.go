// The rollout-worker binary joins the coordinator's message bus as one
// actor and serves collect and evaluation requests until told to exit.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"distributed-rollout/internal/bus"
	"distributed-rollout/internal/config"
	"distributed-rollout/internal/env"
	"distributed-rollout/internal/logging"
	"distributed-rollout/internal/policy"
	"distributed-rollout/internal/worker"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "rollout-worker",
		Short:        "Run one rollout actor",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	id := cfg.Worker.ID
	if id == "" {
		id = "actor-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	log := logging.New("worker", cfg.Logging.Level).With("actor", id)
	rng := newRand(cfg.Worker.Seed)

	cartPolicy, err := policy.NewLinearSoftmax("cartpole", env.CartPoleActions, 4)
	if err != nil {
		return err
	}
	exploration, err := policy.NewEpsilonGreedy(env.CartPoleActions, 1.0, 0.05, 0.97)
	if err != nil {
		return err
	}

	client, err := bus.Dial(cfg.Worker.RouterHost, cfg.Worker.RouterPort, cfg.Group, id, "actor")
	if err != nil {
		return err
	}
	log.Info("joined bus", "host", cfg.Worker.RouterHost, "port", cfg.Worker.RouterPort)

	actor, err := worker.NewActor(worker.ActorConfig{
		ID:                 id,
		Transport:          client,
		Env:                env.NewCartPole(rng, 500),
		EvalEnv:            env.NewCartPole(rng, 500),
		Policies:           []policy.Policy{cartPolicy},
		AgentToPolicy:      map[string]string{env.CartPoleAgent: "cartpole"},
		Exploration:        map[string]policy.Exploration{"epsilon_greedy": exploration},
		AgentToExploration: map[string]string{env.CartPoleAgent: "epsilon_greedy"},
		RNG:                rng,
		Logger:             log,
	})
	if err != nil {
		client.Close()
		return err
	}

	// a signal closes the connection, which unblocks the serve loop
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	if err := actor.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
