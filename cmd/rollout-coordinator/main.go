// The rollout-coordinator binary hosts the message bus, waits for its
// actor roster, and drives episodes of distributed experience
// collection.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"distributed-rollout/internal/bus"
	"distributed-rollout/internal/config"
	"distributed-rollout/internal/env"
	"distributed-rollout/internal/logging"
	"distributed-rollout/internal/policy"
	"distributed-rollout/internal/protocol"
	"distributed-rollout/internal/rollout"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "rollout-coordinator",
		Short:        "Coordinate distributed rollout collection",
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
	log := logging.New("coordinator", cfg.Logging.Level)
	rng := newRand(cfg.Coordinator.Seed)

	hub, err := bus.ListenHub(cfg.Coordinator.ListenAddr, cfg.Group, log)
	if err != nil {
		return err
	}
	defer hub.Close()
	log.Info("bus listening", "addr", hub.Addr(), "group", cfg.Group)

	log.Info("waiting for actors", "expected", cfg.Coordinator.NumActors)
	if err := hub.WaitForPeers(ctx, cfg.Coordinator.NumActors); err != nil {
		return err
	}

	exploration, err := defaultExploration()
	if err != nil {
		return err
	}
	budget := rollout.Unbounded()
	if cfg.Coordinator.NumSteps > 0 {
		budget = rollout.Bounded(cfg.Coordinator.NumSteps)
	}
	manager, err := rollout.NewQuorum(rollout.QuorumConfig{
		Bus:                hub,
		NumEvalActors:      cfg.Coordinator.NumEvalActors,
		Budget:             budget,
		MaxReceiveAttempts: cfg.Coordinator.MaxReceiveAttempts,
		ReceiveTimeout:     cfg.Coordinator.ReceiveTimeout(),
		MaxStaleness:       cfg.Coordinator.MaxStaleness,
		RequireFullQuorum:  cfg.Coordinator.RequireFullQuorum,
		Exploration:        exploration,
		RNG:                rng,
		Logger:             log,
	})
	if err != nil {
		return err
	}
	log.Info("roster ready", "actors", manager.Actors())

	policyState, err := defaultPolicyState()
	if err != nil {
		return err
	}

	for episode := 0; episode < cfg.Coordinator.Episodes; episode++ {
		if ctx.Err() != nil {
			break
		}
		manager.Reset()
		for segment := 0; !manager.EpisodeComplete(); segment++ {
			if ctx.Err() != nil {
				break
			}
			result, err := manager.Collect(episode, segment, policyState)
			if err != nil {
				if errors.Is(err, rollout.ErrQuorumShortfall) {
					log.Warn("collect round incomplete",
						"episode", episode, "segment", segment,
						"responders", result.Responders, "quorum", result.Quorum)
					continue
				}
				return err
			}
			log.Info("collect round merged",
				"episode", episode, "segment", segment,
				"transitions", result.Experiences.TotalSize(),
				"responders", result.Responders)
		}

		interval := cfg.Coordinator.EvalInterval
		if interval > 0 && (episode+1)%interval == 0 {
			summaries, err := manager.Evaluate(episode, policyState)
			if err != nil {
				return err
			}
			for actor, summary := range summaries {
				log.Info("evaluation summary",
					"episode", episode, "actor", actor,
					"steps", summary.Steps, "total_reward", summary.TotalReward)
			}
		}
	}

	log.Info("training loop finished",
		"experiences", manager.TotalExperiences(), "env_steps", manager.TotalEnvSteps())
	return manager.Exit()
}

// defaultExploration mirrors the schedule the workers start with.
func defaultExploration() (map[string]policy.Exploration, error) {
	eps, err := policy.NewEpsilonGreedy(env.CartPoleActions, 1.0, 0.05, 0.97)
	if err != nil {
		return nil, err
	}
	return map[string]policy.Exploration{"epsilon_greedy": eps}, nil
}

// defaultPolicyState is a stand-in for the training side's parameter
// stream: a fixed linear policy over the cart-pole observation.
func defaultPolicyState() (protocol.PolicyStateDict, error) {
	p, err := policy.NewLinearSoftmax("cartpole", env.CartPoleActions, 4)
	if err != nil {
		return nil, err
	}
	state, err := p.State()
	if err != nil {
		return nil, fmt.Errorf("serialize default policy: %w", err)
	}
	return protocol.PolicyStateDict{"cartpole": state}, nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
