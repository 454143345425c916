// Package worker implements the actor side of the rollout protocol: a
// process that joins the message bus, runs its environment on demand,
// and reports experience back to the coordinator.
package worker

import (
	"fmt"
	"math/rand"

	"distributed-rollout/internal/env"
	"distributed-rollout/internal/experience"
	"distributed-rollout/internal/logging"
	"distributed-rollout/internal/policy"
	"distributed-rollout/internal/protocol"
	"distributed-rollout/internal/rollout"
)

// Transport is the actor's connection to the bus.
type Transport interface {
	Receive() (protocol.Envelope, error)
	Send(env protocol.Envelope) error
	Close() error
}

// ActorConfig configures an Actor.
type ActorConfig struct {
	ID        string
	Transport Transport

	// Env runs training rollouts; EvalEnv (defaulting to Env) runs
	// measurement rollouts.
	Env     env.Wrapper
	EvalEnv env.Wrapper

	Policies      []policy.Policy
	AgentToPolicy map[string]string

	Exploration        map[string]policy.Exploration
	AgentToExploration map[string]string

	RNG    *rand.Rand
	Logger *logging.Logger
}

// Actor answers coordinator requests until told to exit. Policy state
// applied in one round stays in force until the next round's state
// arrives, as do exploration parameters.
type Actor struct {
	id        string
	transport Transport

	env     env.Wrapper
	evalEnv env.Wrapper

	policyByName  map[string]policy.Policy
	policyByAgent map[string]policy.Policy
	agentToPolicy map[string]string

	exploration        map[string]policy.Exploration
	explorationByAgent map[string]policy.Exploration

	rng *rand.Rand
	log *logging.Logger
}

// NewActor validates the configuration and builds the actor. The same
// agent-to-policy and agent-to-exploration reference checks as the
// sequential coordinator apply.
func NewActor(cfg ActorConfig) (*Actor, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("actor: an id is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("actor: a transport is required")
	}
	if cfg.Env == nil {
		return nil, fmt.Errorf("actor: an environment is required")
	}

	byName := make(map[string]policy.Policy, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("actor: duplicate policy %q", p.Name())
		}
		byName[p.Name()] = p
	}
	byAgent := make(map[string]policy.Policy, len(cfg.AgentToPolicy))
	for agent, name := range cfg.AgentToPolicy {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("actor: agent %q references unknown policy %q", agent, name)
		}
		byAgent[agent] = p
	}
	explorationByAgent := make(map[string]policy.Exploration, len(cfg.AgentToExploration))
	for agent, name := range cfg.AgentToExploration {
		e, ok := cfg.Exploration[name]
		if !ok {
			return nil, fmt.Errorf("actor: agent %q references unknown exploration scheme %q", agent, name)
		}
		explorationByAgent[agent] = e
	}

	evalEnv := cfg.EvalEnv
	if evalEnv == nil {
		evalEnv = cfg.Env
	}
	rng := cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}

	return &Actor{
		id:                 cfg.ID,
		transport:          cfg.Transport,
		env:                cfg.Env,
		evalEnv:            evalEnv,
		policyByName:       byName,
		policyByAgent:      byAgent,
		agentToPolicy:      cfg.AgentToPolicy,
		exploration:        cfg.Exploration,
		explorationByAgent: explorationByAgent,
		rng:                rng,
		log:                log.With("actor", cfg.ID),
	}, nil
}

// Run serves requests until an exit notification or a transport error.
func (a *Actor) Run() error {
	a.log.Info("actor serving")
	for {
		msg, err := a.transport.Receive()
		if err != nil {
			return fmt.Errorf("actor: %w", err)
		}
		switch msg.Kind {
		case protocol.KindCollect:
			if err := a.handleCollect(msg); err != nil {
				a.log.Error("collect failed", "error", err)
			}
		case protocol.KindEval:
			if err := a.handleEval(msg); err != nil {
				a.log.Error("eval failed", "error", err)
			}
		case protocol.KindExit:
			a.log.Info("exit requested")
			return a.transport.Close()
		default:
			a.log.Warn("ignoring message", "kind", msg.Kind.String(), "source", msg.Source)
		}
	}
}

func (a *Actor) handleCollect(msg protocol.Envelope) error {
	var req protocol.CollectRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	for name, params := range req.Exploration {
		scheme, ok := a.exploration[name]
		if !ok {
			a.log.Warn("parameters for unknown exploration scheme", "scheme", name)
			continue
		}
		scheme.SetParameters(params)
	}
	if err := a.loadPolicyStates(req.PolicyState); err != nil {
		return err
	}

	if a.env.State() == nil {
		a.env.Reset()
		a.env.Start()
	}

	startIndex := a.env.StepIndex()
	remaining, bounded := rollout.BudgetFromWire(req.NumSteps).Limit()
	for a.env.State() != nil && (!bounded || remaining > 0) {
		actions, err := a.chooseActions(a.env.State(), true)
		if err != nil {
			return err
		}
		a.env.Step(actions)
		remaining--
	}
	steps := a.env.StepIndex() - startIndex
	episodeEnd := a.env.State() == nil

	byPolicy := experience.ByPolicy{}
	for agent, set := range a.env.TakeExperiences() {
		name, ok := a.agentToPolicy[agent]
		if !ok {
			return fmt.Errorf("actor: environment surfaced unmapped agent %q", agent)
		}
		byPolicy.Get(name).Extend(set)
	}

	done := protocol.CollectDone{
		EpisodeIndex: req.EpisodeIndex,
		SegmentIndex: req.SegmentIndex,
		NumSteps:     steps,
		Experiences:  byPolicy,
		EpisodeEnd:   episodeEnd,
	}
	if episodeEnd {
		summary := a.env.Summary()
		done.EnvSummary = &summary
		a.log.Info("episode finished",
			"episode", req.EpisodeIndex, "steps", summary.Steps, "total_reward", summary.TotalReward)
	}
	reply, err := protocol.NewEnvelope(protocol.KindCollectDone, a.id, done)
	if err != nil {
		return err
	}
	return a.transport.Send(reply)
}

func (a *Actor) handleEval(msg protocol.Envelope) error {
	var req protocol.EvalRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := a.loadPolicyStates(req.PolicyState); err != nil {
		return err
	}

	a.evalEnv.Reset()
	a.evalEnv.Start()
	for a.evalEnv.State() != nil {
		actions, err := a.chooseActions(a.evalEnv.State(), false)
		if err != nil {
			return err
		}
		a.evalEnv.Step(actions)
	}
	summary := a.evalEnv.Summary()
	a.evalEnv.TakeExperiences() // measurement only, discard

	reply, err := protocol.NewEnvelope(protocol.KindEvalDone, a.id, protocol.EvalDone{
		EpisodeIndex: req.EpisodeIndex,
		EnvSummary:   summary,
	})
	if err != nil {
		return err
	}
	return a.transport.Send(reply)
}

func (a *Actor) chooseActions(state map[string][]float64, explore bool) (map[string]int, error) {
	actions := make(map[string]int, len(state))
	for agent, obs := range state {
		p, ok := a.policyByAgent[agent]
		if !ok {
			return nil, fmt.Errorf("actor: no policy assigned to agent %q", agent)
		}
		action := p.ChooseAction(obs)
		if explore {
			if e, ok := a.explorationByAgent[agent]; ok {
				action = e.Apply(action, a.rng)
			}
		}
		actions[agent] = action
	}
	return actions, nil
}

func (a *Actor) loadPolicyStates(policyState protocol.PolicyStateDict) error {
	for name, raw := range policyState {
		p, ok := a.policyByName[name]
		if !ok {
			return fmt.Errorf("actor: policy state for unknown policy %q", name)
		}
		if err := p.SetState(raw); err != nil {
			return fmt.Errorf("actor: %w", err)
		}
	}
	return nil
}
