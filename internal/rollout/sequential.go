package rollout

import (
	"fmt"
	"math/rand"

	"distributed-rollout/internal/env"
	"distributed-rollout/internal/experience"
	"distributed-rollout/internal/logging"
	"distributed-rollout/internal/policy"
	"distributed-rollout/internal/protocol"
)

// LocalActorID keys the summary a Sequential coordinator returns from
// Evaluate.
const LocalActorID = "local"

// SequentialConfig configures a Sequential coordinator.
type SequentialConfig struct {
	// Env is the training environment. EvalEnv defaults to Env.
	Env     env.Wrapper
	EvalEnv env.Wrapper

	Policies      []policy.Policy
	AgentToPolicy map[string]string

	// Exploration maps scheme name to schedule; AgentToExploration
	// assigns schemes to agents. Agents without an assignment act
	// greedily.
	Exploration        map[string]policy.Exploration
	AgentToExploration map[string]string

	Budget StepBudget
	RNG    *rand.Rand
	Logger *logging.Logger
}

// Sequential drives one local environment step by step, with no message
// bus involved.
type Sequential struct {
	episodeFlag

	env     env.Wrapper
	evalEnv env.Wrapper

	policyByName  map[string]policy.Policy
	policyByAgent map[string]policy.Policy
	agentToPolicy map[string]string

	exploration        map[string]policy.Exploration
	explorationByAgent map[string]policy.Exploration

	budget StepBudget
	rng    *rand.Rand
	log    *logging.Logger

	totalExperiences int
	totalEnvSteps    int
}

// NewSequential validates the configuration and builds the coordinator.
// Invalid step budgets and dangling agent-to-policy or
// agent-to-exploration references are configuration errors.
func NewSequential(cfg SequentialConfig) (*Sequential, error) {
	if cfg.Env == nil {
		return nil, fmt.Errorf("sequential: an environment is required")
	}
	if !cfg.Budget.Valid() {
		return nil, fmt.Errorf("sequential: step budget must be a positive bound or unbounded")
	}

	byName := make(map[string]policy.Policy, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("sequential: duplicate policy %q", p.Name())
		}
		byName[p.Name()] = p
	}

	byAgent := make(map[string]policy.Policy, len(cfg.AgentToPolicy))
	for agent, name := range cfg.AgentToPolicy {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("sequential: agent %q references unknown policy %q", agent, name)
		}
		byAgent[agent] = p
	}

	explorationByAgent := make(map[string]policy.Exploration, len(cfg.AgentToExploration))
	for agent, name := range cfg.AgentToExploration {
		e, ok := cfg.Exploration[name]
		if !ok {
			return nil, fmt.Errorf("sequential: agent %q references unknown exploration scheme %q", agent, name)
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

	return &Sequential{
		env:                cfg.Env,
		evalEnv:            evalEnv,
		policyByName:       byName,
		policyByAgent:      byAgent,
		agentToPolicy:      cfg.AgentToPolicy,
		exploration:        cfg.Exploration,
		explorationByAgent: explorationByAgent,
		budget:             cfg.Budget,
		rng:                rng,
		log:                log,
	}, nil
}

func (s *Sequential) Collect(episode, segment int, policyState protocol.PolicyStateDict) (CollectResult, error) {
	if s.env.State() == nil {
		s.log.Info("starting episode", "episode", episode, "segment", segment)
		s.env.Reset()
		s.env.Start()
	}
	if err := s.loadPolicyStates(policyState); err != nil {
		return CollectResult{}, err
	}

	startIndex := s.env.StepIndex()
	remaining, bounded := s.budget.Limit()
	for s.env.State() != nil && (!bounded || remaining > 0) {
		actions, err := s.chooseActions(s.env.State(), true)
		if err != nil {
			return CollectResult{}, err
		}
		s.env.Step(actions)
		remaining--
	}
	steps := s.env.StepIndex() - startIndex
	s.log.Debug("segment finished",
		"episode", episode, "segment", segment,
		"steps", steps, "step_index", s.env.StepIndex())

	if s.env.State() == nil {
		s.complete = true
		for _, e := range s.exploration {
			e.Step()
		}
		summary := s.env.Summary()
		s.log.Info("episode complete",
			"episode", episode, "steps", summary.Steps, "total_reward", summary.TotalReward)
	}

	combined := experience.ByPolicy{}
	for agent, set := range s.env.TakeExperiences() {
		name, ok := s.agentToPolicy[agent]
		if !ok {
			return CollectResult{}, fmt.Errorf("sequential: environment surfaced unmapped agent %q", agent)
		}
		combined.Get(name).Extend(set)
	}
	s.totalExperiences += combined.TotalSize()
	s.totalEnvSteps += steps

	return CollectResult{Experiences: combined, Responders: 1, Quorum: 1, EnvSteps: steps}, nil
}

// Evaluate runs a full episode on the evaluation environment with
// greedy actions. It neither records training experience nor advances
// exploration schedules or the episode flag.
func (s *Sequential) Evaluate(episode int, policyState protocol.PolicyStateDict) (map[string]env.Summary, error) {
	if err := s.loadPolicyStates(policyState); err != nil {
		return nil, err
	}
	s.evalEnv.Reset()
	s.evalEnv.Start()
	for s.evalEnv.State() != nil {
		actions, err := s.chooseActions(s.evalEnv.State(), false)
		if err != nil {
			return nil, err
		}
		s.evalEnv.Step(actions)
	}
	summary := s.evalEnv.Summary()
	s.evalEnv.TakeExperiences() // measurement only, discard
	s.log.Info("evaluation finished",
		"episode", episode, "steps", summary.Steps, "total_reward", summary.TotalReward)
	return map[string]env.Summary{LocalActorID: summary}, nil
}

// TotalExperiences reports the transitions collected across all rounds.
func (s *Sequential) TotalExperiences() int { return s.totalExperiences }

// TotalEnvSteps reports the environment steps taken across all rounds.
func (s *Sequential) TotalEnvSteps() int { return s.totalEnvSteps }

func (s *Sequential) chooseActions(state map[string][]float64, explore bool) (map[string]int, error) {
	actions := make(map[string]int, len(state))
	for agent, obs := range state {
		p, ok := s.policyByAgent[agent]
		if !ok {
			return nil, fmt.Errorf("sequential: no policy assigned to agent %q", agent)
		}
		action := p.ChooseAction(obs)
		if explore {
			if e, ok := s.explorationByAgent[agent]; ok {
				action = e.Apply(action, s.rng)
			}
		}
		actions[agent] = action
	}
	return actions, nil
}

func (s *Sequential) loadPolicyStates(policyState protocol.PolicyStateDict) error {
	for name, raw := range policyState {
		p, ok := s.policyByName[name]
		if !ok {
			return fmt.Errorf("sequential: policy state for unknown policy %q", name)
		}
		if err := p.SetState(raw); err != nil {
			return fmt.Errorf("sequential: %w", err)
		}
	}
	return nil
}
