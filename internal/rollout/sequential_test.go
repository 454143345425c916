package rollout

import (
	"encoding/json"
	"math/rand"
	"testing"

	"distributed-rollout/internal/env"
	"distributed-rollout/internal/experience"
	"distributed-rollout/internal/policy"
	"distributed-rollout/internal/protocol"
)

// scriptedEnv terminates after a fixed number of steps.
type scriptedEnv struct {
	terminalAt int
	agents     []string

	started  bool
	steps    int
	recorded map[string]*experience.Set
}

func newScriptedEnv(terminalAt int, agents ...string) *scriptedEnv {
	e := &scriptedEnv{terminalAt: terminalAt, agents: agents}
	e.Reset()
	return e
}

func (e *scriptedEnv) Reset() {
	e.started = false
	e.steps = 0
	e.recorded = make(map[string]*experience.Set)
	for _, agent := range e.agents {
		e.recorded[agent] = &experience.Set{}
	}
}

func (e *scriptedEnv) Start() { e.started = true }

func (e *scriptedEnv) State() map[string][]float64 {
	if !e.started || e.steps >= e.terminalAt {
		return nil
	}
	state := make(map[string][]float64, len(e.agents))
	for _, agent := range e.agents {
		state[agent] = []float64{float64(e.steps)}
	}
	return state
}

func (e *scriptedEnv) Step(actions map[string]int) {
	for agent, action := range actions {
		e.recorded[agent].Append(experience.Transition{
			State:     []float64{float64(e.steps)},
			Action:    action,
			Reward:    1,
			NextState: []float64{float64(e.steps + 1)},
		})
	}
	e.steps++
}

func (e *scriptedEnv) StepIndex() int { return e.steps }

func (e *scriptedEnv) Summary() env.Summary {
	return env.Summary{Steps: e.steps, TotalReward: float64(e.steps)}
}

func (e *scriptedEnv) TakeExperiences() map[string]*experience.Set {
	taken := e.recorded
	e.recorded = make(map[string]*experience.Set)
	for _, agent := range e.agents {
		e.recorded[agent] = &experience.Set{}
	}
	return taken
}

type fakePolicy struct {
	name      string
	action    int
	setStates []json.RawMessage
}

func (p *fakePolicy) Name() string                 { return p.name }
func (p *fakePolicy) ChooseAction(_ []float64) int { return p.action }
func (p *fakePolicy) SetState(raw json.RawMessage) error {
	p.setStates = append(p.setStates, raw)
	return nil
}

type fakeExploration struct {
	applied    int
	stepCalls  int
	parameters map[string]float64
}

func (e *fakeExploration) Apply(action int, _ *rand.Rand) int {
	e.applied++
	return action
}

func (e *fakeExploration) Step() { e.stepCalls++ }

func (e *fakeExploration) Parameters() map[string]float64 {
	return map[string]float64{"steps": float64(e.stepCalls)}
}

func (e *fakeExploration) SetParameters(params map[string]float64) { e.parameters = params }

func newTestSequential(t *testing.T, environment env.Wrapper, budget StepBudget, explore *fakeExploration) (*Sequential, *fakePolicy) {
	t.Helper()
	pol := &fakePolicy{name: "p", action: 1}
	cfg := SequentialConfig{
		Env:           environment,
		Policies:      []policy.Policy{pol},
		AgentToPolicy: map[string]string{"agent": "p"},
		Budget:        budget,
		RNG:           rand.New(rand.NewSource(1)),
	}
	if explore != nil {
		cfg.Exploration = map[string]policy.Exploration{"eps": explore}
		cfg.AgentToExploration = map[string]string{"agent": "eps"}
	}
	s, err := NewSequential(cfg)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}
	return s, pol
}

func testPolicyState(names ...string) protocol.PolicyStateDict {
	ps := protocol.PolicyStateDict{}
	for _, name := range names {
		ps[name] = json.RawMessage(`{}`)
	}
	return ps
}

func TestSequentialBoundedBudgetStopsEarly(t *testing.T) {
	s, _ := newTestSequential(t, newScriptedEnv(10, "agent"), Bounded(3), nil)

	result, err := s.Collect(0, 0, nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if result.EnvSteps != 3 {
		t.Fatalf("EnvSteps = %d, want 3", result.EnvSteps)
	}
	if s.EpisodeComplete() {
		t.Fatal("episode must not complete after a bounded partial segment")
	}
	if got := result.Experiences.Get("p").Size(); got != 3 {
		t.Fatalf("experience size = %d, want 3", got)
	}
}

func TestSequentialUnboundedRunsToTermination(t *testing.T) {
	explore := &fakeExploration{}
	s, _ := newTestSequential(t, newScriptedEnv(10, "agent"), Unbounded(), explore)

	result, err := s.Collect(0, 0, nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if result.EnvSteps != 10 {
		t.Fatalf("EnvSteps = %d, want 10", result.EnvSteps)
	}
	if !s.EpisodeComplete() {
		t.Fatal("episode should complete when the environment terminates")
	}
	if explore.stepCalls != 1 {
		t.Fatalf("exploration stepped %d times, want 1", explore.stepCalls)
	}

	s.Reset()
	if s.EpisodeComplete() {
		t.Fatal("Reset did not clear the episode flag")
	}
}

func TestSequentialSegmentsPartitionTheEpisode(t *testing.T) {
	s, _ := newTestSequential(t, newScriptedEnv(10, "agent"), Bounded(3), nil)

	wantSteps := []int{3, 3, 3, 1}
	for segment, want := range wantSteps {
		result, err := s.Collect(0, segment, nil)
		if err != nil {
			t.Fatalf("Collect segment %d: %v", segment, err)
		}
		if result.EnvSteps != want {
			t.Fatalf("segment %d EnvSteps = %d, want %d", segment, result.EnvSteps, want)
		}
	}
	if !s.EpisodeComplete() {
		t.Fatal("episode should complete on the final segment")
	}
	if s.TotalEnvSteps() != 10 {
		t.Fatalf("TotalEnvSteps = %d, want 10", s.TotalEnvSteps())
	}
}

func TestSequentialPolicyStateHandling(t *testing.T) {
	s, pol := newTestSequential(t, newScriptedEnv(5, "agent"), Bounded(2), nil)

	state := testPolicyState("p")
	if _, err := s.Collect(0, 0, state); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pol.setStates) != 1 {
		t.Fatalf("SetState called %d times, want 1", len(pol.setStates))
	}

	if _, err := s.Collect(0, 1, testPolicyState("ghost")); err == nil {
		t.Fatal("policy state for an unknown policy was accepted")
	}
}

func TestSequentialEvaluateLeavesTrainingStateAlone(t *testing.T) {
	explore := &fakeExploration{}
	training := newScriptedEnv(10, "agent")
	s, _ := newTestSequential(t, training, Bounded(3), explore)
	// separate eval env so training progress is observable
	evalEnv := newScriptedEnv(6, "agent")
	s.evalEnv = evalEnv

	if _, err := s.Collect(0, 0, nil); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	appliedBefore := explore.applied

	summaries, err := s.Evaluate(0, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	summary, ok := summaries[LocalActorID]
	if !ok {
		t.Fatalf("summaries = %v, want entry for %q", summaries, LocalActorID)
	}
	if summary.Steps != 6 {
		t.Fatalf("evaluation ran %d steps, want 6", summary.Steps)
	}
	if s.EpisodeComplete() {
		t.Fatal("Evaluate must not set the episode flag")
	}
	if explore.stepCalls != 0 {
		t.Fatal("Evaluate must not advance exploration schedules")
	}
	if explore.applied != appliedBefore {
		t.Fatal("Evaluate must not use exploratory actions")
	}
	if training.StepIndex() != 3 {
		t.Fatalf("training environment moved during Evaluate: step index %d", training.StepIndex())
	}
}

func TestSequentialConstructionErrors(t *testing.T) {
	environment := newScriptedEnv(5, "agent")
	pol := &fakePolicy{name: "p"}

	cases := []struct {
		name string
		cfg  SequentialConfig
	}{
		{
			name: "zero-value step budget",
			cfg: SequentialConfig{
				Env:           environment,
				Policies:      []policy.Policy{pol},
				AgentToPolicy: map[string]string{"agent": "p"},
			},
		},
		{
			name: "agent mapped to unknown policy",
			cfg: SequentialConfig{
				Env:           environment,
				Policies:      []policy.Policy{pol},
				AgentToPolicy: map[string]string{"agent": "missing"},
				Budget:        Bounded(1),
			},
		},
		{
			name: "agent mapped to unknown exploration scheme",
			cfg: SequentialConfig{
				Env:                environment,
				Policies:           []policy.Policy{pol},
				AgentToPolicy:      map[string]string{"agent": "p"},
				AgentToExploration: map[string]string{"agent": "missing"},
				Budget:             Bounded(1),
			},
		},
		{
			name: "no environment",
			cfg: SequentialConfig{
				Policies:      []policy.Policy{pol},
				AgentToPolicy: map[string]string{"agent": "p"},
				Budget:        Bounded(1),
			},
		},
	}
	for _, tc := range cases {
		if _, err := NewSequential(tc.cfg); err == nil {
			t.Errorf("%s: construction succeeded", tc.name)
		}
	}
}

func TestStepBudgetWireRoundTrip(t *testing.T) {
	if got := BudgetFromWire(Bounded(7).Wire()); got != Bounded(7) {
		t.Fatalf("bounded budget round trip = %+v", got)
	}
	if got := BudgetFromWire(Unbounded().Wire()); got != Unbounded() {
		t.Fatalf("unbounded budget round trip = %+v", got)
	}
	if (StepBudget{}).Valid() {
		t.Fatal("zero-value budget must be invalid")
	}
}
