package env

import (
	"math/rand"
	"testing"
)

func TestCartPoleLifecycle(t *testing.T) {
	cp := NewCartPole(rand.New(rand.NewSource(7)), 50)

	if cp.State() != nil {
		t.Fatal("state before Start should be nil")
	}

	cp.Reset()
	cp.Start()
	state := cp.State()
	if state == nil {
		t.Fatal("state after Start is nil")
	}
	obs, ok := state[CartPoleAgent]
	if !ok || len(obs) != 4 {
		t.Fatalf("observation for %q = %v, want 4 features", CartPoleAgent, obs)
	}

	steps := 0
	for cp.State() != nil {
		cp.Step(map[string]int{CartPoleAgent: steps % CartPoleActions})
		steps++
		if steps > 100 {
			t.Fatal("episode did not terminate within max steps")
		}
	}
	if cp.StepIndex() != steps {
		t.Fatalf("StepIndex = %d, want %d", cp.StepIndex(), steps)
	}

	exps := cp.TakeExperiences()
	if got := exps[CartPoleAgent].Size(); got != steps {
		t.Fatalf("recorded %d transitions, want %d", got, steps)
	}
	// hand-off transfers ownership
	if got := cp.TakeExperiences()[CartPoleAgent].Size(); got != 0 {
		t.Fatalf("second TakeExperiences returned %d transitions, want 0", got)
	}
}

func TestCartPoleSummaryTracksReward(t *testing.T) {
	cp := NewCartPole(rand.New(rand.NewSource(3)), 10)
	cp.Reset()
	cp.Start()
	for cp.State() != nil {
		cp.Step(map[string]int{CartPoleAgent: 1})
	}
	summary := cp.Summary()
	if summary.Steps == 0 {
		t.Fatal("summary reports zero steps after a full episode")
	}
	if summary.RewardByAgent[CartPoleAgent] != summary.TotalReward {
		t.Fatalf("per-agent reward %v != total %v",
			summary.RewardByAgent[CartPoleAgent], summary.TotalReward)
	}
}

func TestCartPoleResetClearsExperience(t *testing.T) {
	cp := NewCartPole(rand.New(rand.NewSource(1)), 20)
	cp.Reset()
	cp.Start()
	cp.Step(map[string]int{CartPoleAgent: 0})
	cp.Reset()
	if got := cp.TakeExperiences()[CartPoleAgent].Size(); got != 0 {
		t.Fatalf("experience after Reset = %d transitions, want 0", got)
	}
	if cp.StepIndex() != 0 {
		t.Fatalf("StepIndex after Reset = %d, want 0", cp.StepIndex())
	}
}
