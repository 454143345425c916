// Package rollout implements the coordination protocol for collecting
// and evaluating policy rollouts: a shared contract with a sequential,
// in-process realization and a quorum-based distributed one.
package rollout

import (
	"errors"

	"distributed-rollout/internal/env"
	"distributed-rollout/internal/experience"
	"distributed-rollout/internal/protocol"
)

// ErrQuorumShortfall reports that a collection round exhausted its
// receive attempts before every actor answered for the current segment.
// The accompanying CollectResult still carries the partial merge.
var ErrQuorumShortfall = errors.New("rollout: quorum not reached")

// StepBudget bounds how many environment steps one collect round may
// take. The zero value is invalid; use Bounded or Unbounded.
type StepBudget struct {
	steps int
}

// Bounded limits a round to n steps. n must be positive to pass
// coordinator construction.
func Bounded(n int) StepBudget { return StepBudget{steps: n} }

// Unbounded lets a round run to the end of the episode.
func Unbounded() StepBudget { return StepBudget{steps: -1} }

// Valid reports whether the budget is a positive bound or unbounded.
func (b StepBudget) Valid() bool { return b.steps > 0 || b.steps == -1 }

// Limit returns the bound and whether one exists.
func (b StepBudget) Limit() (int, bool) {
	if b.steps > 0 {
		return b.steps, true
	}
	return 0, false
}

// Wire encodes the budget for a message body: the bound, or 0 for
// unbounded.
func (b StepBudget) Wire() int {
	if n, ok := b.Limit(); ok {
		return n
	}
	return 0
}

// BudgetFromWire decodes a message-body step count.
func BudgetFromWire(n int) StepBudget {
	if n > 0 {
		return Bounded(n)
	}
	return Unbounded()
}

// CollectResult is the outcome of one collection round. Responders
// counts actors that answered for the requested segment; Quorum is the
// count required for a complete round.
type CollectResult struct {
	Experiences experience.ByPolicy
	Responders  int
	Quorum      int
	EnvSteps    int
}

// Complete reports whether the round reached quorum.
func (r CollectResult) Complete() bool { return r.Responders >= r.Quorum }

// Coordinator is the contract for driving rollouts. Implementations are
// not safe for concurrent use; the training loop calls them
// sequentially.
type Coordinator interface {
	// Collect drives rollouts forward under the given policy state and
	// returns the newly gathered experience.
	Collect(episode, segment int, policyState protocol.PolicyStateDict) (CollectResult, error)
	// Evaluate measures policy quality without touching training state.
	// The result maps actor identity to its reported summary.
	Evaluate(episode int, policyState protocol.PolicyStateDict) (map[string]env.Summary, error)
	// EpisodeComplete reports whether the current episode has ended.
	EpisodeComplete() bool
	// Reset clears the episode-complete flag at an episode boundary.
	Reset()
}

// episodeFlag carries the shared episode_complete state for both
// coordinator implementations.
type episodeFlag struct {
	complete bool
}

func (f *episodeFlag) EpisodeComplete() bool { return f.complete }

func (f *episodeFlag) Reset() { f.complete = false }
