// Package env defines the boundary between the rollout machinery and
// the environment simulation, plus a cart-pole realization of it.
package env

import "distributed-rollout/internal/experience"

// Summary carries the statistics an environment reports at the end of
// an episode.
type Summary struct {
	Steps         int                `json:"steps"`
	TotalReward   float64            `json:"total_reward"`
	RewardByAgent map[string]float64 `json:"reward_by_agent,omitempty"`
}

// Wrapper is the simulation surface the coordinators drive. State
// returns per-agent observations, or nil once the episode has reached
// a terminal state (and before Start has been called).
type Wrapper interface {
	// Reset discards all episode state, including recorded experience.
	Reset()
	// Start advances the environment to its initial observation.
	Start()
	// State returns the current observation per agent, nil if terminal
	// or not started.
	State() map[string][]float64
	// Step advances the environment with one action per active agent
	// and records the resulting transitions.
	Step(actions map[string]int)
	// StepIndex reports the number of steps taken this episode.
	StepIndex() int
	// Summary reports the episode statistics accumulated so far.
	Summary() Summary
	// TakeExperiences hands off the transitions recorded since the last
	// call, keyed by agent. Ownership transfers to the caller.
	TakeExperiences() map[string]*experience.Set
}
