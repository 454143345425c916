package policy

import (
	"fmt"
	"math/rand"
)

// EpsilonGreedy replaces the greedy action with a uniform random one
// with probability epsilon, decaying epsilon once per episode.
type EpsilonGreedy struct {
	numActions int
	epsilon    float64
	minEpsilon float64
	decay      float64
}

// NewEpsilonGreedy builds a schedule starting at epsilon, multiplied by
// decay each episode, floored at minEpsilon.
func NewEpsilonGreedy(numActions int, epsilon, minEpsilon, decay float64) (*EpsilonGreedy, error) {
	if numActions <= 0 {
		return nil, fmt.Errorf("epsilon-greedy: numActions must be positive")
	}
	if epsilon < 0 || epsilon > 1 || minEpsilon < 0 || minEpsilon > epsilon {
		return nil, fmt.Errorf("epsilon-greedy: need 0 <= minEpsilon <= epsilon <= 1")
	}
	if decay <= 0 || decay > 1 {
		return nil, fmt.Errorf("epsilon-greedy: decay must be in (0, 1]")
	}
	return &EpsilonGreedy{
		numActions: numActions,
		epsilon:    epsilon,
		minEpsilon: minEpsilon,
		decay:      decay,
	}, nil
}

func (e *EpsilonGreedy) Apply(action int, rng *rand.Rand) int {
	if rng.Float64() < e.epsilon {
		return rng.Intn(e.numActions)
	}
	return action
}

func (e *EpsilonGreedy) Step() {
	e.epsilon *= e.decay
	if e.epsilon < e.minEpsilon {
		e.epsilon = e.minEpsilon
	}
}

func (e *EpsilonGreedy) Parameters() map[string]float64 {
	return map[string]float64{"epsilon": e.epsilon}
}

func (e *EpsilonGreedy) SetParameters(params map[string]float64) {
	if v, ok := params["epsilon"]; ok {
		e.epsilon = v
	}
}
