// Package policy defines the inference-side contracts for policies and
// exploration schedules, with a linear softmax realization.
package policy

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Policy chooses deterministic (greedy) actions from observations.
// Exploration, when wanted, is layered on top via an Exploration
// transform.
type Policy interface {
	Name() string
	ChooseAction(obs []float64) int
	// SetState replaces the policy's parameters with a serialized state
	// produced by the training side.
	SetState(raw json.RawMessage) error
}

// Exploration is a stateful transform over policy-chosen actions whose
// parameters evolve once per completed episode.
type Exploration interface {
	// Apply maps a greedy action to a possibly exploratory one.
	Apply(action int, rng *rand.Rand) int
	// Step advances the schedule by one episode.
	Step()
	Parameters() map[string]float64
	SetParameters(params map[string]float64)
}

// Weights is the serialized parameter form of LinearSoftmax: one row of
// w per action, one bias per action.
type Weights struct {
	W [][]float64 `json:"w"`
	B []float64   `json:"b"`
}

// LinearSoftmax scores actions with a linear layer and picks the argmax.
type LinearSoftmax struct {
	name     string
	actions  int
	features int
	weights  *mat.Dense
	bias     *mat.VecDense
}

// NewLinearSoftmax builds a zero-initialized policy for the given
// action and observation sizes.
func NewLinearSoftmax(name string, actions, features int) (*LinearSoftmax, error) {
	if actions <= 0 || features <= 0 {
		return nil, fmt.Errorf("policy %q: actions and features must be positive", name)
	}
	return &LinearSoftmax{
		name:     name,
		actions:  actions,
		features: features,
		weights:  mat.NewDense(actions, features, nil),
		bias:     mat.NewVecDense(actions, nil),
	}, nil
}

func (p *LinearSoftmax) Name() string { return p.name }

func (p *LinearSoftmax) ChooseAction(obs []float64) int {
	logits := mat.NewVecDense(p.actions, nil)
	logits.MulVec(p.weights, mat.NewVecDense(len(obs), obs))
	logits.AddVec(logits, p.bias)

	best := 0
	for i := 1; i < p.actions; i++ {
		if logits.AtVec(i) > logits.AtVec(best) {
			best = i
		}
	}
	return best
}

func (p *LinearSoftmax) SetState(raw json.RawMessage) error {
	var w Weights
	if err := json.Unmarshal(raw, &w); err != nil {
		return fmt.Errorf("policy %q: decode state: %w", p.name, err)
	}
	if len(w.W) != p.actions || len(w.B) != p.actions {
		return fmt.Errorf("policy %q: state has %d action rows, want %d", p.name, len(w.W), p.actions)
	}
	for i, row := range w.W {
		if len(row) != p.features {
			return fmt.Errorf("policy %q: row %d has %d features, want %d", p.name, i, len(row), p.features)
		}
	}

	weights := mat.NewDense(p.actions, p.features, nil)
	for i, row := range w.W {
		weights.SetRow(i, row)
	}
	p.weights = weights
	p.bias = mat.NewVecDense(p.actions, append([]float64(nil), w.B...))
	return nil
}

// State serializes the current parameters, the inverse of SetState.
func (p *LinearSoftmax) State() (json.RawMessage, error) {
	w := Weights{W: make([][]float64, p.actions), B: make([]float64, p.actions)}
	for i := 0; i < p.actions; i++ {
		w.W[i] = append([]float64(nil), p.weights.RawRowView(i)...)
		w.B[i] = p.bias.AtVec(i)
	}
	return json.Marshal(w)
}
