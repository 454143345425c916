// Package protocol defines the message envelope and bodies exchanged
// between the rollout coordinator and its actors.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"distributed-rollout/internal/env"
	"distributed-rollout/internal/experience"
)

// Kind identifies the purpose of a message. The set is closed; anything
// outside it fails to decode.
type Kind int

const (
	KindUnknown Kind = iota
	KindCollect
	KindCollectDone
	KindEval
	KindEvalDone
	KindExit
)

var kindNames = map[Kind]string{
	KindCollect:     "collect",
	KindCollectDone: "collect_done",
	KindEval:        "eval",
	KindEvalDone:    "eval_done",
	KindExit:        "exit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown message kind %d", int(k))
	}
	return json.Marshal(name)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown message kind %q", name)
}

// PolicyStateDict maps a policy name to its opaque serialized
// parameters. Immutable once sent.
type PolicyStateDict map[string]json.RawMessage

// ExplorationParams maps an exploration scheme name to its current
// parameters.
type ExplorationParams map[string]map[string]float64

// Envelope is one tagged unit of communication. Body holds the
// kind-specific payload, encoded; Source identifies the sender on the
// bus.
type Envelope struct {
	ID     string          `json:"id"`
	Kind   Kind            `json:"kind"`
	Source string          `json:"source"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// NewEnvelope builds an envelope with a fresh correlation id and the
// given body encoded in place. A nil body leaves Body empty.
func NewEnvelope(kind Kind, source string, body any) (Envelope, error) {
	e := Envelope{ID: uuid.NewString(), Kind: kind, Source: source}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s body: %w", kind, err)
		}
		e.Body = raw
	}
	return e, nil
}

// Decode unmarshals the envelope body into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", e.Kind, err)
	}
	return nil
}

// CollectRequest asks every actor to roll its environment forward.
// NumSteps <= 0 means run to the end of the episode. Exploration is
// present only when the parameters changed since the last broadcast.
type CollectRequest struct {
	EpisodeIndex int               `json:"episode_index"`
	SegmentIndex int               `json:"segment_index"`
	NumSteps     int               `json:"num_steps"`
	PolicyState  PolicyStateDict   `json:"policy_state"`
	Exploration  ExplorationParams `json:"exploration,omitempty"`
}

// CollectDone reports one actor's rollout result for a segment.
// NumSteps is the number of environment steps actually executed.
type CollectDone struct {
	EpisodeIndex int                 `json:"episode_index"`
	SegmentIndex int                 `json:"segment_index"`
	NumSteps     int                 `json:"num_steps"`
	Experiences  experience.ByPolicy `json:"experiences"`
	EpisodeEnd   bool                `json:"episode_end"`
	EnvSummary   *env.Summary        `json:"env_summary,omitempty"`
}

// EvalRequest asks a sampled actor for a measurement-only rollout.
type EvalRequest struct {
	EpisodeIndex int             `json:"episode_index"`
	PolicyState  PolicyStateDict `json:"policy_state"`
}

// EvalDone reports the summary of one evaluation rollout.
type EvalDone struct {
	EpisodeIndex int         `json:"episode_index"`
	EnvSummary   env.Summary `json:"env_summary"`
}
