package rollout

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"distributed-rollout/internal/bus"
	"distributed-rollout/internal/env"
	"distributed-rollout/internal/experience"
	"distributed-rollout/internal/logging"
	"distributed-rollout/internal/policy"
	"distributed-rollout/internal/protocol"
)

// CoordinatorID is the bus identity quorum coordinators send under.
const CoordinatorID = "coordinator"

// QuorumConfig configures a Quorum coordinator.
type QuorumConfig struct {
	// Bus connects the coordinator to its actors. The peer roster is
	// captured at construction and immutable afterwards.
	Bus bus.Bus

	// NumEvalActors is how many actors each Evaluate samples, with
	// repetition. Defaults to 1; must not exceed the roster size.
	NumEvalActors int

	Budget StepBudget

	// MaxReceiveAttempts bounds the gather loop per Collect call.
	// Defaults to the roster size.
	MaxReceiveAttempts int

	// ReceiveTimeout bounds each individual receive attempt. Zero
	// blocks indefinitely.
	ReceiveTimeout time.Duration

	// MaxStaleness is the oldest segment lag still merged into a round.
	// Zero accepts only the current segment.
	MaxStaleness int

	// RequireFullQuorum turns a quorum shortfall into an
	// ErrQuorumShortfall instead of a silent partial result.
	RequireFullQuorum bool

	// Exploration holds the schedules whose parameters are broadcast to
	// actors and advanced once per completed episode.
	Exploration map[string]policy.Exploration

	RNG    *rand.Rand
	Logger *logging.Logger
}

// Quorum coordinates a fleet of remote actors over the message bus,
// merging staleness-bounded partial results into each round.
type Quorum struct {
	episodeFlag

	busConn bus.Bus
	actors  []string

	numEvalActors      int
	budget             StepBudget
	maxReceiveAttempts int
	receiveTimeout     time.Duration
	maxStaleness       int
	requireFullQuorum  bool

	exploration      map[string]policy.Exploration
	explorationDirty bool

	rng *rand.Rand
	log *logging.Logger

	totalExperiences int
	totalEnvSteps    int
}

// NewQuorum validates the configuration against the bus roster and
// builds the coordinator.
func NewQuorum(cfg QuorumConfig) (*Quorum, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("quorum: a bus is required")
	}
	if !cfg.Budget.Valid() {
		return nil, fmt.Errorf("quorum: step budget must be a positive bound or unbounded")
	}
	if cfg.MaxStaleness < 0 {
		return nil, fmt.Errorf("quorum: max staleness must be >= 0")
	}

	actors := cfg.Bus.Peers()
	if len(actors) == 0 {
		return nil, fmt.Errorf("quorum: the bus has no actors")
	}

	numEval := cfg.NumEvalActors
	if numEval == 0 {
		numEval = 1
	}
	if numEval < 0 || numEval > len(actors) {
		return nil, fmt.Errorf("quorum: num eval actors %d exceeds the %d-actor roster", numEval, len(actors))
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	attempts := cfg.MaxReceiveAttempts
	if attempts <= 0 {
		attempts = len(actors)
		log.Info("max receive attempts defaulted to roster size", "attempts", attempts)
	}
	rng := cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	return &Quorum{
		busConn:            cfg.Bus,
		actors:             actors,
		numEvalActors:      numEval,
		budget:             cfg.Budget,
		maxReceiveAttempts: attempts,
		receiveTimeout:     cfg.ReceiveTimeout,
		maxStaleness:       cfg.MaxStaleness,
		requireFullQuorum:  cfg.RequireFullQuorum,
		exploration:        cfg.Exploration,
		explorationDirty:   true,
		rng:                rng,
		log:                log,
	}, nil
}

// Actors returns the immutable roster captured at construction.
func (q *Quorum) Actors() []string {
	return append([]string(nil), q.actors...)
}

// TotalExperiences reports the transitions merged across all rounds.
func (q *Quorum) TotalExperiences() int { return q.totalExperiences }

// TotalEnvSteps reports the environment steps reported across all
// rounds.
func (q *Quorum) TotalEnvSteps() int { return q.totalEnvSteps }

func (q *Quorum) Collect(episode, segment int, policyState protocol.PolicyStateDict) (CollectResult, error) {
	body := protocol.CollectRequest{
		EpisodeIndex: episode,
		SegmentIndex: segment,
		NumSteps:     q.budget.Wire(),
		PolicyState:  policyState,
	}
	if q.explorationDirty && len(q.exploration) > 0 {
		body.Exploration = make(protocol.ExplorationParams, len(q.exploration))
		for name, e := range q.exploration {
			body.Exploration[name] = e.Parameters()
		}
		q.explorationDirty = false
	}

	request, err := protocol.NewEnvelope(protocol.KindCollect, CoordinatorID, body)
	if err != nil {
		return CollectResult{}, err
	}
	if err := q.busConn.Broadcast(request); err != nil {
		return CollectResult{}, fmt.Errorf("quorum: broadcast collect: %w", err)
	}
	q.log.Info("sent collect requests",
		"episode", episode, "segment", segment, "actors", len(q.actors))

	combined := experience.ByPolicy{}
	responders := 0
	envSteps := 0
	for attempt := 0; attempt < q.maxReceiveAttempts; attempt++ {
		msg, err := q.busConn.ReceiveOnce(q.receiveTimeout)
		if err != nil {
			if errors.Is(err, bus.ErrReceiveTimeout) {
				q.log.Warn("receive attempt timed out", "episode", episode, "segment", segment)
				continue
			}
			return CollectResult{}, fmt.Errorf("quorum: receive: %w", err)
		}

		var done protocol.CollectDone
		if msg.Kind != protocol.KindCollectDone || msg.Decode(&done) != nil || done.EpisodeIndex != episode {
			q.log.Info("ignoring message",
				"kind", msg.Kind.String(), "source", msg.Source,
				"expected_kind", protocol.KindCollectDone.String(), "expected_episode", episode)
			continue
		}
		if lag := segment - done.SegmentIndex; lag > q.maxStaleness {
			q.log.Info("discarding stale result",
				"source", msg.Source, "segment", done.SegmentIndex,
				"requested_segment", segment, "max_staleness", q.maxStaleness)
			continue
		}

		combined.Merge(done.Experiences)
		q.totalExperiences += done.Experiences.TotalSize()
		q.totalEnvSteps += done.NumSteps
		envSteps += done.NumSteps

		if done.SegmentIndex == segment {
			if done.EpisodeEnd {
				q.complete = true
				if done.EnvSummary != nil {
					q.log.Info("episode complete on actor",
						"source", msg.Source, "steps", done.EnvSummary.Steps,
						"total_reward", done.EnvSummary.TotalReward)
				}
			}
			responders++
			if responders == len(q.actors) {
				break
			}
		}
	}

	if q.complete && len(q.exploration) > 0 {
		for _, e := range q.exploration {
			e.Step()
		}
		q.explorationDirty = true
	}

	result := CollectResult{
		Experiences: combined,
		Responders:  responders,
		Quorum:      len(q.actors),
		EnvSteps:    envSteps,
	}
	if q.requireFullQuorum && !result.Complete() {
		return result, fmt.Errorf("quorum: episode %d segment %d: %d of %d actors responded: %w",
			episode, segment, responders, len(q.actors), ErrQuorumShortfall)
	}
	return result, nil
}

// Evaluate samples actors uniformly with repetition, scatters one
// evaluation request per selection, and gathers matching summaries.
// A duplicate-selected actor overwrites its own prior entry.
func (q *Quorum) Evaluate(episode int, policyState protocol.PolicyStateDict) (map[string]env.Summary, error) {
	body := protocol.EvalRequest{EpisodeIndex: episode, PolicyState: policyState}

	selected := make([]string, q.numEvalActors)
	msgs := make([]bus.Addressed, q.numEvalActors)
	for i := range selected {
		actor := q.actors[q.rng.Intn(len(q.actors))]
		selected[i] = actor
		request, err := protocol.NewEnvelope(protocol.KindEval, CoordinatorID, body)
		if err != nil {
			return nil, err
		}
		msgs[i] = bus.Addressed{Peer: actor, Envelope: request}
	}
	if err := q.busConn.Scatter(msgs); err != nil {
		return nil, fmt.Errorf("quorum: scatter eval: %w", err)
	}
	q.log.Info("sent evaluation requests", "episode", episode, "actors", selected)

	summaries := make(map[string]env.Summary)
	finishes := 0
	for finishes < q.numEvalActors {
		msg, err := q.busConn.ReceiveOnce(0)
		if err != nil {
			return summaries, fmt.Errorf("quorum: receive eval: %w", err)
		}
		var done protocol.EvalDone
		if msg.Kind != protocol.KindEvalDone || msg.Decode(&done) != nil || done.EpisodeIndex != episode {
			q.log.Info("ignoring message",
				"kind", msg.Kind.String(), "source", msg.Source,
				"expected_kind", protocol.KindEvalDone.String(), "expected_episode", episode)
			continue
		}
		summaries[msg.Source] = done.EnvSummary
		finishes++
	}
	return summaries, nil
}

// Exit notifies every actor to shut down and releases the bus. No
// response is expected.
func (q *Quorum) Exit() error {
	notice, err := protocol.NewEnvelope(protocol.KindExit, CoordinatorID, nil)
	if err != nil {
		return err
	}
	if err := q.busConn.Broadcast(notice); err != nil {
		return fmt.Errorf("quorum: broadcast exit: %w", err)
	}
	q.log.Info("exiting")
	return q.busConn.Close()
}
