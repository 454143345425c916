package env

import (
	"math"
	"math/rand"

	"distributed-rollout/internal/experience"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	poleLength     = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * poleLength
	forceMax       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0

	// CartPoleAgent is the single agent id the cart-pole wrapper exposes.
	CartPoleAgent = "cart"

	// CartPoleActions is the size of the discrete action space.
	CartPoleActions = 2
)

// CartPole is a single-agent Wrapper around the classic cart-pole
// balancing task. Not safe for concurrent use.
type CartPole struct {
	rng      *rand.Rand
	maxSteps int

	x, xDot, theta, thetaDot float64

	started  bool
	done     bool
	steps    int
	reward   float64
	recorded *experience.Set
}

// NewCartPole builds a cart-pole environment. Episodes terminate after
// maxSteps balanced steps or when the pole falls. A nil rng gets an
// arbitrarily seeded source.
func NewCartPole(rng *rand.Rand, maxSteps int) *CartPole {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if maxSteps <= 0 {
		maxSteps = 500
	}
	return &CartPole{rng: rng, maxSteps: maxSteps, recorded: &experience.Set{}}
}

func (c *CartPole) Reset() {
	c.started = false
	c.done = false
	c.steps = 0
	c.reward = 0
	c.recorded = &experience.Set{}
}

func (c *CartPole) Start() {
	c.x = c.rng.Float64()*0.1 - 0.05
	c.xDot = c.rng.Float64()*0.1 - 0.05
	c.theta = c.rng.Float64()*0.1 - 0.05
	c.thetaDot = c.rng.Float64()*0.1 - 0.05
	c.started = true
	c.done = false
}

func (c *CartPole) State() map[string][]float64 {
	if !c.started || c.done {
		return nil
	}
	return map[string][]float64{CartPoleAgent: c.observation()}
}

func (c *CartPole) observation() []float64 {
	return []float64{c.x, c.xDot, c.theta, c.thetaDot}
}

func (c *CartPole) Step(actions map[string]int) {
	if !c.started || c.done {
		return
	}
	action := actions[CartPoleAgent]
	before := c.observation()

	force := forceMax
	if action == 0 {
		force = -forceMax
	}

	cosTheta := math.Cos(c.theta)
	sinTheta := math.Sin(c.theta)

	temp := (force + poleMassLength*c.thetaDot*c.thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(poleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	c.x += tau * c.xDot
	c.xDot += tau * xAcc
	c.theta += tau * c.thetaDot
	c.thetaDot += tau * thetaAcc
	c.steps++

	fell := c.x < -xThreshold || c.x > xThreshold ||
		c.theta < -thetaThreshold || c.theta > thetaThreshold
	c.done = fell || c.steps >= c.maxSteps

	reward := 1.0
	if fell {
		reward = 0.0
	}
	c.reward += reward

	c.recorded.Append(experience.Transition{
		State:     before,
		Action:    action,
		Reward:    reward,
		NextState: c.observation(),
	})
}

func (c *CartPole) StepIndex() int {
	return c.steps
}

func (c *CartPole) Summary() Summary {
	return Summary{
		Steps:         c.steps,
		TotalReward:   c.reward,
		RewardByAgent: map[string]float64{CartPoleAgent: c.reward},
	}
}

func (c *CartPole) TakeExperiences() map[string]*experience.Set {
	taken := c.recorded
	c.recorded = &experience.Set{}
	return map[string]*experience.Set{CartPoleAgent: taken}
}
