package agent

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sw965/bamcp/serial"
)

const (
	EGreedyTag = "agent.EGreedy"
	SoftMaxTag = "agent.SoftMax"
)

func init() {
	serial.MustRegister(EGreedyTag, decodeEGreedy)
	serial.MustRegister(SoftMaxTag, decodeSoftMax)
}

// EGreedy は事前分布の擬似カウントから始めたCModelのQ表に対してε-貪欲に行動する。
type EGreedy struct {
	Epsilon float64
	Gamma   float64
	T       int
	learner learner
}

func NewEGreedy(epsilon, gamma float64, t int) *EGreedy {
	return &EGreedy{Epsilon: epsilon, Gamma: gamma, T: t}
}

func (a *EGreedy) Validate() error {
	if a.Epsilon < 0 || a.Epsilon > 1 || math.IsNaN(a.Epsilon) {
		return fmt.Errorf("epsilon must be in [0, 1], got %f", a.Epsilon)
	}
	return nil
}

func (a *EGreedy) Name() string {
	return fmt.Sprintf("e-Greedy (eps=%g, gamma=%g)", a.Epsilon, a.Gamma)
}

func (a *EGreedy) Reset(env Env) error {
	if err := a.Validate(); err != nil {
		return err
	}
	c, err := PriorCModel(env)
	if err != nil {
		return err
	}
	return a.learner.reset(c, a.Gamma, a.T)
}

func (a *EGreedy) SelectAction(x int, rng *rand.Rand) (int, error) {
	q, err := a.learner.row(x)
	if err != nil {
		return 0, err
	}
	if rng.Float64() < a.Epsilon {
		return rng.IntN(len(q)), nil
	}
	return MaxSelect(GreedyPolicy(q), rng)
}

func (a *EGreedy) Learn(x, u int, r float64, y int) error {
	return a.learner.learn(x, u, r, y, a.Gamma, a.T)
}

func (a *EGreedy) Clone() Agent {
	return &EGreedy{Epsilon: a.Epsilon, Gamma: a.Gamma, T: a.T, learner: a.learner.clone()}
}

func (a *EGreedy) TypeTag() string {
	return EGreedyTag
}

func (a *EGreedy) Serialize(e *serial.Encoder) {
	e.Float("epsilon", a.Epsilon)
	e.Float("gamma", a.Gamma)
	e.Int("t", a.T)
	a.learner.encode(e)
}

func decodeEGreedy(d *serial.Decoder) (serial.Serializable, error) {
	a := &EGreedy{Epsilon: d.Float("epsilon"), Gamma: d.Float("gamma"), T: d.Int("t")}
	l, err := decodeLearner(d)
	if err != nil {
		return nil, err
	}
	a.learner = l
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// SoftMax はQ値に対する温度tauのボルツマン分布から行動を引く。
type SoftMax struct {
	Tau     float64
	Gamma   float64
	T       int
	learner learner
}

func NewSoftMax(tau, gamma float64, t int) *SoftMax {
	return &SoftMax{Tau: tau, Gamma: gamma, T: t}
}

func (a *SoftMax) Validate() error {
	if a.Tau <= 0 || math.IsNaN(a.Tau) || math.IsInf(a.Tau, 0) {
		return fmt.Errorf("tau must be positive, got %f", a.Tau)
	}
	return nil
}

func (a *SoftMax) Name() string {
	return fmt.Sprintf("SoftMax (tau=%g, gamma=%g)", a.Tau, a.Gamma)
}

func (a *SoftMax) Reset(env Env) error {
	if err := a.Validate(); err != nil {
		return err
	}
	c, err := PriorCModel(env)
	if err != nil {
		return err
	}
	return a.learner.reset(c, a.Gamma, a.T)
}

func (a *SoftMax) SelectAction(x int, rng *rand.Rand) (int, error) {
	q, err := a.learner.row(x)
	if err != nil {
		return 0, err
	}
	return WeightedRandomSelect(SoftMaxPolicy(q, a.Tau), rng)
}

func (a *SoftMax) Learn(x, u int, r float64, y int) error {
	return a.learner.learn(x, u, r, y, a.Gamma, a.T)
}

func (a *SoftMax) Clone() Agent {
	return &SoftMax{Tau: a.Tau, Gamma: a.Gamma, T: a.T, learner: a.learner.clone()}
}

func (a *SoftMax) TypeTag() string {
	return SoftMaxTag
}

func (a *SoftMax) Serialize(e *serial.Encoder) {
	e.Float("tau", a.Tau)
	e.Float("gamma", a.Gamma)
	e.Int("t", a.T)
	a.learner.encode(e)
}

func decodeSoftMax(d *serial.Decoder) (serial.Serializable, error) {
	a := &SoftMax{Tau: d.Float("tau"), Gamma: d.Float("gamma"), T: d.Int("t")}
	l, err := decodeLearner(d)
	if err != nil {
		return nil, err
	}
	a.learner = l
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
