package agent

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sw965/bamcp/serial"
)

const BEBTag = "agent.BEB"

func init() {
	serial.MustRegister(BEBTag, decodeBEB)
}

// BEB (Bayesian Exploration Bonus) は事後分布の平均モデルに β/(1+ΣN(x, u)) の報酬ボーナスを足して
// Q反復し、その貪欲行動を選ぶ。
type BEB struct {
	Beta    float64
	Gamma   float64
	T       int
	learner learner
}

func NewBEB(beta, gamma float64, t int) *BEB {
	return &BEB{Beta: beta, Gamma: gamma, T: t}
}

func (a *BEB) Validate() error {
	if a.Beta <= 0 || math.IsNaN(a.Beta) || math.IsInf(a.Beta, 0) {
		return fmt.Errorf("beta must be positive, got %f", a.Beta)
	}
	return nil
}

func (a *BEB) Name() string {
	return fmt.Sprintf("BEB (beta=%g, gamma=%g)", a.Beta, a.Gamma)
}

func (a *BEB) Reset(env Env) error {
	if err := a.Validate(); err != nil {
		return err
	}
	c, err := PriorCModel(env)
	if err != nil {
		return err
	}
	a.learner.beta = a.Beta
	return a.learner.reset(c, a.Gamma, a.T)
}

func (a *BEB) SelectAction(x int, rng *rand.Rand) (int, error) {
	q, err := a.learner.row(x)
	if err != nil {
		return 0, err
	}
	return MaxSelect(GreedyPolicy(q), rng)
}

func (a *BEB) Learn(x, u int, r float64, y int) error {
	return a.learner.learn(x, u, r, y, a.Gamma, a.T)
}

func (a *BEB) Clone() Agent {
	return &BEB{Beta: a.Beta, Gamma: a.Gamma, T: a.T, learner: a.learner.clone()}
}

func (a *BEB) TypeTag() string {
	return BEBTag
}

func (a *BEB) Serialize(e *serial.Encoder) {
	e.Float("beta", a.Beta)
	e.Float("gamma", a.Gamma)
	e.Int("t", a.T)
	a.learner.encode(e)
}

func decodeBEB(d *serial.Decoder) (serial.Serializable, error) {
	a := &BEB{Beta: d.Float("beta"), Gamma: d.Float("gamma"), T: d.Int("t")}
	l, err := decodeLearner(d)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	l.beta = a.Beta
	a.learner = l
	return a, nil
}
