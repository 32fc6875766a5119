package agent

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/sw965/bamcp/serial"
)

const VDBETag = "agent.VDBEEGreedy"

func init() {
	serial.MustRegister(VDBETag, decodeVDBE)
}

// VDBE (Value-Difference Based Exploration) はε-貪欲だが、εを状態毎に持つ。
// 状態xで学習する度に、Q(x, u) の変化量 |ΔQ| から
//
//	f = (1 - exp(-|ΔQ|/σ)) / (1 + exp(-|ΔQ|/σ))
//	ε(x) ← δ f + (1 - δ) ε(x)
//
// と更新する。価値が動かなくなった状態ほど貪欲になる。
type VDBE struct {
	Sigma      float64
	Delta      float64
	IniEpsilon float64
	Gamma      float64
	T          int
	epsilons   []float64
	learner    learner
}

func NewVDBE(sigma, delta, iniEpsilon, gamma float64, t int) *VDBE {
	return &VDBE{Sigma: sigma, Delta: delta, IniEpsilon: iniEpsilon, Gamma: gamma, T: t}
}

func (a *VDBE) Validate() error {
	if a.Sigma <= 0 || math.IsNaN(a.Sigma) || math.IsInf(a.Sigma, 0) {
		return fmt.Errorf("sigma must be positive, got %f", a.Sigma)
	}
	if a.Delta < 0 || a.Delta >= 1 || math.IsNaN(a.Delta) {
		return fmt.Errorf("delta must be in [0, 1), got %f", a.Delta)
	}
	if a.IniEpsilon < 0 || a.IniEpsilon > 1 || math.IsNaN(a.IniEpsilon) {
		return fmt.Errorf("initial epsilon must be in [0, 1], got %f", a.IniEpsilon)
	}
	return nil
}

func (a *VDBE) Name() string {
	return fmt.Sprintf("VDBE e-Greedy (sigma=%g, delta=%g)", a.Sigma, a.Delta)
}

// Epsilon は状態xの現在のε。Reset前は IniEpsilon。
func (a *VDBE) Epsilon(x int) float64 {
	if x < 0 || x >= len(a.epsilons) {
		return a.IniEpsilon
	}
	return a.epsilons[x]
}

func (a *VDBE) Reset(env Env) error {
	if err := a.Validate(); err != nil {
		return err
	}
	c, err := PriorCModel(env)
	if err != nil {
		return err
	}
	if err := a.learner.reset(c, a.Gamma, a.T); err != nil {
		return err
	}
	a.epsilons = make([]float64, c.NX())
	for x := range a.epsilons {
		a.epsilons[x] = a.IniEpsilon
	}
	return nil
}

func (a *VDBE) SelectAction(x int, rng *rand.Rand) (int, error) {
	q, err := a.learner.row(x)
	if err != nil {
		return 0, err
	}
	if rng.Float64() < a.epsilons[x] {
		return rng.IntN(len(q)), nil
	}
	return MaxSelect(GreedyPolicy(q), rng)
}

func (a *VDBE) Learn(x, u int, r float64, y int) error {
	prev, err := a.learner.row(x)
	if err != nil {
		return err
	}
	if err := a.learner.learn(x, u, r, y, a.Gamma, a.T); err != nil {
		return err
	}
	e := math.Exp(-math.Abs(a.learner.q.At(x, u)-prev[u]) / a.Sigma)
	f := (1 - e) / (1 + e)
	a.epsilons[x] = a.Delta*f + (1-a.Delta)*a.epsilons[x]
	return nil
}

func (a *VDBE) Clone() Agent {
	return &VDBE{
		Sigma:      a.Sigma,
		Delta:      a.Delta,
		IniEpsilon: a.IniEpsilon,
		Gamma:      a.Gamma,
		T:          a.T,
		epsilons:   slices.Clone(a.epsilons),
		learner:    a.learner.clone(),
	}
}

func (a *VDBE) TypeTag() string {
	return VDBETag
}

func (a *VDBE) Serialize(e *serial.Encoder) {
	e.Float("sigma", a.Sigma)
	e.Float("delta", a.Delta)
	e.Float("iniEpsilon", a.IniEpsilon)
	e.Float("gamma", a.Gamma)
	e.Int("t", a.T)
	e.Floats("epsilons", a.epsilons)
	a.learner.encode(e)
}

func decodeVDBE(d *serial.Decoder) (serial.Serializable, error) {
	a := &VDBE{
		Sigma:      d.Float("sigma"),
		Delta:      d.Float("delta"),
		IniEpsilon: d.Float("iniEpsilon"),
		Gamma:      d.Float("gamma"),
		T:          d.Int("t"),
	}
	eps := d.Floats("epsilons")
	l, err := decodeLearner(d)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if l.ready() {
		if len(eps) != l.model.NX() {
			return nil, fmt.Errorf("epsilons size (%d) does not match model states (%d)", len(eps), l.model.NX())
		}
		for x, e := range eps {
			if e < 0 || e > 1 || math.IsNaN(e) {
				return nil, fmt.Errorf("epsilon of state %d must be in [0, 1], got %f", x, e)
			}
		}
		a.epsilons = eps
	}
	a.learner = l
	return a, nil
}
