package agent

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/bamcp/formula"
	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
)

const FormulaTag = "agent.Formula"

func init() {
	serial.MustRegister(FormulaTag, decodeFormulaAgent)
}

// FormulaAgent は変数X_iを i番目のCModelのQ(x, u) として数式Fを評価し、
// 値が最大の行動を選ぶ。
type FormulaAgent struct {
	F     formula.Formula
	Gamma float64
	T     int
	// Inits は各変数のCModelの初期カウント。nilの要素は事前分布の擬似カウントで始める。
	// Inits自体が空ならば F.NumVars() 個すべてを事前分布から始める。
	Inits    []*mdp.CModel
	learners []learner
	// nU はReset済みの環境の行動数。0ならば未Reset。
	nU int
}

func NewFormulaAgent(f formula.Formula, gamma float64, t int, inits ...*mdp.CModel) *FormulaAgent {
	return &FormulaAgent{F: f, Gamma: gamma, T: t, Inits: inits}
}

func (a *FormulaAgent) Validate() error {
	if a.F == nil {
		return fmt.Errorf("F must not be nil")
	}
	if len(a.Inits) > 0 && len(a.Inits) < a.F.NumVars() {
		return fmt.Errorf("formula uses %d variables but only %d initial models are given", a.F.NumVars(), len(a.Inits))
	}
	return nil
}

func (a *FormulaAgent) Name() string {
	if a.F == nil {
		return "Formula agent()"
	}
	return fmt.Sprintf("Formula agent(%s)", a.F.String())
}

func (a *FormulaAgent) numVars() int {
	if len(a.Inits) > 0 {
		return len(a.Inits)
	}
	return a.F.NumVars()
}

func (a *FormulaAgent) Reset(env Env) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}

	learners := make([]learner, a.numVars())
	for i := range learners {
		var c *mdp.CModel
		if i < len(a.Inits) && a.Inits[i] != nil {
			c = a.Inits[i].Clone()
			if c.NX() != env.NX() || c.NU() != env.NU() {
				return fmt.Errorf("initial model %d (%dx%d) does not match env (%dx%d)", i, c.NX(), c.NU(), env.NX(), env.NU())
			}
		} else {
			var err error
			c, err = PriorCModel(env)
			if err != nil {
				return err
			}
		}
		if err := learners[i].reset(c, a.Gamma, a.T); err != nil {
			return err
		}
	}
	a.learners = learners
	a.nU = env.NU()
	return nil
}

func (a *FormulaAgent) SelectAction(x int, rng *rand.Rand) (int, error) {
	if a.nU == 0 {
		return 0, fmt.Errorf("agent has not been reset")
	}
	rows := make([][]float64, len(a.learners))
	for i := range a.learners {
		row, err := a.learners[i].row(x)
		if err != nil {
			return 0, err
		}
		rows[i] = row
	}

	scores := make([]float64, a.nU)
	vars := make([]float64, len(rows))
	for u := range scores {
		for i, row := range rows {
			vars[i] = row[u]
		}
		v, err := a.F.Evaluate(vars)
		if err != nil {
			return 0, err
		}
		scores[u] = v
	}
	return MaxSelect(GreedyPolicy(scores), rng)
}

func (a *FormulaAgent) Learn(x, u int, r float64, y int) error {
	if a.nU == 0 {
		return fmt.Errorf("agent has not been reset")
	}
	for i := range a.learners {
		if err := a.learners[i].learn(x, u, r, y, a.Gamma, a.T); err != nil {
			return err
		}
	}
	return nil
}

func (a *FormulaAgent) Clone() Agent {
	c := &FormulaAgent{F: a.F, Gamma: a.Gamma, T: a.T, nU: a.nU}
	if a.Inits != nil {
		c.Inits = make([]*mdp.CModel, len(a.Inits))
		for i, init := range a.Inits {
			if init != nil {
				c.Inits[i] = init.Clone()
			}
		}
	}
	if a.learners != nil {
		c.learners = make([]learner, len(a.learners))
		for i, l := range a.learners {
			c.learners[i] = l.clone()
		}
	}
	return c
}

func (a *FormulaAgent) TypeTag() string {
	return FormulaTag
}

func (a *FormulaAgent) Serialize(e *serial.Encoder) {
	e.Object("f", a.F)
	e.Float("gamma", a.Gamma)
	e.Int("t", a.T)
	inits := make([]serial.Serializable, len(a.Inits))
	for i, init := range a.Inits {
		if init != nil {
			inits[i] = init
		}
	}
	e.Objects("inits", inits)
	e.Int("nu", a.nU)
	e.Int("vars", len(a.learners))
	for _, l := range a.learners {
		l.encode(e)
	}
}

func decodeFormulaAgent(d *serial.Decoder) (serial.Serializable, error) {
	a := &FormulaAgent{
		F:     serial.DecodeObject[formula.Formula](d, "f"),
		Gamma: d.Float("gamma"),
		T:     d.Int("t"),
	}
	inits := d.Objects("inits")
	a.nU = d.Int("nu")
	n := d.Int("vars")
	if err := d.Err(); err != nil {
		return nil, err
	}
	if len(inits) > 0 {
		a.Inits = make([]*mdp.CModel, len(inits))
		for i, s := range inits {
			if s == nil {
				continue
			}
			c, ok := s.(*mdp.CModel)
			if !ok {
				return nil, fmt.Errorf("initial model %d has type %s", i, s.TypeTag())
			}
			a.Inits[i] = c
		}
	}
	if n < 0 || a.nU < 0 {
		return nil, fmt.Errorf("negative count: vars=%d, nu=%d", n, a.nU)
	}
	if n > 0 {
		a.learners = make([]learner, n)
		for i := range a.learners {
			l, err := decodeLearner(d)
			if err != nil {
				return nil, err
			}
			a.learners[i] = l
		}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
