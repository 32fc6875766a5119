package bamcp

import (
	"fmt"

	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/ql"
	"github.com/sw965/bamcp/serial"
)

const Tag = "bamcp.Agent"

func init() {
	serial.MustRegister(Tag, decodeAgent)
}

func (a *Agent) TypeTag() string {
	return Tag
}

// Serialize は設定、事後分布、プレイアウト用Q表を書く。探索木は保存しない。
func (a *Agent) Serialize(e *serial.Encoder) {
	c := a.Config
	e.Int("k", c.K)
	e.Int("simulations", c.Simulations)
	e.Int("maxDepth", c.MaxDepth)
	e.Float("c", c.C)
	e.Float("gamma", c.Gamma)
	e.String("mode", c.Mode.String())
	e.Bool("parallel", c.Parallel)
	e.Float("rolloutEpsilon", c.RolloutEpsilon)
	e.Float("qLearningRate", c.QLearningRate)
	e.Int("stepBudget", c.StepBudget)
	e.Bool("reuseTree", c.ReuseTree)
	if a.posterior == nil {
		e.Object("posterior", nil)
	} else {
		e.Object("posterior", a.posterior)
	}
	if a.q == nil {
		e.Floats("q", nil)
	} else {
		e.Floats("q", a.q.Values)
	}
}

func decodeAgent(d *serial.Decoder) (serial.Serializable, error) {
	c := Config{
		K:           d.Int("k"),
		Simulations: d.Int("simulations"),
		MaxDepth:    d.Int("maxDepth"),
		C:           d.Float("c"),
		Gamma:       d.Float("gamma"),
	}
	mode := d.String("mode")
	c.Parallel = d.Bool("parallel")
	c.RolloutEpsilon = d.Float("rolloutEpsilon")
	c.QLearningRate = d.Float("qLearningRate")
	c.StepBudget = d.Int("stepBudget")
	c.ReuseTree = d.Bool("reuseTree")
	posterior := serial.DecodeObject[*distribution.DirMulti](d, "posterior")
	q := d.Floats("q")
	if err := d.Err(); err != nil {
		return nil, err
	}

	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	c.Mode = m
	if err := c.Validate(); err != nil {
		return nil, err
	}

	a := New(c)
	if posterior == nil {
		return a, nil
	}
	nX, nU := posterior.NX(), posterior.NU()
	if len(q) != nX*nU {
		return nil, fmt.Errorf("q table size (%d) does not match posterior (%dx%d)", len(q), nX, nU)
	}
	a.posterior = posterior
	a.q = &ql.Table{NX: nX, NU: nU, Values: q}
	return a, nil
}
