package agent

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/serial"
	"gonum.org/v1/gonum/mat"
)

const OptimalTag = "agent.Optimal"

func init() {
	serial.MustRegister(OptimalTag, decodeOptimal)
}

// Optimal は真のMDPでQ反復を行い、貪欲に行動する。
type Optimal struct {
	Gamma float64
	// T はQ反復の回数。0以下ならば収束まで。
	T int
	q *mat.Dense
}

func NewOptimal(gamma float64, t int) *Optimal {
	return &Optimal{Gamma: gamma, T: t}
}

func (a *Optimal) Name() string {
	return fmt.Sprintf("Optimal (gamma=%g)", a.Gamma)
}

func (a *Optimal) Reset(env Env) error {
	if err := env.Validate(); err != nil {
		return err
	}
	m := env.MDP
	if m == nil {
		f, ok := env.Prior.(*distribution.Fixed)
		if !ok {
			return fmt.Errorf("optimal agent needs the true MDP")
		}
		m = f.MDP()
	}
	q, err := m.QIteration(a.Gamma, a.T, nil)
	if err != nil {
		return err
	}
	a.q = q
	return nil
}

func (a *Optimal) SelectAction(x int, rng *rand.Rand) (int, error) {
	if a.q == nil {
		return 0, fmt.Errorf("agent has not been reset")
	}
	nX, _ := a.q.Dims()
	if err := checkState(x, nX); err != nil {
		return 0, err
	}
	return MaxSelect(GreedyPolicy(mat.Row(nil, x, a.q)), rng)
}

func (a *Optimal) Learn(x, u int, r float64, y int) error {
	return nil
}

func (a *Optimal) Clone() Agent {
	c := &Optimal{Gamma: a.Gamma, T: a.T}
	if a.q != nil {
		c.q = mat.DenseCopyOf(a.q)
	}
	return c
}

func (a *Optimal) TypeTag() string {
	return OptimalTag
}

func (a *Optimal) Serialize(e *serial.Encoder) {
	e.Float("gamma", a.Gamma)
	e.Int("t", a.T)
	if a.q == nil {
		e.Ints("shape", []int{0, 0})
		e.Floats("q", nil)
		return
	}
	r, c := a.q.Dims()
	e.Ints("shape", []int{r, c})
	e.Floats("q", a.q.RawMatrix().Data)
}

func decodeOptimal(d *serial.Decoder) (serial.Serializable, error) {
	a := &Optimal{Gamma: d.Float("gamma"), T: d.Int("t")}
	shape := d.Ints("shape")
	q := d.Floats("q")
	if err := d.Err(); err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[0] < 0 || shape[1] < 0 || len(q) != shape[0]*shape[1] {
		return nil, fmt.Errorf("invalid q table shape %v with %d values", shape, len(q))
	}
	if len(q) > 0 {
		a.q = mat.NewDense(shape[0], shape[1], q)
	}
	return a, nil
}
