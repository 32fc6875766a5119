package agent

import (
	"fmt"

	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
	"gonum.org/v1/gonum/mat"
)

// learner はCModelとそのQ表を保持し、観測毎にQ反復をやり直す。
// beta > 0 ならばBEBの探索ボーナスを足して反復する。
type learner struct {
	model *mdp.CModel
	q     *mat.Dense
	beta  float64
}

func (l *learner) iterate(gamma float64, t int, init *mat.Dense) (*mat.Dense, error) {
	if l.beta > 0 {
		return l.model.BEBQIteration(l.beta, gamma, t, init)
	}
	return l.model.QIteration(gamma, t, init)
}

func (l *learner) ready() bool {
	return l.model != nil && l.q != nil
}

func (l *learner) reset(c *mdp.CModel, gamma float64, t int) error {
	l.model = c
	q, err := l.iterate(gamma, t, nil)
	if err != nil {
		l.model = nil
		return err
	}
	l.q = q
	return nil
}

func (l *learner) learn(x, u int, r float64, y int, gamma float64, t int) error {
	if !l.ready() {
		return fmt.Errorf("agent has not been reset")
	}
	if err := checkTransition(x, u, y, l.model.NX(), l.model.NU()); err != nil {
		return err
	}
	l.model.Update(x, u, y, r)
	q, err := l.iterate(gamma, t, l.q)
	if err != nil {
		return err
	}
	l.q = q
	return nil
}

func (l *learner) row(x int) ([]float64, error) {
	if !l.ready() {
		return nil, fmt.Errorf("agent has not been reset")
	}
	if err := checkState(x, l.model.NX()); err != nil {
		return nil, err
	}
	return mat.Row(nil, x, l.q), nil
}

func (l learner) clone() learner {
	c := learner{beta: l.beta}
	if l.model != nil {
		c.model = l.model.Clone()
	}
	if l.q != nil {
		c.q = mat.DenseCopyOf(l.q)
	}
	return c
}

func (l *learner) encode(e *serial.Encoder) {
	if l.model == nil {
		e.Object("model", nil)
	} else {
		e.Object("model", l.model)
	}
	if l.q == nil {
		e.Floats("q", nil)
		return
	}
	e.Floats("q", l.q.RawMatrix().Data)
}

func decodeLearner(d *serial.Decoder) (learner, error) {
	model := serial.DecodeObject[*mdp.CModel](d, "model")
	q := d.Floats("q")
	if err := d.Err(); err != nil {
		return learner{}, err
	}
	if model == nil {
		return learner{}, nil
	}
	if len(q) != model.NX()*model.NU() {
		return learner{}, fmt.Errorf("q table size (%d) does not match model (%dx%d)", len(q), model.NX(), model.NU())
	}
	return learner{model: model, q: mat.NewDense(model.NX(), model.NU(), q)}, nil
}
