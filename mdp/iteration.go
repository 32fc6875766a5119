package mdp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accuracy は反復回数を指定しない時の収束判定に使う。
const Accuracy = 1e-6

func validateIteration(gamma float64, t int) error {
	if gamma < 0 || gamma > 1 || math.IsNaN(gamma) {
		return fmt.Errorf("gamma must be in [0, 1], got %f", gamma)
	}
	if t <= 0 && gamma >= 1 {
		return fmt.Errorf("iteration until convergence requires gamma < 1")
	}
	return nil
}

// ValueIteration は状態価値Vを返す。t > 0 ならばt回更新し、そうでなければ収束するまで更新する。
func (m *MDP) ValueIteration(gamma float64, t int) ([]float64, error) {
	if err := validateIteration(gamma, t); err != nil {
		return nil, err
	}

	v := make([]float64, m.nX)
	prev := make([]float64, m.nX)
	for i := 0; t <= 0 || i < t; i++ {
		copy(prev, v)
		converged := true
		for x := range m.nX {
			best := math.Inf(-1)
			for u := range m.nU {
				q := m.backup(x, u, gamma, prev)
				if q > best {
					best = q
				}
			}
			v[x] = best
			if math.Abs(v[x]-prev[x]) > Accuracy {
				converged = false
			}
		}
		if converged {
			break
		}
	}
	return v, nil
}

func (m *MDP) backup(x, u int, gamma float64, v []float64) float64 {
	var q float64
	for _, y := range m.succ[m.nU*x+u] {
		q += m.p[m.index(x, u, y)] * (m.Reward(x, u, y) + gamma*v[y])
	}
	return q
}

// Bonus は (x, u) の期待報酬に足す値を返す。
type Bonus func(x, u int) float64

// QIteration は行動価値Qを nX×nU の行列として返す。
// initがnilでなければ、それを初期値として更新を続ける。
func (m *MDP) QIteration(gamma float64, t int, init *mat.Dense) (*mat.Dense, error) {
	return m.BonusQIteration(gamma, t, init, nil)
}

// BonusQIteration はQIterationの各backupにbonus(x, u)を足す。bonusがnilならばQIterationと同じ。
func (m *MDP) BonusQIteration(gamma float64, t int, init *mat.Dense, bonus Bonus) (*mat.Dense, error) {
	if err := validateIteration(gamma, t); err != nil {
		return nil, err
	}

	q := mat.NewDense(m.nX, m.nU, nil)
	if init != nil {
		r, c := init.Dims()
		if r != m.nX || c != m.nU {
			return nil, fmt.Errorf("initial Q has shape %dx%d, expected %dx%d", r, c, m.nX, m.nU)
		}
		q.Copy(init)
	}

	prev := mat.NewDense(m.nX, m.nU, nil)
	maxQ := make([]float64, m.nX)
	for i := 0; t <= 0 || i < t; i++ {
		prev.Copy(q)
		for y := range m.nX {
			maxQ[y] = floats.Max(prev.RawRowView(y))
		}

		converged := true
		for x := range m.nX {
			for u := range m.nU {
				v := m.backup(x, u, gamma, maxQ)
				if bonus != nil {
					v += bonus(x, u)
				}
				if math.Abs(v-prev.At(x, u)) > Accuracy {
					converged = false
				}
				q.Set(x, u, v)
			}
		}
		if converged {
			break
		}
	}
	return q, nil
}
