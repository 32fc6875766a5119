// Package mdp は離散状態・離散行動のマルコフ決定過程を表す。
// 遷移確率 P は nX*nU*x + nX*u + y の順に平坦に並べて保持する。
package mdp

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

var ErrConstruction = errors.New("construction error")

// Tolerance は遷移確率の各行の和が1から外れてよい幅。
const Tolerance = 1e-9

// Model はTransitionで (次状態, 報酬) を返せる環境。
type Model interface {
	NX() int
	NU() int
	Transition(x, u int, rng *rand.Rand) (int, float64)
}

type Params struct {
	Name string
	NX   int
	NU   int
	// IniState が -1 の時、Resetは状態を一様に選ぶ。
	IniState int
	P        []float64
	Reward   Reward
	// V は参照用の状態価値。空でもよい。
	V []float64
}

func validateShape(nX, nU, iniState int) error {
	if nX <= 0 {
		return fmt.Errorf("%w: nX must be positive, got %d", ErrConstruction, nX)
	}
	if nU <= 0 {
		return fmt.Errorf("%w: nU must be positive, got %d", ErrConstruction, nU)
	}
	if iniState < -1 || iniState >= nX {
		return fmt.Errorf("%w: iniState (%d) must be -1 or in [0, %d)", ErrConstruction, iniState, nX)
	}
	return nil
}

func validateStochastic(nX, nU int, p []float64) error {
	if len(p) != nX*nU*nX {
		return fmt.Errorf("%w: transition tensor size (%d) does not match nX*nU*nX (%d)", ErrConstruction, len(p), nX*nU*nX)
	}
	for x := range nX {
		for u := range nU {
			i := nX*nU*x + nX*u
			var sum float64
			for y, v := range p[i : i+nX] {
				if v < 0 || v > 1 || math.IsNaN(v) {
					return fmt.Errorf("%w: P(%d, %d, %d) = %f is not a probability", ErrConstruction, x, u, y, v)
				}
				sum += v
			}
			if math.Abs(sum-1) > Tolerance {
				return fmt.Errorf("%w: row (%d, %d) sums to %f, not 1", ErrConstruction, x, u, sum)
			}
		}
	}
	return nil
}

type MDP struct {
	name     string
	nX       int
	nU       int
	iniState int
	p        []float64
	reward   Reward
	v        []float64
	succ     [][]int
}

func New(params Params) (*MDP, error) {
	if err := validateShape(params.NX, params.NU, params.IniState); err != nil {
		return nil, err
	}
	if err := validateStochastic(params.NX, params.NU, params.P); err != nil {
		return nil, err
	}
	if err := params.Reward.Validate(params.NX, params.NU); err != nil {
		return nil, err
	}
	if len(params.V) != 0 && len(params.V) != params.NX {
		return nil, fmt.Errorf("%w: value table size (%d) does not match nX (%d)", ErrConstruction, len(params.V), params.NX)
	}
	return newMDP(params.Name, params.NX, params.NU, params.IniState,
		slices.Clone(params.P), params.Reward.Clone(), slices.Clone(params.V)), nil
}

// newMDPは検証済みの値の所有権を受け取る。
func newMDP(name string, nX, nU, iniState int, p []float64, reward Reward, v []float64) *MDP {
	m := &MDP{
		name:     name,
		nX:       nX,
		nU:       nU,
		iniState: iniState,
		p:        p,
		reward:   reward,
		v:        v,
	}
	m.succ = successors(nX, nU, p)
	return m
}

func successors(nX, nU int, p []float64) [][]int {
	succ := make([][]int, nX*nU)
	for x := range nX {
		for u := range nU {
			i := nX*nU*x + nX*u
			ys := make([]int, 0, nX)
			for y, v := range p[i : i+nX] {
				if v > 0 {
					ys = append(ys, y)
				}
			}
			succ[nU*x+u] = ys
		}
	}
	return succ
}

func (m *MDP) Name() string {
	return m.name
}

func (m *MDP) NX() int {
	return m.nX
}

func (m *MDP) NU() int {
	return m.nU
}

func (m *MDP) IniState() int {
	return m.iniState
}

func (m *MDP) index(x, u, y int) int {
	return m.nX*m.nU*x + m.nX*u + y
}

func (m *MDP) P(x, u, y int) float64 {
	return m.p[m.index(x, u, y)]
}

// Row は (x, u) の遷移確率のコピーを返す。
func (m *MDP) Row(x, u int) []float64 {
	i := m.index(x, u, 0)
	return slices.Clone(m.p[i : i+m.nX])
}

func (m *MDP) RewardType() RewardType {
	return m.reward.Type
}

// Reward は (x, u, y) の報酬の期待値を返す。
func (m *MDP) Reward(x, u, y int) float64 {
	return m.reward.Mean(m.nX, m.nU, x, u, y)
}

func (m *MDP) RewardSpec() Reward {
	return m.reward.Clone()
}

func (m *MDP) V() []float64 {
	return slices.Clone(m.v)
}

func (m *MDP) Transition(x, u int, rng *rand.Rand) (int, float64) {
	i := m.index(x, u, 0)
	y := sampleRow(m.p[i:i+m.nX], rng)
	return y, m.reward.Sample(m.nX, m.nU, x, u, y, rng)
}

func (m *MDP) Reset(rng *rand.Rand) int {
	if m.iniState == -1 {
		return rng.IntN(m.nX)
	}
	return m.iniState
}

func (m *MDP) Clone() *MDP {
	return newMDP(m.name, m.nX, m.nU, m.iniState, slices.Clone(m.p), m.reward.Clone(), slices.Clone(m.v))
}

// Successors は (x, u) から正の確率で遷移する状態を昇順で返す。
func (m *MDP) Successors(x, u int) []int {
	return slices.Clone(m.succ[m.nU*x+u])
}

// Reachable はxから到達可能な状態の集合を昇順で返す。x自身も含む。
func (m *MDP) Reachable(x int) []int {
	seen := make([]bool, m.nX)
	seen[x] = true
	stack := []int{x}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for u := range m.nU {
			for _, y := range m.succ[m.nU*s+u] {
				if !seen[y] {
					seen[y] = true
					stack = append(stack, y)
				}
			}
		}
	}
	ys := make([]int, 0, m.nX)
	for y, ok := range seen {
		if ok {
			ys = append(ys, y)
		}
	}
	return ys
}

func sampleRow(row []float64, rng *rand.Rand) int {
	t := rng.Float64()
	var c float64
	last := 0
	for y, p := range row {
		if p <= 0 {
			continue
		}
		c += p
		last = y
		if t < c {
			return y
		}
	}
	// 丸め誤差で和が1に届かない場合
	return last
}
