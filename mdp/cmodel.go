package mdp

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"gonum.org/v1/gonum/mat"
)

type CParams struct {
	Name     string
	NX       int
	NU       int
	IniState int
	// N はディリクレ擬似カウント。Pと同じ並び。
	N      []float64
	Reward Reward
}

// CModel は遷移確率をディリクレ擬似カウントNから導くモデル。
// Nは観測の度にその場で更新される。
type CModel struct {
	mu       sync.RWMutex
	name     string
	nX       int
	nU       int
	iniState int
	n        []float64
	nSum     []float64
	reward   Reward
}

func NewCModel(params CParams) (*CModel, error) {
	if err := validateShape(params.NX, params.NU, params.IniState); err != nil {
		return nil, err
	}
	if err := validateCounts(params.NX, params.NU, params.N); err != nil {
		return nil, err
	}
	if err := params.Reward.Validate(params.NX, params.NU); err != nil {
		return nil, err
	}

	c := &CModel{
		name:     params.Name,
		nX:       params.NX,
		nU:       params.NU,
		iniState: params.IniState,
		n:        slices.Clone(params.N),
		reward:   params.Reward.Clone(),
	}
	c.nSum = rowSums(c.nX, c.nU, c.n)
	return c, nil
}

func validateCounts(nX, nU int, n []float64) error {
	if len(n) != nX*nU*nX {
		return fmt.Errorf("%w: count tensor size (%d) does not match nX*nU*nX (%d)", ErrConstruction, len(n), nX*nU*nX)
	}
	for i, v := range n {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: invalid pseudo-count %f at %d", ErrConstruction, v, i)
		}
	}
	return nil
}

func rowSums(nX, nU int, n []float64) []float64 {
	sums := make([]float64, nX*nU)
	for i := range sums {
		var s float64
		for _, v := range n[i*nX : (i+1)*nX] {
			s += v
		}
		sums[i] = s
	}
	return sums
}

func (c *CModel) Name() string {
	return c.name
}

func (c *CModel) NX() int {
	return c.nX
}

func (c *CModel) NU() int {
	return c.nU
}

func (c *CModel) IniState() int {
	return c.iniState
}

func (c *CModel) RewardSpec() Reward {
	return c.reward.Clone()
}

func (c *CModel) index(x, u, y int) int {
	return c.nX*c.nU*x + c.nX*u + y
}

func (c *CModel) N(x, u, y int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.n[c.index(x, u, y)]
}

func (c *CModel) NSum(x, u int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nSum[c.nU*x+u]
}

// Counts はNのコピーを返す。
func (c *CModel) Counts() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.n)
}

// P は最尤推定の遷移確率を返す。カウントが無い行は一様分布。
func (c *CModel) P(x, u, y int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sum := c.nSum[c.nU*x+u]
	if sum <= 0 {
		return 1.0 / float64(c.nX)
	}
	return c.n[c.index(x, u, y)] / sum
}

// Update は観測された遷移 (x, u, y) のカウントを1増やす。rは報酬表が既知なので使わない。
func (c *CModel) Update(x, u, y int, r float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[c.index(x, u, y)]++
	c.nSum[c.nU*x+u]++
}

func (c *CModel) UpdateN(x, u, y int, inc float64) error {
	if inc < 0 || math.IsNaN(inc) || math.IsInf(inc, 0) {
		return fmt.Errorf("increment must be a non-negative finite number, got %f", inc)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[c.index(x, u, y)] += inc
	c.nSum[c.nU*x+u] += inc
	return nil
}

// ML は最尤推定の遷移確率を持つMDPを返す。
func (c *CModel) ML() *MDP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := make([]float64, len(c.n))
	for i := 0; i < c.nX*c.nU; i++ {
		Normalize(p[i*c.nX:(i+1)*c.nX], c.n[i*c.nX:(i+1)*c.nX])
	}
	return newMDP(c.name, c.nX, c.nU, c.iniState, p, c.reward.Clone(), nil)
}

// Sample は各行をDirichlet(N)から引いたMDPを返す。
func (c *CModel) Sample(rng *rand.Rand) *MDP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := make([]float64, len(c.n))
	for i := 0; i < c.nX*c.nU; i++ {
		SampleDirichlet(p[i*c.nX:(i+1)*c.nX], c.n[i*c.nX:(i+1)*c.nX], rng)
	}
	return newMDP(c.name, c.nX, c.nU, c.iniState, p, c.reward.Clone(), nil)
}

// Transition は最尤推定の行から次状態を引く。
func (c *CModel) Transition(x, u int, rng *rand.Rand) (int, float64) {
	c.mu.RLock()
	row := make([]float64, c.nX)
	i := c.index(x, u, 0)
	Normalize(row, c.n[i:i+c.nX])
	c.mu.RUnlock()

	y := sampleRow(row, rng)
	return y, c.reward.Sample(c.nX, c.nU, x, u, y, rng)
}

func (c *CModel) Reset(rng *rand.Rand) int {
	if c.iniState == -1 {
		return rng.IntN(c.nX)
	}
	return c.iniState
}

func (c *CModel) QIteration(gamma float64, t int, init *mat.Dense) (*mat.Dense, error) {
	return c.ML().QIteration(gamma, t, init)
}

// BEBQIteration は最尤推定のMDP上で、(x, u) の報酬に β/(1+ΣN(x, u)) を足してQ反復する。
func (c *CModel) BEBQIteration(beta, gamma float64, t int, init *mat.Dense) (*mat.Dense, error) {
	if beta < 0 || math.IsNaN(beta) || math.IsInf(beta, 0) {
		return nil, fmt.Errorf("beta must be non-negative, got %f", beta)
	}
	m := c.ML()
	c.mu.RLock()
	sums := slices.Clone(c.nSum)
	c.mu.RUnlock()
	nU := c.nU
	return m.BonusQIteration(gamma, t, init, func(x, u int) float64 {
		return beta / (1 + sums[nU*x+u])
	})
}

func (c *CModel) Clone() *CModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &CModel{
		name:     c.name,
		nX:       c.nX,
		nU:       c.nU,
		iniState: c.iniState,
		n:        slices.Clone(c.n),
		nSum:     slices.Clone(c.nSum),
		reward:   c.reward.Clone(),
	}
}
