// Package distribution はMDPの事前分布・事後分布を表す。
package distribution

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
)

// ErrConstruction はmdp.ErrConstructionと同じ値。
var ErrConstruction = mdp.ErrConstruction

type Distribution interface {
	serial.Serializable
	NX() int
	NU() int
	// Sample は呼び出し毎に独立したMDPを返す。
	Sample(rng *rand.Rand) *mdp.MDP
	Clone() Distribution
}

const (
	DirMultiTag = "distribution.DirMulti"
	FixedTag    = "distribution.Fixed"
)

func init() {
	serial.MustRegister(DirMultiTag, decodeDirMulti)
	serial.MustRegister(FixedTag, decodeFixed)
}

type Params struct {
	Name     string
	NX       int
	NU       int
	IniState int
	// Theta は (x, u) 毎のディリクレ集中度。nX*nU*x + nX*u + y の順。
	Theta  []float64
	Reward mdp.Reward
}

// DirMulti は (x, u) の行毎に独立なディリクレ・多項分布。
// Updateは所有者の1つのゴルーチンから呼ばれる事を想定しているが、Sampleとの並行呼び出しは安全。
type DirMulti struct {
	mu       sync.RWMutex
	name     string
	nX       int
	nU       int
	iniState int
	theta    []float64
	reward   mdp.Reward
}

func NewDirMulti(params Params) (*DirMulti, error) {
	// 形と報酬表の検証はCModelと共通
	if _, err := mdp.NewCModel(mdp.CParams{
		NX: params.NX, NU: params.NU, IniState: params.IniState,
		N: params.Theta, Reward: params.Reward,
	}); err != nil {
		return nil, err
	}
	return &DirMulti{
		name:     params.Name,
		nX:       params.NX,
		nU:       params.NU,
		iniState: params.IniState,
		theta:    slices.Clone(params.Theta),
		reward:   params.Reward.Clone(),
	}, nil
}

// NewUniform は全ての集中度がthetaの事前分布を返す。
func NewUniform(name string, nX, nU, iniState int, theta float64, reward mdp.Reward) (*DirMulti, error) {
	ts := make([]float64, nX*nU*nX)
	for i := range ts {
		ts[i] = theta
	}
	return NewDirMulti(Params{Name: name, NX: nX, NU: nU, IniState: iniState, Theta: ts, Reward: reward})
}

func (d *DirMulti) Name() string {
	return d.name
}

func (d *DirMulti) NX() int {
	return d.nX
}

func (d *DirMulti) NU() int {
	return d.nU
}

func (d *DirMulti) index(x, u, y int) int {
	return d.nX*d.nU*x + d.nX*u + y
}

func (d *DirMulti) Theta(x, u, y int) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.theta[d.index(x, u, y)]
}

// Thetas は全ての集中度のコピーを返す。
func (d *DirMulti) Thetas() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.theta)
}

func (d *DirMulti) Sample(rng *rand.Rand) *mdp.MDP {
	d.mu.RLock()
	p := make([]float64, len(d.theta))
	for i := 0; i < d.nX*d.nU; i++ {
		mdp.SampleDirichlet(p[i*d.nX:(i+1)*d.nX], d.theta[i*d.nX:(i+1)*d.nX], rng)
	}
	d.mu.RUnlock()

	m, err := mdp.New(mdp.Params{
		Name:     d.name,
		NX:       d.nX,
		NU:       d.nU,
		IniState: d.iniState,
		P:        p,
		Reward:   d.reward,
	})
	if err != nil {
		// 検証済みの形から作ったディリクレ標本は常に確率行列になる
		panic(fmt.Sprintf("distribution: sampled an invalid MDP: %v", err))
	}
	return m
}

// Update は観測された遷移 (x, u, y) の集中度を1増やす。他の成分は変えない。
func (d *DirMulti) Update(x, u, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.theta[d.index(x, u, y)]++
}

func (d *DirMulti) UpdateN(x, u, y int, inc float64) error {
	if inc < 0 || math.IsNaN(inc) || math.IsInf(inc, 0) {
		return fmt.Errorf("increment must be a non-negative finite number, got %f", inc)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.theta[d.index(x, u, y)] += inc
	return nil
}

// CModel は現在の集中度を擬似カウントとして持つCModelを返す。
func (d *DirMulti) CModel() *mdp.CModel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, err := mdp.NewCModel(mdp.CParams{
		Name:     d.name,
		NX:       d.nX,
		NU:       d.nU,
		IniState: d.iniState,
		N:        d.theta,
		Reward:   d.reward,
	})
	if err != nil {
		panic(fmt.Sprintf("distribution: invalid posterior counts: %v", err))
	}
	return c
}

// Mean は事後平均の遷移確率を持つMDPを返す。
func (d *DirMulti) Mean() *mdp.MDP {
	return d.CModel().ML()
}

func (d *DirMulti) Clone() Distribution {
	return d.clone()
}

func (d *DirMulti) clone() *DirMulti {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &DirMulti{
		name:     d.name,
		nX:       d.nX,
		nU:       d.nU,
		iniState: d.iniState,
		theta:    slices.Clone(d.theta),
		reward:   d.reward.Clone(),
	}
}

func (d *DirMulti) TypeTag() string {
	return DirMultiTag
}

func (d *DirMulti) Serialize(e *serial.Encoder) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e.String("name", d.name)
	e.Int("nX", d.nX)
	e.Int("nU", d.nU)
	e.Int("iniState", d.iniState)
	e.Floats("theta", d.theta)
	mdp.EncodeReward(e, d.reward)
}

func decodeDirMulti(dec *serial.Decoder) (serial.Serializable, error) {
	params := Params{
		Name:     dec.String("name"),
		NX:       dec.Int("nX"),
		NU:       dec.Int("nU"),
		IniState: dec.Int("iniState"),
		Theta:    dec.Floats("theta"),
	}
	rw, err := mdp.DecodeReward(dec)
	if err != nil {
		return nil, err
	}
	params.Reward = rw
	d, err := NewDirMulti(params)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// FromCModel はcの擬似カウントを集中度とする分布を返す。
func FromCModel(c *mdp.CModel) *DirMulti {
	return &DirMulti{
		name:     c.Name(),
		nX:       c.NX(),
		nU:       c.NU(),
		iniState: c.IniState(),
		theta:    c.Counts(),
		reward:   c.RewardSpec(),
	}
}

// Fixed は常に同じMDPのコピーを返す分布。
type Fixed struct {
	m *mdp.MDP
}

func NewFixed(m *mdp.MDP) (*Fixed, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: mdp must not be nil", ErrConstruction)
	}
	return &Fixed{m: m.Clone()}, nil
}

func (f *Fixed) NX() int {
	return f.m.NX()
}

func (f *Fixed) NU() int {
	return f.m.NU()
}

func (f *Fixed) MDP() *mdp.MDP {
	return f.m.Clone()
}

func (f *Fixed) Sample(rng *rand.Rand) *mdp.MDP {
	return f.m.Clone()
}

func (f *Fixed) Clone() Distribution {
	return &Fixed{m: f.m.Clone()}
}

func (f *Fixed) TypeTag() string {
	return FixedTag
}

func (f *Fixed) Serialize(e *serial.Encoder) {
	e.Object("mdp", f.m)
}

func decodeFixed(d *serial.Decoder) (serial.Serializable, error) {
	m := serial.DecodeObject[*mdp.MDP](d, "mdp")
	if err := d.Err(); err != nil {
		return nil, err
	}
	f, err := NewFixed(m)
	if err != nil {
		return nil, err
	}
	return f, nil
}
