// Package uct はMDPのモデル上でUCTによる木探索を行う。
// 子ノードは (行動, 標本となった次状態) の組で遅延生成する。
package uct

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sw965/bamcp/ucb"
)

type Model interface {
	NU() int
	Transition(x, u int, rng *rand.Rand) (int, float64)
}

// ModelSource はi回目のシミュレーションで使うモデルを返す。
type ModelSource func(i int) Model

// RolloutPolicy は展開後のプレイアウトで使う行動を選ぶ。
type RolloutPolicy func(x, nU int, rng *rand.Rand) int

func RandomRollout(x, nU int, rng *rand.Rand) int {
	return rng.IntN(nU)
}

type StopReason int

const (
	StopNone StopReason = 0
	// StopSimulations は指定回数のシミュレーションを終えた事を表す。
	StopSimulations StopReason = 1 << iota
	// StopDepth は少なくとも1回のシミュレーションが深さの上限で打ち切られた事を表す。
	StopDepth
	// StopSteps は少なくとも1回のシミュレーションが遷移回数の上限で打ち切られた事を表す。
	StopSteps
)

func (r StopReason) String() string {
	if r == StopNone {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if r&StopSimulations != 0 {
		add("simulations")
	}
	if r&StopDepth != 0 {
		add("depth")
	}
	if r&StopSteps != 0 {
		add("steps")
	}
	return s
}

type Config struct {
	C        float64
	Gamma    float64
	MaxDepth int
	// StepBudget は1回のシミュレーションで呼べるTransitionの上限。0ならば上限なし。
	StepBudget int
}

func (c Config) Validate() error {
	if c.C < 0 || math.IsNaN(c.C) {
		return fmt.Errorf("exploration constant must be non-negative, got %f", c.C)
	}
	if c.Gamma < 0 || c.Gamma > 1 || math.IsNaN(c.Gamma) {
		return fmt.Errorf("gamma must be in [0, 1], got %f", c.Gamma)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d", c.MaxDepth)
	}
	if c.StepBudget < 0 {
		return fmt.Errorf("step budget must be non-negative, got %d", c.StepBudget)
	}
	return nil
}

type Node struct {
	State int
	Arms  ucb.Arms
	// Children[u][y]
	Children []map[int]*Node
}

func NewNode(x, nU int) *Node {
	return &Node{
		State:    x,
		Arms:     ucb.New(nU),
		Children: make([]map[int]*Node, nU),
	}
}

func (node *Node) Visits() int {
	return node.Arms.TotalTrial()
}

func (node *Node) Child(u, y int) (*Node, bool) {
	c, ok := node.Children[u][y]
	return c, ok
}

func (node *Node) addChild(u, y int) *Node {
	if node.Children[u] == nil {
		node.Children[u] = map[int]*Node{}
	}
	c := NewNode(y, len(node.Arms))
	node.Children[u][y] = c
	return c
}

// Size は部分木のノード数を返す。
func (node *Node) Size() int {
	n := 1
	for _, cs := range node.Children {
		for _, c := range cs {
			n += c.Size()
		}
	}
	return n
}

type selection struct {
	node   *Node
	action int
	reward float64
}

type selections []selection

func (ss selections) backward(leaf, gamma float64) {
	ret := leaf
	for i := len(ss) - 1; i >= 0; i-- {
		s := ss[i]
		ret = s.reward + gamma*ret
		s.node.Arms.Update(s.action, ret)
	}
}

type Engine struct {
	Config Config
	// UCBFunc がnilの時はConfig.CのUCB1を使う。
	UCBFunc ucb.Func
	// Rollout がnilの時は一様ランダム。
	Rollout RolloutPolicy
}

func (e *Engine) Validate() error {
	return e.Config.Validate()
}

func (e *Engine) ucbFunc() ucb.Func {
	if e.UCBFunc != nil {
		return e.UCBFunc
	}
	return ucb.NewUCB1Func(e.Config.C)
}

func (e *Engine) rollout() RolloutPolicy {
	if e.Rollout != nil {
		return e.Rollout
	}
	return RandomRollout
}

func (e *Engine) playout(m Model, x, depth, steps int, rng *rand.Rand) (float64, StopReason) {
	policy := e.rollout()
	nU := m.NU()
	var ret float64
	discount := 1.0
	for d := depth; d < e.Config.MaxDepth; d++ {
		if e.Config.StepBudget > 0 && steps >= e.Config.StepBudget {
			return ret, StopSteps
		}
		u := policy(x, nU, rng)
		y, r := m.Transition(x, u, rng)
		steps++
		ret += discount * r
		discount *= e.Config.Gamma
		x = y
	}
	return ret, StopDepth
}

// SelectExpansionBackward は1回のシミュレーションを行い、選択した経路の長さを返す。
func (e *Engine) SelectExpansionBackward(root *Node, m Model, f ucb.Func, rng *rand.Rand, capacity int) (int, StopReason) {
	node := root
	x := root.State
	sels := make(selections, 0, capacity)
	steps := 0
	var leaf float64
	var reason StopReason
	for {
		if len(sels) >= e.Config.MaxDepth {
			reason = StopDepth
			break
		}
		if e.Config.StepBudget > 0 && steps >= e.Config.StepBudget {
			reason = StopSteps
			break
		}

		u := node.Arms.Select(f)
		y, r := m.Transition(x, u, rng)
		steps++
		sels = append(sels, selection{node: node, action: u, reward: r})
		x = y

		next, ok := node.Child(u, y)
		if !ok {
			//expansion
			node.addChild(u, y)
			leaf, reason = e.playout(m, y, len(sels), steps, rng)
			break
		}
		node = next
	}
	sels.backward(leaf, e.Config.Gamma)
	return len(sels), reason
}

type Result struct {
	Action      int
	Visits      []int
	Values      []float64
	Simulations int
	StopReason  StopReason
}

// Search はrootから指定回数のシミュレーションを行う。
// 推奨行動はrootで訪問回数が最大の行動で、同数ならば添字が小さい方。
func (e *Engine) Search(root *Node, source ModelSource, simulations int, rng *rand.Rand) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	if root == nil {
		return Result{}, fmt.Errorf("root must not be nil")
	}
	if source == nil {
		return Result{}, fmt.Errorf("model source must not be nil")
	}
	if simulations < 0 {
		return Result{}, fmt.Errorf("simulations must be non-negative, got %d", simulations)
	}

	f := e.ucbFunc()
	var reason StopReason
	depth := 0
	for i := 0; i < simulations; i++ {
		m := source(i)
		if m.NU() != len(root.Arms) {
			return Result{}, fmt.Errorf("model has %d actions, tree has %d", m.NU(), len(root.Arms))
		}
		var r StopReason
		depth, r = e.SelectExpansionBackward(root, m, f, rng, depth+1)
		reason |= r
	}
	if simulations > 0 {
		reason |= StopSimulations
	}

	return Result{
		Action:      root.Arms.MaxTrialIndex(),
		Visits:      root.Arms.Trials(),
		Values:      root.Arms.Means(),
		Simulations: simulations,
		StopReason:  reason,
	}, nil
}

func (e *Engine) Run(m Model, x, simulations int, rng *rand.Rand) (Result, *Node, error) {
	if m == nil {
		return Result{}, nil, fmt.Errorf("model must not be nil")
	}
	root := NewNode(x, m.NU())
	res, err := e.Search(root, func(int) Model { return m }, simulations, rng)
	return res, root, err
}
