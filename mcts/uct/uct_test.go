package uct_test

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/sw965/bamcp/mcts/uct"
	"github.com/sw965/bamcp/mdp"
)

// 1状態2行動。行動0は報酬1、行動1は報酬0。
func newBanditMDP(t *testing.T) *mdp.MDP {
	t.Helper()
	m, err := mdp.New(mdp.Params{
		Name: "bandit", NX: 1, NU: 2, IniState: 0,
		P:      []float64{1, 1},
		Reward: mdp.Reward{Type: mdp.SA, R: []float64{1, 0}},
	})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	return m
}

// 5状態の鎖。行動1で右へ進み、右端で報酬1。行動0は左端に戻る。
func newChainMDP(t *testing.T) *mdp.MDP {
	t.Helper()
	nX, nU := 5, 2
	p := make([]float64, nX*nU*nX)
	for x := range nX {
		p[nX*nU*x+nX*0+0] = 1
		p[nX*nU*x+nX*1+min(x+1, nX-1)] = 1
	}
	r := make([]float64, nX)
	r[nX-1] = 1
	m, err := mdp.New(mdp.Params{
		Name: "chain", NX: nX, NU: nU, IniState: 0, P: p,
		Reward: mdp.Reward{Type: mdp.SS, R: r},
	})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	return m
}

type countingModel struct {
	uct.Model
	n int
}

func (c *countingModel) Transition(x, u int, rng *rand.Rand) (int, float64) {
	c.n++
	return c.Model.Transition(x, u, rng)
}

func TestRunPrefersRewardingAction(t *testing.T) {
	e := uct.Engine{Config: uct.Config{C: 1, Gamma: 0.95, MaxDepth: 10}}
	rng := rand.New(rand.NewPCG(1, 2))
	res, root, err := e.Run(newBanditMDP(t), 0, 100, rng)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if res.Visits[0] <= res.Visits[1] {
		t.Errorf("action 0 must be visited more: %v", res.Visits)
	}
	if res.Action != 0 {
		t.Errorf("want: 0, got: %d", res.Action)
	}
	if root.Visits() != 100 || res.Simulations != 100 {
		t.Errorf("root visits = %d, simulations = %d", root.Visits(), res.Simulations)
	}
	if res.StopReason&uct.StopSimulations == 0 {
		t.Errorf("stop reason must include simulations: %s", res.StopReason)
	}
}

func TestRecommendationIsMostVisited(t *testing.T) {
	e := uct.Engine{Config: uct.Config{C: 2, Gamma: 0.9, MaxDepth: 8}}
	for seed := range uint64(5) {
		rng := rand.New(rand.NewPCG(seed, 1))
		res, _, err := e.Run(newChainMDP(t), 0, 300, rng)
		if err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		max := slices.Max(res.Visits)
		if res.Visits[res.Action] != max {
			t.Errorf("recommended action %d has %d visits, max is %d", res.Action, res.Visits[res.Action], max)
		}
		if slices.Index(res.Visits, max) != res.Action {
			t.Errorf("ties must go to the lowest index: %v -> %d", res.Visits, res.Action)
		}
	}
}

func TestChainFindsDelayedReward(t *testing.T) {
	e := uct.Engine{Config: uct.Config{C: 1, Gamma: 0.95, MaxDepth: 6}}
	rng := rand.New(rand.NewPCG(1, 2))
	res, _, err := e.Run(newChainMDP(t), 0, 2000, rng)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if res.Action != 1 {
		t.Errorf("moving right must be recommended: %v", res.Visits)
	}
}

// 3状態。どの行動でも次状態は一様で、状態2に入ると報酬1。
func newRandomWalkMDP(t *testing.T) *mdp.MDP {
	t.Helper()
	nX, nU := 3, 2
	p := make([]float64, nX*nU*nX)
	for i := range p {
		p[i] = 1.0 / float64(nX)
	}
	m, err := mdp.New(mdp.Params{
		Name: "walk", NX: nX, NU: nU, IniState: 0, P: p,
		Reward: mdp.Reward{Type: mdp.SS, R: []float64{0, 0, 1}},
	})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	return m
}

func TestVisitInvariant(t *testing.T) {
	const simulations = 300
	tests := []struct {
		name string
		m    *mdp.MDP
	}{
		{name: "正常_決定的な鎖", m: newChainMDP(t)},
		{name: "正常_確率的な遷移", m: newRandomWalkMDP(t)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// 木の深さはシミュレーション回数を超えないので、選択が深さの上限で止まる事はない
			e := uct.Engine{Config: uct.Config{C: 1, Gamma: 0.9, MaxDepth: simulations + 1}}
			rng := rand.New(rand.NewPCG(3, 4))
			_, root, err := e.Run(tc.m, 0, simulations, rng)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}

			if root.Visits() != simulations {
				t.Errorf("root visits = %d, want %d", root.Visits(), simulations)
			}
			// 各シミュレーションはちょうど1つのノードを展開する
			if root.Size() != simulations+1 {
				t.Errorf("tree size = %d, want %d", root.Size(), simulations+1)
			}

			// (ノード, 行動) の試行回数 = Σ_子 (子の訪問回数 + 子を展開した1回)
			var check func(node *uct.Node, depth int)
			check = func(node *uct.Node, depth int) {
				if depth >= e.Config.MaxDepth {
					t.Fatalf("tree reached the depth cap at state %d", node.State)
				}
				total := 0
				for u, cs := range node.Children {
					sum := 0
					for y, c := range cs {
						if c.State != y {
							t.Errorf("child under next state %d has state %d", y, c.State)
						}
						sum += c.Visits() + 1
						check(c, depth+1)
					}
					trial := node.Arms[u].Trial
					if sum != trial {
						t.Errorf("depth %d state %d action %d: children %d != trials %d", depth, node.State, u, sum, trial)
					}
					total += trial
				}
				if total != node.Visits() {
					t.Errorf("depth %d state %d: sum of trials %d != visits %d", depth, node.State, total, node.Visits())
				}
			}
			check(root, 0)
		})
	}
}

func TestDepthAndStepBudget(t *testing.T) {
	tests := []struct {
		name       string
		config     uct.Config
		sims       int
		wantSteps  int
		wantReason uct.StopReason
	}{
		{
			name:       "深さ1ならば1シミュレーション1遷移",
			config:     uct.Config{C: 1, Gamma: 0.9, MaxDepth: 1},
			sims:       50,
			wantSteps:  50,
			wantReason: uct.StopSimulations | uct.StopDepth,
		},
		{
			name:       "遷移回数の上限",
			config:     uct.Config{C: 1, Gamma: 0.9, MaxDepth: 100, StepBudget: 3},
			sims:       20,
			wantSteps:  60,
			wantReason: uct.StopSimulations | uct.StopSteps,
		},
		{
			name:       "シミュレーション0回",
			config:     uct.Config{C: 1, Gamma: 0.9, MaxDepth: 5},
			sims:       0,
			wantSteps:  0,
			wantReason: uct.StopNone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := uct.Engine{Config: tc.config}
			m := &countingModel{Model: newChainMDP(t)}
			rng := rand.New(rand.NewPCG(1, 2))
			res, _, err := e.Run(m, 0, tc.sims, rng)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			if m.n != tc.wantSteps {
				t.Errorf("steps: want %d, got %d", tc.wantSteps, m.n)
			}
			if res.StopReason != tc.wantReason {
				t.Errorf("stop reason: want %s, got %s", tc.wantReason, res.StopReason)
			}
			if res.Action < 0 || res.Action >= 2 {
				t.Errorf("invalid action %d", res.Action)
			}
		})
	}
}

func TestSharedTreeAcrossModels(t *testing.T) {
	e := uct.Engine{Config: uct.Config{C: 1, Gamma: 0.9, MaxDepth: 4}}
	a := &countingModel{Model: newChainMDP(t)}
	b := &countingModel{Model: newChainMDP(t)}
	models := []uct.Model{a, b}
	root := uct.NewNode(0, 2)
	rng := rand.New(rand.NewPCG(1, 2))
	res, err := e.Search(root, func(i int) uct.Model { return models[i%2] }, 10, rng)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if a.n == 0 || b.n == 0 {
		t.Errorf("both models must be used: %d, %d", a.n, b.n)
	}
	if root.Visits() != 10 || res.Simulations != 10 {
		t.Errorf("root visits = %d", root.Visits())
	}
}

func TestReproducible(t *testing.T) {
	e := uct.Engine{Config: uct.Config{C: 1.5, Gamma: 0.9, MaxDepth: 6}}
	rng1 := rand.New(rand.NewPCG(11, 12))
	rng2 := rand.New(rand.NewPCG(11, 12))
	r1, _, err := e.Run(newChainMDP(t), 0, 200, rng1)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	r2, _, err := e.Run(newChainMDP(t), 0, 200, rng2)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if !slices.Equal(r1.Visits, r2.Visits) || !slices.Equal(r1.Values, r2.Values) {
		t.Errorf("same seed must give the same tree: %v vs %v", r1.Visits, r2.Visits)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name           string
		config         uct.Config
		wantErrMsgSubs []string
	}{
		{
			name:           "異常_負の探索定数",
			config:         uct.Config{C: -1, Gamma: 0.9, MaxDepth: 1},
			wantErrMsgSubs: []string{"exploration constant"},
		},
		{
			name:           "異常_割引率",
			config:         uct.Config{C: 1, Gamma: 1.5, MaxDepth: 1},
			wantErrMsgSubs: []string{"gamma"},
		},
		{
			name:           "異常_深さ0",
			config:         uct.Config{C: 1, Gamma: 0.9},
			wantErrMsgSubs: []string{"max depth"},
		},
		{
			name:           "異常_負の遷移回数上限",
			config:         uct.Config{C: 1, Gamma: 0.9, MaxDepth: 1, StepBudget: -1},
			wantErrMsgSubs: []string{"step budget"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := uct.Engine{Config: tc.config}
			rng := rand.New(rand.NewPCG(1, 2))
			_, _, err := e.Run(newBanditMDP(t), 0, 1, rng)
			if err == nil {
				t.Fatalf("エラーを期待したが、nilが返された")
			}
			for _, sub := range tc.wantErrMsgSubs {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("errMsg = %s, sub = %s", err.Error(), sub)
				}
			}
		})
	}
}
