package agent_test

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/sw965/bamcp/agent"
	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/formula"
	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
)

// 2状態2行動。行動0は状態を保ち、行動1は状態を入れ替える。次状態が1ならば報酬1。
func newSwitchMDP(t *testing.T) *mdp.MDP {
	t.Helper()
	m, err := mdp.New(mdp.Params{
		Name:     "switch",
		NX:       2,
		NU:       2,
		IniState: 0,
		P: []float64{
			1, 0,
			0, 1,
			0, 1,
			1, 0,
		},
		Reward: mdp.Reward{Type: mdp.SS, R: []float64{0, 1}},
	})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	return m
}

func newPrior(t *testing.T) *distribution.DirMulti {
	t.Helper()
	d, err := distribution.NewUniform("prior", 2, 2, 0, 1, mdp.Reward{Type: mdp.SS, R: []float64{0, 1}})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	return d
}

// 状態0で行動1が状態1へ、行動0が状態0へ移る事を繰り返し観測させる。
func teachSwitch(t *testing.T, a agent.Agent) {
	t.Helper()
	for range 20 {
		if err := a.Learn(0, 1, 1, 1); err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		if err := a.Learn(0, 0, 0, 0); err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
	}
}

func TestPolicy(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	u, err := agent.MaxSelect(agent.Policy{0.1, 0.7, 0.2}, rng)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if u != 1 {
		t.Errorf("MaxSelect: got %d, want 1", u)
	}

	counts := map[int]int{}
	for range 1000 {
		u, err := agent.MaxSelect(agent.Policy{1, 0, 1}, rng)
		if err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		counts[u]++
	}
	if counts[1] != 0 || counts[0] == 0 || counts[2] == 0 {
		t.Errorf("同値の行動から一様に選ばれていない: %v", counts)
	}

	tests := []struct {
		name           string
		p              agent.Policy
		wantErrMsgSubs []string
	}{
		{name: "異常_空", p: agent.Policy{}, wantErrMsgSubs: []string{"must not be empty"}},
		{name: "異常_負の値", p: agent.Policy{0.5, -0.1}, wantErrMsgSubs: []string{"invalid probability", "action: 1"}},
		{name: "異常_NaN", p: agent.Policy{float32(math.NaN())}, wantErrMsgSubs: []string{"invalid probability"}},
		{name: "異常_合計が0", p: agent.Policy{0, 0}, wantErrMsgSubs: []string{"zero"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := agent.WeightedRandomSelect(tc.p, rng)
			if err == nil {
				t.Fatalf("エラーを期待したが、nilが返された")
			}
			for _, sub := range tc.wantErrMsgSubs {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("エラーメッセージに %q が含まれていない: %v", sub, err)
				}
			}
		})
	}
}

func TestSoftMaxPolicy(t *testing.T) {
	p := agent.SoftMaxPolicy([]float64{1000, 1000, 0}, 1)
	var sum float32
	for _, v := range p {
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Errorf("合計が1でない: %v", p)
	}
	if math.Abs(float64(p[0]-p[1])) > 1e-6 || p[2] > 1e-6 {
		t.Errorf("予期せぬ確率: %v", p)
	}
}

func TestRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := agent.NewRandom()
	if _, err := a.SelectAction(0, rng); err == nil {
		t.Fatalf("エラーを期待したが、nilが返された")
	}
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	seen := map[int]bool{}
	for range 100 {
		u, err := a.SelectAction(1, rng)
		if err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		seen[u] = true
	}
	if len(seen) != 2 {
		t.Errorf("全ての行動が選ばれていない: %v", seen)
	}
	if _, err := a.SelectAction(2, rng); err == nil {
		t.Errorf("範囲外の状態でエラーを期待したが、nilが返された")
	}
}

func TestOptimal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	m := newSwitchMDP(t)

	a := agent.NewOptimal(0.9, 0)
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err == nil {
		t.Fatalf("真のMDPが無い場合にエラーを期待したが、nilが返された")
	}

	fixed, err := distribution.NewFixed(m)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	for _, env := range []agent.Env{{MDP: m}, {Prior: fixed}} {
		if err := a.Reset(env); err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		for x, want := range []int{1, 0} {
			u, err := a.SelectAction(x, rng)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			if u != want {
				t.Errorf("x=%d: got %d, want %d", x, u, want)
			}
		}
	}
}

func TestEGreedy(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	a := agent.NewEGreedy(0, 0.9, 0)
	if err := a.Learn(0, 0, 0, 0); err == nil {
		t.Fatalf("エラーを期待したが、nilが返された")
	}
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	teachSwitch(t, a)
	for range 20 {
		u, err := a.SelectAction(0, rng)
		if err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		if u != 1 {
			t.Fatalf("got %d, want 1", u)
		}
	}

	if err := a.Learn(0, 2, 0, 0); err == nil {
		t.Errorf("範囲外の行動でエラーを期待したが、nilが返された")
	}

	bad := agent.NewEGreedy(1.5, 0.9, 0)
	if err := bad.Reset(agent.Env{Prior: newPrior(t)}); err == nil {
		t.Errorf("エラーを期待したが、nilが返された")
	}

	fixed, err := distribution.NewFixed(newSwitchMDP(t))
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	err = agent.NewEGreedy(0.1, 0.9, 0).Reset(agent.Env{Prior: fixed})
	if err == nil || !strings.Contains(err.Error(), "pseudo-counts") {
		t.Errorf("擬似カウントを持たない事前分布でエラーを期待した: %v", err)
	}
}

func TestBEB(t *testing.T) {
	tests := []struct {
		name string
		beta float64
		want int
	}{
		// Q(0, 0) = 21/22 + β/23, Q(0, 1) = 1/2 + β/3
		{name: "正常_小さなボーナスは既知の報酬を選ぶ", beta: 0.1, want: 0},
		{name: "正常_大きなボーナスは未試行の行動を選ぶ", beta: 10, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(1, 2))
			a := agent.NewBEB(tc.beta, 0, 0)
			if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			for range 20 {
				if err := a.Learn(0, 0, 1, 1); err != nil {
					t.Fatalf("予期せぬエラーが発生した: %v", err)
				}
			}
			for range 10 {
				u, err := a.SelectAction(0, rng)
				if err != nil {
					t.Fatalf("予期せぬエラーが発生した: %v", err)
				}
				if u != tc.want {
					t.Fatalf("got %d, want %d", u, tc.want)
				}
			}
		})
	}

	for _, beta := range []float64{0, -1, math.NaN()} {
		if err := agent.NewBEB(beta, 0.9, 0).Reset(agent.Env{Prior: newPrior(t)}); err == nil {
			t.Errorf("beta = %f: エラーを期待したが、nilが返された", beta)
		}
	}
	if _, err := agent.NewBEB(1, 0.9, 0).SelectAction(0, rand.New(rand.NewPCG(1, 2))); err == nil {
		t.Errorf("Reset前の行動選択でエラーを期待したが、nilが返された")
	}
}

func TestVDBE(t *testing.T) {
	a := agent.NewVDBE(1, 0.5, 1, 0.9, 0)
	if err := a.Learn(0, 0, 0, 0); err == nil {
		t.Fatalf("エラーを期待したが、nilが返された")
	}
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	for x := range 2 {
		if a.Epsilon(x) != 1 {
			t.Errorf("epsilon(%d) = %f, want 1", x, a.Epsilon(x))
		}
	}

	prev := a.Epsilon(0)
	for i := range 200 {
		if err := a.Learn(0, 0, 0, 0); err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		eps := a.Epsilon(0)
		if eps < 0 || eps > 1 {
			t.Fatalf("step %d: epsilon out of range: %f", i, eps)
		}
		if eps > prev+1e-12 {
			t.Errorf("step %d: epsilon must not grow while Q settles: %f -> %f", i, prev, eps)
		}
		prev = eps
	}
	// Qが動かなくなった状態は貪欲になり、学習していない状態はそのまま
	if a.Epsilon(0) > 0.05 {
		t.Errorf("epsilon(0) = %f, want near 0", a.Epsilon(0))
	}
	if a.Epsilon(1) != 1 {
		t.Errorf("epsilon(1) = %f, want 1", a.Epsilon(1))
	}

	if err := a.Learn(0, 2, 0, 0); err == nil {
		t.Errorf("範囲外の行動でエラーを期待したが、nilが返された")
	}

	tests := []struct {
		name           string
		a              *agent.VDBE
		wantErrMsgSubs []string
	}{
		{name: "異常_sigmaが0", a: agent.NewVDBE(0, 0.5, 1, 0.9, 0), wantErrMsgSubs: []string{"sigma"}},
		{name: "異常_deltaが1", a: agent.NewVDBE(1, 1, 1, 0.9, 0), wantErrMsgSubs: []string{"delta"}},
		{name: "異常_初期εが範囲外", a: agent.NewVDBE(1, 0.5, 1.5, 0.9, 0), wantErrMsgSubs: []string{"epsilon"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.a.Reset(agent.Env{Prior: newPrior(t)})
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

func TestEGreedyDoesNotShareModelWithPrior(t *testing.T) {
	prior := newPrior(t)
	a := agent.NewEGreedy(0, 0.9, 0)
	if err := a.Reset(agent.Env{Prior: prior}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	teachSwitch(t, a)
	if got := prior.Theta(0, 1, 1); got != 1 {
		t.Errorf("事前分布が書き換えられた: theta=%f", got)
	}
}

func TestSoftMax(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := agent.NewSoftMax(0.01, 0.9, 0)
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	teachSwitch(t, a)
	count := 0
	for range 200 {
		u, err := a.SelectAction(0, rng)
		if err != nil {
			t.Fatalf("予期せぬエラーが発生した: %v", err)
		}
		if u == 1 {
			count++
		}
	}
	if count < 190 {
		t.Errorf("低温でも最良の行動が選ばれていない: %d/200", count)
	}

	if err := agent.NewSoftMax(0, 0.9, 0).Reset(agent.Env{Prior: newPrior(t)}); err == nil {
		t.Errorf("エラーを期待したが、nilが返された")
	}
}

func TestFormulaAgent(t *testing.T) {
	tests := []struct {
		name string
		rpn  string
		want int
	}{
		{name: "正常_Q値そのもの", rpn: "X0", want: 1},
		{name: "正常_符号反転", rpn: "X0 neg", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(1, 2))
			a := agent.NewFormulaAgent(formula.MustParse(tc.rpn), 0.9, 0)
			if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			teachSwitch(t, a)
			u, err := a.SelectAction(0, rng)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			if u != tc.want {
				t.Errorf("got %d, want %d", u, tc.want)
			}
		})
	}
}

func TestFormulaAgentConstant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := agent.NewFormulaAgent(formula.MustParse("1"), 0.9, 0)
	if _, err := a.SelectAction(0, rng); err == nil {
		t.Errorf("エラーを期待したが、nilが返された")
	}
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	teachSwitch(t, a)

	b, err := serial.Marshal(a)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	got, err := serial.Decode[agent.Agent](bytes.NewReader(b))
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}

	seen := map[int]bool{}
	for range 50 {
		for _, ag := range []agent.Agent{a, got} {
			u, err := ag.SelectAction(0, rng)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			if u < 0 || u >= 2 {
				t.Fatalf("action %d out of range", u)
			}
			seen[u] = true
		}
	}
	// 全行動が同点なので両方選ばれる
	if len(seen) != 2 {
		t.Errorf("seen = %v", seen)
	}
}

func TestFormulaAgentInits(t *testing.T) {
	prior := newPrior(t)
	init := prior.CModel()
	if err := init.UpdateN(0, 0, 1, 100); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	// X1 は行動0でも状態1へ移ると信じている
	a := agent.NewFormulaAgent(formula.MustParse("X1"), 0.9, 0, nil, init)
	if err := a.Reset(agent.Env{Prior: prior}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	u, err := a.SelectAction(0, rng)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if u != 0 {
		t.Errorf("got %d, want 0", u)
	}

	few := agent.NewFormulaAgent(formula.MustParse("X0 X1 +"), 0.9, 0, init)
	if err := few.Reset(agent.Env{Prior: prior}); err == nil {
		t.Errorf("エラーを期待したが、nilが返された")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := newSwitchMDP(t)
	agents := []agent.Agent{
		agent.NewRandom(),
		agent.NewOptimal(0.9, 0),
		agent.NewEGreedy(0.2, 0.9, 0),
		agent.NewSoftMax(0.5, 0.9, 0),
		agent.NewFormulaAgent(formula.MustParse("X0 X1 max"), 0.9, 0),
		agent.NewBEB(2, 0.9, 0),
		agent.NewVDBE(1, 0.5, 0.8, 0.9, 0),
	}
	for _, a := range agents {
		t.Run(a.Name(), func(t *testing.T) {
			if err := a.Reset(agent.Env{Prior: newPrior(t), MDP: m}); err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			teachSwitch(t, a)

			b, err := serial.Marshal(a)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			got, err := serial.Decode[agent.Agent](bytes.NewReader(b))
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			if got.Name() != a.Name() {
				t.Errorf("名前が一致しない: got %q, want %q", got.Name(), a.Name())
			}

			rng1 := rand.New(rand.NewPCG(3, 4))
			rng2 := rand.New(rand.NewPCG(3, 4))
			for range 20 {
				u1, err1 := a.SelectAction(0, rng1)
				u2, err2 := got.SelectAction(0, rng2)
				if err1 != nil || err2 != nil {
					t.Fatalf("予期せぬエラーが発生した: %v, %v", err1, err2)
				}
				if u1 != u2 {
					t.Fatalf("復元後の行動が一致しない: %d != %d", u1, u2)
				}
			}

			again, err := serial.Marshal(got)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			if !bytes.Equal(b, again) {
				t.Errorf("再直列化の結果が一致しない")
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := agent.NewEGreedy(0, 0.9, 0)
	if err := a.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	c := a.Clone()
	teachSwitch(t, a)

	before, err := serial.Marshal(c)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	fresh := agent.NewEGreedy(0, 0.9, 0)
	if err := fresh.Reset(agent.Env{Prior: newPrior(t)}); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	want, err := serial.Marshal(fresh)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if !bytes.Equal(before, want) {
		t.Errorf("複製が元のエージェントの学習の影響を受けた")
	}
}
