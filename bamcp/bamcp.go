// Package bamcp は事後分布から引いたMDP上でUCT探索を行うベイズ適応的なエージェントを提供する。
package bamcp

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"

	"github.com/sw965/bamcp/agent"
	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/mcts/uct"
	"github.com/sw965/bamcp/ql"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	Config Config
	// Logger がnilの時はslog.Default()を使う。
	Logger *slog.Logger

	posterior *distribution.DirMulti
	q         *ql.Table
	// root は共有モードで次の意思決定に引き継ぐ木。
	root *uct.Node
}

func New(cfg Config) *Agent {
	return &Agent{Config: cfg}
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Agent) Name() string {
	c := a.Config
	return fmt.Sprintf("BAMCP (K=%d, D=%d, S=%d, c=%g, %s)", c.K, c.MaxDepth, c.Simulations, c.C, c.Mode)
}

// Posterior はエージェントが所有する事後分布を返す。呼び出し側は書き換えてはならない。
func (a *Agent) Posterior() *distribution.DirMulti {
	return a.posterior
}

// Reset は事前分布を複製して事後分布とし、プレイアウト用Q表と木を捨てる。
func (a *Agent) Reset(env agent.Env) error {
	if err := a.Config.Validate(); err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}
	prior, ok := env.Prior.(*distribution.DirMulti)
	if !ok {
		return fmt.Errorf("bamcp needs a Dirichlet-multinomial prior, got %T", env.Prior)
	}
	a.posterior = prior.Clone().(*distribution.DirMulti)
	a.q = ql.NewTable(prior.NX(), prior.NU())
	a.root = nil
	return nil
}

func (a *Agent) ready() error {
	if a.posterior == nil || a.q == nil {
		return fmt.Errorf("agent has not been reset")
	}
	return nil
}

func (a *Agent) rollout() uct.RolloutPolicy {
	eps := a.Config.RolloutEpsilon
	q := a.q
	return func(x, nU int, rng *rand.Rand) int {
		if rng.Float64() < eps {
			return rng.IntN(nU)
		}
		u, err := q.Greedy(x, rng)
		if err != nil {
			return rng.IntN(nU)
		}
		return u
	}
}

type Decision struct {
	Action int
	// Visits は根の行動毎の訪問回数。投票モードではK本の木の合計。
	Visits     []int
	StopReason uct.StopReason
	// Reused は前回の木を引き継いだかどうか。
	Reused bool
}

// Plan はK個のモデルを引いて探索し、訪問回数が最大の行動を返す。同数ならば添字が小さい方。
func (a *Agent) Plan(x int, rng *rand.Rand) (Decision, error) {
	if err := a.ready(); err != nil {
		return Decision{}, err
	}
	if err := a.Config.Validate(); err != nil {
		return Decision{}, err
	}
	nX, nU := a.posterior.NX(), a.posterior.NU()
	if x < 0 || x >= nX {
		return Decision{}, fmt.Errorf("state %d is out of range [0, %d)", x, nX)
	}

	if a.Config.Simulations == 0 {
		return Decision{Action: rng.IntN(nU), Visits: make([]int, nU)}, nil
	}

	k := a.Config.K
	models := make([]uct.Model, k)
	for i := range models {
		models[i] = a.posterior.Sample(rng)
	}
	engine := &uct.Engine{Config: a.Config.UCT(), Rollout: a.rollout()}

	var d Decision
	var err error
	switch a.Config.Mode {
	case ModeShared:
		d, err = a.searchShared(engine, models, x, rng)
	default:
		d, err = a.searchVote(engine, models, x, nU, rng)
	}
	if err != nil {
		return Decision{}, err
	}
	d.Action = argmaxVisits(d.Visits)

	a.logger().Debug("bamcp decision",
		"state", x,
		"action", d.Action,
		"visits", d.Visits,
		"mode", a.Config.Mode.String(),
		"stop_reason", d.StopReason.String(),
		"reused", d.Reused,
	)
	return d, nil
}

func (a *Agent) searchVote(engine *uct.Engine, models []uct.Model, x, nU int, rng *rand.Rand) (Decision, error) {
	// 並行に走らせても結果が変わらない様に、探索毎の乱数生成器を先に作る
	rngs := make([]*rand.Rand, len(models))
	for i := range rngs {
		rngs[i] = rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
	}

	results := make([]uct.Result, len(models))
	var g errgroup.Group
	if a.Config.Parallel {
		g.SetLimit(runtime.GOMAXPROCS(0))
	} else {
		g.SetLimit(1)
	}
	for i, m := range models {
		g.Go(func() error {
			res, _, err := engine.Run(m, x, a.Config.Simulations, rngs[i])
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Decision{}, err
	}

	d := Decision{Visits: make([]int, nU)}
	for _, res := range results {
		for u, n := range res.Visits {
			d.Visits[u] += n
		}
		d.StopReason |= res.StopReason
	}
	return d, nil
}

func (a *Agent) searchShared(engine *uct.Engine, models []uct.Model, x int, rng *rand.Rand) (Decision, error) {
	root := a.root
	reused := a.Config.ReuseTree && root != nil && root.State == x
	if !reused {
		root = uct.NewNode(x, models[0].NU())
	}
	source := func(i int) uct.Model {
		return models[i%len(models)]
	}
	res, err := engine.Search(root, source, a.Config.Simulations, rng)
	if err != nil {
		return Decision{}, err
	}
	if a.Config.ReuseTree {
		a.root = root
	}
	return Decision{Visits: res.Visits, StopReason: res.StopReason, Reused: reused}, nil
}

func argmaxVisits(visits []int) int {
	best := 0
	for u, n := range visits {
		if n > visits[best] {
			best = u
		}
	}
	return best
}

func (a *Agent) SelectAction(x int, rng *rand.Rand) (int, error) {
	d, err := a.Plan(x, rng)
	if err != nil {
		return 0, err
	}
	return d.Action, nil
}

// Learn は観測した遷移を事後分布の擬似カウントとプレイアウト用Q表に反映する。
func (a *Agent) Learn(x, u int, r float64, y int) error {
	if err := a.ready(); err != nil {
		return err
	}
	nX, nU := a.posterior.NX(), a.posterior.NU()
	if x < 0 || x >= nX || y < 0 || y >= nX {
		return fmt.Errorf("transition (%d, %d) is out of range [0, %d)", x, y, nX)
	}
	if u < 0 || u >= nU {
		return fmt.Errorf("action %d is out of range [0, %d)", u, nU)
	}

	a.posterior.Update(x, u, y)
	a.q.Update(x, u, r, y, a.Config.QLearningRate, a.Config.Gamma)

	if a.root != nil {
		var next *uct.Node
		if a.root.State == x {
			next, _ = a.root.Child(u, y)
		}
		a.root = next
	}
	return nil
}

func (a *Agent) Clone() agent.Agent {
	c := &Agent{Config: a.Config, Logger: a.Logger}
	if a.posterior != nil {
		c.posterior = a.posterior.Clone().(*distribution.DirMulti)
	}
	if a.q != nil {
		c.q = a.q.Clone()
	}
	return c
}
