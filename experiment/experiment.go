// Package experiment はエージェントを分布から引いたMDP上で走らせ、収益を集計する。
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sw965/bamcp/agent"
	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/omw/parallel"
)

// ErrTrialPanic は試行中のpanicを失敗として記録するときに包むエラー。
var ErrTrialPanic = errors.New("trial panicked")

type Spec struct {
	Name string
	// Agent は試行毎に複製される原型。
	Agent agent.Agent
	// Prior はエージェントに渡す事前分布。
	Prior distribution.Distribution
	// Test は真のMDPを引く分布。
	Test    distribution.Distribution
	Trials  int
	Horizon int
	Gamma   float64
	Seed    uint64
}

func (s Spec) Validate() error {
	if s.Agent == nil {
		return fmt.Errorf("Agent must not be nil")
	}
	if s.Prior == nil {
		return fmt.Errorf("Prior must not be nil")
	}
	if s.Test == nil {
		return fmt.Errorf("Test must not be nil")
	}
	if s.Prior.NX() != s.Test.NX() || s.Prior.NU() != s.Test.NU() {
		return fmt.Errorf("prior (%dx%d) and test distribution (%dx%d) dimensions differ",
			s.Prior.NX(), s.Prior.NU(), s.Test.NX(), s.Test.NU())
	}
	if s.Trials < 0 {
		return fmt.Errorf("trials must be non-negative, got %d", s.Trials)
	}
	if s.Horizon < 0 {
		return fmt.Errorf("horizon must be non-negative, got %d", s.Horizon)
	}
	if s.Gamma < 0 || s.Gamma > 1 || math.IsNaN(s.Gamma) {
		return fmt.Errorf("gamma must be in [0, 1], got %f", s.Gamma)
	}
	return nil
}

type Result struct {
	ID    string
	Index int
	// Rewards は各ステップで得た報酬。失敗した試行では失敗までの分。
	Rewards []float64
	// Return は割引率Gammaでの割引収益。
	Return   float64
	Duration time.Duration
	// Agent は試行を終えた時点のエージェント。
	Agent agent.Agent
	Err   error
}

type Report struct {
	Name    string
	Results []Result
	Summary Summary
}

type Runner struct {
	// Parallelism は同時に走らせる試行の数。0以下ならばGOMAXPROCS。
	Parallelism int
	Logger      *slog.Logger
	Metrics     *Metrics
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) parallelism(trials int) int {
	p := r.Parallelism
	if p <= 0 {
		p = runtime.GOMAXPROCS(0)
	}
	return max(min(p, trials), 1)
}

// TrialRand はtrial番目の試行の乱数生成器を返す。並行度に依らず同じ系列になる。
func TrialRand(seed uint64, trial int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(trial)))
}

// Run は全ての試行を行う。失敗した試行はResult.Errに記録され、返すエラーはそれらをerrors.Joinしたもの。
// ctxが取り消されると、実行中の試行は次のステップの前に失敗として終わる。
func (r *Runner) Run(ctx context.Context, spec Spec) (*Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	log := r.logger().With("experiment", spec.Name)
	log.Info("experiment started",
		"agent", spec.Agent.Name(),
		"trials", spec.Trials,
		"horizon", spec.Horizon,
		"seed", spec.Seed,
	)

	results := make([]Result, spec.Trials)
	if spec.Trials == 0 {
		return &Report{Name: spec.Name, Results: results}, nil
	}
	err := parallel.For(spec.Trials, r.parallelism(spec.Trials), func(workerId, idx int) error {
		res := r.trial(ctx, spec, idx)
		r.Metrics.observeTrial(res)
		if res.Err != nil {
			log.Warn("trial failed", "trial", idx, "id", res.ID, "error", res.Err)
		} else {
			log.Debug("trial finished", "trial", idx, "id", res.ID, "return", res.Return, "duration", res.Duration)
		}
		results[idx] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	errs := make([]error, 0)
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("trial %d (%s): %w", res.Index, res.ID, res.Err))
		}
	}
	report := &Report{Name: spec.Name, Results: results, Summary: Summarize(results)}
	log.Info("experiment finished",
		"successes", report.Summary.Successes,
		"failures", report.Summary.Failures,
		"mean", report.Summary.Mean,
		"ci95", report.Summary.CI95,
	)
	return report, errors.Join(errs...)
}

func (r *Runner) trial(ctx context.Context, spec Spec, idx int) (res Result) {
	res = Result{ID: uuid.NewString(), Index: idx}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%w: %v", ErrTrialPanic, p)
		}
		res.Duration = time.Since(start)
	}()

	rng := TrialRand(spec.Seed, idx)
	m := spec.Test.Sample(rng)
	a := spec.Agent.Clone()
	res.Agent = a
	if err := a.Reset(agent.Env{Prior: spec.Prior, MDP: m}); err != nil {
		res.Err = err
		return res
	}

	nU := m.NU()
	x := m.Reset(rng)
	discount := 1.0
	res.Rewards = make([]float64, 0, spec.Horizon)
	for t := 0; t < spec.Horizon; t++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		decisionStart := time.Now()
		u, err := a.SelectAction(x, rng)
		r.Metrics.observeDecision(time.Since(decisionStart).Seconds())
		if err != nil {
			res.Err = fmt.Errorf("step %d: %w", t, err)
			return res
		}
		if u < 0 || u >= nU {
			res.Err = fmt.Errorf("step %d: agent selected action %d out of range [0, %d)", t, u, nU)
			return res
		}

		y, reward := m.Transition(x, u, rng)
		if err := a.Learn(x, u, reward, y); err != nil {
			res.Err = fmt.Errorf("step %d: %w", t, err)
			return res
		}
		res.Rewards = append(res.Rewards, reward)
		res.Return += discount * reward
		discount *= spec.Gamma
		x = y
	}
	return res
}
