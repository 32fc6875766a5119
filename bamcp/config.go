package bamcp

import (
	"fmt"
	"math"

	"github.com/sw965/bamcp/mcts/uct"
)

// Mode はK個の標本モデルに対する探索の仕方。
type Mode int

const (
	// ModeVote はモデル毎に独立した木で探索し、根の訪問回数を合算して投票する。
	ModeVote Mode = iota
	// ModeShared は1つの木を共有し、シミュレーション毎にモデルを順番に使う (root sampling)。
	ModeShared
)

func (m Mode) String() string {
	switch m {
	case ModeVote:
		return "vote"
	case ModeShared:
		return "shared"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "vote", "":
		return ModeVote, nil
	case "shared":
		return ModeShared, nil
	default:
		return 0, fmt.Errorf("unknown search mode %q", s)
	}
}

type Config struct {
	// K は1回の意思決定で事後分布から引くモデルの数。
	K int
	// Simulations は1本の木あたりのシミュレーション回数。
	Simulations int
	MaxDepth    int
	C           float64
	Gamma       float64
	Mode        Mode
	// Parallel が真ならば投票モードのK本の探索を並行に行う。
	Parallel bool
	// RolloutEpsilon はプレイアウトでランダムに行動する確率。それ以外はQ表に対して貪欲。
	RolloutEpsilon float64
	// QLearningRate は実際の遷移でプレイアウト用Q表を更新する時の学習率。
	QLearningRate float64
	StepBudget    int
	// ReuseTree が真ならば共有モードで、選んだ行動と観測した次状態の部分木を次の根にする。
	ReuseTree bool
}

func DefaultConfig() Config {
	return Config{
		K:              1,
		Simulations:    1000,
		MaxDepth:       15,
		C:              3.0,
		Gamma:          0.95,
		Mode:           ModeVote,
		RolloutEpsilon: 0.5,
		QLearningRate:  0.2,
	}
}

func (c Config) Validate() error {
	if c.K < 1 {
		return fmt.Errorf("K must be at least 1, got %d", c.K)
	}
	if c.Simulations < 0 {
		return fmt.Errorf("simulations must be non-negative, got %d", c.Simulations)
	}
	if c.Mode != ModeVote && c.Mode != ModeShared {
		return fmt.Errorf("unknown search mode %d", int(c.Mode))
	}
	if c.RolloutEpsilon < 0 || c.RolloutEpsilon > 1 || math.IsNaN(c.RolloutEpsilon) {
		return fmt.Errorf("rollout epsilon must be in [0, 1], got %f", c.RolloutEpsilon)
	}
	if c.QLearningRate < 0 || c.QLearningRate > 1 || math.IsNaN(c.QLearningRate) {
		return fmt.Errorf("q learning rate must be in [0, 1], got %f", c.QLearningRate)
	}
	return c.UCT().Validate()
}

func (c Config) UCT() uct.Config {
	return uct.Config{
		C:          c.C,
		Gamma:      c.Gamma,
		MaxDepth:   c.MaxDepth,
		StepBudget: c.StepBudget,
	}
}
