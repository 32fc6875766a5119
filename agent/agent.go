// Package agent は試行の中で行動を選び、観測から学習する意思決定主体を定義する。
package agent

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
)

// Env は試行の開始時にエージェントへ渡される情報。
type Env struct {
	Prior distribution.Distribution
	// MDP は真の環境。Optimalのような神託エージェントだけが使う。
	MDP *mdp.MDP
}

func (e Env) NX() int {
	if e.Prior != nil {
		return e.Prior.NX()
	}
	if e.MDP != nil {
		return e.MDP.NX()
	}
	return 0
}

func (e Env) NU() int {
	if e.Prior != nil {
		return e.Prior.NU()
	}
	if e.MDP != nil {
		return e.MDP.NU()
	}
	return 0
}

func (e Env) Validate() error {
	if e.Prior == nil && e.MDP == nil {
		return fmt.Errorf("env must have a prior or an MDP")
	}
	if e.Prior != nil && e.MDP != nil {
		if e.Prior.NX() != e.MDP.NX() || e.Prior.NU() != e.MDP.NU() {
			return fmt.Errorf("prior (%dx%d) and MDP (%dx%d) dimensions differ",
				e.Prior.NX(), e.Prior.NU(), e.MDP.NX(), e.MDP.NU())
		}
	}
	return nil
}

type Agent interface {
	serial.Serializable
	Name() string
	// Reset は試行の開始時に呼ばれ、事前知識から内部状態を作り直す。
	Reset(env Env) error
	SelectAction(x int, rng *rand.Rand) (int, error)
	Learn(x, u int, r float64, y int) error
	Clone() Agent
}

// PriorCModel はenvの事前分布を擬似カウントとして持つCModelを返す。
func PriorCModel(env Env) (*mdp.CModel, error) {
	switch d := env.Prior.(type) {
	case *distribution.DirMulti:
		return d.CModel(), nil
	case nil:
		return nil, fmt.Errorf("env has no prior")
	default:
		return nil, fmt.Errorf("prior %s does not provide pseudo-counts", d.TypeTag())
	}
}

func checkState(x, nX int) error {
	if x < 0 || x >= nX {
		return fmt.Errorf("state %d is out of range [0, %d)", x, nX)
	}
	return nil
}

func checkTransition(x, u, y, nX, nU int) error {
	if err := checkState(x, nX); err != nil {
		return err
	}
	if err := checkState(y, nX); err != nil {
		return err
	}
	if u < 0 || u >= nU {
		return fmt.Errorf("action %d is out of range [0, %d)", u, nU)
	}
	return nil
}
