package agent

import (
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/sw965/omw/mathx/randx"
)

// Policy は行動の添字毎の選択確率、または選好度。
type Policy []float32

func (p Policy) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("policy must not be empty")
	}
	var sum float32
	for u, v := range p {
		if v < 0 || math32.IsNaN(v) || math32.IsInf(v, 0) {
			return fmt.Errorf("invalid probability value %f for action: %d", v, u)
		}
		sum += v
	}
	if sum == 0 {
		return fmt.Errorf("sum of policy probabilities is zero")
	}
	return nil
}

type SelectFunc func(Policy, *rand.Rand) (int, error)

// MaxSelect は値が最大の行動を返す。同値の中からは一様に選ぶ。
func MaxSelect(p Policy, rng *rand.Rand) (int, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("policy must not be empty")
	}
	max := p[0]
	us := []int{0}
	for u, v := range p[1:] {
		u++
		switch {
		case v > max:
			max = v
			us = []int{u}
		case v == max:
			us = append(us, u)
		}
	}
	return randx.Choice(us, rng)
}

func WeightedRandomSelect(p Policy, rng *rand.Rand) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return randx.IntByWeights(p, rng)
}

// GreedyPolicy はQ値をそのまま選好度とする。
func GreedyPolicy(q []float64) Policy {
	p := make(Policy, len(q))
	for u, v := range q {
		p[u] = float32(v)
	}
	return p
}

// SoftMaxPolicy は温度tauのボルツマン分布を返す。
func SoftMaxPolicy(q []float64, tau float64) Policy {
	p := make(Policy, len(q))
	if len(q) == 0 {
		return p
	}
	t := float32(tau)
	max := float32(q[0])
	for _, v := range q[1:] {
		max = math32.Max(max, float32(v))
	}
	var sum float32
	for u, v := range q {
		// 桁あふれを避ける為に最大値を引く
		p[u] = math32.Exp((float32(v) - max) / t)
		sum += p[u]
	}
	for u := range p {
		p[u] /= sum
	}
	return p
}
