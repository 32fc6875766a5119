package mdp

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// SampleDirichlet はDirichlet(alpha)から1つ引いてdstに書き込む。
// alphaが0の成分は0になる。全ての成分が0の場合は一様分布にする。
func SampleDirichlet(dst, alpha []float64, rng *rand.Rand) {
	var sum float64
	positive := 0
	for i, a := range alpha {
		if a <= 0 {
			dst[i] = 0
			continue
		}
		positive++
		g := distuv.Gamma{Alpha: a, Beta: 1, Src: rng}
		dst[i] = g.Rand()
		sum += dst[i]
	}

	if positive == 0 {
		uniform(dst)
		return
	}

	// alphaが極端に小さいとGamma変量が全てアンダーフローする
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		w := 1.0 / float64(positive)
		for i, a := range alpha {
			if a > 0 {
				dst[i] = w
			} else {
				dst[i] = 0
			}
		}
		return
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// Normalize はcountsを確率に変換してdstに書き込む。和が0ならば一様分布にする。
func Normalize(dst, counts []float64) {
	sum := floats.Sum(counts)
	if sum <= 0 {
		uniform(dst)
		return
	}
	for i, n := range counts {
		dst[i] = n / sum
	}
}

func uniform(dst []float64) {
	w := 1.0 / float64(len(dst))
	for i := range dst {
		dst[i] = w
	}
}
