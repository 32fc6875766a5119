package mdp

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"
)

// RewardType は報酬表Rをどの添字で引くかを表す。
type RewardType int

const (
	// SS は遷移先の状態だけで報酬が決まる。len(R) == nX
	SS RewardType = iota
	// SAS は (状態, 行動, 遷移先) で報酬が決まる。len(R) == nX*nU*nX
	SAS
	// SA は (状態, 行動) で報酬が決まる。len(R) == nX*nU
	SA
)

func (t RewardType) String() string {
	switch t {
	case SS:
		return "SS"
	case SAS:
		return "SAS"
	case SA:
		return "SA"
	}
	return fmt.Sprintf("RewardType(%d)", int(t))
}

func ParseRewardType(s string) (RewardType, error) {
	switch s {
	case "SS":
		return SS, nil
	case "SAS":
		return SAS, nil
	case "SA":
		return SA, nil
	}
	return 0, fmt.Errorf("unknown reward type %q", s)
}

func (t RewardType) Size(nX, nU int) (int, error) {
	switch t {
	case SS:
		return nX, nil
	case SAS:
		return nX * nU * nX, nil
	case SA:
		return nX * nU, nil
	}
	return 0, fmt.Errorf("unknown reward type %d", int(t))
}

func (t RewardType) index(nX, nU, x, u, y int) int {
	switch t {
	case SS:
		return y
	case SA:
		return nU*x + u
	default:
		return nX*nU*x + nX*u + y
	}
}

type RewardDistribution int

const (
	Constant RewardDistribution = iota
	// Gaussian はRを平均、Varianceを分散とする正規分布から報酬を引く。
	Gaussian
)

func (d RewardDistribution) String() string {
	switch d {
	case Constant:
		return "constant"
	case Gaussian:
		return "gaussian"
	}
	return fmt.Sprintf("RewardDistribution(%d)", int(d))
}

func ParseRewardDistribution(s string) (RewardDistribution, error) {
	switch s {
	case "constant", "":
		return Constant, nil
	case "gaussian":
		return Gaussian, nil
	}
	return 0, fmt.Errorf("unknown reward distribution %q", s)
}

type Reward struct {
	Type         RewardType
	R            []float64
	Distribution RewardDistribution
	// Variance はRと同じ形。Gaussianの時だけ使われ、空ならば分散0として扱う。
	Variance []float64
}

func (rw Reward) Validate(nX, nU int) error {
	size, err := rw.Type.Size(nX, nU)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	if len(rw.R) != size {
		return fmt.Errorf("%w: reward table size (%d) does not match %s shape (%d) for nX=%d nU=%d",
			ErrConstruction, len(rw.R), rw.Type, size, nX, nU)
	}
	for i, r := range rw.R {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: invalid reward %f at %d", ErrConstruction, r, i)
		}
	}

	switch rw.Distribution {
	case Constant:
	case Gaussian:
		if len(rw.Variance) != 0 && len(rw.Variance) != size {
			return fmt.Errorf("%w: variance table size (%d) does not match reward table size (%d)",
				ErrConstruction, len(rw.Variance), size)
		}
		for i, v := range rw.Variance {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: invalid variance %f at %d", ErrConstruction, v, i)
			}
		}
	default:
		return fmt.Errorf("%w: unknown reward distribution %d", ErrConstruction, int(rw.Distribution))
	}
	return nil
}

func (rw Reward) Clone() Reward {
	return Reward{
		Type:         rw.Type,
		R:            slices.Clone(rw.R),
		Distribution: rw.Distribution,
		Variance:     slices.Clone(rw.Variance),
	}
}

// Mean は (x, u, y) の報酬の期待値を返す。
func (rw Reward) Mean(nX, nU, x, u, y int) float64 {
	return rw.R[rw.Type.index(nX, nU, x, u, y)]
}

func (rw Reward) Sample(nX, nU, x, u, y int, rng *rand.Rand) float64 {
	i := rw.Type.index(nX, nU, x, u, y)
	mean := rw.R[i]
	if rw.Distribution != Gaussian || len(rw.Variance) == 0 || rw.Variance[i] == 0 {
		return mean
	}
	n := distuv.Normal{Mu: mean, Sigma: math.Sqrt(rw.Variance[i]), Src: rng}
	return n.Rand()
}
