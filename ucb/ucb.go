package ucb

import (
	"math"
)

// Func は腕の平均価値、全試行回数、腕の試行回数からUCB値を計算する。
type Func func(mean float64, total, n int) float64

// NewUCB1Func は mean + c*sqrt(ln(total)/n) を返す。n == 0 の腕は +Inf。
func NewUCB1Func(c float64) Func {
	return func(mean float64, total, n int) float64 {
		if n == 0 {
			return math.Inf(1)
		}
		return mean + c*math.Sqrt(math.Log(float64(total))/float64(n))
	}
}

type Arm struct {
	TotalValue float64
	Trial      int
}

func (a *Arm) Mean() float64 {
	if a.Trial == 0 {
		return 0
	}
	return a.TotalValue / float64(a.Trial)
}

// Arms は行動の添字で引く腕の集まり。
type Arms []Arm

func New(n int) Arms {
	return make(Arms, n)
}

func (as Arms) TotalTrial() int {
	t := 0
	for _, a := range as {
		t += a.Trial
	}
	return t
}

func (as Arms) Update(i int, v float64) {
	as[i].TotalValue += v
	as[i].Trial++
}

// Select はUCB値が最大の腕を返す。未試行の腕を添字の小さい順に優先し、同値は添字の小さい方を選ぶ。
func (as Arms) Select(f Func) int {
	for i, a := range as {
		if a.Trial == 0 {
			return i
		}
	}

	total := as.TotalTrial()
	best := 0
	max := math.Inf(-1)
	for i, a := range as {
		v := f(a.Mean(), total, a.Trial)
		if v > max {
			max = v
			best = i
		}
	}
	return best
}

// MaxTrialIndex は試行回数が最大の腕を返す。同数は添字の小さい方。
func (as Arms) MaxTrialIndex() int {
	best := 0
	for i, a := range as {
		if a.Trial > as[best].Trial {
			best = i
		}
	}
	return best
}

// Trials は腕毎の試行回数を返す。
func (as Arms) Trials() []int {
	ns := make([]int, len(as))
	for i, a := range as {
		ns[i] = a.Trial
	}
	return ns
}

func (as Arms) Means() []float64 {
	ms := make([]float64, len(as))
	for i := range as {
		ms[i] = as[i].Mean()
	}
	return ms
}

// TrialPercents は試行回数の割合を返す。試行が無ければ全て0。
func (as Arms) TrialPercents() []float64 {
	total := as.TotalTrial()
	ps := make([]float64, len(as))
	if total == 0 {
		return ps
	}
	for i, a := range as {
		ps[i] = float64(a.Trial) / float64(total)
	}
	return ps
}
