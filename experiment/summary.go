package experiment

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

type Summary struct {
	Trials    int
	Successes int
	Failures  int
	Mean      float64
	Std       float64
	// CI95 は平均の95%信頼区間の半幅。
	CI95 float64
}

// Summarize は成功した試行の割引収益を集計する。失敗した試行は数えるだけで統計には含めない。
func Summarize(results []Result) Summary {
	s := Summary{Trials: len(results)}
	returns := make([]float64, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			s.Failures++
			continue
		}
		returns = append(returns, res.Return)
	}
	s.Successes = len(returns)

	switch len(returns) {
	case 0:
	case 1:
		s.Mean = returns[0]
	default:
		s.Mean, s.Std = stat.MeanStdDev(returns, nil)
		s.CI95 = 1.96 * s.Std / math.Sqrt(float64(len(returns)))
	}
	return s
}
