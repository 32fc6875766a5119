package distribution_test

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
)

func newPrior(t *testing.T, nX, nU int, theta float64) *distribution.DirMulti {
	t.Helper()
	d, err := distribution.NewUniform("prior", nX, nU, 0, theta, mdp.Reward{Type: mdp.SS, R: make([]float64, nX)})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	return d
}

func TestSampleMeanOfUninformativePrior(t *testing.T) {
	d := newPrior(t, 2, 1, 1)
	rng := rand.New(rand.NewPCG(1, 2))
	n := 10000
	var sum0 float64
	for range n {
		m := d.Sample(rng)
		sum0 += m.P(0, 0, 0)
	}
	mean := sum0 / float64(n)
	// Dirichlet(1, 1) の成分はUniform(0, 1)。標準誤差は約0.003
	if math.Abs(mean-0.5) > 0.015 {
		t.Errorf("mean = %f, want ≈ 0.5", mean)
	}
}

func TestUpdateIsMonotone(t *testing.T) {
	d := newPrior(t, 3, 2, 1)
	before := d.Thetas()
	d.Update(0, 0, 2)
	after := d.Thetas()

	target := 2 // nX*nU*0 + nX*0 + 2
	for i := range before {
		diff := after[i] - before[i]
		switch {
		case i == target && diff != 1:
			t.Errorf("theta(0, 0, 2) must increase by exactly 1, got %f", diff)
		case i != target && diff != 0:
			t.Errorf("theta[%d] must not change, got diff %f", i, diff)
		}
	}
	if got := d.Theta(0, 0, 2); got != 2 {
		t.Errorf("want 2, got %f", got)
	}
}

func TestSampleDegenerateRow(t *testing.T) {
	d := newPrior(t, 3, 1, 0)
	rng := rand.New(rand.NewPCG(1, 2))
	m := d.Sample(rng)
	for x := range 3 {
		row := m.Row(x, 0)
		for _, p := range row {
			if math.Abs(p-1.0/3.0) > 1e-12 {
				t.Errorf("all-zero row must fall back to uniform: %v", row)
			}
		}
	}
}

func TestSampleReproducible(t *testing.T) {
	d := newPrior(t, 4, 2, 0.5)
	rng1 := rand.New(rand.NewPCG(9, 9))
	rng2 := rand.New(rand.NewPCG(9, 9))
	for range 10 {
		m1 := d.Sample(rng1)
		m2 := d.Sample(rng2)
		for x := range 4 {
			for u := range 2 {
				if !slices.Equal(m1.Row(x, u), m2.Row(x, u)) {
					t.Fatalf("same seed must give the same MDP")
				}
			}
		}
	}
}

func TestNewDirMulti(t *testing.T) {
	tests := []struct {
		name   string
		params distribution.Params
	}{
		{
			name: "異常_負の集中度",
			params: distribution.Params{
				NX: 2, NU: 1, Theta: []float64{1, -1, 1, 1},
				Reward: mdp.Reward{Type: mdp.SS, R: make([]float64, 2)},
			},
		},
		{
			name: "異常_報酬表の形",
			params: distribution.Params{
				NX: 2, NU: 1, Theta: []float64{1, 1, 1, 1},
				Reward: mdp.Reward{Type: mdp.SA, R: make([]float64, 3)},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := distribution.NewDirMulti(tc.params)
			if err == nil {
				t.Fatalf("エラーを期待したが、nilが返された")
			}
			if d != nil {
				t.Errorf("no object must be returned on error")
			}
			if !errors.Is(err, distribution.ErrConstruction) {
				t.Errorf("%v must wrap ErrConstruction", err)
			}
		})
	}
}

func TestUpdateN(t *testing.T) {
	d := newPrior(t, 2, 1, 1)
	if err := d.UpdateN(1, 0, 0, 3); err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	if got := d.Theta(1, 0, 0); got != 4 {
		t.Errorf("want 4, got %f", got)
	}
	if err := d.UpdateN(1, 0, 0, math.NaN()); err == nil {
		t.Errorf("NaN increment must fail")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := newPrior(t, 2, 1, 1)
	c := d.Clone().(*distribution.DirMulti)
	d.Update(0, 0, 0)
	if c.Theta(0, 0, 0) != 1 {
		t.Errorf("clone must not share theta")
	}
}

func TestMean(t *testing.T) {
	d := newPrior(t, 2, 1, 1)
	d.Update(0, 0, 1)
	d.Update(0, 0, 1)
	m := d.Mean()
	if got := m.P(0, 0, 1); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("want 0.75, got %f", got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	d := newPrior(t, 3, 2, 1)
	d.Update(1, 1, 2)
	fixedMDP := d.Mean()
	fixed, err := distribution.NewFixed(fixedMDP)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}

	for _, want := range []distribution.Distribution{d, fixed} {
		t.Run(want.TypeTag(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := serial.CheckIn(&buf, want); err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			got, err := serial.Decode[distribution.Distribution](&buf)
			if err != nil {
				t.Fatalf("予期せぬエラーが発生した: %v", err)
			}
			rng1 := rand.New(rand.NewPCG(1, 1))
			rng2 := rand.New(rand.NewPCG(1, 1))
			m1 := want.Sample(rng1)
			m2 := got.Sample(rng2)
			for x := range 3 {
				for u := range 2 {
					if !slices.Equal(m1.Row(x, u), m2.Row(x, u)) {
						t.Errorf("row (%d, %d): %v vs %v", x, u, m1.Row(x, u), m2.Row(x, u))
					}
				}
			}
		})
	}
}

func TestFixed(t *testing.T) {
	if _, err := distribution.NewFixed(nil); err == nil {
		t.Errorf("nil MDP must fail")
	}
	m, err := mdp.New(mdp.Params{
		NX: 1, NU: 1, P: []float64{1},
		Reward: mdp.Reward{Type: mdp.SA, R: []float64{3}},
	})
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	f, err := distribution.NewFixed(m)
	if err != nil {
		t.Fatalf("予期せぬエラーが発生した: %v", err)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	s := f.Sample(rng)
	if s == m || s.Reward(0, 0, 0) != 3 {
		t.Errorf("Fixed must return an equal copy")
	}
}
