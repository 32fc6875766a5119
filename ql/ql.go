// Package ql はQ学習の更新式とQ表を提供する。
package ql

import (
	"math/rand/v2"
	"slices"

	"github.com/sw965/omw/mathx/randx"
)

func UpdateQ(q, nextMaxQ, reward, lr, discountRate float64) float64 {
	qRatio := 1.0 - lr
	newQ := (reward + discountRate*nextMaxQ)
	return (qRatio * q) + (lr * newQ)
}

// Table は nX×nU のQ表。Q(x, u) は Values[nU*x + u]。
type Table struct {
	NX     int
	NU     int
	Values []float64
}

func NewTable(nX, nU int) *Table {
	return &Table{NX: nX, NU: nU, Values: make([]float64, nX*nU)}
}

func (t *Table) At(x, u int) float64 {
	return t.Values[t.NU*x+u]
}

func (t *Table) Row(x int) []float64 {
	return t.Values[t.NU*x : t.NU*(x+1)]
}

func (t *Table) Max(x int) float64 {
	return slices.Max(t.Row(x))
}

// Greedy はQ値が最大の行動を返す。同値の中からは一様に選ぶ。
func (t *Table) Greedy(x int, rng *rand.Rand) (int, error) {
	row := t.Row(x)
	max := slices.Max(row)
	us := make([]int, 0, len(row))
	for u, v := range row {
		if v == max {
			us = append(us, u)
		}
	}
	return randx.Choice(us, rng)
}

// Update は観測 (x, u, r, y) でQ(x, u)を更新する。
func (t *Table) Update(x, u int, r float64, y int, lr, discountRate float64) {
	i := t.NU*x + u
	t.Values[i] = UpdateQ(t.Values[i], t.Max(y), r, lr, discountRate)
}

func (t *Table) Clone() *Table {
	return &Table{NX: t.NX, NU: t.NU, Values: slices.Clone(t.Values)}
}
