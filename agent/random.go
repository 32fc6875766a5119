package agent

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/bamcp/serial"
)

const RandomTag = "agent.Random"

func init() {
	serial.MustRegister(RandomTag, decodeRandom)
}

// Random は一様ランダムに行動を選ぶ。
type Random struct {
	nX int
	nU int
}

func NewRandom() *Random {
	return &Random{}
}

func (a *Random) Name() string {
	return "Random"
}

func (a *Random) Reset(env Env) error {
	if err := env.Validate(); err != nil {
		return err
	}
	a.nX = env.NX()
	a.nU = env.NU()
	return nil
}

func (a *Random) SelectAction(x int, rng *rand.Rand) (int, error) {
	if a.nU == 0 {
		return 0, fmt.Errorf("agent has not been reset")
	}
	if err := checkState(x, a.nX); err != nil {
		return 0, err
	}
	return rng.IntN(a.nU), nil
}

func (a *Random) Learn(x, u int, r float64, y int) error {
	return nil
}

func (a *Random) Clone() Agent {
	c := *a
	return &c
}

func (a *Random) TypeTag() string {
	return RandomTag
}

func (a *Random) Serialize(e *serial.Encoder) {
	e.Int("nX", a.nX)
	e.Int("nU", a.nU)
}

func decodeRandom(d *serial.Decoder) (serial.Serializable, error) {
	a := &Random{nX: d.Int("nX"), nU: d.Int("nU")}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if a.nX < 0 || a.nU < 0 {
		return nil, fmt.Errorf("negative dimensions %dx%d", a.nX, a.nU)
	}
	return a, nil
}
