package mdp

import (
	"github.com/sw965/bamcp/serial"
)

const (
	MDPTag    = "mdp.MDP"
	CModelTag = "mdp.CModel"
)

func init() {
	serial.MustRegister(MDPTag, decodeMDP)
	serial.MustRegister(CModelTag, decodeCModel)
}

// EncodeReward は報酬の4フィールドを書き込む。
func EncodeReward(e *serial.Encoder, rw Reward) {
	e.String("rewardType", rw.Type.String())
	e.Floats("r", rw.R)
	e.String("rewardDistribution", rw.Distribution.String())
	e.Floats("variance", rw.Variance)
}

func DecodeReward(d *serial.Decoder) (Reward, error) {
	typ := d.String("rewardType")
	r := d.Floats("r")
	dist := d.String("rewardDistribution")
	variance := d.Floats("variance")
	if err := d.Err(); err != nil {
		return Reward{}, err
	}

	rt, err := ParseRewardType(typ)
	if err != nil {
		return Reward{}, err
	}
	rd, err := ParseRewardDistribution(dist)
	if err != nil {
		return Reward{}, err
	}
	if len(variance) == 0 {
		variance = nil
	}
	return Reward{Type: rt, R: r, Distribution: rd, Variance: variance}, nil
}

func (m *MDP) TypeTag() string {
	return MDPTag
}

func (m *MDP) Serialize(e *serial.Encoder) {
	e.String("name", m.name)
	e.Int("nX", m.nX)
	e.Int("nU", m.nU)
	e.Int("iniState", m.iniState)
	e.Floats("p", m.p)
	EncodeReward(e, m.reward)
	e.Floats("v", m.v)
}

func decodeMDP(d *serial.Decoder) (serial.Serializable, error) {
	params := Params{
		Name:     d.String("name"),
		NX:       d.Int("nX"),
		NU:       d.Int("nU"),
		IniState: d.Int("iniState"),
		P:        d.Floats("p"),
	}
	rw, err := DecodeReward(d)
	if err != nil {
		return nil, err
	}
	params.Reward = rw
	params.V = d.Floats("v")
	if err := d.Err(); err != nil {
		return nil, err
	}
	if len(params.V) == 0 {
		params.V = nil
	}
	m, err := New(params)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *CModel) TypeTag() string {
	return CModelTag
}

func (c *CModel) Serialize(e *serial.Encoder) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e.String("name", c.name)
	e.Int("nX", c.nX)
	e.Int("nU", c.nU)
	e.Int("iniState", c.iniState)
	e.Floats("n", c.n)
	EncodeReward(e, c.reward)
}

func decodeCModel(d *serial.Decoder) (serial.Serializable, error) {
	params := CParams{
		Name:     d.String("name"),
		NX:       d.Int("nX"),
		NU:       d.Int("nU"),
		IniState: d.Int("iniState"),
		N:        d.Floats("n"),
	}
	rw, err := DecodeReward(d)
	if err != nil {
		return nil, err
	}
	params.Reward = rw
	if err := d.Err(); err != nil {
		return nil, err
	}
	c, err := NewCModel(params)
	if err != nil {
		return nil, err
	}
	return c, nil
}
