// Package config は実験設定をYAMLから読み、事前分布・エージェント・実験仕様を組み立てる。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sw965/bamcp/agent"
	"github.com/sw965/bamcp/bamcp"
	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/experiment"
	"github.com/sw965/bamcp/formula"
	"github.com/sw965/bamcp/mdp"
	"github.com/sw965/bamcp/serial"
)

type Config struct {
	Experiment ExperimentConfig `yaml:"experiment"`
	Prior      PriorConfig      `yaml:"prior"`
	Test       TestConfig       `yaml:"test"`
	Agent      AgentConfig      `yaml:"agent"`
	BAMCP      BAMCPConfig      `yaml:"bamcp"`
	Log        LogConfig        `yaml:"log"`
}

type ExperimentConfig struct {
	Name    string  `yaml:"name"`
	Trials  int     `yaml:"trials"`
	Horizon int     `yaml:"horizon"`
	Gamma   float64 `yaml:"gamma"`
	// Seed が0の時は実行毎に乱数で決める。
	Seed        uint64 `yaml:"seed"`
	Parallelism int    `yaml:"parallelism"`
}

type RewardConfig struct {
	Type         string    `yaml:"type"`
	Values       []float64 `yaml:"values"`
	Distribution string    `yaml:"distribution"`
	Variance     []float64 `yaml:"variance"`
}

type PriorConfig struct {
	// File が空でなければ、直列化された分布をそこから読む。以下のフィールドは無視される。
	File     string       `yaml:"file"`
	Name     string       `yaml:"name"`
	NX       int          `yaml:"nX"`
	NU       int          `yaml:"nU"`
	IniState int          `yaml:"iniState"`
	Theta    float64      `yaml:"theta"`
	Reward   RewardConfig `yaml:"reward"`
}

const (
	TestPrior = "prior"
	TestMean  = "mean"
	TestFile  = "file"
)

type TestConfig struct {
	// Kind は真のMDPの引き方。prior: 事前分布から引く, mean: 事前分布の平均で固定, file: Fileから読む。
	Kind string `yaml:"kind"`
	File string `yaml:"file"`
}

const (
	AgentBAMCP   = "bamcp"
	AgentRandom  = "random"
	AgentOptimal = "optimal"
	AgentEGreedy = "egreedy"
	AgentSoftMax = "softmax"
	AgentFormula = "formula"
	AgentBEB     = "beb"
	AgentVDBE    = "vdbe"
)

type AgentConfig struct {
	Kind string `yaml:"kind"`
	// Epsilon はegreedyのε。vdbeでは全状態のεの初期値。
	Epsilon float64 `yaml:"epsilon"`
	Tau     float64 `yaml:"tau"`
	Formula string  `yaml:"formula"`
	Beta    float64 `yaml:"beta"`
	Sigma   float64 `yaml:"sigma"`
	Delta   float64 `yaml:"delta"`
	// T はQ反復の回数。0以下ならば収束まで。
	T int `yaml:"t"`
}

type BAMCPConfig struct {
	K              int     `yaml:"k"`
	Simulations    int     `yaml:"simulations"`
	MaxDepth       int     `yaml:"maxDepth"`
	C              float64 `yaml:"c"`
	Mode           string  `yaml:"mode"`
	Parallel       bool    `yaml:"parallel"`
	RolloutEpsilon float64 `yaml:"rolloutEpsilon"`
	QLearningRate  float64 `yaml:"qLearningRate"`
	StepBudget     int     `yaml:"stepBudget"`
	ReuseTree      bool    `yaml:"reuseTree"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	b := bamcp.DefaultConfig()
	return Config{
		Experiment: ExperimentConfig{
			Name:    "bamcp",
			Trials:  10,
			Horizon: 100,
			Gamma:   0.95,
			Seed:    1,
		},
		Prior: PriorConfig{
			Name:     "uniform",
			NX:       5,
			NU:       3,
			IniState: 0,
			Theta:    1,
			Reward: RewardConfig{
				Type:   mdp.SS.String(),
				Values: []float64{0, 0, 0, 0, 1},
			},
		},
		Test: TestConfig{Kind: TestPrior},
		Agent: AgentConfig{
			Kind:    AgentBAMCP,
			Epsilon: 0.1,
			Tau:     0.5,
			Formula: "X0",
			Beta:    5,
			Sigma:   1,
			Delta:   0.2,
		},
		BAMCP: BAMCPConfig{
			K:              b.K,
			Simulations:    b.Simulations,
			MaxDepth:       b.MaxDepth,
			C:              b.C,
			Mode:           b.Mode.String(),
			Parallel:       b.Parallel,
			RolloutEpsilon: b.RolloutEpsilon,
			QLearningRate:  b.QLearningRate,
			StepBudget:     b.StepBudget,
			ReuseTree:      b.ReuseTree,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Parse はDefault()にbの内容を上書きして検証する。未知のキーはエラー。
func Parse(b []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	e := c.Experiment
	if e.Trials < 0 {
		return fmt.Errorf("experiment.trials must be non-negative, got %d", e.Trials)
	}
	if e.Horizon < 0 {
		return fmt.Errorf("experiment.horizon must be non-negative, got %d", e.Horizon)
	}
	if e.Gamma < 0 || e.Gamma > 1 {
		return fmt.Errorf("experiment.gamma must be in [0, 1], got %f", e.Gamma)
	}

	if c.Prior.File == "" {
		if c.Prior.Theta < 0 {
			return fmt.Errorf("prior.theta must be non-negative, got %f", c.Prior.Theta)
		}
		if _, err := c.NewPrior(); err != nil {
			return fmt.Errorf("prior: %w", err)
		}
	}

	switch c.Test.Kind {
	case TestPrior, TestMean:
	case TestFile:
		if c.Test.File == "" {
			return fmt.Errorf("test.file must be set when test.kind is %q", TestFile)
		}
	default:
		return fmt.Errorf("unknown test.kind %q", c.Test.Kind)
	}

	switch c.Agent.Kind {
	case AgentBAMCP:
		bc, err := c.bamcpConfig()
		if err != nil {
			return err
		}
		if err := bc.Validate(); err != nil {
			return fmt.Errorf("bamcp: %w", err)
		}
	case AgentRandom, AgentOptimal:
	case AgentEGreedy:
		if err := agent.NewEGreedy(c.Agent.Epsilon, e.Gamma, c.Agent.T).Validate(); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	case AgentSoftMax:
		if err := agent.NewSoftMax(c.Agent.Tau, e.Gamma, c.Agent.T).Validate(); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	case AgentFormula:
		if _, err := formula.Parse(c.Agent.Formula); err != nil {
			return fmt.Errorf("agent.formula: %w", err)
		}
	case AgentBEB:
		if err := agent.NewBEB(c.Agent.Beta, e.Gamma, c.Agent.T).Validate(); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	case AgentVDBE:
		if err := agent.NewVDBE(c.Agent.Sigma, c.Agent.Delta, c.Agent.Epsilon, e.Gamma, c.Agent.T).Validate(); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	default:
		return fmt.Errorf("unknown agent.kind %q", c.Agent.Kind)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

func (c Config) reward() (mdp.Reward, error) {
	rc := c.Prior.Reward
	t, err := mdp.ParseRewardType(rc.Type)
	if err != nil {
		return mdp.Reward{}, fmt.Errorf("prior.reward.type: %w", err)
	}
	d, err := mdp.ParseRewardDistribution(rc.Distribution)
	if err != nil {
		return mdp.Reward{}, fmt.Errorf("prior.reward.distribution: %w", err)
	}
	return mdp.Reward{Type: t, R: rc.Values, Distribution: d, Variance: rc.Variance}, nil
}

func (c Config) bamcpConfig() (bamcp.Config, error) {
	b := c.BAMCP
	m, err := bamcp.ParseMode(b.Mode)
	if err != nil {
		return bamcp.Config{}, fmt.Errorf("bamcp.mode: %w", err)
	}
	return bamcp.Config{
		K:              b.K,
		Simulations:    b.Simulations,
		MaxDepth:       b.MaxDepth,
		C:              b.C,
		Gamma:          c.Experiment.Gamma,
		Mode:           m,
		Parallel:       b.Parallel,
		RolloutEpsilon: b.RolloutEpsilon,
		QLearningRate:  b.QLearningRate,
		StepBudget:     b.StepBudget,
		ReuseTree:      b.ReuseTree,
	}, nil
}

func loadDistribution(path string) (distribution.Distribution, error) {
	s, err := serial.LoadFile(path)
	if err != nil {
		return nil, err
	}
	d, ok := s.(distribution.Distribution)
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a distribution", path, s.TypeTag())
	}
	return d, nil
}

// NewPrior は事前分布を作る。prior.fileが指定されていればそこから読む。
func (c Config) NewPrior() (distribution.Distribution, error) {
	if c.Prior.File != "" {
		return loadDistribution(c.Prior.File)
	}
	rw, err := c.reward()
	if err != nil {
		return nil, err
	}
	p := c.Prior
	return distribution.NewUniform(p.Name, p.NX, p.NU, p.IniState, p.Theta, rw)
}

// NewTest は真のMDPを引く分布を作る。
func (c Config) NewTest(prior distribution.Distribution) (distribution.Distribution, error) {
	switch c.Test.Kind {
	case TestPrior:
		return prior.Clone(), nil
	case TestMean:
		d, ok := prior.(*distribution.DirMulti)
		if !ok {
			return nil, fmt.Errorf("test.kind %q needs a Dirichlet-multinomial prior", TestMean)
		}
		return distribution.NewFixed(d.Mean())
	case TestFile:
		return loadDistribution(c.Test.File)
	default:
		return nil, fmt.Errorf("unknown test.kind %q", c.Test.Kind)
	}
}

func (c Config) NewAgent() (agent.Agent, error) {
	a := c.Agent
	gamma := c.Experiment.Gamma
	switch a.Kind {
	case AgentBAMCP:
		bc, err := c.bamcpConfig()
		if err != nil {
			return nil, err
		}
		return bamcp.New(bc), nil
	case AgentRandom:
		return agent.NewRandom(), nil
	case AgentOptimal:
		return agent.NewOptimal(gamma, a.T), nil
	case AgentEGreedy:
		return agent.NewEGreedy(a.Epsilon, gamma, a.T), nil
	case AgentSoftMax:
		return agent.NewSoftMax(a.Tau, gamma, a.T), nil
	case AgentFormula:
		f, err := formula.Parse(a.Formula)
		if err != nil {
			return nil, err
		}
		return agent.NewFormulaAgent(f, gamma, a.T), nil
	case AgentBEB:
		return agent.NewBEB(a.Beta, gamma, a.T), nil
	case AgentVDBE:
		return agent.NewVDBE(a.Sigma, a.Delta, a.Epsilon, gamma, a.T), nil
	default:
		return nil, fmt.Errorf("unknown agent.kind %q", a.Kind)
	}
}

// Spec は実験仕様を組み立てる。Seedはそのまま使うので、0の扱いは呼び出し側で決める。
func (c Config) Spec() (experiment.Spec, error) {
	prior, err := c.NewPrior()
	if err != nil {
		return experiment.Spec{}, err
	}
	test, err := c.NewTest(prior)
	if err != nil {
		return experiment.Spec{}, err
	}
	a, err := c.NewAgent()
	if err != nil {
		return experiment.Spec{}, err
	}
	spec := experiment.Spec{
		Name:    c.Experiment.Name,
		Agent:   a,
		Prior:   prior,
		Test:    test,
		Trials:  c.Experiment.Trials,
		Horizon: c.Experiment.Horizon,
		Gamma:   c.Experiment.Gamma,
		Seed:    c.Experiment.Seed,
	}
	if err := spec.Validate(); err != nil {
		return experiment.Spec{}, err
	}
	return spec, nil
}
