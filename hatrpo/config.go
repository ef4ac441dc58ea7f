package hatrpo

import (
	"errors"
	"fmt"
	"os"

	"github.com/Joy1112/marl"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// Config holds the hyperparameters of a sequential
// trust-region learner.
type Config struct {
	// NumAgents is the number of agents sharing a joint
	// batch, including the acting agent.
	NumAgents int `yaml:"num_agents"`

	UseCritic     bool `yaml:"use_critic"`
	OppActionInCC bool `yaml:"opp_action_in_cc"`

	VFClipParam  float64 `yaml:"vf_clip_param"`
	VFLossCoeff  float64 `yaml:"vf_loss_coeff"`
	KLCoeff      float64 `yaml:"kl_coeff"`
	KLTarget     float64 `yaml:"kl_target"`
	EntropyCoeff float64 `yaml:"entropy_coeff"`

	// EntropyCoeffSchedule is a list of (timestep, value)
	// pairs which overrides EntropyCoeff if non-empty.
	EntropyCoeffSchedule [][]float64 `yaml:"entropy_coeff_schedule,omitempty"`

	// GradClip is the maximum global norm of the critic
	// gradient, or 0 for no clipping.
	GradClip float64 `yaml:"grad_clip"`

	// CriticStepSize is the step size for critic updates.
	CriticStepSize float64 `yaml:"critic_lr"`

	TrustRegion TrustRegionConfig `yaml:"trust_region"`
}

// TrustRegionConfig configures TrustRegion updaters.
//
// Zero fields select the TrustRegion defaults.
type TrustRegionConfig struct {
	TargetKL        float64 `yaml:"kl_threshold"`
	LineSearchDecay float64 `yaml:"back_ratio"`
	MaxLineSearch   int     `yaml:"ls_step"`
	AcceptRatio     float64 `yaml:"accept_ratio"`
	ConjGradIters   int     `yaml:"cg_iters"`
	Damping         float64 `yaml:"damping"`
}

// DefaultConfig creates a Config with the standard
// hyperparameters.
func DefaultConfig() *Config {
	return &Config{
		NumAgents:      1,
		UseCritic:      true,
		VFClipParam:    10,
		VFLossCoeff:    1,
		KLCoeff:        0.2,
		KLTarget:       0.01,
		CriticStepSize: 5e-3,
		TrustRegion: TrustRegionConfig{
			TargetKL:        DefaultTargetKL,
			LineSearchDecay: DefaultLineSearchDecay,
			MaxLineSearch:   DefaultMaxLineSearch,
			AcceptRatio:     DefaultAcceptRatio,
			ConjGradIters:   DefaultConjGradIters,
			Damping:         DefaultDamping,
		},
	}
}

// LoadConfig reads a YAML config file.
//
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (cfg *Config, err error) {
	defer essentials.AddCtxTo("load config", &err)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML config.
//
// Fields missing from the data keep their defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the hyperparameters are usable.
func (c *Config) Validate() error {
	if c.NumAgents < 1 {
		return fmt.Errorf("num_agents must be positive, got %d", c.NumAgents)
	}
	for name, val := range map[string]float64{
		"vf_clip_param": c.VFClipParam,
		"vf_loss_coeff": c.VFLossCoeff,
		"kl_coeff":      c.KLCoeff,
		"kl_target":     c.KLTarget,
		"entropy_coeff": c.EntropyCoeff,
		"grad_clip":     c.GradClip,
		"critic_lr":     c.CriticStepSize,
		"kl_threshold":  c.TrustRegion.TargetKL,
		"damping":       c.TrustRegion.Damping,
		"accept_ratio":  c.TrustRegion.AcceptRatio,
		"back_ratio":    c.TrustRegion.LineSearchDecay,
		"ls_step":       float64(c.TrustRegion.MaxLineSearch),
	} {
		if val < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, val)
		}
	}
	if c.TrustRegion.LineSearchDecay >= 1 {
		return errors.New("back_ratio must be below 1")
	}
	for _, p := range c.EntropyCoeffSchedule {
		if len(p) != 2 {
			return fmt.Errorf("entropy_coeff_schedule entries must be pairs, got %v", p)
		}
	}
	return nil
}

// Factory creates an UpdaterFactory for TrustRegions with
// these settings.
func (t TrustRegionConfig) Factory() UpdaterFactory {
	return func(m marl.Model, space marl.ActionSpace, b marl.Batch,
		adv anyvec.Vector) ActorUpdater {
		return &TrustRegion{
			Model:           m,
			ActionSpace:     space,
			Batch:           b,
			Advantages:      adv,
			TargetKL:        t.TargetKL,
			LineSearchDecay: t.LineSearchDecay,
			MaxLineSearch:   t.MaxLineSearch,
			AcceptRatio:     t.AcceptRatio,
			Iters:           t.ConjGradIters,
			Damping:         t.Damping,
		}
	}
}

// Loss creates a Loss with these settings.
func (c *Config) Loss(space marl.ActionSpace, registry *marl.ModelRegistry) *Loss {
	return &Loss{
		ActionSpace:   space,
		Registry:      registry,
		NewUpdater:    c.TrustRegion.Factory(),
		NumAgents:     c.NumAgents,
		UseCritic:     c.UseCritic,
		OppActionInCC: c.OppActionInCC,
		VFClipParam:   c.VFClipParam,
		VFLossCoeff:   c.VFLossCoeff,
		KLCoeff:       c.KLCoeff,
		EntropyCoeff:  c.EntropyCoeff,
	}
}
