package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/mixture"
)

// ErrConfig is the root of every configuration error: bad values, a catalog
// the sampler can not use, or mixtures that do not fit the catalog.
var ErrConfig = errors.New("configuration error")

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// Mode selects how stage 1 produces the per-model mixtures
type Mode int

// Mode values are those of the -m flag
const (
	ModeFit    Mode = 0 // Fit mixtures from adaptive RWM runs
	ModeLoad   Mode = 1 // Load mixtures from a prior run
	ModeAutoRJ Mode = 2 // Fit a single normal per model
)

func (m Mode) String() string {
	switch m {
	case ModeFit:
		return "fit"
	case ModeLoad:
		return "load"
	case ModeAutoRJ:
		return "autorj"
	}
	return "unknown"
}

// Config holds every value the sampler consumes
type Config struct {
	Sweeps           int     `yaml:"sweeps"`            // RJMCMC sweeps in stage 3
	FitSweeps        int     `yaml:"fit_sweeps"`        // Requested RWM sweeps per model in stage 1
	FitFloor         int     `yaml:"fit_floor"`         // Stage 1 runs at least this long
	FitPerDim        int     `yaml:"fit_per_dim"`       // and at least this many sweeps per dimension
	Burn             int     `yaml:"burn"`              // Burn in sweeps, -1 for the default
	Adapt            bool    `yaml:"adapt"`             // Keep adapting during stage 3
	Permute          bool    `yaml:"permute"`           // Randomly permute standardized coordinates in jumps
	Seed             int64   `yaml:"seed"`              // Random seed
	DoF              int     `yaml:"dof"`               // Student t degrees of freedom for proposals (0 is normal)
	Mode             Mode    `yaml:"mode"`              // How mixtures are produced
	JumpProb         float64 `yaml:"jump_prob"`         // Chance a sweep attempts a between-model jump
	IndependenceProb float64 `yaml:"independence_prob"` // Chance a within-model move draws from the mixture
	TargetAccept     float64 `yaml:"target_accept"`     // Random walk acceptance rate target
	MaxComponents    int     `yaml:"max_components"`    // Cap on mixture components per model
	Criterion        string  `yaml:"criterion"`         // Component count criterion: bic or mml
	Workers          int     `yaml:"workers"`           // Stage 1 models fitted concurrently
	FitSamples       int     `yaml:"fit_samples"`       // Max thinned RWM samples handed to the fitter
	EvidenceDraws    int     `yaml:"evidence_draws"`    // Importance draws per model for the evidence estimate
	FitChains        int     `yaml:"fit_chains"`        // Tempered chains per model in stage 1 (1 is a plain random walk)
}

// DefaultConfig returns the AutoMix defaults
func DefaultConfig() Config {
	return Config{
		Sweeps:           100000,
		FitSweeps:        100000,
		FitFloor:         100000,
		FitPerDim:        10000,
		Burn:             -1,
		Adapt:            true,
		Permute:          true,
		Seed:             0,
		DoF:              0,
		Mode:             ModeFit,
		JumpProb:         0.5,
		IndependenceProb: 0.5,
		TargetAccept:     0.234,
		MaxComponents:    8,
		Criterion:        "bic",
		Workers:          1,
		FitSamples:       20000,
		EvidenceDraws:    20000,
		FitChains:        6,
	}
}

func inUnit(p float64) bool {
	return p >= 0 && p <= 1 && !math.IsNaN(p)
}

// Check returns an error wrapping ErrConfig for the first bad value found
func (c *Config) Check() error {
	if c.Mode < ModeFit || c.Mode > ModeAutoRJ {
		return configErrorf("mode %d is not one of 0 (fit), 1 (load), 2 (autorj)", int(c.Mode))
	}
	if c.Sweeps < 0 {
		return configErrorf("sweeps %d must be >= 0", c.Sweeps)
	}
	if c.FitSweeps < 0 || c.FitFloor < 0 || c.FitPerDim < 0 {
		return configErrorf("stage 1 sweeps (%d, floor %d, per dim %d) must be >= 0", c.FitSweeps, c.FitFloor, c.FitPerDim)
	}
	if c.Burn < -1 {
		return configErrorf("burn %d must be >= 0 (or -1 for the default)", c.Burn)
	}
	if c.DoF < 0 {
		return configErrorf("degrees of freedom %d must be >= 0", c.DoF)
	}
	if !inUnit(c.JumpProb) {
		return configErrorf("jump probability %v not in [0,1]", c.JumpProb)
	}
	if !inUnit(c.IndependenceProb) {
		return configErrorf("independence probability %v not in [0,1]", c.IndependenceProb)
	}
	if !(c.TargetAccept > 0 && c.TargetAccept < 1) {
		return configErrorf("target acceptance %v not in (0,1)", c.TargetAccept)
	}
	if c.MaxComponents < 1 {
		return configErrorf("max components %d must be >= 1", c.MaxComponents)
	}
	if _, err := mixture.CriterionByName(c.Criterion); err != nil {
		return errors.Wrapf(ErrConfig, "%v", err)
	}
	if c.Workers < 0 {
		return configErrorf("workers %d must be >= 0", c.Workers)
	}
	if c.FitSamples < 1 {
		return configErrorf("fit samples %d must be >= 1", c.FitSamples)
	}
	if c.EvidenceDraws < 1 {
		return configErrorf("evidence draws %d must be >= 1", c.EvidenceDraws)
	}
	if c.FitChains < 1 {
		return configErrorf("fit chains %d must be >= 1", c.FitChains)
	}
	return nil
}

// BurnSweeps is the number of burn in sweeps: Burn, or max(10000, Sweeps/10)
// when Burn is -1.
func (c *Config) BurnSweeps() int {
	if c.Burn >= 0 {
		return c.Burn
	}
	b := c.Sweeps / 10
	if b < 10000 {
		b = 10000
	}
	return b
}

// FitLength is the stage 1 run length for a model of dimension dim given the
// requested nsweep2: max(nsweep2, FitPerDim*dim, FitFloor).
func (c *Config) FitLength(nsweep2 int, dim int) int {
	n := nsweep2
	if v := c.FitPerDim * dim; v > n {
		n = v
	}
	if c.FitFloor > n {
		n = c.FitFloor
	}
	return n
}

func (c *Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

func (c *Config) fitter() *mixture.Fitter {
	f := mixture.NewFitter()
	f.MaxComponents = c.MaxComponents
	if c.Mode == ModeAutoRJ {
		f.MaxComponents = 1
	}
	if crit, err := mixture.CriterionByName(c.Criterion); err == nil {
		f.Criterion = crit
	}
	return f
}
