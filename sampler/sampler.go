// Package sampler implements the adaptive reversible jump sampler: stage 1
// mixture estimation from per-model random walk runs, burn in with
// adaptation, and the RJMCMC kernel that mixes independence, random walk and
// between-model jump moves.
package sampler

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/mixture"
	"github.com/CraigKelly/automix/model"
	"github.com/CraigKelly/automix/rand"
)

// MoveType identifies the kind of move a sweep attempted
type MoveType int

// Move types
const (
	MoveIndependence MoveType = iota // Within-model draw from the mixture
	MoveRandomWalk                   // Within-model random walk
	MoveJump                         // Between-model jump
	numMoves
)

func (m MoveType) String() string {
	switch m {
	case MoveIndependence:
		return "independence"
	case MoveRandomWalk:
		return "random-walk"
	case MoveJump:
		return "jump"
	}
	return fmt.Sprintf("move(%d)", int(m))
}

// State is the current position of the chain. Theta always has the
// dimension of Model and LogPost is its log posterior.
type State struct {
	Model   int
	Theta   []float64
	LogPost float64
	LogLik  float64
	Sweep   int64
}

// Sample is one emitted sweep. Theta is owned by the Sample.
type Sample struct {
	Sweep    int64
	Model    int
	Theta    []float64
	LogPost  float64
	LogLik   float64
	Move     MoveType
	Accepted bool
	Alpha    float64 // Acceptance probability of the attempted move
}

// Sink consumes emitted samples
type Sink interface {
	Add(Sample) error
}

// Sampler is the adaptive RJMCMC engine. A Sampler is not safe for
// concurrent use.
type Sampler struct {
	cat model.Catalog
	cfg Config
	log *slog.Logger
	gen *rand.Generator

	mixes []*mixture.Mixture
	fits  []FitReport

	// Per-model proposal state
	rw        []*mixture.Component // Random walk shape (mean zero)
	rwScale   []float64            // Random walk scale multiplier
	rwCount   []int64              // Random walk moves per model (adaptation clock)
	adaptCnt  []int64              // Mixture adaptation steps per model
	jumpW     []float64            // Destination model weights for jumps
	jumpAdapt int64                // Jump weight adaptation steps
	kernel    mixture.Kernel

	state State
	stats Stats

	// Scratch
	prop  []float64
	u     []float64
	extra []float64
	perm  []int
	resp  [][]float64

	progress func(stage string, done int64)
}

// New creates a sampler for the catalog. A nil log discards diagnostics.
// Mixtures must be supplied by EstimateConditionalProbs or SetMixtures
// before sweeping.
func New(cat model.Catalog, cfg Config, log *slog.Logger) (*Sampler, error) {
	if cat == nil {
		return nil, configErrorf("no model catalog")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if err := model.Check(cat); err != nil {
		return nil, errors.Wrapf(ErrConfig, "%v", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	gen, err := rand.NewGenerator(cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "Could not create random generator")
	}

	n := cat.ModelCount()
	for k := 0; k < n; k++ {
		if err := probe(cat, k); err != nil {
			return nil, err
		}
	}

	maxDim := model.MaxDimension(cat)
	s := &Sampler{
		cat:      cat,
		cfg:      cfg,
		log:      log,
		gen:      gen,
		rw:       make([]*mixture.Component, n),
		rwScale:  make([]float64, n),
		rwCount:  make([]int64, n),
		adaptCnt: make([]int64, n),
		jumpW:    make([]float64, n),
		kernel:   mixture.KernelFor(cfg.DoF),
		stats:    newStats(n),
		prop:     make([]float64, maxDim),
		u:        make([]float64, maxDim),
		extra:    make([]float64, maxDim),
		perm:     make([]int, maxDim),
		resp:     make([][]float64, n),
	}

	s.state.Theta = make([]float64, 0, maxDim)
	s.setState(0, cat.InitialPoint(0))

	return s, nil
}

// probe evaluates the initial point of model k once. An evaluator that can
// not handle the declared dimension is a configuration error.
func probe(cat model.Catalog, k int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = configErrorf("model %d evaluator failed on a point of dimension %d: %v", k, cat.Dimension(k), r)
		}
	}()

	lp, _ := cat.Evaluate(k, cat.InitialPoint(k))
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		return configErrorf("model %d has non-finite log posterior %v at its initial point", k, lp)
	}
	return nil
}

// SetProgress installs a callback receiving sweep counts as they complete.
// Stage 1 may call it from several goroutines at once.
func (s *Sampler) SetProgress(f func(stage string, done int64)) {
	s.progress = f
}

func (s *Sampler) report(stage string, done int64) {
	if s.progress != nil {
		s.progress(stage, done)
	}
}

// Config returns the sampler configuration
func (s *Sampler) Config() Config { return s.cfg }

// Catalog returns the model catalog
func (s *Sampler) Catalog() model.Catalog { return s.cat }

// Generator returns the sampler's random stream
func (s *Sampler) Generator() *rand.Generator { return s.gen }

// SetMixtures installs per-model mixtures (loaded from a prior run, or built
// by hand). They are validated against the catalog and copied.
func (s *Sampler) SetMixtures(mixes []*mixture.Mixture) error {
	n := s.cat.ModelCount()
	if len(mixes) != n {
		return configErrorf("have %d mixtures for %d models", len(mixes), n)
	}

	for k, m := range mixes {
		if m == nil {
			return configErrorf("model %d has no mixture", k)
		}
		if d := s.cat.Dimension(k); m.Dim != d {
			return configErrorf("model %d has dimension %d but its mixture has dimension %d", k, d, m.Dim)
		}
		if err := m.Check(); err != nil {
			return errors.Wrapf(ErrConfig, "model %d mixture: %v", k, err)
		}
		for l, c := range m.Components {
			if c.Dim() != m.Dim {
				return configErrorf("model %d component %d has dimension %d", k, l, c.Dim())
			}
		}
		if !(m.ModelWeight > 0) || math.IsInf(m.ModelWeight, 0) {
			return configErrorf("model %d weight %v must be positive and finite", k, m.ModelWeight)
		}
	}

	s.mixes = make([]*mixture.Mixture, n)
	tot := 0.0
	for k, m := range mixes {
		s.mixes[k] = m.Clone()
		s.resp[k] = make([]float64, len(m.Components))
		tot += m.ModelWeight
	}
	for k := range s.jumpW {
		s.jumpW[k] = s.mixes[k].ModelWeight / tot
	}

	for k := 0; k < n; k++ {
		if err := s.refreshRandomWalk(k); err != nil {
			return err
		}
		s.rwScale[k] = 2.38 / math.Sqrt(float64(s.mixes[k].Dim))
		s.rwCount[k] = 0
		s.adaptCnt[k] = 0
	}

	return nil
}

// formatError is a malformed mixture record surfaced as a configuration
// error. It matches both ErrConfig and mixture.ErrFormat.
type formatError struct {
	cause error
}

func (e formatError) Error() string        { return ErrConfig.Error() + ": " + e.cause.Error() }
func (e formatError) Is(target error) bool { return target == ErrConfig }
func (e formatError) Unwrap() error        { return e.cause }

// LoadMixtures reads mixtures in the mixture file format and installs them
// with SetMixtures.
func (s *Sampler) LoadMixtures(r io.Reader) error {
	mixes, err := mixture.Read(r)
	if err != nil {
		return formatError{cause: err}
	}
	return s.SetMixtures(mixes)
}

// refreshRandomWalk rebuilds the random walk shape of model k from the
// overall covariance of its mixture.
func (s *Sampler) refreshRandomWalk(k int) error {
	m := s.mixes[k]
	_, cov := m.Moments()
	c, jit, err := mixture.NewComponent(1, make([]float64, m.Dim), cov)
	if err != nil {
		return errors.Wrapf(ErrConfig, "model %d random walk covariance: %v", k, err)
	}
	if jit > 0 {
		s.log.Debug("jitter applied to random walk covariance", "model", k, "tries", jit)
	}
	s.rw[k] = c
	return nil
}

// Mixtures returns copies of the current per-model mixtures (nil before
// they are set).
func (s *Sampler) Mixtures() []*mixture.Mixture {
	if s.mixes == nil {
		return nil
	}
	out := make([]*mixture.Mixture, len(s.mixes))
	for k, m := range s.mixes {
		out[k] = m.Clone()
	}
	return out
}

// FitReports returns the stage 1 diagnostics (nil if stage 1 did not run)
func (s *Sampler) FitReports() []FitReport {
	return append([]FitReport(nil), s.fits...)
}

// State returns a copy of the current chain state
func (s *Sampler) State() State {
	st := s.state
	st.Theta = append([]float64(nil), s.state.Theta...)
	return st
}

// Stats returns a copy of the accumulated move statistics
func (s *Sampler) Stats() Stats {
	return s.stats.clone()
}

// JumpWeights returns the current destination model weights
func (s *Sampler) JumpWeights() []float64 {
	return append([]float64(nil), s.jumpW...)
}

// RandomWalkScales returns the current random walk scale per model
func (s *Sampler) RandomWalkScales() []float64 {
	return append([]float64(nil), s.rwScale...)
}

// setState moves the chain to (k, theta) without a move
func (s *Sampler) setState(k int, theta []float64) {
	lp, ll := s.cat.Evaluate(k, theta)
	s.state.Model = k
	s.state.Theta = append(s.state.Theta[:0], theta...)
	s.state.LogPost = lp
	s.state.LogLik = ll
}
