package sampler

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/automix/mixture"
	"github.com/CraigKelly/automix/rand"
)

const (
	exploreProb   = 0.1  // Share of stage 1 proposals made at exploreScale
	exploreScale  = 5.0  // Multiplier on the random walk scale for those
	reshapeEvery  = 1000 // Stage 1 sweeps between covariance refreshes
	discardFrac   = 0.1  // Leading share of the stage 1 run not kept
	temperRatio   = 0.5  // Ratio of beta between adjacent stage 1 chains
	minScaleStage = 1e-4
)

// FitReport describes the stage 1 run and mixture fit of one model
type FitReport struct {
	Model       int                 `yaml:"model"`
	Dim         int                 `yaml:"dim"`
	Sweeps      int                 `yaml:"sweeps"`
	Kept        int                 `yaml:"kept"`
	AcceptRate  float64             `yaml:"accept_rate"`
	Scale       float64             `yaml:"scale"`
	LogEvidence float64             `yaml:"log_evidence"`
	ModelWeight float64             `yaml:"model_weight"`
	Fit         mixture.Diagnostics `yaml:"fit"`
}

type stageOne struct {
	mix    *mixture.Mixture
	last   []float64
	report FitReport
}

// EstimateConditionalProbs runs stage 1: adaptive random walk chains per
// model of length max(nsweep2, FitPerDim*dim, FitFloor), a mixture fit of
// the retained states, and an importance sampling estimate of each model's
// evidence. Models are processed by up to Workers goroutines, each with its
// own random stream derived from the seed, so the result does not depend on
// the worker count. The catalog must be safe for concurrent use when
// Workers > 1.
func (s *Sampler) EstimateConditionalProbs(nsweep2 int) error {
	if s.cfg.Mode == ModeLoad {
		return configErrorf("mode %s takes mixtures from a prior run", s.cfg.Mode)
	}
	if nsweep2 < 0 {
		return configErrorf("stage 1 sweeps %d must be >= 0", nsweep2)
	}

	n := s.cat.ModelCount()
	results := make([]*stageOne, n)

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.workers())
	for k := 0; k < n; k++ {
		g.Go(func() error {
			r, err := s.fitModel(k, nsweep2)
			if err != nil {
				return errors.Wrapf(err, "Stage 1 failed for model %d", k)
			}
			results[k] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Model weights from the evidence estimates
	logZ := make([]float64, n)
	lowest := math.Inf(1)
	for k, r := range results {
		logZ[k] = r.mix.LogEvidence
		if finite(logZ[k]) && logZ[k] < lowest {
			lowest = logZ[k]
		}
	}
	if math.IsInf(lowest, 1) {
		lowest = 0
	}
	for k := range logZ {
		if !finite(logZ[k]) {
			s.log.Warn("evidence estimate not finite, using the smallest estimate", "model", k)
			logZ[k] = lowest
		}
	}
	lse := floats.LogSumExp(logZ)

	mixes := make([]*mixture.Mixture, n)
	s.fits = make([]FitReport, n)
	for k, r := range results {
		r.mix.ModelWeight = math.Exp(logZ[k] - lse)
		r.report.ModelWeight = r.mix.ModelWeight
		mixes[k] = r.mix
		s.fits[k] = r.report
	}

	if err := s.SetMixtures(mixes); err != nil {
		return err
	}
	s.setState(0, results[0].last)

	s.log.Info("stage 1 complete", "models", n, "weights", s.jumpW)
	return nil
}

// rung is one chain of the stage 1 temperature ladder. It targets the
// model's log posterior times beta.
type rung struct {
	beta    float64
	theta   []float64
	prop    []float64
	lp      float64
	scale   float64
	adapted int64
}

// step makes one random walk move of the rung, with probability exploreProb
// at exploreScale times its scale. It returns the acceptance probability.
func (r *rung) step(s *Sampler, gen *rand.Generator, k int, shape *mixture.Component, z []float64) (float64, bool) {
	explore := gen.Float64() < exploreProb
	for j := range z {
		z[j] = gen.Variate(s.cfg.DoF)
	}
	shape.Destandardize(r.prop, z)
	step := r.scale
	if explore {
		step *= exploreScale
	}
	for j := range r.prop {
		r.prop[j] = r.theta[j] + step*r.prop[j]
	}

	alpha := 0.0
	acc := false
	u := gen.Float64()
	if lp2, _ := s.cat.Evaluate(k, r.prop); finite(lp2) {
		alpha = 1
		if lp2 < r.lp {
			alpha = math.Exp(r.beta * (lp2 - r.lp))
		}
		if u < alpha {
			r.theta, r.prop = r.prop, r.theta
			r.lp = lp2
			acc = true
		}
	}

	if !explore {
		r.adapted++
		gamma := math.Pow(float64(r.adapted), -rmExponent)
		r.scale = math.Min(maxScale, math.Max(minScaleStage, r.scale*math.Exp(gamma*(alpha-s.cfg.TargetAccept))))
	}
	return alpha, acc
}

// swap proposes exchanging the states of two adjacent rungs
func swap(gen *rand.Generator, ladder []*rung) {
	if len(ladder) < 2 {
		return
	}
	j := gen.Intn(len(ladder) - 1)
	a, b := ladder[j], ladder[j+1]
	logA := (a.beta - b.beta) * (b.lp - a.lp)
	if u := gen.Float64(); logA >= 0 || u < math.Exp(logA) {
		a.theta, b.theta = b.theta, a.theta
		a.lp, b.lp = b.lp, a.lp
	}
}

// fitModel runs the stage 1 chains for model k and fits its mixture. A
// ladder of FitChains tempered chains (beta halving at each rung) lets the
// cold chain reach modes a single random walk would not cross to; only the
// cold chain's states are kept.
func (s *Sampler) fitModel(k int, nsweep2 int) (*stageOne, error) {
	gen := s.gen.Derive(k)
	d := s.cat.Dimension(k)
	total := s.cfg.FitLength(nsweep2, d)
	log := s.log.With("model", k)

	// The catalog owns its initial point
	init := append([]float64(nil), s.cat.InitialPoint(k)...)
	lp, _ := s.cat.Evaluate(k, init)

	ladder := make([]*rung, max(1, s.cfg.FitChains))
	for j := range ladder {
		ladder[j] = &rung{
			beta:  math.Pow(temperRatio, float64(j)),
			theta: append([]float64(nil), init...),
			prop:  make([]float64, d),
			lp:    lp,
			scale: 2.38 / math.Sqrt(float64(d)),
		}
	}
	cold := ladder[0]

	// Running mean and co-moment of the cold chain for the proposal shape
	mean := make([]float64, d)
	comoment := mat.NewSymDense(d, nil)
	count := 0

	shape, _, err := mixture.NewComponent(1, make([]float64, d), identity(d))
	if err != nil {
		return nil, err
	}

	discard := int(discardFrac * float64(total))
	thin := (total - discard) / s.cfg.FitSamples
	if thin < 1 {
		thin = 1
	}
	samples := make([][]float64, 0, min(total-discard, s.cfg.FitSamples)+1)

	z := make([]float64, d)
	delta := make([]float64, d)
	var accepted int64

	for i := 0; i < total; i++ {
		for j, r := range ladder {
			if _, acc := r.step(s, gen, k, shape, z); acc && j == 0 {
				accepted++
			}
		}
		swap(gen, ladder)

		// Welford update of the chain moments
		count++
		for j := range delta {
			delta[j] = cold.theta[j] - mean[j]
			mean[j] += delta[j] / float64(count)
		}
		if count > 1 {
			comoment.SymRankOne(comoment, float64(count-1)/float64(count), mat.NewVecDense(d, delta))
		}

		if (i+1)%reshapeEvery == 0 {
			if c, ok := reshape(comoment, count, d); ok {
				shape = c
			}
			s.report("fit", reshapeEvery)
		}

		if i >= discard && (i-discard)%thin == 0 && len(samples) < s.cfg.FitSamples {
			samples = append(samples, append([]float64(nil), cold.theta...))
		}
	}
	if rem := total % reshapeEvery; rem > 0 {
		s.report("fit", int64(rem))
	}

	f := s.cfg.fitter()
	f.Log = log
	mix, err := f.Fit(d, samples)
	if err != nil {
		return nil, err
	}
	if mix.Diag.State == mixture.Degenerate {
		log.Warn("mixture fit fell back to a single spherical component", "reason", mix.Diag.Reason, "samples", len(samples))
	}

	mix.LogEvidence = s.evidence(gen, k, mix)

	rate := 0.0
	if total > 0 {
		rate = float64(accepted) / float64(total)
	}
	log.Info("stage 1 model fitted",
		"sweeps", total,
		"chains", len(ladder),
		"accept", rate,
		"components", len(mix.Components),
		"state", mix.Diag.State.String(),
		"log_evidence", mix.LogEvidence)

	return &stageOne{
		mix:  mix,
		last: append([]float64(nil), cold.theta...),
		report: FitReport{
			Model:       k,
			Dim:         d,
			Sweeps:      total,
			Kept:        len(samples),
			AcceptRate:  rate,
			Scale:       cold.scale,
			LogEvidence: mix.LogEvidence,
			Fit:         mix.Diag,
		},
	}, nil
}

// evidence is the importance sampling estimate of log Z_k with the fitted
// mixture as the proposal.
func (s *Sampler) evidence(gen *rand.Generator, k int, mix *mixture.Mixture) float64 {
	draws := s.cfg.EvidenceDraws
	lw := make([]float64, draws)
	x := make([]float64, mix.Dim)
	for i := range lw {
		mix.Sample(gen, 0, x)
		lp, _ := s.cat.Evaluate(k, x)
		if !finite(lp) {
			lw[i] = math.Inf(-1)
			continue
		}
		lw[i] = lp - mix.LogDensity(x)
	}
	return floats.LogSumExp(lw) - math.Log(float64(draws))
}

// reshape turns the running co-moment into a random walk shape
func reshape(comoment *mat.SymDense, count, d int) (*mixture.Component, bool) {
	if count < 2*(d+1) {
		return nil, false
	}
	cov := mat.NewSymDense(d, nil)
	cov.ScaleSym(1/float64(count-1), comoment)
	c, _, err := mixture.NewComponent(1, make([]float64, d), cov)
	if err != nil {
		return nil, false
	}
	return c, true
}

func identity(d int) *mat.SymDense {
	m := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}
