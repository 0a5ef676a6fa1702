package mixture

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// State is where a fit is in its life cycle.
type State int

// Fitting states. A fit starts Initializing, moves to Fitting once a single
// component is in place, and ends Converged (no split improves the
// criterion, or the component cap is reached) or Degenerate (not enough
// usable data, a spherical fallback is returned).
const (
	Initializing State = iota
	Fitting
	Converged
	Degenerate
)

var stateNames = map[State]string{
	Initializing: "initializing",
	Fitting:      "fitting",
	Converged:    "converged",
	Degenerate:   "degenerate",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Diagnostics describes how a mixture was produced
type Diagnostics struct {
	State       State   `yaml:"state"`
	Components  int     `yaml:"components"`
	Samples     int     `yaml:"samples"`
	Splits      int     `yaml:"splits"`
	Iterations  int     `yaml:"em_iterations"`
	LogLik      float64 `yaml:"log_lik"`
	Score       float64 `yaml:"score"`
	Criterion   string  `yaml:"criterion"`
	Jitters     int     `yaml:"jitters"`
	Annihilated int     `yaml:"annihilated"`
	Reason      string  `yaml:"reason,omitempty"`
}

// Fitter fits a mixture of normals to samples, choosing the number of
// components automatically. The zero value is not usable: see NewFitter.
type Fitter struct {
	MaxComponents    int          // Cap on components (1 gives a single normal approximation)
	Criterion        Criterion    // Split acceptance rule
	MaxIter          int          // EM iterations per candidate
	Tol              float64      // Relative log-likelihood change that ends EM
	SplitTries       int          // Components tried (by variance mass) per split round
	MinSamplesPerDim int          // Need at least this*(dim+1) samples for a real fit
	DefaultScale     float64      // Standard deviation of the degenerate fallback
	Log              *slog.Logger // Diagnostics sink (nil discards)
}

// NewFitter returns a fitter with the defaults the sampler uses
func NewFitter() *Fitter {
	return &Fitter{
		MaxComponents:    8,
		Criterion:        BIC{},
		MaxIter:          200,
		Tol:              1e-7,
		SplitTries:       2,
		MinSamplesPerDim: 5,
		DefaultScale:     1.0,
	}
}

func (f *Fitter) logger() *slog.Logger {
	if f.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.Log
}

// MinSamples is the smallest sample count that gets a real fit
func (f *Fitter) MinSamples(dim int) int {
	per := f.MinSamplesPerDim
	if per < 1 {
		per = 1
	}
	return per * (dim + 1)
}

// fitData is the sample matrix plus scratch shared by the EM steps
type fitData struct {
	x    *mat.Dense
	n, d int
	resp *mat.Dense
	work []float64
	col  []float64
	wcol []float64
}

func newFitData(dim int, samples [][]float64) (*fitData, error) {
	n := len(samples)
	fd := &fitData{
		n:    n,
		d:    dim,
		work: make([]float64, dim),
		col:  make([]float64, n),
		wcol: make([]float64, n),
	}
	if n == 0 {
		return fd, nil
	}

	fd.x = mat.NewDense(n, dim, nil)
	for i, s := range samples {
		if len(s) != dim {
			return nil, errors.Errorf("Sample %d has len %d, expected %d", i, len(s), dim)
		}
		for j, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("Sample %d has non-finite value at %d", i, j)
			}
		}
		fd.x.SetRow(i, s)
	}
	return fd, nil
}

func (fd *fitData) mean(weights []float64) []float64 {
	mean := make([]float64, fd.d)
	for k := 0; k < fd.d; k++ {
		mat.Col(fd.col, k, fd.x)
		mean[k] = stat.Mean(fd.col, weights)
	}
	return mean
}

// estep fills the responsibility matrix and returns the log-likelihood
func (fd *fitData) estep(m *Mixture) float64 {
	c := len(m.Components)
	if fd.resp == nil {
		fd.resp = mat.NewDense(fd.n, c, nil)
	} else if _, cc := fd.resp.Dims(); cc != c {
		fd.resp = mat.NewDense(fd.n, c, nil)
	}

	lw := make([]float64, c)
	logW := make([]float64, c)
	for j, comp := range m.Components {
		logW[j] = math.Log(comp.Weight)
	}

	ll := 0.0
	for i := 0; i < fd.n; i++ {
		row := fd.x.RawRowView(i)
		for j, comp := range m.Components {
			lw[j] = logW[j] + comp.LogDensity(row, fd.work)
		}
		lse := floats.LogSumExp(lw)
		ll += lse

		r := fd.resp.RawRowView(i)
		for j := range r {
			r[j] = math.Exp(lw[j] - lse)
		}
	}
	return ll
}

// logLik is the sample log-likelihood under m
func (fd *fitData) logLik(m *Mixture) float64 {
	lw := make([]float64, len(m.Components))
	ll := 0.0
	for i := 0; i < fd.n; i++ {
		row := fd.x.RawRowView(i)
		for j, comp := range m.Components {
			lw[j] = math.Log(comp.Weight) + comp.LogDensity(row, fd.work)
		}
		ll += floats.LogSumExp(lw)
	}
	return ll
}

// Fit fits a mixture to samples (each of length dim). Data problems that
// prevent a real fit produce the Degenerate fallback rather than an error;
// only malformed input is an error.
func (f *Fitter) Fit(dim int, samples [][]float64) (*Mixture, error) {
	if dim < 1 {
		return nil, errors.Errorf("Can not fit a mixture of dimension %d", dim)
	}
	fd, err := newFitData(dim, samples)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid samples for mixture fit")
	}

	crit := f.Criterion
	if crit == nil {
		crit = BIC{}
	}
	maxComp := f.MaxComponents
	if maxComp < 1 {
		maxComp = 1
	}

	diag := Diagnostics{Samples: fd.n, Criterion: crit.Name()}
	state := Initializing

	var cur *Mixture
	var curLL, curScore float64

	for {
		switch state {
		case Initializing:
			if fd.n < f.MinSamples(dim) {
				diag.Reason = fmt.Sprintf("only %d samples for dimension %d (need %d)", fd.n, dim, f.MinSamples(dim))
				state = Degenerate
				continue
			}

			comp, reason := f.single(fd, &diag)
			if comp == nil {
				diag.Reason = reason
				state = Degenerate
				continue
			}

			cur, err = New(dim, []*Component{comp}, 1)
			if err != nil {
				diag.Reason = err.Error()
				state = Degenerate
				continue
			}
			curLL = fd.logLik(cur)
			curScore = crit.Score(curLL, cur, fd.n)
			state = Fitting

		case Fitting:
			if len(cur.Components) >= maxComp {
				state = Converged
				continue
			}

			next, ll, score, ok := f.trySplits(fd, cur, curScore, crit, &diag)
			if !ok {
				state = Converged
				continue
			}
			cur, curLL, curScore = next, ll, score
			diag.Splits++

		case Converged:
			diag.State = Converged
			diag.Components = len(cur.Components)
			diag.LogLik = curLL
			diag.Score = curScore
			cur.Diag = diag
			f.logger().Debug("mixture fit converged",
				"dim", dim, "components", diag.Components, "splits", diag.Splits,
				"logLik", curLL, "score", curScore)
			return cur, nil

		case Degenerate:
			return f.fallback(fd, diag), nil
		}
	}
}

// single fits one component from the sample moments
func (f *Fitter) single(fd *fitData, diag *Diagnostics) (*Component, string) {
	mean := fd.mean(nil)

	cov := mat.NewSymDense(fd.d, nil)
	stat.CovarianceMatrix(cov, fd.x, nil)

	tr := 0.0
	for i := 0; i < fd.d; i++ {
		tr += cov.At(i, i)
	}
	if !(tr > 1e-300) {
		return nil, "samples have zero variance"
	}

	comp, jit, err := NewComponent(1, mean, cov)
	diag.Jitters += jit
	if err != nil {
		return nil, err.Error()
	}
	if jit > 0 {
		f.logger().Info("regularized sample covariance", "dim", fd.d, "jitterRounds", jit)
	}
	return comp, ""
}

// trySplits splits the components with the most variance mass (best first)
// and returns the first refit candidate that improves the criterion.
func (f *Fitter) trySplits(fd *fitData, cur *Mixture, curScore float64, crit Criterion, diag *Diagnostics) (*Mixture, float64, float64, bool) {
	order := make([]int, len(cur.Components))
	mass := make([]float64, len(cur.Components))
	for j, c := range cur.Components {
		order[j] = j
		mass[j] = math.Log(c.Weight) + 0.5*c.LogDet()
	}
	sort.SliceStable(order, func(a, b int) bool {
		return mass[order[a]] > mass[order[b]]
	})

	tries := f.SplitTries
	if tries < 1 {
		tries = 1
	}
	if tries > len(order) {
		tries = len(order)
	}

	for _, j := range order[:tries] {
		cand := split(cur, j)
		if cand == nil {
			continue
		}

		ll, ok := f.em(fd, cand, diag)
		if !ok {
			continue
		}

		score := crit.Score(ll, cand, fd.n)
		f.logger().Debug("split candidate", "component", j, "components", len(cand.Components),
			"score", score, "current", curScore)
		if score < curScore {
			return cand, ll, score, true
		}
	}
	return nil, 0, 0, false
}

// split replaces component j by two halves offset along its principal axis.
// The pair keeps the parent's weight, mean and covariance.
func split(m *Mixture, j int) *Mixture {
	parent := m.Components[j]
	d := parent.Dim()
	cov := parent.Covariance()

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	k := len(vals) - 1
	lambda := vals[k]
	if !(lambda > 0) {
		return nil
	}
	axis := mat.Col(nil, k, &vecs)

	const delta = 0.5
	child := mat.NewSymDense(d, nil)
	child.SymRankOne(cov, -delta*delta*lambda, mat.NewVecDense(d, axis))

	off := delta * math.Sqrt(lambda)
	lo := make([]float64, d)
	hi := make([]float64, d)
	for i := range axis {
		lo[i] = parent.Mean[i] - off*axis[i]
		hi[i] = parent.Mean[i] + off*axis[i]
	}

	a, _, err := NewComponent(parent.Weight/2, lo, child)
	if err != nil {
		return nil
	}
	b, _, err := NewComponent(parent.Weight/2, hi, child)
	if err != nil {
		return nil
	}

	comps := make([]*Component, 0, len(m.Components)+1)
	for i, c := range m.Components {
		if i == j {
			comps = append(comps, a, b)
		} else {
			comps = append(comps, c.Clone())
		}
	}

	cand := &Mixture{Dim: m.Dim, Components: comps, ModelWeight: m.ModelWeight, LogEvidence: math.NaN()}
	return cand
}

// em runs E/M alternation on m in place until the log-likelihood settles
func (f *Fitter) em(fd *fitData, m *Mixture, diag *Diagnostics) (float64, bool) {
	maxIter := f.MaxIter
	if maxIter < 1 {
		maxIter = 1
	}

	prev := math.Inf(-1)
	for it := 0; it < maxIter; it++ {
		ll := fd.estep(m)
		diag.Iterations++
		if math.IsNaN(ll) {
			return 0, false
		}
		if math.Abs(ll-prev) <= f.Tol*math.Abs(ll) {
			break
		}
		prev = ll

		if !f.mstep(fd, m, diag) {
			return 0, false
		}
	}

	return fd.logLik(m), true
}

// mstep refits every component from the responsibilities. Components left
// with too little mass for a covariance estimate are annihilated.
func (f *Fitter) mstep(fd *fitData, m *Mixture, diag *Diagnostics) bool {
	minMass := float64(fd.d + 2)
	keep := make([]*Component, 0, len(m.Components))

	for j := range m.Components {
		mat.Col(fd.wcol, j, fd.resp)
		nj := floats.Sum(fd.wcol)
		if nj < minMass {
			diag.Annihilated++
			f.logger().Debug("annihilated component", "component", j, "mass", nj)
			continue
		}

		mean := fd.mean(fd.wcol)
		cov := weightedCov(fd.x, fd.wcol)

		comp, jit, err := NewComponent(nj/float64(fd.n), mean, cov)
		diag.Jitters += jit
		if err != nil {
			diag.Annihilated++
			continue
		}
		keep = append(keep, comp)
	}

	if len(keep) == 0 {
		return false
	}
	m.Components = keep
	return m.Normalize() == nil
}

// weightedCov is the maximum likelihood covariance of the rows of x under
// weights w. stat.CovarianceMatrix divides by sum(w)-1, so it is rescaled
// to a sum(w) denominator.
func weightedCov(x mat.Matrix, w []float64) *mat.SymDense {
	_, d := x.Dims()
	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, x, w)
	nw := floats.Sum(w)
	cov.ScaleSym((nw-1)/nw, cov)
	return cov
}

// fallback is the single spherical component used when a real fit is not
// possible.
func (f *Fitter) fallback(fd *fitData, diag Diagnostics) *Mixture {
	mean := make([]float64, fd.d)
	if fd.n > 0 {
		mean = fd.mean(nil)
	}

	scale := f.DefaultScale
	if !(scale > 0) {
		scale = 1.0
	}
	cov := mat.NewSymDense(fd.d, nil)
	for i := 0; i < fd.d; i++ {
		cov.SetSym(i, i, scale*scale)
	}

	comp, _, err := NewComponent(1, mean, cov)
	if err != nil {
		panic("BUG: spherical covariance must factorize: " + err.Error())
	}

	diag.State = Degenerate
	diag.Components = 1
	m := &Mixture{
		Dim:         fd.d,
		Components:  []*Component{comp},
		ModelWeight: 1,
		LogEvidence: math.NaN(),
		Diag:        diag,
	}

	f.logger().Warn("degenerate mixture fit, using spherical fallback",
		"dim", fd.d, "samples", fd.n, "scale", scale, "reason", diag.Reason)
	return m
}
