// Package mixture holds the mixture-of-normals approximations the sampler
// builds for each model's conditional posterior: the component and mixture
// types, the EM fitting procedure that chooses the number of components,
// online adaptation, and a plain-text persistence format.
package mixture

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/automix/rand"
)

// WeightTolerance is how far the component weights may drift from summing
// to one before Check fails.
const WeightTolerance = 1e-9

// Kernel is the log density of a standardized vector u. Components are the
// image of u under mean + L*u.
type Kernel func(u []float64) float64

// NormalKernel is the iid standard normal log density
func NormalKernel(u []float64) float64 {
	ss := 0.0
	for _, v := range u {
		ss += v * v
	}
	return -0.5*ss - 0.5*float64(len(u))*log2Pi
}

// KernelFor returns the iid kernel that matches rand.Generator.Variate for
// the given degrees of freedom (0 is normal).
func KernelFor(dof int) Kernel {
	if dof <= 0 {
		return NormalKernel
	}
	return func(u []float64) float64 {
		lp := 0.0
		for _, v := range u {
			lp += rand.VariateLogProb(dof, v)
		}
		return lp
	}
}

// Variates is the randomness a Mixture needs to draw samples
type Variates interface {
	Float64() float64
	Variate(dof int) float64
}

// Mixture is a weighted mixture of normals approximating one model's
// conditional posterior. A Mixture keeps scratch space and is not safe for
// concurrent use.
type Mixture struct {
	Dim         int          // Model dimension
	Components  []*Component // Ordered components, weights sum to 1
	ModelWeight float64      // Relative model mass used to bias jump proposals
	LogEvidence float64      // Estimated log normalizing constant (NaN if unknown)
	Diag        Diagnostics  // How the mixture was produced

	work []float64
	lw   []float64
}

// New creates a mixture from components. Weights are normalized.
func New(dim int, comps []*Component, modelWeight float64) (*Mixture, error) {
	m := &Mixture{
		Dim:         dim,
		Components:  comps,
		ModelWeight: modelWeight,
		LogEvidence: math.NaN(),
	}
	if err := m.Normalize(); err != nil {
		return nil, err
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	m.Diag.Components = len(comps)
	return m, nil
}

// Check returns an error if the mixture is not a valid density
func (m *Mixture) Check() error {
	if m.Dim < 1 {
		return errors.Errorf("Mixture dimension %d must be >= 1", m.Dim)
	}
	if len(m.Components) < 1 {
		return errors.Errorf("Mixture has no components")
	}

	tot := 0.0
	for i, c := range m.Components {
		if c.Dim() != m.Dim {
			return errors.Errorf("Component %d has dim %d, mixture has dim %d", i, c.Dim(), m.Dim)
		}
		if c.Weight < 0 || math.IsNaN(c.Weight) {
			return errors.Errorf("Component %d has invalid weight %v", i, c.Weight)
		}
		if math.IsNaN(c.logDet) || math.IsInf(c.logDet, 0) {
			return errors.Errorf("Component %d has degenerate covariance", i)
		}
		tot += c.Weight
	}
	if math.Abs(tot-1.0) > WeightTolerance {
		return errors.Errorf("Component weights sum to %v, not 1", tot)
	}

	if m.ModelWeight < 0 || math.IsNaN(m.ModelWeight) {
		return errors.Errorf("Invalid model weight %v", m.ModelWeight)
	}
	return nil
}

// Normalize rescales the component weights to sum to one
func (m *Mixture) Normalize() error {
	tot := 0.0
	for _, c := range m.Components {
		tot += c.Weight
	}
	if tot <= 0 || math.IsNaN(tot) || math.IsInf(tot, 0) {
		return errors.Errorf("Can not normalize component weights with total %v", tot)
	}
	for _, c := range m.Components {
		c.Weight /= tot
	}
	return nil
}

func (m *Mixture) scratch() {
	if len(m.work) != m.Dim {
		m.work = make([]float64, m.Dim)
	}
	if len(m.lw) != len(m.Components) {
		m.lw = make([]float64, len(m.Components))
	}
}

// LogDensity is the mixture log density at x
func (m *Mixture) LogDensity(x []float64) float64 {
	return m.LogDensityKernel(x, NormalKernel)
}

// LogDensityKernel is the log density at x of the mixture built with kernel
// k in place of the standard normal.
func (m *Mixture) LogDensityKernel(x []float64, k Kernel) float64 {
	m.scratch()
	for l, c := range m.Components {
		m.lw[l] = math.Log(c.Weight) + c.LogDensityKernel(x, m.work, k)
	}
	return floats.LogSumExp(m.lw)
}

// Responsibilities fills dst with P(component l | x) and returns the mixture
// log density at x. dst must have len(Components) entries.
func (m *Mixture) Responsibilities(dst, x []float64) float64 {
	m.scratch()
	for l, c := range m.Components {
		m.lw[l] = math.Log(c.Weight) + c.LogDensity(x, m.work)
	}
	lse := floats.LogSumExp(m.lw)
	if math.IsInf(lse, -1) || math.IsNaN(lse) {
		// x is numerically outside every component: fall back on the prior
		for l := range dst {
			dst[l] = m.Components[l].Weight
		}
		return lse
	}
	for l := range dst {
		dst[l] = math.Exp(m.lw[l] - lse)
	}
	return lse
}

// Choose maps a uniform u in [0,1) to a component index by weight
func (m *Mixture) Choose(u float64) int {
	return ChooseIndex(u, len(m.Components), func(i int) float64 {
		return m.Components[i].Weight
	})
}

// ChooseIndex picks an index in [0, n) with probability proportional to
// weight(i) using the uniform u.
func ChooseIndex(u float64, n int, weight func(int) float64) int {
	tot := 0.0
	for i := 0; i < n; i++ {
		tot += weight(i)
	}
	target := u * tot
	cum := 0.0
	last := -1
	for i := 0; i < n; i++ {
		w := weight(i)
		if w <= 0 {
			continue
		}
		cum += w
		last = i
		if target < cum {
			return i
		}
	}
	return last
}

// Sample draws a point from the mixture into dst (built with the dof kernel)
// and returns the component used.
func (m *Mixture) Sample(gen Variates, dof int, dst []float64) int {
	l := m.Choose(gen.Float64())
	for i := range dst {
		dst[i] = gen.Variate(dof)
	}
	m.Components[l].Destandardize(dst, dst)
	return l
}

// Moments returns the overall mean and covariance of the mixture
func (m *Mixture) Moments() ([]float64, *mat.SymDense) {
	d := m.Dim
	mean := make([]float64, d)
	for _, c := range m.Components {
		floats.AddScaled(mean, c.Weight, c.Mean)
	}

	cov := mat.NewSymDense(d, nil)
	for _, c := range m.Components {
		cc := c.Covariance()
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				di := c.Mean[i] - mean[i]
				dj := c.Mean[j] - mean[j]
				cov.SetSym(i, j, cov.At(i, j)+c.Weight*(cc.At(i, j)+di*dj))
			}
		}
	}
	return mean, cov
}

// Clone returns a deep copy of the mixture
func (m *Mixture) Clone() *Mixture {
	cp := &Mixture{
		Dim:         m.Dim,
		Components:  make([]*Component, len(m.Components)),
		ModelWeight: m.ModelWeight,
		LogEvidence: m.LogEvidence,
		Diag:        m.Diag,
	}
	for i, c := range m.Components {
		cp.Components[i] = c.Clone()
	}
	return cp
}

// Update performs one online EM step toward the point x with step size
// gamma in (0, 1): weights move toward the responsibilities of x, and each
// component's mean and covariance move toward x in proportion to its
// responsibility. It returns how many component updates were skipped
// because they would have broken positive definiteness.
func (m *Mixture) Update(x []float64, gamma float64) int {
	if gamma <= 0 {
		return 0
	}
	if gamma > 0.5 {
		gamma = 0.5
	}

	resp := make([]float64, len(m.Components))
	m.Responsibilities(resp, x)

	skipped := 0
	for l, c := range m.Components {
		c.Weight = (1-gamma)*c.Weight + gamma*resp[l]
		if c.Weight <= 0 {
			continue
		}
		a := gamma * resp[l] / c.Weight
		if a < 1e-12 {
			continue
		}
		if a > 0.5 {
			a = 0.5
		}
		if !c.adapt(a, x) {
			skipped++
		}
	}

	// Responsibilities sum to one so this only removes rounding drift
	_ = m.Normalize()
	return skipped
}
