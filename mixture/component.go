package mixture

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// log(2*pi)
var log2Pi = math.Log(2 * math.Pi)

// maxJitterTries bounds how often we grow the diagonal jitter before giving
// up on a covariance.
const maxJitterTries = 12

// Component is a single multivariate normal in a mixture. The covariance is
// only ever held as its Cholesky factorization Sigma = L*L^T.
type Component struct {
	Weight float64   // Mixture weight, >= 0
	Mean   []float64 // Component mean, len is the model dimension

	chol   *mat.Cholesky
	lower  *mat.TriDense // L, cached from chol
	logDet float64       // log|Sigma|
}

// NewComponent factorizes cov (regularizing with diagonal jitter if it is
// not numerically positive definite). The returned int is the number of
// jitter rounds applied, zero when the plain factorization succeeded.
func NewComponent(weight float64, mean []float64, cov mat.Symmetric) (*Component, int, error) {
	d := len(mean)
	if d < 1 {
		return nil, 0, errors.Errorf("Component must have dimension >= 1")
	}
	if r, c := cov.Dims(); r != d || c != d {
		return nil, 0, errors.Errorf("Covariance is %dx%d for mean of len %d", r, c, d)
	}

	chol, jitters, err := factorize(cov)
	if err != nil {
		return nil, jitters, err
	}

	comp := &Component{
		Weight: weight,
		Mean:   append([]float64(nil), mean...),
	}
	comp.setChol(chol)
	return comp, jitters, nil
}

// NewComponentLower builds a component from a row-major packed lower
// triangular Cholesky factor (d*(d+1)/2 values).
func NewComponentLower(weight float64, mean []float64, lower []float64) (*Component, error) {
	d := len(mean)
	if d < 1 {
		return nil, errors.Errorf("Component must have dimension >= 1")
	}
	if len(lower) != d*(d+1)/2 {
		return nil, errors.Errorf("Lower factor has %d values, expected %d", len(lower), d*(d+1)/2)
	}

	L := mat.NewTriDense(d, mat.Lower, nil)
	pos := 0
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			v := lower[pos]
			pos++
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("Non-finite Cholesky entry at (%d,%d)", i, j)
			}
			if i == j && v <= 0 {
				return nil, errors.Errorf("Cholesky diagonal (%d,%d) is %v, must be > 0", i, j, v)
			}
			L.SetTri(i, j, v)
		}
	}

	var cov mat.SymDense
	cov.SymOuterK(1, L)

	comp, _, err := NewComponent(weight, mean, &cov)
	return comp, err
}

// factorize attempts a Cholesky factorization, growing a diagonal jitter
// relative to the mean variance until it succeeds.
func factorize(cov mat.Symmetric) (*mat.Cholesky, int, error) {
	chol := &mat.Cholesky{}
	if chol.Factorize(cov) {
		return chol, 0, nil
	}

	d, _ := cov.Dims()
	scale := 0.0
	for i := 0; i < d; i++ {
		scale += math.Abs(cov.At(i, i))
	}
	scale /= float64(d)
	if scale < 1e-12 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1.0
	}

	jittered := mat.NewSymDense(d, nil)
	eps := 1e-10 * scale
	for try := 1; try <= maxJitterTries; try++ {
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				jittered.SetSym(i, j, cov.At(i, j))
			}
			jittered.SetSym(i, i, cov.At(i, i)+eps)
		}
		if chol.Factorize(jittered) {
			return chol, try, nil
		}
		eps *= 10
	}

	return nil, maxJitterTries, errors.Errorf("Covariance not positive definite after %d jitter rounds", maxJitterTries)
}

func (c *Component) setChol(chol *mat.Cholesky) {
	c.chol = chol
	c.lower = &mat.TriDense{}
	chol.LTo(c.lower)
	c.logDet = chol.LogDet()
}

// Dim is the component dimension
func (c *Component) Dim() int {
	return len(c.Mean)
}

// LogDet returns log|Sigma|
func (c *Component) LogDet() float64 {
	return c.logDet
}

// LogDetL returns log|L| (half of log|Sigma|), the log Jacobian of
// Destandardize.
func (c *Component) LogDetL() float64 {
	return 0.5 * c.logDet
}

// Standardize computes u = L^-1 (x - mean) into dst. dst may alias x.
func (c *Component) Standardize(dst, x []float64) []float64 {
	raw := c.lower.RawTriangular()
	d := len(c.Mean)
	for i := 0; i < d; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+i+1]
		s := x[i] - c.Mean[i]
		for j := 0; j < i; j++ {
			s -= row[j] * dst[j]
		}
		dst[i] = s / row[i]
	}
	return dst
}

// Destandardize computes x = mean + L u into dst. dst may alias u.
func (c *Component) Destandardize(dst, u []float64) []float64 {
	raw := c.lower.RawTriangular()
	for i := len(c.Mean) - 1; i >= 0; i-- {
		row := raw.Data[i*raw.Stride : i*raw.Stride+i+1]
		s := c.Mean[i]
		for j := 0; j <= i; j++ {
			s += row[j] * u[j]
		}
		dst[i] = s
	}
	return dst
}

// LogDensity is the normal log density at x. work must have len Dim.
func (c *Component) LogDensity(x, work []float64) float64 {
	return c.LogDensityKernel(x, work, NormalKernel)
}

// LogDensityKernel is the log density at x of mean + L*u where u has log
// density k.
func (c *Component) LogDensityKernel(x, work []float64, k Kernel) float64 {
	u := c.Standardize(work, x)
	return k(u) - c.LogDetL()
}

// Lower returns L as a row-major packed lower triangle
func (c *Component) Lower() []float64 {
	d := len(c.Mean)
	out := make([]float64, 0, d*(d+1)/2)
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			out = append(out, c.lower.At(i, j))
		}
	}
	return out
}

// Covariance reconstructs Sigma = L*L^T
func (c *Component) Covariance() *mat.SymDense {
	cov := &mat.SymDense{}
	c.chol.ToSym(cov)
	return cov
}

// Clone returns a deep copy
func (c *Component) Clone() *Component {
	chol := &mat.Cholesky{}
	chol.Clone(c.chol)

	cp := &Component{
		Weight: c.Weight,
		Mean:   append([]float64(nil), c.Mean...),
	}
	cp.setChol(chol)
	return cp
}

// adapt moves the component toward x with step a in (0, 1):
//
//	mean' = mean + a*(x - mean)
//	Sigma' = (1-a)*Sigma + a*(1-a)*(x - mean)(x - mean)^T
//
// The factor is updated in place with a scale and a rank-one update. It
// reports false (and leaves the component unchanged) if the update lost
// positive definiteness.
func (c *Component) adapt(a float64, x []float64) bool {
	d := len(c.Mean)
	diff := make([]float64, d)
	for i := range diff {
		diff[i] = x[i] - c.Mean[i]
	}

	next := &mat.Cholesky{}
	next.Scale(1-a, c.chol)
	if ok := next.SymRankOne(next, a*(1-a), mat.NewVecDense(d, diff)); !ok {
		return false
	}
	if ld := next.LogDet(); math.IsNaN(ld) || math.IsInf(ld, 0) {
		return false
	}

	for i := range c.Mean {
		c.Mean[i] += a * diff[i]
	}
	c.setChol(next)
	return true
}
