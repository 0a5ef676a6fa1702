package model

import (
	"math"

	"github.com/pkg/errors"
)

// Catalog is the set of candidate models the sampler moves between. Models
// are identified by index k in [0, ModelCount()). Implementations must be
// deterministic and free of side effects visible to the sampler: the same
// (k, theta) always evaluates to the same values.
type Catalog interface {
	ModelCount() int
	Dimension(k int) int
	InitialPoint(k int) []float64
	// Evaluate returns the log posterior (up to a constant shared by all
	// models) and the log likelihood of theta under model k.
	Evaluate(k int, theta []float64) (logPost float64, logLik float64)
}

// Evaluator is the log posterior function of a Static catalog
type Evaluator func(k int, theta []float64) (logPost float64, logLik float64)

// Static is a Catalog built from fixed dimensions, initial points and an
// evaluator function.
type Static struct {
	Name  string      // Catalog name for reporting
	Dims  []int       // Dimension of each model
	Inits [][]float64 // Initial point of each model (nil means the origin)
	Eval  Evaluator   // Log posterior evaluator
}

// NewStatic creates and checks a Static catalog
func NewStatic(name string, dims []int, inits [][]float64, eval Evaluator) (*Static, error) {
	s := &Static{Name: name, Dims: dims, Inits: inits, Eval: eval}
	if eval == nil {
		return nil, errors.Errorf("Catalog %s has no evaluator", name)
	}
	if err := Check(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ModelCount implements Catalog
func (s *Static) ModelCount() int { return len(s.Dims) }

// Dimension implements Catalog
func (s *Static) Dimension(k int) int { return s.Dims[k] }

// InitialPoint implements Catalog
func (s *Static) InitialPoint(k int) []float64 {
	if k < len(s.Inits) && s.Inits[k] != nil {
		return append([]float64(nil), s.Inits[k]...)
	}
	return make([]float64, s.Dims[k])
}

// Evaluate implements Catalog
func (s *Static) Evaluate(k int, theta []float64) (float64, float64) {
	return s.Eval(k, theta)
}

// Check returns an error if there is a problem with the catalog: no models,
// a model with dimension < 1, or an initial point whose length does not
// match its model's dimension.
func Check(c Catalog) error {
	n := c.ModelCount()
	if n < 1 {
		return errors.Errorf("Catalog has %d models, need at least 1", n)
	}

	for k := 0; k < n; k++ {
		d := c.Dimension(k)
		if d < 1 {
			return errors.Errorf("Model %d has dimension %d, must be >= 1", k, d)
		}

		init := c.InitialPoint(k)
		if len(init) != d {
			return errors.Errorf("Model %d has dimension %d but initial point has len %d", k, d, len(init))
		}
		for j, v := range init {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Errorf("Model %d initial point has non-finite value at %d", k, j)
			}
		}
	}

	return nil
}

// MaxDimension is the largest model dimension in the catalog
func MaxDimension(c Catalog) int {
	max := 0
	for k := 0; k < c.ModelCount(); k++ {
		if d := c.Dimension(k); d > max {
			max = d
		}
	}
	return max
}
