package model

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Exact is implemented by catalogs whose model probabilities are known in
// closed form (used for checking a run).
type Exact interface {
	ModelProbs() []float64
}

// ToyMixture is a catalog where model k has dimension k+1 and conditional
// posterior 0.3*N(5*1, I) + 0.7*N(-5*1, 4I), scaled by the model weight so
// the evidence of model k is exactly Weights[k].
type ToyMixture struct {
	Weights []float64
}

// NewToyMixture creates a toy catalog with the given model weights
func NewToyMixture(weights []float64) (*ToyMixture, error) {
	if len(weights) < 1 {
		return nil, errors.New("Toy catalog needs at least one model weight")
	}
	for k, w := range weights {
		if !(w > 0) {
			return nil, errors.Errorf("Toy model %d weight %v must be > 0", k, w)
		}
	}
	return &ToyMixture{Weights: append([]float64(nil), weights...)}, nil
}

// ModelCount implements Catalog
func (t *ToyMixture) ModelCount() int { return len(t.Weights) }

// Dimension implements Catalog
func (t *ToyMixture) Dimension(k int) int { return k + 1 }

// InitialPoint implements Catalog
func (t *ToyMixture) InitialPoint(k int) []float64 { return make([]float64, k+1) }

// Evaluate implements Catalog
func (t *ToyMixture) Evaluate(k int, theta []float64) (float64, float64) {
	d := float64(len(theta))
	const sig1, sig2 = 1.0, 2.0
	const w1, w2 = 0.3, 0.7

	ss1, ss2 := 0.0, 0.0
	for _, v := range theta {
		ss1 += (v - 5) * (v - 5)
		ss2 += (v + 5) * (v + 5)
	}

	norm := -0.5 * d * math.Log(2*math.Pi)
	l1 := math.Log(w1) + norm - d*math.Log(sig1) - ss1/(2*sig1*sig1)
	l2 := math.Log(w2) + norm - d*math.Log(sig2) - ss2/(2*sig2*sig2)

	hi, lo := l1, l2
	if lo > hi {
		hi, lo = lo, hi
	}
	lp := math.Log(t.Weights[k]) + hi + math.Log1p(math.Exp(lo-hi))
	return lp, lp
}

// ModelProbs implements Exact
func (t *ToyMixture) ModelProbs() []float64 {
	tot := 0.0
	for _, w := range t.Weights {
		tot += w
	}
	out := make([]float64, len(t.Weights))
	for k, w := range t.Weights {
		out[k] = w / tot
	}
	return out
}

// StandardNormal is a single 1-d standard normal model
func StandardNormal() *Static {
	s, err := NewStatic("normal", []int{1}, nil, func(k int, theta []float64) (float64, float64) {
		lp := -0.5*theta[0]*theta[0] - 0.5*math.Log(2*math.Pi)
		return lp, lp
	})
	if err != nil {
		panic("BUG: standard normal catalog is invalid: " + err.Error())
	}
	return s
}

// Examples are the built in catalogs selectable by name
var Examples = map[string]func() Catalog{
	// Five models from the AutoMix toy example
	"toy2": func() Catalog {
		t, _ := NewToyMixture([]float64{0.5, 0.25, 0.125, 0.0625, 0.0625})
		return t
	},
	// The first two toy models, dims 1 and 2 with evidence 2:1
	"toy2x2": func() Catalog {
		t, _ := NewToyMixture([]float64{0.5, 0.25})
		return t
	},
	"normal": func() Catalog {
		return StandardNormal()
	},
}

// ExampleNames returns the sorted example names
func ExampleNames() []string {
	names := make([]string, 0, len(Examples))
	for n := range Examples {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewExample returns the named example catalog
func NewExample(name string) (Catalog, error) {
	f, ok := Examples[name]
	if !ok {
		return nil, errors.Errorf("Unknown example catalog %q (have %v)", name, ExampleNames())
	}
	return f(), nil
}
