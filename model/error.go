package model

import (
	"math"

	"github.com/pkg/errors"
)

// ErrorSuite compares an estimated discrete distribution (such as the
// sampler's model visit frequencies) against a reference one.
type ErrorSuite struct {
	MeanAbsError float64 `yaml:"mean_abs_error"`
	MaxAbsError  float64 `yaml:"max_abs_error"`
	Hellinger    float64 `yaml:"hellinger"`
	JSDiverge    float64 `yaml:"js_divergence"`
}

// NewErrorSuite returns an ErrorSuite with all calculated error functions.
// Neither input needs to be normalized but both must be non-negative with a
// positive total.
func NewErrorSuite(est []float64, ref []float64) (*ErrorSuite, error) {
	if len(est) != len(ref) {
		return nil, errors.Errorf("Distribution size mismatch %d != %d", len(est), len(ref))
	}
	if len(est) < 1 {
		return nil, errors.Errorf("No probabilities to score")
	}

	p, err := normed(est)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid estimate")
	}
	q, err := normed(ref)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid reference")
	}

	return &ErrorSuite{
		MeanAbsError: MeanAbsDiff(p, q),
		MaxAbsError:  MaxAbsDiff(p, q),
		Hellinger:    HellingerDiff(p, q),
		JSDiverge:    JSDivergence(p, q),
	}, nil
}

func normed(v []float64) ([]float64, error) {
	tot := 0.0
	for _, x := range v {
		if x < 0 || math.IsNaN(x) {
			return nil, errors.Errorf("Invalid probability mass %v", x)
		}
		tot += x
	}
	if tot <= 0 {
		return nil, errors.Errorf("Total mass %v must be > 0", tot)
	}

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / tot
	}
	return out, nil
}

// MaxAbsDiff returns the maximum difference found between the two prob dists
func MaxAbsDiff(p, q []float64) float64 {
	maxErr := 0.0
	for i := range p {
		maxErr = math.Max(maxErr, math.Abs(p[i]-q[i]))
	}
	return maxErr
}

// MeanAbsDiff returns the mean of the differenced found between the two prob dists
func MeanAbsDiff(p, q []float64) float64 {
	if len(p) < 1 {
		return 0
	}
	errSum := 0.0
	for i := range p {
		errSum += math.Abs(p[i] - q[i])
	}
	return errSum / float64(len(p))
}

// HellingerDiff returns the Hellinger distance between normalized dists
func HellingerDiff(p, q []float64) float64 {
	// Hellinger distance is similar to the Euclidean L2:
	// sqrt(sum((sqrt(p) - sqrt(q))**2)) / sqrt(2)
	errSum := 0.0
	for i := range p {
		d := math.Sqrt(p[i]) - math.Sqrt(q[i])
		errSum += d * d
	}
	return math.Sqrt(errSum) / math.Sqrt2
}

// klDivergence returns the Kullback–Leibler divergence, which is
// non-symmetric! This is strictly a subroutine for JS Divergence.
// klDivergence(P, Q) <==> D_{KL}(P || Q)
func klDivergence(p, q []float64) float64 {
	diverge := 0.0
	for i, p1 := range p {
		if p1 > 0 {
			diverge += p1 * math.Log2(p1/q[i])
		}
	}
	return diverge
}

// JSDivergence returns the Jensen-Shannon divergence, which is a
// symmetric gneralization of the KL divergence
func JSDivergence(p, q []float64) float64 {
	mid := make([]float64, len(p))
	for i := range p {
		mid[i] = (p[i] + q[i]) * 0.5
	}
	return 0.5 * (klDivergence(p, mid) + klDivergence(q, mid))
}
