package mixture

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// A Criterion scores a fitted mixture; lower is better. The fitter keeps
// splitting components while the score improves.
type Criterion interface {
	Name() string
	Score(logLik float64, m *Mixture, n int) float64
}

// freeParams is the parameter count of one full-covariance normal
func freeParams(d int) int {
	return d + d*(d+1)/2
}

// BIC is the Bayesian information criterion -2*logLik + p*log(n)
type BIC struct{}

// Name implements Criterion
func (BIC) Name() string { return "bic" }

// Score implements Criterion
func (BIC) Score(logLik float64, m *Mixture, n int) float64 {
	c := len(m.Components)
	p := c*freeParams(m.Dim) + (c - 1)
	return -2*logLik + float64(p)*math.Log(float64(n))
}

// MML is the minimum message length criterion of Figueiredo & Jain (2002),
// the rule used by the AutoMix sampler:
//
//	Np/2 * sum(log(n*w/12)) + C/2*log(n/12) + C*(Np+1)/2 - logLik
type MML struct{}

// Name implements Criterion
func (MML) Name() string { return "mml" }

// Score implements Criterion
func (MML) Score(logLik float64, m *Mixture, n int) float64 {
	np := float64(freeParams(m.Dim))
	c := float64(len(m.Components))
	fn := float64(n)

	s := 0.0
	for _, comp := range m.Components {
		s += math.Log(fn * comp.Weight / 12)
	}
	return np/2*s + c/2*math.Log(fn/12) + c*(np+1)/2 - logLik
}

// CriterionByName returns the named criterion ("bic" or "mml")
func CriterionByName(name string) (Criterion, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bic":
		return BIC{}, nil
	case "mml":
		return MML{}, nil
	}
	return nil, errors.Errorf("Unknown mixture criterion %q (expected bic or mml)", name)
}
