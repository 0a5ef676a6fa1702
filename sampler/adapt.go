package sampler

import (
	"math"
)

const (
	rmExponent   = 0.6  // Robbins-Monro step is t^-rmExponent
	minScale     = 1e-4 // Random walk scale clamp
	maxScale     = 1e4
	adaptPrior   = 1000 // Pseudo-count for mixture and jump weight steps
	jumpFloorPct = 0.01 // Jump weights never drop below this share of uniform
)

// adaptScale nudges the random walk scale of model k toward the target
// acceptance rate on the log scale.
func (s *Sampler) adaptScale(k int, alpha float64) {
	s.rwCount[k]++
	gamma := math.Pow(float64(s.rwCount[k]), -rmExponent)

	scale := s.rwScale[k] * math.Exp(gamma*(alpha-s.cfg.TargetAccept))
	s.rwScale[k] = math.Min(maxScale, math.Max(minScale, scale))
}

// adaptAfter moves the current model's mixture toward the current point and
// the jump weights toward the observed visit frequencies.
func (s *Sampler) adaptAfter() {
	k := s.state.Model
	m := s.mixes[k]

	n0 := float64(m.Diag.Samples)
	if n0 < adaptPrior {
		n0 = adaptPrior
	}
	s.adaptCnt[k]++
	if skipped := m.Update(s.state.Theta, 1/(n0+float64(s.adaptCnt[k]))); skipped > 0 {
		s.log.Debug("mixture update skipped components", "model", k, "skipped", skipped)
	}

	n := len(s.jumpW)
	if n < 2 {
		return
	}

	s.jumpAdapt++
	gamma := 1 / (adaptPrior + float64(s.jumpAdapt))
	floor := jumpFloorPct / float64(n)
	tot := 0.0
	for j := range s.jumpW {
		hit := 0.0
		if j == k {
			hit = 1
		}
		w := (1-gamma)*s.jumpW[j] + gamma*hit
		if w < floor {
			w = floor
		}
		s.jumpW[j] = w
		tot += w
	}
	for j := range s.jumpW {
		s.jumpW[j] /= tot
	}
}
