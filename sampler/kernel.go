package sampler

import (
	"math"

	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/mixture"
	"github.com/CraigKelly/automix/rand"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// accept draws the uniform for a Metropolis-Hastings test and returns the
// acceptance probability. The uniform is always drawn so the random stream
// does not depend on the proposal.
func (s *Sampler) accept(logAlpha float64) (float64, bool) {
	u := s.gen.Float64()
	if math.IsNaN(logAlpha) {
		return 0, false
	}
	alpha := 1.0
	if logAlpha < 0 {
		alpha = math.Exp(logAlpha)
	}
	return alpha, u < alpha
}

// Sweep performs one kernel transition and returns the resulting sample.
// With adapt set the random walk scale, the current model's mixture and the
// jump weights are nudged after the move.
func (s *Sampler) Sweep(adapt bool) (Sample, error) {
	if s.mixes == nil {
		return Sample{}, configErrorf("mixtures must be estimated or loaded before sweeping")
	}

	var move MoveType
	var alpha float64
	var ok bool

	uMove := s.gen.Float64()
	if s.cat.ModelCount() > 1 && uMove < s.cfg.JumpProb {
		move = MoveJump
		alpha, ok = s.jump()
	} else if s.gen.Float64() < s.cfg.IndependenceProb {
		move = MoveIndependence
		alpha, ok = s.independence()
	} else {
		move = MoveRandomWalk
		alpha, ok = s.randomWalk(adapt)
	}

	s.state.Sweep++
	s.stats.Sweeps++
	s.stats.Visits[s.state.Model]++

	if adapt {
		s.adaptAfter()
	}

	return Sample{
		Sweep:    s.state.Sweep,
		Model:    s.state.Model,
		Theta:    append([]float64(nil), s.state.Theta...),
		LogPost:  s.state.LogPost,
		LogLik:   s.state.LogLik,
		Move:     move,
		Accepted: ok,
		Alpha:    alpha,
	}, nil
}

// evaluate returns the log posterior of the proposal, or ok=false when it is
// not finite (the proposal is then rejected).
func (s *Sampler) evaluate(k int, theta []float64) (float64, float64, bool) {
	lp, ll := s.cat.Evaluate(k, theta)
	return lp, ll, finite(lp)
}

// commit makes (k, prop) the current state
func (s *Sampler) commit(k int, prop []float64, lp, ll float64) {
	s.state.Model = k
	s.state.Theta = append(s.state.Theta[:0], prop...)
	s.state.LogPost = lp
	s.state.LogLik = ll
}

// independence proposes a fresh draw from the current model's mixture
func (s *Sampler) independence() (float64, bool) {
	k := s.state.Model
	m := s.mixes[k]
	st := &s.stats.Moves[MoveIndependence]

	prop := s.prop[:m.Dim]
	m.Sample(s.gen, s.cfg.DoF, prop)

	lp, ll, ok := s.evaluate(k, prop)
	if !ok {
		s.gen.Float64()
		st.NonFinite++
		st.record(0, false)
		return 0, false
	}

	logAlpha := lp - s.state.LogPost +
		m.LogDensityKernel(s.state.Theta, s.kernel) - m.LogDensityKernel(prop, s.kernel)

	alpha, acc := s.accept(logAlpha)
	st.record(alpha, acc)
	if acc {
		s.commit(k, prop, lp, ll)
	}
	return alpha, acc
}

// randomWalk proposes theta + scale * L z for the model's random walk shape
func (s *Sampler) randomWalk(adapt bool) (float64, bool) {
	k := s.state.Model
	d := s.mixes[k].Dim
	st := &s.stats.Moves[MoveRandomWalk]

	z := s.u[:d]
	for i := range z {
		z[i] = s.gen.Variate(s.cfg.DoF)
	}
	prop := s.prop[:d]
	s.rw[k].Destandardize(prop, z)
	scale := s.rwScale[k]
	for i := range prop {
		prop[i] = s.state.Theta[i] + scale*prop[i]
	}

	alpha := 0.0
	acc := false
	if lp, ll, ok := s.evaluate(k, prop); ok {
		alpha, acc = s.accept(lp - s.state.LogPost)
		if acc {
			s.commit(k, prop, lp, ll)
		}
	} else {
		s.gen.Float64()
		st.NonFinite++
	}
	st.record(alpha, acc)

	if adapt {
		s.adaptScale(k, alpha)
	}
	return alpha, acc
}

// jumpLogQ is log q(to | from): destinations are chosen by jump weight
// among the other models.
func (s *Sampler) jumpLogQ(from, to int) float64 {
	tot := 0.0
	for j, w := range s.jumpW {
		if j != from {
			tot += w
		}
	}
	return math.Log(s.jumpW[to]) - math.Log(tot)
}

// jump attempts a between-model move. The forward proposal picks the
// destination model by jump weight, the source component by responsibility
// at theta, the destination component by weight, an optional permutation of
// the shared standardized coordinates and, when growing, fresh standardized
// coordinates. The reverse move makes the mirror choices, so the acceptance
// ratio carries the reverse over forward probabilities of each choice along
// with the Jacobian.
func (s *Sampler) jump() (float64, bool) {
	k := s.state.Model
	theta := s.state.Theta

	n := s.cat.ModelCount()
	k2 := mixture.ChooseIndex(s.gen.Float64(), n, func(j int) float64 {
		if j == k {
			return 0
		}
		return s.jumpW[j]
	})

	src, dst := s.mixes[k], s.mixes[k2]
	d, d2 := src.Dim, dst.Dim

	resp := s.resp[k]
	src.Responsibilities(resp, theta)
	l := mixture.ChooseIndex(s.gen.Float64(), len(resp), func(i int) float64 { return resp[i] })
	logRespFwd := math.Log(resp[l])

	l2 := dst.Choose(s.gen.Float64())

	m := min(d, d2)
	var perm []int
	if s.cfg.Permute && m > 1 {
		perm = s.gen.Perm(s.perm[:m])
	}

	extra := s.extra[:max(0, d2-d)]
	for i := range extra {
		extra[i] = s.gen.Variate(s.cfg.DoF)
	}

	from, to := src.Components[l], dst.Components[l2]
	prop := s.prop[:d2]
	dropped, logJac := jumpInto(from, to, theta, perm, extra, s.u, prop)

	st := &s.stats.Moves[MoveJump]
	pair := &s.stats.Pairs[k][k2]

	lp, ll, ok := s.evaluate(k2, prop)
	if !ok {
		s.gen.Float64()
		st.NonFinite++
		pair.NonFinite++
		st.record(0, false)
		pair.record(0, false)
		return 0, false
	}

	resp2 := s.resp[k2]
	dst.Responsibilities(resp2, prop)
	logRespRev := math.Log(resp2[l2])

	logG := 0.0
	for _, v := range extra {
		logG -= rand.VariateLogProb(s.cfg.DoF, v)
	}
	for _, v := range dropped {
		logG += rand.VariateLogProb(s.cfg.DoF, v)
	}

	logAlpha := lp - s.state.LogPost +
		s.jumpLogQ(k2, k) - s.jumpLogQ(k, k2) +
		logRespRev + math.Log(from.Weight) -
		logRespFwd - math.Log(to.Weight) +
		logG + logJac

	alpha, acc := s.accept(logAlpha)
	st.record(alpha, acc)
	pair.record(alpha, acc)
	if acc {
		s.commit(k2, prop, lp, ll)
	}
	return alpha, acc
}

// Burn runs n sweeps with adaptation on and emits nothing. Move statistics
// are reset afterwards so they describe only what follows.
func (s *Sampler) Burn(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.Sweep(true); err != nil {
			return errors.Wrapf(err, "Burn in failed at sweep %d", i)
		}
		if (i+1)%1000 == 0 {
			s.report("burn", 1000)
		}
	}
	if rem := n % 1000; rem > 0 {
		s.report("burn", int64(rem))
	}

	for k := range s.mixes {
		if err := s.refreshRandomWalk(k); err != nil {
			return err
		}
	}
	s.ResetStats()
	s.log.Info("burn in complete", "sweeps", n, "model", s.state.Model)
	return nil
}

// Run performs n sweeps, handing each sample to sink (which may be nil).
// Adaptation continues only if the configuration asks for it.
func (s *Sampler) Run(n int, sink Sink) error {
	for i := 0; i < n; i++ {
		smp, err := s.Sweep(s.cfg.Adapt)
		if err != nil {
			return errors.Wrapf(err, "Sampling failed at sweep %d", i)
		}
		if sink != nil {
			if err := sink.Add(smp); err != nil {
				return errors.Wrapf(err, "Sample sink failed at sweep %d", smp.Sweep)
			}
		}
		if (i+1)%1000 == 0 {
			s.report("sample", 1000)
		}
	}
	if rem := n % 1000; rem > 0 {
		s.report("sample", int64(rem))
	}
	return nil
}

// ResetStats clears the move statistics
func (s *Sampler) ResetStats() {
	s.stats = newStats(s.cat.ModelCount())
}
