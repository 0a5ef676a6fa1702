package sampler

// MoveStats counts attempts of one move type
type MoveStats struct {
	Proposed  int64   `yaml:"proposed"`
	Accepted  int64   `yaml:"accepted"`
	SumAlpha  float64 `yaml:"sum_alpha"`
	NonFinite int64   `yaml:"non_finite"` // Proposals rejected for a non-finite log posterior
}

func (m *MoveStats) record(alpha float64, accepted bool) {
	m.Proposed++
	m.SumAlpha += alpha
	if accepted {
		m.Accepted++
	}
}

// Rate is the fraction of proposals accepted (0 when none were made)
func (m MoveStats) Rate() float64 {
	if m.Proposed < 1 {
		return 0
	}
	return float64(m.Accepted) / float64(m.Proposed)
}

// MeanAlpha is the mean acceptance probability
func (m MoveStats) MeanAlpha() float64 {
	if m.Proposed < 1 {
		return 0
	}
	return m.SumAlpha / float64(m.Proposed)
}

// Stats are the accumulated kernel statistics
type Stats struct {
	Sweeps int64               `yaml:"sweeps"`
	Moves  [numMoves]MoveStats `yaml:"moves"`  // Indexed by MoveType
	Pairs  [][]MoveStats       `yaml:"pairs"`  // Jumps attempted from model i to model j
	Visits []int64             `yaml:"visits"` // Sweeps ending in each model
}

func newStats(n int) Stats {
	st := Stats{
		Pairs:  make([][]MoveStats, n),
		Visits: make([]int64, n),
	}
	for i := range st.Pairs {
		st.Pairs[i] = make([]MoveStats, n)
	}
	return st
}

func (s Stats) clone() Stats {
	cp := s
	cp.Pairs = make([][]MoveStats, len(s.Pairs))
	for i, row := range s.Pairs {
		cp.Pairs[i] = append([]MoveStats(nil), row...)
	}
	cp.Visits = append([]int64(nil), s.Visits...)
	return cp
}

// Move returns the statistics of one move type
func (s Stats) Move(m MoveType) MoveStats {
	return s.Moves[m]
}

// Within combines the independence and random walk statistics
func (s Stats) Within() MoveStats {
	a, b := s.Moves[MoveIndependence], s.Moves[MoveRandomWalk]
	return MoveStats{
		Proposed:  a.Proposed + b.Proposed,
		Accepted:  a.Accepted + b.Accepted,
		SumAlpha:  a.SumAlpha + b.SumAlpha,
		NonFinite: a.NonFinite + b.NonFinite,
	}
}

// VisitFreq is the fraction of sweeps spent in each model
func (s Stats) VisitFreq() []float64 {
	out := make([]float64, len(s.Visits))
	tot := int64(0)
	for _, v := range s.Visits {
		tot += v
	}
	if tot < 1 {
		return out
	}
	for k, v := range s.Visits {
		out[k] = float64(v) / float64(tot)
	}
	return out
}
