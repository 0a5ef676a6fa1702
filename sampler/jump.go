package sampler

import (
	"github.com/CraigKelly/automix/mixture"
)

// Jump is the dimension matching map between a component of the source
// model's mixture and a component of the destination model's mixture:
//
//	u      = L_from^-1 (theta - mean_from)
//	theta' = mean_to + L_to [perm(u[:m]), extra]
//
// where m = min(d_from, d_to). Growing moves append extra standardized
// coordinates, shrinking moves drop u[m:]. The log Jacobian is
// log|L_to| - log|L_from|.
type Jump struct {
	From *mixture.Component
	To   *mixture.Component
}

// Shared is the number of standardized coordinates carried across
func (j Jump) Shared() int {
	return min(j.From.Dim(), j.To.Dim())
}

// Forward maps theta to the destination space. perm (nil for the identity)
// permutes the first Shared() coordinates so that coordinate i of the
// result takes u[perm[i]]. extra must hold exactly the d_to - d_from new
// coordinates when growing. dropped holds the discarded coordinates when
// shrinking.
func (j Jump) Forward(theta []float64, perm []int, extra []float64) (out []float64, dropped []float64, logJac float64) {
	u := make([]float64, j.From.Dim())
	out = make([]float64, j.To.Dim())
	dropped, logJac = jumpInto(j.From, j.To, theta, perm, extra, u, out)
	return out, append([]float64(nil), dropped...), logJac
}

// Inverse undoes Forward: given the forward result, the inverse of the
// forward permutation, and the coordinates Forward dropped (when it shrank),
// it returns the original theta, the coordinates that Forward consumed as
// extra (when it grew), and log|L_from| - log|L_to|.
func (j Jump) Inverse(thetaTo []float64, invPerm []int, dropped []float64) (theta []float64, extra []float64, logJac float64) {
	return Jump{From: j.To, To: j.From}.Forward(thetaTo, invPerm, dropped)
}

// InversePerm returns q with q[p[i]] = i
func InversePerm(p []int) []int {
	if p == nil {
		return nil
	}
	q := make([]int, len(p))
	for i, v := range p {
		q[v] = i
	}
	return q
}

// jumpInto is Forward on caller scratch: u needs len d_from and dst len
// d_to. The returned dropped slice aliases u.
func jumpInto(from, to *mixture.Component, theta []float64, perm []int, extra []float64, u, dst []float64) ([]float64, float64) {
	d, d2 := from.Dim(), to.Dim()
	u = u[:d]
	dst = dst[:d2]
	from.Standardize(u, theta)

	m := min(d, d2)
	if perm != nil {
		for i := 0; i < m; i++ {
			dst[i] = u[perm[i]]
		}
	} else {
		copy(dst[:m], u[:m])
	}

	copy(dst[m:], extra[:d2-m])
	to.Destandardize(dst, dst)

	return u[m:], to.LogDetL() - from.LogDetL()
}
