package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/automix/mixture"
)

func comp(t testing.TB, mean []float64, cov []float64) *mixture.Component {
	c, _, err := mixture.NewComponent(1, mean, mat.NewSymDense(len(mean), cov))
	require.NoError(t, err)
	return c
}

func jumpComps(t testing.TB) (one, two, three *mixture.Component) {
	one = comp(t, []float64{-1.5}, []float64{0.25})
	two = comp(t, []float64{1, 2}, []float64{
		2.0, 0.3,
		0.3, 1.0,
	})
	three = comp(t, []float64{0.5, -1, 3}, []float64{
		4.0, 1.0, 0.2,
		1.0, 3.0, -0.5,
		0.2, -0.5, 1.5,
	})
	return
}

func TestJumpReversible(t *testing.T) {
	assert := assert.New(t)
	one, two, three := jumpComps(t)

	cases := []struct {
		name  string
		jump  Jump
		theta []float64
		perm  []int
		extra []float64
	}{
		{"grow 1 to 3", Jump{one, three}, []float64{-1.2}, nil, []float64{0.7, -1.1}},
		{"grow 2 to 3 permuted", Jump{two, three}, []float64{0.3, 2.4}, []int{1, 0}, []float64{-0.4}},
		{"shrink 3 to 1", Jump{three, one}, []float64{1, 2, 3}, nil, nil},
		{"shrink 3 to 2 permuted", Jump{three, two}, []float64{-2, 0.5, 4}, []int{1, 0}, nil},
		{"same 2 to 2 permuted", Jump{two, two}, []float64{5, -5}, []int{1, 0}, nil},
		{"same 3 to 3 permuted", Jump{three, three}, []float64{0.1, 0.2, 0.3}, []int{2, 0, 1}, nil},
	}

	for _, c := range cases {
		out, dropped, lj := c.jump.Forward(c.theta, c.perm, c.extra)
		assert.Len(out, c.jump.To.Dim(), c.name)
		assert.Len(dropped, max(0, c.jump.From.Dim()-c.jump.To.Dim()), c.name)
		assert.InDelta(c.jump.To.LogDetL()-c.jump.From.LogDetL(), lj, 1e-12, c.name)

		back, extra, lj2 := c.jump.Inverse(out, InversePerm(c.perm), dropped)
		assert.InDeltaSlice(c.theta, back, 1e-10, c.name)
		assert.InDeltaSlice(c.extra, extra, 1e-10, c.name)

		// Jacobians multiply to one
		assert.InDelta(0.0, lj+lj2, 1e-12, c.name)
	}
}

func TestJumpMatchesComponents(t *testing.T) {
	assert := assert.New(t)
	one, _, three := jumpComps(t)

	// The source mean maps to the destination mean when no coordinates are added
	out, dropped, _ := Jump{three, one}.Forward(three.Mean, nil, nil)
	assert.InDeltaSlice(one.Mean, out, 1e-12)
	assert.InDeltaSlice([]float64{0, 0}, dropped, 1e-12)

	// A standardized coordinate of +1 in 1-d lands one sd above the mean
	out, _, _ = Jump{three, one}.Forward([]float64{0.5 + 2, -1, 3}, nil, nil)
	assert.InDelta(-1.5+0.5, out[0], 1e-12)
}

func TestInversePerm(t *testing.T) {
	assert := assert.New(t)
	assert.Nil(InversePerm(nil))

	p := []int{2, 0, 3, 1}
	q := InversePerm(p)
	for i := range p {
		assert.Equal(i, q[p[i]])
		assert.Equal(i, p[q[i]])
	}
}

func BenchmarkJumpForward(b *testing.B) {
	_, two, three := jumpComps(b)
	u := make([]float64, 3)
	dst := make([]float64, 3)
	theta := []float64{0.3, 0.4}
	extra := []float64{0.1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		jumpInto(two, three, theta, []int{1, 0}, extra, u, dst)
	}
}
