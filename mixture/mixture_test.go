package mixture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/automix/rand"
)

func sph(d int, v float64) *mat.SymDense {
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, v)
	}
	return cov
}

func twoComp(t *testing.T) *Mixture {
	a, _, err := NewComponent(0.3, []float64{5}, sph(1, 1))
	require.NoError(t, err)
	b, _, err := NewComponent(0.7, []float64{-5}, sph(1, 4))
	require.NoError(t, err)

	m, err := New(1, []*Component{a, b}, 1)
	require.NoError(t, err)
	return m
}

func TestMixtureCheck(t *testing.T) {
	assert := assert.New(t)

	m := twoComp(t)
	assert.NoError(m.Check())

	m.Components[0].Weight = 0.5
	assert.Error(m.Check())
	assert.NoError(m.Normalize())
	assert.NoError(m.Check())

	_, err := New(2, m.Components, 1)
	assert.Error(err, "dimension mismatch")

	_, err = New(1, nil, 1)
	assert.Error(err)
}

func TestMixtureLogDensity(t *testing.T) {
	assert := assert.New(t)

	m := twoComp(t)
	for _, x := range []float64{-7, -5, 0, 4.5, 5} {
		p := 0.3*math.Exp(-0.5*(x-5)*(x-5))/math.Sqrt(2*math.Pi) +
			0.7*math.Exp(-0.5*(x+5)*(x+5)/4)/math.Sqrt(2*math.Pi*4)
		assert.InDelta(math.Log(p), m.LogDensity([]float64{x}), 1e-10)
	}
}

func TestResponsibilities(t *testing.T) {
	assert := assert.New(t)

	m := twoComp(t)
	r := make([]float64, 2)

	m.Responsibilities(r, []float64{5})
	assert.InDelta(1.0, r[0]+r[1], 1e-12)
	assert.True(r[0] > 0.99)

	m.Responsibilities(r, []float64{-5})
	assert.True(r[1] > 0.99)

	// Far outside both components: no NaN
	m.Responsibilities(r, []float64{1e200})
	assert.False(math.IsNaN(r[0]) || math.IsNaN(r[1]))
	assert.InDelta(1.0, r[0]+r[1], 1e-12)
}

func TestChooseIndex(t *testing.T) {
	assert := assert.New(t)

	w := []float64{0.2, 0, 0.8}
	f := func(i int) float64 { return w[i] }
	assert.Equal(0, ChooseIndex(0.0, 3, f))
	assert.Equal(0, ChooseIndex(0.19, 3, f))
	assert.Equal(2, ChooseIndex(0.2, 3, f))
	assert.Equal(2, ChooseIndex(0.999999, 3, f))
}

func TestMixtureSampleAndMoments(t *testing.T) {
	assert := assert.New(t)

	m := twoComp(t)
	mean, cov := m.Moments()
	expMean := 0.3*5 + 0.7*-5
	expVar := 0.3*(1+25) + 0.7*(4+25) - expMean*expMean
	assert.InDelta(expMean, mean[0], 1e-12)
	assert.InDelta(expVar, cov.At(0, 0), 1e-10)

	gen, err := rand.NewGenerator(42)
	require.NoError(t, err)

	const n = 100000
	x := make([]float64, 1)
	sum, sum2, high := 0.0, 0.0, 0
	for i := 0; i < n; i++ {
		l := m.Sample(gen, 0, x)
		if l == 0 {
			high++
		}
		sum += x[0]
		sum2 += x[0] * x[0]
	}
	sm := sum / n
	assert.InDelta(expMean, sm, 0.1)
	assert.InDelta(expVar, sum2/n-sm*sm, 0.5)
	assert.InDelta(0.3, float64(high)/n, 0.01)
}

func TestKernelFor(t *testing.T) {
	assert := assert.New(t)

	u := []float64{0.5, -1.0}
	assert.InDelta(NormalKernel(u), KernelFor(0)(u), 1e-15)
	assert.NotEqual(NormalKernel(u), KernelFor(3)(u))
}

func TestMixtureUpdate(t *testing.T) {
	assert := assert.New(t)

	m := twoComp(t)
	before := m.Components[0].Mean[0]

	gen, err := rand.NewGenerator(3)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		x := []float64{6 + gen.NormFloat64()}
		m.Update(x, 1.0/float64(100+i))
		assert.NoError(m.Check())
	}

	// All mass at 6 pulls the first component over and increases its weight
	assert.True(m.Components[0].Mean[0] > before)
	assert.True(m.Components[0].Weight > 0.3)
}

func TestMixtureClone(t *testing.T) {
	assert := assert.New(t)

	m := twoComp(t)
	cp := m.Clone()
	cp.Components[0].Weight = 0.9
	assert.Equal(0.3, m.Components[0].Weight)
	assert.Equal(m.Dim, cp.Dim)
}
