package mixture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/automix/rand"
)

// bimodal draws from 0.3*N(5, 1) + 0.7*N(-5, 4) in every coordinate
func bimodal(t testing.TB, n, d int, seed int64) [][]float64 {
	gen, err := rand.NewGenerator(seed)
	require.NoError(t, err)

	out := make([][]float64, n)
	for i := range out {
		mu, sd := -5.0, 2.0
		if gen.Float64() < 0.3 {
			mu, sd = 5.0, 1.0
		}
		x := make([]float64, d)
		for j := range x {
			x[j] = mu + sd*gen.NormFloat64()
		}
		out[i] = x
	}
	return out
}

func checkValid(t *testing.T, m *Mixture) {
	assert := assert.New(t)
	assert.NoError(m.Check())

	tot := 0.0
	for _, c := range m.Components {
		tot += c.Weight
		var chol mat.Cholesky
		assert.True(chol.Factorize(c.Covariance()), "covariance must be positive definite")
	}
	assert.InDelta(1.0, tot, WeightTolerance)
}

func largest(m *Mixture) *Component {
	best := m.Components[0]
	for _, c := range m.Components[1:] {
		if c.Weight > best.Weight {
			best = c
		}
	}
	return best
}

func TestFitBimodal(t *testing.T) {
	assert := assert.New(t)

	for _, crit := range []Criterion{BIC{}, MML{}} {
		f := NewFitter()
		f.Criterion = crit

		m, err := f.Fit(1, bimodal(t, 5000, 1, 11))
		require.NoError(t, err)
		checkValid(t, m)

		assert.Equal(Converged, m.Diag.State, crit.Name())
		assert.True(len(m.Components) >= 2, "%s found %d components", crit.Name(), len(m.Components))
		assert.Equal(len(m.Components), m.Diag.Components)
		assert.Equal(crit.Name(), m.Diag.Criterion)

		big := largest(m)
		assert.InDelta(-5.0, big.Mean[0], 0.5, crit.Name())
		assert.InDelta(0.7, big.Weight, 0.1, crit.Name())
	}
}

func TestFitBimodal2D(t *testing.T) {
	assert := assert.New(t)

	m, err := NewFitter().Fit(2, bimodal(t, 5000, 2, 12))
	require.NoError(t, err)
	checkValid(t, m)

	assert.True(len(m.Components) >= 2)
	big := largest(m)
	assert.InDelta(-5.0, big.Mean[0], 0.5)
	assert.InDelta(-5.0, big.Mean[1], 0.5)
}

func TestFitUnimodalStaysSmall(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(5)
	require.NoError(t, err)
	samples := make([][]float64, 4000)
	for i := range samples {
		samples[i] = []float64{gen.NormFloat64(), 1 + 2*gen.NormFloat64()}
	}

	m, err := NewFitter().Fit(2, samples)
	require.NoError(t, err)
	checkValid(t, m)

	// BIC should not buy extra components for a single normal
	assert.Equal(1, len(m.Components))
	assert.InDelta(0.0, m.Components[0].Mean[0], 0.1)
	assert.InDelta(1.0, m.Components[0].Mean[1], 0.15)
	cov := m.Components[0].Covariance()
	assert.InDelta(4.0, cov.At(1, 1), 0.4)
}

func TestFitSingleComponentCap(t *testing.T) {
	assert := assert.New(t)

	f := NewFitter()
	f.MaxComponents = 1
	m, err := f.Fit(1, bimodal(t, 3000, 1, 13))
	require.NoError(t, err)
	checkValid(t, m)

	assert.Len(m.Components, 1)
	assert.Equal(0, m.Diag.Splits)
	assert.Equal(Converged, m.Diag.State)
}

func TestFitTooFewSamples(t *testing.T) {
	assert := assert.New(t)

	f := NewFitter()
	samples := [][]float64{{1, 2, 3}, {2, 3, 4}}
	m, err := f.Fit(3, samples)
	require.NoError(t, err)
	checkValid(t, m)

	assert.Equal(Degenerate, m.Diag.State)
	assert.NotEmpty(m.Diag.Reason)
	assert.Len(m.Components, 1)
	assert.InDeltaSlice([]float64{1.5, 2.5, 3.5}, m.Components[0].Mean, 1e-12)

	cov := m.Components[0].Covariance()
	assert.InDelta(f.DefaultScale*f.DefaultScale, cov.At(0, 0), 1e-12)
	assert.InDelta(0.0, cov.At(0, 1), 1e-12)

	// No samples at all is still not a crash
	m, err = f.Fit(2, nil)
	require.NoError(t, err)
	assert.Equal(Degenerate, m.Diag.State)
	assert.InDeltaSlice([]float64{0, 0}, m.Components[0].Mean, 1e-12)
}

func TestFitZeroVariance(t *testing.T) {
	assert := assert.New(t)

	samples := make([][]float64, 100)
	for i := range samples {
		samples[i] = []float64{3, 3}
	}
	m, err := NewFitter().Fit(2, samples)
	require.NoError(t, err)
	assert.Equal(Degenerate, m.Diag.State)
	assert.InDeltaSlice([]float64{3, 3}, m.Components[0].Mean, 1e-12)
}

func TestFitBadInput(t *testing.T) {
	assert := assert.New(t)

	_, err := NewFitter().Fit(2, [][]float64{{1, 2}, {1}})
	assert.Error(err)

	_, err = NewFitter().Fit(1, [][]float64{{math.NaN()}})
	assert.Error(err)

	_, err = NewFitter().Fit(0, nil)
	assert.Error(err)
}

func TestCriterionByName(t *testing.T) {
	assert := assert.New(t)

	c, err := CriterionByName("BIC")
	assert.NoError(err)
	assert.Equal("bic", c.Name())

	c, err = CriterionByName("mml")
	assert.NoError(err)
	assert.Equal("mml", c.Name())

	_, err = CriterionByName("aic")
	assert.Error(err)
}

func TestStateString(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("converged", Converged.String())
	assert.Equal("degenerate", Degenerate.String())
	assert.Equal("state(42)", State(42).String())
}

func BenchmarkFitBimodal(b *testing.B) {
	samples := bimodal(b, 2000, 2, 1)
	f := NewFitter()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.Fit(2, samples); err != nil {
			b.Fatalf("fit failed: %v", err)
		}
	}
}

func TestWeightedCovIsMaximumLikelihood(t *testing.T) {
	assert := assert.New(t)

	x := mat.NewDense(4, 2, []float64{
		0, 1,
		2, -1,
		4, 3,
		1, 0,
	})
	w := []float64{0.5, 1, 2, 0.25}

	var nw float64
	mu := make([]float64, 2)
	for i, wi := range w {
		nw += wi
		for j := range mu {
			mu[j] += wi * x.At(i, j)
		}
	}
	for j := range mu {
		mu[j] /= nw
	}

	cov := weightedCov(x, w)
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			want := 0.0
			for i, wi := range w {
				want += wi * (x.At(i, a) - mu[a]) * (x.At(i, b) - mu[b])
			}
			want /= nw
			assert.InDelta(want, cov.At(a, b), 1e-12, "entry %d,%d", a, b)
		}
	}
}
