package sampler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigKelly/automix/model"
)

type failSink struct{ after int }

func (f *failSink) Add(Sample) error {
	f.after--
	if f.after < 0 {
		return errors.New("sink full")
	}
	return nil
}

func TestChain(t *testing.T) {
	assert := assert.New(t)

	toy, err := model.NewToyMixture([]float64{0.5, 0.25})
	require.NoError(t, err)

	_, err = NewChain(nil, 10, 0, false)
	assert.Error(err)
	_, err = NewChain(toy, 1, 0, false)
	assert.Error(err)

	ch, err := NewChain(toy, 4, 2, true)
	require.NoError(t, err)

	assert.Error(ch.Add(Sample{Model: 2, Theta: []float64{1}}))
	assert.Error(ch.Add(Sample{Model: 0, Theta: []float64{1, 2}}))
	assert.Error(ch.Add(Sample{Model: 1, Theta: []float64{1}}))
	assert.Error(ch.Add(Sample{Model: 0, Theta: []float64{1}, Move: numMoves}))
	assert.Equal(int64(0), ch.TotalSampleCount)

	assert.NoError(ch.Add(Sample{Sweep: 1, Model: 0, Theta: []float64{1}, Move: MoveJump, Alpha: 0.5}))
	assert.NoError(ch.Add(Sample{Sweep: 2, Model: 1, Theta: []float64{1, 2}, Move: MoveJump, Alpha: 1}))
	assert.NoError(ch.Add(Sample{Sweep: 3, Model: 1, Theta: []float64{1, 2}, Move: MoveRandomWalk, Alpha: 0.2}))

	assert.Equal(int64(3), ch.TotalSampleCount)
	assert.Equal([]int64{1, 2}, ch.Visits)
	assert.InDeltaSlice([]float64{1.0 / 3.0, 2.0 / 3.0}, ch.ModelProbs(), 1e-12)
	assert.Len(ch.Samples, 3)
	assert.Equal(int64(3), ch.LastSample.Sweep)

	// Recorded after samples 2 (and next at 4)
	require.Len(t, ch.RunningProbs, 1)
	assert.InDeltaSlice([]float64{0.5, 0.5}, ch.RunningProbs[0], 1e-12)

	rate, full := ch.WindowRate(MoveJump)
	assert.InDelta(0.75, rate, 1e-12)
	assert.False(full)
	_, ok := ch.WindowDrift(MoveJump)
	assert.False(ok)

	for _, a := range []float64{0, 0, 1, 1} {
		assert.NoError(ch.Add(Sample{Model: 0, Theta: []float64{0}, Move: MoveIndependence, Alpha: a}))
	}
	drift, ok := ch.WindowDrift(MoveIndependence)
	assert.True(ok)
	assert.InDelta(1.0, drift, 1e-12)
}

func TestSinks(t *testing.T) {
	assert := assert.New(t)

	toy, err := model.NewToyMixture([]float64{1})
	require.NoError(t, err)
	a, err := NewChain(toy, 2, 0, false)
	require.NoError(t, err)
	b, err := NewChain(toy, 2, 0, false)
	require.NoError(t, err)

	ss := Sinks{a, nil, b}
	assert.NoError(ss.Add(Sample{Model: 0, Theta: []float64{0}}))
	assert.Equal(int64(1), a.TotalSampleCount)
	assert.Equal(int64(1), b.TotalSampleCount)

	ss = Sinks{a, &failSink{}}
	assert.Error(ss.Add(Sample{Model: 0, Theta: []float64{0}}))
}
