package report

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/automix/mixture"
	"github.com/CraigKelly/automix/model"
	"github.com/CraigKelly/automix/sampler"
)

func broad(t *testing.T, d int, weight float64) *mixture.Mixture {
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, 30)
	}
	c, _, err := mixture.NewComponent(1, make([]float64, d), cov)
	require.NoError(t, err)
	m, err := mixture.New(d, []*mixture.Component{c}, weight)
	require.NoError(t, err)
	return m
}

// shortRun samples the 2 model toy with hand built mixtures
func shortRun(t *testing.T, n int, sink sampler.Sink) (*sampler.Sampler, *sampler.Chain) {
	toy, err := model.NewToyMixture([]float64{0.5, 0.25})
	require.NoError(t, err)

	cfg := sampler.DefaultConfig()
	cfg.Seed = 7
	cfg.Mode = sampler.ModeLoad
	smp, err := sampler.New(toy, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, smp.SetMixtures([]*mixture.Mixture{broad(t, 1, 0.6), broad(t, 2, 0.4)}))

	ch, err := sampler.NewChain(toy, 100, 50, false)
	require.NoError(t, err)
	require.NoError(t, smp.Run(n, sampler.Sinks{ch, sink}))
	return smp, ch
}

func readLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestFilesWriteSamples(t *testing.T) {
	assert := assert.New(t)
	base := filepath.Join(t.TempDir(), "out", "run")

	fs, err := NewFiles(base, 2, false)
	require.NoError(t, err)
	require.NoError(t, fs.Add(sampler.Sample{Sweep: 1, Model: 0, Theta: []float64{1.5}, LogPost: -1, LogLik: -2}))
	require.NoError(t, fs.Add(sampler.Sample{Sweep: 2, Model: 1, Theta: []float64{0.25, -3}, LogPost: -4, LogLik: -5}))
	require.NoError(t, fs.Add(sampler.Sample{Sweep: 3, Model: 1, Theta: []float64{1, 2}, LogPost: -6, LogLik: -7}))
	assert.Error(fs.Add(sampler.Sample{Model: 2}))
	require.NoError(t, fs.Close())

	assert.Equal([]string{"1", "2", "2"}, readLines(t, base+"_k.data"))
	assert.Equal([]string{"-1 -2", "-4 -5", "-6 -7"}, readLines(t, base+"_lp.data"))
	assert.Equal([]string{"1.5"}, readLines(t, base+"_theta1.data"))
	assert.Equal([]string{"0.25 -3", "1 2"}, readLines(t, base+"_theta2.data"))
}

func TestFilesCompressed(t *testing.T) {
	assert := assert.New(t)
	base := filepath.Join(t.TempDir(), "gz")

	fs, err := NewFiles(base, 1, true)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, fs.Add(sampler.Sample{Sweep: int64(i + 1), Theta: []float64{float64(i)}}))
	}
	require.NoError(t, fs.Close())

	f, err := os.Open(base + "_theta1.data.gz")
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Len(lines, 10)
	assert.Equal("9", lines[9])

	_, err = os.Stat(base + "_k.data")
	assert.True(os.IsNotExist(err))
}

func TestFilesCreateFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := NewFiles(filepath.Join(blocker, "run"), 1, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestMixturesRoundTrip(t *testing.T) {
	assert := assert.New(t)
	base := filepath.Join(t.TempDir(), "mix")

	mixes := []*mixture.Mixture{broad(t, 1, 0.6), broad(t, 3, 0.4)}
	require.NoError(t, WriteMixtures(base, mixes))

	got, err := ReadMixtures(base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(3, got[1].Dim)
	assert.InDelta(0.4, got[1].ModelWeight, 1e-12)

	_, err = ReadMixtures(filepath.Join(t.TempDir(), "missing"))
	assert.True(errors.Is(err, ErrIO))

	bad := filepath.Join(t.TempDir(), "bad")
	require.NoError(t, os.WriteFile(bad+"_mix.data", []byte("1\n1 1 1\n"), 0644))
	_, err = ReadMixtures(bad)
	assert.True(errors.Is(err, mixture.ErrFormat))
}

func TestAcceptanceAndModelProbs(t *testing.T) {
	assert := assert.New(t)
	base := filepath.Join(t.TempDir(), "run")

	smp, ch := shortRun(t, 2000, nil)
	require.NoError(t, WriteAcceptance(base, smp.Stats(), false))
	require.NoError(t, WriteModelProbs(base, ch.RunningProbs, false))

	ac := readLines(t, base+"_ac.data")
	require.Len(t, ac, 3+2)
	assert.True(strings.HasPrefix(ac[0], "independence "))
	assert.True(strings.HasPrefix(ac[1], "random-walk "))
	assert.True(strings.HasPrefix(ac[2], "jump "))
	assert.Len(strings.Fields(ac[3]), 2)

	pk := readLines(t, base+"_pk.data")
	assert.Len(pk, 2000/50)
	assert.Len(strings.Fields(pk[0]), 2)
}

func TestSummaryRoundTrip(t *testing.T) {
	assert := assert.New(t)
	base := filepath.Join(t.TempDir(), "run")

	smp, ch := shortRun(t, 3000, nil)
	sum := NewSummary("toy2x2", smp.Catalog(), smp.Config())
	require.NoError(t, sum.Finish(smp, ch))
	sum.Timings.Sample = 1500

	assert.Equal([]int{1, 2}, sum.Dimensions)
	assert.InDeltaSlice([]float64{2.0 / 3, 1.0 / 3}, sum.Exact, 1e-12)
	require.NotNil(t, sum.Errors)
	assert.InDelta(1, sum.ModelProbs[0]+sum.ModelProbs[1], 1e-12)

	require.NoError(t, WriteSummary(base, sum))
	got, err := ReadSummary(base)
	require.NoError(t, err)

	assert.Equal(sum.RunID, got.RunID)
	assert.Equal(sum.Catalog, got.Catalog)
	assert.Equal(sum.Config, got.Config)
	assert.Equal(sum.Stats.Sweeps, got.Stats.Sweeps)
	assert.Equal(sum.Timings.Total(), got.Timings.Total())
	assert.InDeltaSlice(sum.ModelProbs, got.ModelProbs, 1e-12)
	assert.Equal(*sum.Errors, *got.Errors)
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
