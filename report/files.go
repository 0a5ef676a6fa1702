// Package report writes the results of a run: AutoMix style plain data files
// (optionally gzip compressed), a yaml run summary and an
// optional SQLite store of the sample stream.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/mixture"
	"github.com/CraigKelly/automix/sampler"
)

// ErrIO marks failures writing or reading report files. In-memory sampler
// state is never touched by a failed report.
var ErrIO = errors.New("report I/O failure")

func ioErrorf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(ErrIO, "%s: %v", fmt.Sprintf(format, args...), err)
}

// Path returns the name of a report file for base name and suffix, e.g.
// Path("out/run", "_k.data") is "out/run_k.data".
func Path(base, suffix string) string {
	return base + suffix
}

// dataFile is a buffered, optionally gzip compressed output file
type dataFile struct {
	path string
	f    *os.File
	gz   *gzip.Writer
	w    *bufio.Writer
}

func createData(path string, compress bool) (*dataFile, error) {
	if compress {
		path += ".gz"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ioErrorf(err, "could not create directory for %s", path)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, ioErrorf(err, "could not create %s", path)
	}

	df := &dataFile{path: path, f: f}
	var out io.Writer = f
	if compress {
		df.gz = gzip.NewWriter(f)
		out = df.gz
	}
	df.w = bufio.NewWriterSize(out, 64*1024)
	return df, nil
}

func (df *dataFile) Close() error {
	var first error
	if err := df.w.Flush(); err != nil {
		first = err
	}
	if df.gz != nil {
		if err := df.gz.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := df.f.Close(); err != nil && first == nil {
		first = err
	}
	if first != nil {
		return ioErrorf(first, "could not finish %s", df.path)
	}
	return nil
}

func (df *dataFile) floats(vals ...float64) {
	for i, v := range vals {
		if i > 0 {
			df.w.WriteByte(' ')
		}
		df.w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	df.w.WriteByte('\n')
}

// Files is a sample sink writing the per-sweep data files:
//
//	<base>_k.data        model index (1-based) per sweep
//	<base>_lp.data       log posterior and log likelihood per sweep
//	<base>_theta<k>.data theta of every sweep spent in model k (1-based)
type Files struct {
	Base     string
	Compress bool

	k     *dataFile
	lp    *dataFile
	theta []*dataFile
}

// NewFiles creates the sample files for a catalog with nmodels models
func NewFiles(base string, nmodels int, compress bool) (*Files, error) {
	fs := &Files{Base: base, Compress: compress}

	var err error
	if fs.k, err = createData(Path(base, "_k.data"), compress); err != nil {
		return nil, err
	}
	if fs.lp, err = createData(Path(base, "_lp.data"), compress); err != nil {
		fs.Close()
		return nil, err
	}
	fs.theta = make([]*dataFile, nmodels)
	for k := range fs.theta {
		if fs.theta[k], err = createData(Path(base, fmt.Sprintf("_theta%d.data", k+1)), compress); err != nil {
			fs.Close()
			return nil, err
		}
	}
	return fs, nil
}

// Add implements sampler.Sink
func (fs *Files) Add(smp sampler.Sample) error {
	if smp.Model < 0 || smp.Model >= len(fs.theta) {
		return errors.Errorf("Sample model %d outside %d models", smp.Model, len(fs.theta))
	}
	fs.k.w.WriteString(strconv.Itoa(smp.Model + 1))
	fs.k.w.WriteByte('\n')
	fs.lp.floats(smp.LogPost, smp.LogLik)
	fs.theta[smp.Model].floats(smp.Theta...)
	return nil
}

// Close flushes and closes every file, returning the first failure
func (fs *Files) Close() error {
	var first error
	closeOne := func(df *dataFile) {
		if df == nil {
			return
		}
		if err := df.Close(); err != nil && first == nil {
			first = err
		}
	}
	closeOne(fs.k)
	closeOne(fs.lp)
	for _, df := range fs.theta {
		closeOne(df)
	}
	fs.k, fs.lp, fs.theta = nil, nil, nil
	return first
}

// WriteMixtures saves the fitted mixtures to <base>_mix.data. The file is
// never compressed so it can be loaded back with ReadMixtures.
func WriteMixtures(base string, mixes []*mixture.Mixture) error {
	df, err := createData(Path(base, "_mix.data"), false)
	if err != nil {
		return err
	}
	if err := mixture.Write(df.w, mixes); err != nil {
		df.Close()
		return ioErrorf(err, "could not write %s", df.path)
	}
	return df.Close()
}

// OpenMixtures opens <base>_mix.data for reading
func OpenMixtures(base string) (*os.File, error) {
	path := Path(base, "_mix.data")
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrorf(err, "could not open %s", path)
	}
	return f, nil
}

// ReadMixtures loads <base>_mix.data. Open failures wrap ErrIO and content
// failures wrap mixture.ErrFormat.
func ReadMixtures(base string) ([]*mixture.Mixture, error) {
	f, err := OpenMixtures(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mixes, err := mixture.Read(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "Could not load %s", f.Name())
	}
	return mixes, nil
}

// WriteAcceptance saves <base>_ac.data: one line per move type with
// proposals, acceptances, acceptance rate and mean acceptance probability,
// then the matrix of jump acceptance rates between models.
func WriteAcceptance(base string, st sampler.Stats, compress bool) error {
	df, err := createData(Path(base, "_ac.data"), compress)
	if err != nil {
		return err
	}

	for m := sampler.MoveIndependence; m <= sampler.MoveJump; m++ {
		ms := st.Move(m)
		fmt.Fprintf(df.w, "%s %d %d %g %g\n", m, ms.Proposed, ms.Accepted, ms.Rate(), ms.MeanAlpha())
	}
	for _, row := range st.Pairs {
		rates := make([]float64, len(row))
		for j, p := range row {
			rates[j] = p.Rate()
		}
		df.floats(rates...)
	}

	return df.Close()
}

// WriteModelProbs saves <base>_pk.data: the running model probability
// estimates, one row per recording.
func WriteModelProbs(base string, probs [][]float64, compress bool) error {
	df, err := createData(Path(base, "_pk.data"), compress)
	if err != nil {
		return err
	}
	for _, row := range probs {
		df.floats(row...)
	}
	return df.Close()
}
