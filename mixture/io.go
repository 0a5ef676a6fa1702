package mixture

import (
	"bufio"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ErrFormat marks a persisted mixture record that can not be turned back
// into a valid Mixture.
var ErrFormat = errors.New("malformed mixture record")

// loadTolerance is how far persisted weights may be from summing to one
// (they are renormalized after the check).
const loadTolerance = 1e-6

// The mixture file is whitespace delimited:
//
//	nmodels
//	per model:  dim ncomp modelWeight
//	per comp:   weight mean[dim] lower[dim*(dim+1)/2]
//
// The lower Cholesky factor is packed row-major.

// Write stores mixtures in the mixture file format
func Write(w io.Writer, mixes []*Mixture) error {
	bw := bufio.NewWriter(w)
	ff := func(v float64) string {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}

	bw.WriteString(strconv.Itoa(len(mixes)))
	bw.WriteString("\n")
	for _, m := range mixes {
		bw.WriteString(strconv.Itoa(m.Dim) + " " + strconv.Itoa(len(m.Components)) + " " + ff(m.ModelWeight) + "\n")
		for _, c := range m.Components {
			bw.WriteString(ff(c.Weight))
			for _, v := range c.Mean {
				bw.WriteString(" " + ff(v))
			}
			for _, v := range c.Lower() {
				bw.WriteString(" " + ff(v))
			}
			bw.WriteString("\n")
		}
	}

	return errors.Wrap(bw.Flush(), "Could not write mixtures")
}

// Read parses the mixture file format. Any structural problem is reported
// as ErrFormat.
func Read(r io.Reader) ([]*Mixture, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "Could not READ mixtures")
	}
	fr := NewFieldReader(string(data))

	nmodels, err := fr.ReadInt()
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "model count: %v", err)
	}
	if nmodels < 1 {
		return nil, errors.Wrapf(ErrFormat, "model count %d must be >= 1", nmodels)
	}
	// Every model record has at least a header of three fields
	if nmodels > fr.Remaining()/3 {
		return nil, errors.Wrapf(ErrFormat, "model count %d needs more than the %d fields left", nmodels, fr.Remaining())
	}

	mixes := make([]*Mixture, nmodels)
	for k := range mixes {
		m, err := readOne(fr)
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "model %d: %v", k, err)
		}
		mixes[k] = m
	}

	if fr.Remaining() > 0 {
		return nil, errors.Wrapf(ErrFormat, "%d unexpected trailing fields", fr.Remaining())
	}
	return mixes, nil
}

func readOne(fr *FieldReader) (*Mixture, error) {
	dim, err := fr.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "dimension")
	}
	if dim < 1 {
		return nil, errors.Errorf("dimension %d must be >= 1", dim)
	}
	if dim > fr.Remaining() {
		return nil, errors.Errorf("dimension %d exceeds the %d fields left", dim, fr.Remaining())
	}

	ncomp, err := fr.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "component count")
	}
	if ncomp < 1 {
		return nil, errors.Errorf("component count %d must be >= 1", ncomp)
	}
	// Weight, mean and packed factor per component, after the model weight
	perComp := 1 + dim + dim*(dim+1)/2
	if ncomp > (fr.Remaining()-1)/perComp {
		return nil, errors.Errorf("%d components of dimension %d need %d fields but %d are left",
			ncomp, dim, perComp, fr.Remaining()-1)
	}

	modelWeight, err := fr.ReadFloat()
	if err != nil {
		return nil, errors.Wrap(err, "model weight")
	}
	if modelWeight < 0 {
		return nil, errors.Errorf("model weight %v must be >= 0", modelWeight)
	}

	comps := make([]*Component, ncomp)
	tot := 0.0
	for l := range comps {
		w, err := fr.ReadFloat()
		if err != nil {
			return nil, errors.Wrapf(err, "component %d weight", l)
		}
		if w < 0 {
			return nil, errors.Errorf("component %d weight %v must be >= 0", l, w)
		}
		tot += w

		mean, err := fr.ReadFloats(dim)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d mean", l)
		}
		lower, err := fr.ReadFloats(dim * (dim + 1) / 2)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d Cholesky factor", l)
		}

		comps[l], err = NewComponentLower(w, mean, lower)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d", l)
		}
	}

	if math.Abs(tot-1) > loadTolerance {
		return nil, errors.Errorf("component weights sum to %v", tot)
	}

	m, err := New(dim, comps, modelWeight)
	if err != nil {
		return nil, err
	}
	m.Diag.State = Converged
	m.Diag.Reason = "loaded"
	return m, nil
}
