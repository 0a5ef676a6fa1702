package mixture

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FieldReader is just a simple reader for whitespace-delimited formats
type FieldReader struct {
	Pos    int
	Fields []string
}

// NewFieldReader constructs a new field reader around the given data
func NewFieldReader(data string) *FieldReader {
	return &FieldReader{0, strings.Fields(data)}
}

// Read returns the next space-delimited field/token
func (fr *FieldReader) Read() (string, error) {
	if fr.Pos >= len(fr.Fields) {
		return "", io.ErrUnexpectedEOF
	}
	p := fr.Pos
	fr.Pos++
	return fr.Fields[p], nil
}

// ReadInt reads the next token as an int
func (fr *FieldReader) ReadInt() (int, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(s, 10, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "Field %d", fr.Pos-1)
	}
	return int(i), nil
}

// ReadFloat reads the next token as a finite float
func (fr *FieldReader) ReadFloat() (float64, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "Field %d", fr.Pos-1)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("Field %d is not finite: %s", fr.Pos-1, s)
	}
	return v, nil
}

// ReadFloats reads the next n tokens as floats
func (fr *FieldReader) ReadFloats(n int) ([]float64, error) {
	if n < 0 || n > fr.Remaining() {
		return nil, errors.Errorf("want %d floats but %d fields are left", n, fr.Remaining())
	}
	out := make([]float64, n)
	for i := range out {
		v, err := fr.ReadFloat()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Remaining is the number of unread fields
func (fr *FieldReader) Remaining() int {
	return len(fr.Fields) - fr.Pos
}
