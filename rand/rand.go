package rand

import (
	"math"
	mrand "math/rand/v2"

	"github.com/pkg/errors"
	"github.com/seehuhn/mt19937"
	"gonum.org/v1/gonum/stat/distuv"
)

// A Generator is a Mersenne twister stream with the draws the sampler needs:
// uniforms, normals, Student-t variates and permutations. Every draw is
// taken synchronously from the single underlying stream, so the order of
// calls fully determines the output.
type Generator struct {
	src  *mt19937.MT19937
	norm *mrand.Rand
	key  []uint64
}

// NewGenerator creates a generator seeded with the given seed
func NewGenerator(seed int64) (*Generator, error) {
	return NewGeneratorSlice([]uint64{uint64(seed)})
}

// NewGeneratorSlice creates a generator using the MT19937-64 array seeding
// procedure. The key must not be empty.
func NewGeneratorSlice(key []uint64) (*Generator, error) {
	if len(key) < 1 {
		return nil, errors.New("Generator seed key must have at least one entry")
	}

	src := mt19937.New()
	src.SeedFromSlice(key)

	g := &Generator{
		src:  src,
		norm: mrand.New(src),
		key:  append([]uint64(nil), key...),
	}
	return g, nil
}

// Derive returns an independent generator for stream i, seeded from this
// generator's key and i. Deriving never advances the receiver.
func (g *Generator) Derive(i int) *Generator {
	key := make([]uint64, 0, len(g.key)+1)
	key = append(key, g.key...)
	key = append(key, uint64(i)+1)

	d, err := NewGeneratorSlice(key)
	if err != nil {
		panic("BUG: derived key can not be empty")
	}
	return d
}

// Source exposes the stream as a math/rand/v2 Source (for gonum)
func (g *Generator) Source() mrand.Source {
	return g.src
}

// Uint64 returns the next raw 64 bits
func (g *Generator) Uint64() uint64 {
	return g.src.Uint64()
}

// Int63 provides the same interface as Go's math/rand
func (g *Generator) Int63() int64 {
	return int64(g.src.Uint64() & 0x7fffffffffffffff)
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Intn returns a uniform int in [0, n)
func (g *Generator) Intn(n int) int {
	return int(g.Int63n(int64(n)))
}

// Float64 uses the commented, simpler implmentation since we don't have the
// same support requirements for users
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}

// NormFloat64 returns a standard normal variate
func (g *Generator) NormFloat64() float64 {
	return g.norm.NormFloat64()
}

// StudentT returns a standard Student-t variate with dof degrees of freedom
func (g *Generator) StudentT(dof int) float64 {
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof), Src: g.src}
	return t.Rand()
}

// Variate returns a normal variate for dof == 0 and a Student-t variate
// otherwise. This is the draw used for every standardized proposal.
func (g *Generator) Variate(dof int) float64 {
	if dof <= 0 {
		return g.NormFloat64()
	}
	return g.StudentT(dof)
}

// VariateLogProb is the log density matching Variate
func VariateLogProb(dof int, x float64) float64 {
	if dof <= 0 {
		return -0.5*x*x - 0.5*math.Log(2*math.Pi)
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}
	return t.LogProb(x)
}

// Perm fills p with a uniformly random permutation of 0..len(p)-1
// (Fisher-Yates) and returns it.
func (g *Generator) Perm(p []int) []int {
	for i := range p {
		p[i] = i
	}
	for i := len(p) - 1; i > 0; i-- {
		j := g.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}
