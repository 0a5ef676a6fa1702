package sampler

import (
	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/buffer"
	"github.com/CraigKelly/automix/model"
)

// Chain collects the sample stream of a run: model visit counts, running
// model probability estimates, windows of recent acceptance probabilities
// per move type and (optionally) the samples themselves.
type Chain struct {
	Target            model.Catalog
	ConvergenceWindow int
	ProbEvery         int64                   // Record running model probabilities every this many samples
	Keep              bool                    // Retain every sample in Samples
	Visits            []int64                 // Samples seen per model
	TotalSampleCount  int64                   // Samples seen
	RunningProbs      [][]float64             // Model probabilities after every ProbEvery samples
	Samples           []Sample                // Retained samples when Keep is set
	Windows           []*buffer.CircularFloat // Recent acceptance probabilities, indexed by MoveType
	LastSample        Sample
}

// NewChain returns an empty chain for the catalog. cw is the acceptance
// window size and probEvery how often running model probabilities are
// recorded (0 never).
func NewChain(target model.Catalog, cw int, probEvery int64, keep bool) (*Chain, error) {
	if target == nil {
		return nil, errors.New("A model catalog is required for a chain")
	}
	if cw < 2 {
		return nil, errors.Errorf("Convergence window %d must be at least 2", cw)
	}

	ch := &Chain{
		Target:            target,
		ConvergenceWindow: cw,
		ProbEvery:         probEvery,
		Keep:              keep,
		Visits:            make([]int64, target.ModelCount()),
		Windows:           make([]*buffer.CircularFloat, numMoves),
	}
	for i := range ch.Windows {
		ch.Windows[i] = buffer.NewCircularFloat(cw)
	}

	return ch, nil
}

// Add implements Sink. A sample whose theta does not match its model's
// dimension is an error.
func (c *Chain) Add(smp Sample) error {
	if smp.Model < 0 || smp.Model >= len(c.Visits) {
		return errors.Errorf("Invalid sample model %d", smp.Model)
	}
	if d := c.Target.Dimension(smp.Model); len(smp.Theta) != d {
		return errors.Errorf("Invalid sample: model %d has dimension %d but theta has %d", smp.Model, d, len(smp.Theta))
	}
	if smp.Move < 0 || smp.Move >= numMoves {
		return errors.Errorf("Invalid sample move %d", smp.Move)
	}

	c.Visits[smp.Model]++
	c.TotalSampleCount++
	c.Windows[smp.Move].Add(smp.Alpha)
	c.LastSample = smp

	if c.Keep {
		c.Samples = append(c.Samples, smp)
	}
	if c.ProbEvery > 0 && c.TotalSampleCount%c.ProbEvery == 0 {
		c.RunningProbs = append(c.RunningProbs, c.ModelProbs())
	}

	return nil
}

// ModelProbs is the fraction of samples seen in each model
func (c *Chain) ModelProbs() []float64 {
	out := make([]float64, len(c.Visits))
	if c.TotalSampleCount < 1 {
		return out
	}
	for k, v := range c.Visits {
		out[k] = float64(v) / float64(c.TotalSampleCount)
	}
	return out
}

// WindowRate is the mean acceptance probability over the window of the
// given move, and whether the window has filled.
func (c *Chain) WindowRate(m MoveType) (float64, bool) {
	w := c.Windows[m]
	return w.Mean(), w.Full()
}

// WindowDrift compares the mean acceptance probability of the older and
// newer halves of a full window. A chain that has settled shows little
// drift.
func (c *Chain) WindowDrift(m MoveType) (float64, bool) {
	first, second, ok := c.Windows[m].HalfMeans()
	if !ok {
		return 0, false
	}
	return second - first, true
}

// Sinks hands each sample to every sink in order
type Sinks []Sink

// Add implements Sink
func (ss Sinks) Add(smp Sample) error {
	for _, s := range ss {
		if s == nil {
			continue
		}
		if err := s.Add(smp); err != nil {
			return err
		}
	}
	return nil
}
