package report

import (
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/CraigKelly/automix/model"
	"github.com/CraigKelly/automix/sampler"
)

// Timings are the wall clock durations of each stage of a run
type Timings struct {
	Fit    time.Duration `yaml:"fit"`
	Burn   time.Duration `yaml:"burn"`
	Sample time.Duration `yaml:"sample"`
}

// Total is the sum of all stage durations
func (t Timings) Total() time.Duration {
	return t.Fit + t.Burn + t.Sample
}

// Summary is the record of a complete run written to <base>_log.yaml
type Summary struct {
	RunID       string              `yaml:"run_id"`
	Started     time.Time           `yaml:"started"`
	Catalog     string              `yaml:"catalog"`
	Dimensions  []int               `yaml:"dimensions"`
	Config      sampler.Config      `yaml:"config"`
	Timings     Timings             `yaml:"timings"`
	Fits        []sampler.FitReport `yaml:"fits,omitempty"`
	Stats       sampler.Stats       `yaml:"stats"`
	ModelProbs  []float64           `yaml:"model_probs"`
	JumpWeights []float64           `yaml:"jump_weights"`
	RWScales    []float64           `yaml:"rw_scales"`
	Exact       []float64           `yaml:"exact_probs,omitempty"`
	Errors      *model.ErrorSuite   `yaml:"errors,omitempty"`
}

// NewRunID returns a fresh identifier for a run
func NewRunID() string {
	return uuid.New().String()
}

// NewSummary starts a summary for a run of the named catalog
func NewSummary(name string, cat model.Catalog, cfg sampler.Config) *Summary {
	dims := make([]int, cat.ModelCount())
	for k := range dims {
		dims[k] = cat.Dimension(k)
	}
	return &Summary{
		RunID:      NewRunID(),
		Started:    time.Now().UTC(),
		Catalog:    name,
		Dimensions: dims,
		Config:     cfg,
	}
}

// Finish fills in the end of run state from the sampler and chain. When the
// catalog knows its exact model probabilities they are scored against the
// chain's visit frequencies.
func (s *Summary) Finish(smp *sampler.Sampler, ch *sampler.Chain) error {
	s.Fits = smp.FitReports()
	s.Stats = smp.Stats()
	s.JumpWeights = smp.JumpWeights()
	s.RWScales = smp.RandomWalkScales()
	s.ModelProbs = ch.ModelProbs()

	if ex, ok := smp.Catalog().(model.Exact); ok && ch.TotalSampleCount > 0 {
		s.Exact = ex.ModelProbs()
		suite, err := model.NewErrorSuite(s.ModelProbs, s.Exact)
		if err != nil {
			return err
		}
		s.Errors = suite
	}
	return nil
}

// WriteSummary saves the summary to <base>_log.yaml
func WriteSummary(base string, s *Summary) error {
	df, err := createData(Path(base, "_log.yaml"), false)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(df.w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		df.Close()
		return ioErrorf(err, "could not encode %s", df.path)
	}
	if err := enc.Close(); err != nil {
		df.Close()
		return ioErrorf(err, "could not encode %s", df.path)
	}
	return df.Close()
}

// ReadSummary loads a summary written by WriteSummary
func ReadSummary(base string) (*Summary, error) {
	path := Path(base, "_log.yaml")
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErrorf(err, "could not read %s", path)
	}
	s := &Summary{}
	if err := yaml.Unmarshal(buf, s); err != nil {
		return nil, ioErrorf(err, "could not parse %s", path)
	}
	return s, nil
}
