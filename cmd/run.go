package cmd

import (
	"bufio"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/model"
	"github.com/CraigKelly/automix/report"
	"github.com/CraigKelly/automix/sampler"
)

const (
	convergeWindow = 1000 // Acceptance window per move type
	probRecords    = 100  // Running model probability rows in _pk.data
)

func startLog(sp *startupParams) {
	cat := sp.catalog
	sp.out.Printf("Catalog %s has %d models\n", sp.example, cat.ModelCount())
	for k := 0; k < cat.ModelCount(); k++ {
		sp.out.Printf("  model %d: dim %d\n", k, cat.Dimension(k))
	}
	sp.out.Printf("Mode %s, seed %d, sweeps %d, stage 1 sweeps %d, burn %d\n",
		sp.cfg.Mode, sp.cfg.Seed, sp.cfg.Sweeps, sp.cfg.FitSweeps, sp.cfg.BurnSweeps())
}

// stageOne produces the per-model mixtures: fitted (modes 0 and 2) or
// loaded in mode 1, from the store when a run ID is given and from
// <fname>_mix.data otherwise. Fitted mixtures are written out.
func stageOne(sp *startupParams, smp *sampler.Sampler, bars *progress, store *report.Store) error {
	if sp.cfg.Mode == sampler.ModeLoad && sp.loadRun != "" {
		mixes, err := store.LoadMixtures(sp.loadRun)
		if err != nil {
			return err
		}
		if len(mixes) == 0 {
			return errors.Wrapf(sampler.ErrConfig, "no mixtures stored for run %s", sp.loadRun)
		}
		sp.out.Printf("Loading mixtures of run %s from %s\n", sp.loadRun, sp.dbPath)
		return smp.SetMixtures(mixes)
	}
	if sp.cfg.Mode == sampler.ModeLoad {
		f, err := report.OpenMixtures(sp.fname)
		if err != nil {
			return err
		}
		defer f.Close()
		sp.out.Printf("Loading mixtures from %s\n", f.Name())
		return smp.LoadMixtures(bufio.NewReader(f))
	}

	total := 0
	for k := 0; k < sp.catalog.ModelCount(); k++ {
		total += sp.cfg.FitLength(sp.cfg.FitSweeps, sp.catalog.Dimension(k))
	}
	bars.Start("fit", total)
	err := smp.EstimateConditionalProbs(sp.cfg.FitSweeps)
	bars.Finish("fit")
	if err != nil {
		return err
	}

	for _, fr := range smp.FitReports() {
		sp.out.Printf("  model %d: %d sweeps, accept %.3f, %d components (%s), log evidence %.4f, weight %.5f\n",
			fr.Model, fr.Sweeps, fr.AcceptRate, fr.Fit.Components, fr.Fit.State, fr.LogEvidence, fr.ModelWeight)
	}
	return report.WriteMixtures(sp.fname, smp.Mixtures())
}

// FitOnly runs stage 1 and saves the mixtures and a summary
func FitOnly(sp *startupParams) error {
	if sp.cfg.Mode == sampler.ModeLoad {
		return errors.Wrapf(sampler.ErrConfig, "fit can not run in mode %s", sp.cfg.Mode)
	}
	startLog(sp)

	smp, err := sampler.New(sp.catalog, sp.cfg, sp.log)
	if err != nil {
		return err
	}
	bars := newProgress(sp.status, sp.quiet, nil)
	smp.SetProgress(bars.Add)

	sum := report.NewSummary(sp.example, sp.catalog, sp.cfg)
	start := time.Now()
	if err := stageOne(sp, smp, bars, nil); err != nil {
		return err
	}
	sum.Timings.Fit = time.Since(start)
	sum.Fits = smp.FitReports()
	sum.JumpWeights = smp.JumpWeights()
	sum.RWScales = smp.RandomWalkScales()

	sp.out.Printf("Stage 1 took %v\n", sum.Timings.Fit)
	return report.WriteSummary(sp.fname, sum)
}

// RunSampler performs a complete run: stage 1, burn in and sampling, then
// writes every report file.
func RunSampler(sp *startupParams) error {
	startLog(sp)

	var mon *monitor
	if sp.monitor != "" {
		mon = newMonitor(sp.monitor)
		if err := mon.Start(); err != nil {
			return err
		}
		defer mon.Stop()
	}

	smp, err := sampler.New(sp.catalog, sp.cfg, sp.log)
	if err != nil {
		return err
	}
	bars := newProgress(sp.status, sp.quiet, mon)
	smp.SetProgress(bars.Add)

	sum := report.NewSummary(sp.example, sp.catalog, sp.cfg)
	sp.out.Printf("Run ID %s\n", sum.RunID)

	var store *report.Store
	if sp.dbPath != "" {
		store, err = report.OpenStore(sp.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// Stage 1
	start := time.Now()
	if err := stageOne(sp, smp, bars, store); err != nil {
		return err
	}
	sum.Timings.Fit = time.Since(start)

	// Stage 2
	start = time.Now()
	burn := sp.cfg.BurnSweeps()
	bars.Start("burn", burn)
	err = smp.Burn(burn)
	bars.Finish("burn")
	if err != nil {
		return err
	}
	sum.Timings.Burn = time.Since(start)

	// Stage 3
	ch, err := sampler.NewChain(sp.catalog, convergeWindow, max(1, int64(sp.cfg.Sweeps/probRecords)), false)
	if err != nil {
		return err
	}
	files, err := report.NewFiles(sp.fname, sp.catalog.ModelCount(), sp.compress)
	if err != nil {
		return err
	}
	defer files.Close()
	sinks := sampler.Sinks{ch, files}

	if store != nil {
		if err := store.BeginRun(sum); err != nil {
			return err
		}
		if err := store.SaveMixtures(smp.Mixtures()); err != nil {
			return err
		}
		sinks = append(sinks, store)
	}
	if mon != nil {
		sinks = append(sinks, mon)
	}

	start = time.Now()
	bars.Start("sample", sp.cfg.Sweeps)
	err = smp.Run(sp.cfg.Sweeps, sinks)
	bars.Finish("sample")
	if err != nil {
		return err
	}
	sum.Timings.Sample = time.Since(start)

	if err := files.Close(); err != nil {
		return err
	}

	// Reports
	if err := sum.Finish(smp, ch); err != nil {
		return err
	}
	if err := report.WriteAcceptance(sp.fname, sum.Stats, sp.compress); err != nil {
		return err
	}
	if err := report.WriteModelProbs(sp.fname, ch.RunningProbs, sp.compress); err != nil {
		return err
	}
	if err := report.WriteSummary(sp.fname, sum); err != nil {
		return err
	}
	finalReport(sp, sum, ch)
	if store != nil {
		if err := store.FinishRun(sum); err != nil {
			return err
		}
		return storeReport(sp, store, smp)
	}
	return nil
}

// storeReport reads the run back from the database as a check on what was
// committed.
func storeReport(sp *startupParams, store *report.Store, smp *sampler.Sampler) error {
	counts, err := store.ModelCounts(store.RunID(), sp.catalog.ModelCount())
	if err != nil {
		return err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	if total != int64(sp.cfg.Sweeps) {
		return errors.Wrapf(report.ErrIO, "database holds %d samples of run %s, expected %d",
			total, store.RunID(), sp.cfg.Sweeps)
	}
	sp.out.Printf("Stored %d samples in %s, per model %v\n", total, sp.dbPath, counts)

	last := smp.State()
	theta, err := store.Theta(store.RunID(), last.Sweep)
	if err != nil {
		return err
	}
	sp.out.Printf("  last sweep %d: model %d theta %v\n", last.Sweep, last.Model, theta)
	return nil
}

func finalReport(sp *startupParams, sum *report.Summary, ch *sampler.Chain) {
	sp.out.Printf("--------------------------------------------------\n")
	for k, p := range sum.ModelProbs {
		line := ""
		if sum.Exact != nil {
			line = " (exact " + formatProb(sum.Exact[k]) + ")"
		}
		sp.out.Printf("  model %d: p=%s%s\n", k, formatProb(p), line)
	}
	for m := sampler.MoveIndependence; m <= sampler.MoveJump; m++ {
		ms := sum.Stats.Move(m)
		rate, full := ch.WindowRate(m)
		drift := "n/a"
		if d, ok := ch.WindowDrift(m); ok {
			drift = fmt.Sprintf("%+.4f", d)
		}
		sp.out.Printf("  %-12s proposed %9d accept %.4f (recent %.4f, window full %v, drift %s)\n",
			m, ms.Proposed, ms.Rate(), rate, full, drift)
	}
	if sum.Errors != nil {
		errorReport(sp, sum.Errors)
	}
	sp.out.Printf("Elapsed %v (fit %v, burn %v, sample %v)\n",
		sum.Timings.Total(), sum.Timings.Fit, sum.Timings.Burn, sum.Timings.Sample)
}

func errorReport(sp *startupParams, score *model.ErrorSuite) {
	nlog := func(v float64) float64 {
		if v <= 0 {
			return math.Inf(1)
		}
		return -math.Log2(v)
	}
	sp.out.Printf(
		"Model probs NLog | MeanAE:%7.3f MaxAE:%7.3f Hel:%7.3f JSD:%7.3f\n",
		nlog(score.MeanAbsError),
		nlog(score.MaxAbsError),
		nlog(score.Hellinger),
		nlog(score.JSDiverge),
	)
}

func formatProb(p float64) string {
	return fmt.Sprintf("%.5f", p)
}
