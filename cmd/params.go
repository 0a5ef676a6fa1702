package cmd

import (
	"bytes"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CraigKelly/automix/model"
	"github.com/CraigKelly/automix/sampler"
)

// startupParams is everything a command needs once flags and the optional
// config file have been combined.
type startupParams struct {
	cfg      sampler.Config
	fname    string
	example  string
	catalog  model.Catalog
	compress bool
	dbPath   string
	loadRun  string
	quiet    bool
	verbose  bool
	monitor  string

	out    *log.Logger  // Human readable progress
	log    *slog.Logger // Diagnostics from the core packages
	status io.Writer    // Progress bars
}

// cliFlags are the raw flag values; only flags the user set are applied
// over the defaults and config file.
type cliFlags struct {
	cfgFile       string
	verbose       bool
	quiet         bool
	mode          int
	sweeps        int
	fitSweeps     int
	adapt         int
	permute       int
	seed          int64
	dof           int
	burn          int
	fname         string
	example       string
	compress      bool
	dbPath        string
	loadRun       string
	monitor       string
	workers       int
	criterion     string
	maxComponents int
}

func addFlags(cmd *cobra.Command, flags *cliFlags) {
	def := sampler.DefaultConfig()
	pf := cmd.PersistentFlags()

	pf.StringVarP(&flags.cfgFile, "config", "c", "", "yaml config file with sampler settings")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "No progress bars and only warnings in the log")

	pf.IntVarP(&flags.mode, "mode", "m", int(def.Mode), "0 fit mixtures, 1 load <fname>_mix.data, 2 single normal per model (AutoRJ)")
	pf.IntVarP(&flags.sweeps, "sweeps", "N", def.Sweeps, "RJMCMC sweeps")
	pf.IntVarP(&flags.fitSweeps, "fit-sweeps", "n", def.FitSweeps, "stage 1 random walk sweeps per model")
	pf.IntVarP(&flags.adapt, "adapt", "a", 1, "1 to keep adapting after burn in, 0 to stop")
	pf.IntVarP(&flags.permute, "permute", "p", 1, "1 to randomly permute coordinates in jumps, 0 not to")
	pf.Int64VarP(&flags.seed, "seed", "s", def.Seed, "random seed (0 picks one from the clock)")
	pf.IntVarP(&flags.dof, "dof", "t", def.DoF, "Student t degrees of freedom for proposals (0 is normal)")
	pf.IntVarP(&flags.burn, "burn", "b", def.Burn, "burn in sweeps (-1 is max(10000, sweeps/10))")
	pf.StringVarP(&flags.fname, "fname", "f", "output", "base name of output files")

	pf.StringVar(&flags.example, "example", "toy2", "built in model catalog to sample")
	pf.BoolVar(&flags.compress, "gzip", false, "gzip the per sweep data files")
	pf.StringVar(&flags.dbPath, "db", "", "also store samples in this SQLite database")
	pf.StringVar(&flags.loadRun, "load-run", "", "in mode 1, load the mixtures of this run ID from --db")
	pf.StringVar(&flags.monitor, "monitor", "", "serve progress over HTTP at this address (e.g. :8000)")
	pf.IntVar(&flags.workers, "workers", def.Workers, "models fitted concurrently in stage 1")
	pf.StringVar(&flags.criterion, "criterion", def.Criterion, "mixture component criterion: bic or mml")
	pf.IntVar(&flags.maxComponents, "max-components", def.MaxComponents, "cap on mixture components per model")
}

// loadConfigFile decodes a yaml file over cfg. Unknown keys are errors.
func loadConfigFile(path string, cfg *sampler.Config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(sampler.ErrConfig, "could not read config file %s: %v", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrapf(sampler.ErrConfig, "invalid config file %s: %v", path, err)
	}
	return nil
}

// buildConfig layers defaults, the config file and the flags the user set
func buildConfig(cmd *cobra.Command, f *cliFlags) (sampler.Config, error) {
	cfg := sampler.DefaultConfig()
	if f.cfgFile != "" {
		if err := loadConfigFile(f.cfgFile, &cfg); err != nil {
			return cfg, err
		}
	}

	set := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if set("mode") {
		cfg.Mode = sampler.Mode(f.mode)
	}
	if set("sweeps") {
		cfg.Sweeps = f.sweeps
	}
	if set("fit-sweeps") {
		cfg.FitSweeps = f.fitSweeps
	}
	if set("adapt") {
		cfg.Adapt = f.adapt != 0
	}
	if set("permute") {
		cfg.Permute = f.permute != 0
	}
	if set("seed") {
		cfg.Seed = f.seed
	}
	if set("dof") {
		cfg.DoF = f.dof
	}
	if set("burn") {
		cfg.Burn = f.burn
	}
	if set("workers") {
		cfg.Workers = f.workers
	}
	if set("criterion") {
		cfg.Criterion = f.criterion
	}
	if set("max-components") {
		cfg.MaxComponents = f.maxComponents
	}

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if err := cfg.Check(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newStartup resolves everything a command needs from the parsed flags
func newStartup(cmd *cobra.Command, f *cliFlags) (*startupParams, error) {
	cfg, err := buildConfig(cmd, f)
	if err != nil {
		return nil, err
	}

	cat, err := model.NewExample(f.example)
	if err != nil {
		return nil, errors.Wrapf(sampler.ErrConfig, "%v", err)
	}
	if f.loadRun != "" && (f.dbPath == "" || cfg.Mode != sampler.ModeLoad) {
		return nil, errors.Wrapf(sampler.ErrConfig, "--load-run needs --db and mode %d", sampler.ModeLoad)
	}

	return &startupParams{
		cfg:      cfg,
		fname:    f.fname,
		example:  f.example,
		catalog:  cat,
		compress: f.compress,
		dbPath:   f.dbPath,
		loadRun:  f.loadRun,
		quiet:    f.quiet,
		verbose:  f.verbose,
		monitor:  f.monitor,
		out:      log.New(cmd.OutOrStdout(), "", log.LstdFlags),
		log:      newLogger(cmd.ErrOrStderr(), f.verbose, f.quiet),
		status:   cmd.ErrOrStderr(),
	}, nil
}
