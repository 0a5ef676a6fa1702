package cmd

import (
	"io"

	"github.com/cheggaaa/pb/v3"
)

// stages in the order a run reports them
var stages = []string{"fit", "burn", "sample"}

// progress shows a bar per stage and forwards sweep counts to the monitor.
// Bars are created before a stage starts, so the stage 1 workers only read
// the map.
type progress struct {
	w     io.Writer
	quiet bool
	mon   *monitor
	bars  map[string]*pb.ProgressBar
}

func newProgress(w io.Writer, quiet bool, mon *monitor) *progress {
	return &progress{
		w:     w,
		quiet: quiet,
		mon:   mon,
		bars:  make(map[string]*pb.ProgressBar),
	}
}

// Start begins the bar for a stage of total sweeps
func (p *progress) Start(stage string, total int) {
	p.mon.SetStage(stage)
	if p.quiet || total < 1 {
		return
	}
	bar := pb.New(total)
	bar.SetWriter(p.w)
	bar.Set("prefix", stage+" ")
	bar.Start()
	p.bars[stage] = bar
}

// Add implements the sampler progress callback
func (p *progress) Add(stage string, done int64) {
	p.mon.AddSweeps(stage, done)
	if bar, ok := p.bars[stage]; ok {
		bar.Add64(done)
	}
}

// Finish completes the bar of a stage
func (p *progress) Finish(stage string) {
	if bar, ok := p.bars[stage]; ok {
		bar.Finish()
		delete(p.bars, stage)
	}
}
