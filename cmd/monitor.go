package cmd

import (
	"expvar"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/CraigKelly/automix/sampler"
)

// The progress map is published once per process; each monitor resets it.
var (
	publishOnce  sync.Once
	progressVars = new(expvar.Map).Init()
)

// monitor serves run progress over HTTP. All methods are safe on a nil
// monitor so callers need not check whether one was asked for.
type monitor struct {
	addr     string
	stopped  chan struct{}
	server   *http.Server
	listener net.Listener
	started  time.Time

	Stage    *expvar.String
	Sweeps   *expvar.Map // By stage
	Model    *expvar.Int
	Samples  *expvar.Int
	Visits   *expvar.Map // By model index
	Proposed *expvar.Map // By move type
	Accepted *expvar.Map // By move type
	RunTime  *expvar.Float
}

func newMonitor(addr string) *monitor {
	return &monitor{addr: addr}
}

func (m *monitor) routes() http.Handler {
	r := chi.NewRouter()
	// Redirect to the full variable dump
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debug/vars", http.StatusTemporaryRedirect)
	})
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
	r.Get("/progress", func(w http.ResponseWriter, r *http.Request) {
		m.RunTime.Set(time.Since(m.started).Seconds())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, progressVars.String())
	})
	return r
}

// Start begins the monitor
func (m *monitor) Start() error {
	if m == nil {
		return nil
	}
	if m.server != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	publishOnce.Do(func() {
		expvar.Publish("automix-progress", progressVars)
	})
	progressVars.Init()

	m.started = time.Now()
	m.Stage = new(expvar.String)
	m.Sweeps = new(expvar.Map).Init()
	m.Model = new(expvar.Int)
	m.Samples = new(expvar.Int)
	m.Visits = new(expvar.Map).Init()
	m.Proposed = new(expvar.Map).Init()
	m.Accepted = new(expvar.Map).Init()
	m.RunTime = new(expvar.Float)

	progressVars.Set("Stage", m.Stage)
	progressVars.Set("Sweeps", m.Sweeps)
	progressVars.Set("Model", m.Model)
	progressVars.Set("Samples", m.Samples)
	progressVars.Set("Visits", m.Visits)
	progressVars.Set("Proposed", m.Proposed)
	progressVars.Set("Accepted", m.Accepted)
	progressVars.Set("Run-Time", m.RunTime)

	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return errors.Wrapf(err, "Could not listen on %s", m.addr)
	}
	m.listener = ln
	m.stopped = make(chan struct{})
	m.server = &http.Server{
		Handler:      m.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		defer close(m.stopped)
		m.server.Serve(ln)
	}()
	fmt.Fprintf(os.Stderr, "HTTP now available at %v (see /progress and /debug/vars)\n", ln.Addr())
	return nil
}

// Addr is the address the monitor listens on (after Start)
func (m *monitor) Addr() string {
	if m == nil || m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// SetStage records the stage now running
func (m *monitor) SetStage(stage string) {
	if m == nil || m.Stage == nil {
		return
	}
	m.Stage.Set(stage)
}

// AddSweeps counts completed sweeps of a stage
func (m *monitor) AddSweeps(stage string, done int64) {
	if m == nil || m.Sweeps == nil {
		return
	}
	m.Sweeps.Add(stage, done)
}

// Add implements sampler.Sink
func (m *monitor) Add(smp sampler.Sample) error {
	if m == nil || m.Samples == nil {
		return nil
	}
	m.Samples.Add(1)
	m.Model.Set(int64(smp.Model))
	m.Visits.Add(strconv.Itoa(smp.Model), 1)
	m.Proposed.Add(smp.Move.String(), 1)
	if smp.Accepted {
		m.Accepted.Add(smp.Move.String(), 1)
	}
	return nil
}

// Stop shuts the monitor down
func (m *monitor) Stop() {
	if m == nil || m.server == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		fmt.Fprintf(os.Stderr, "HTTP Info Stopped\n")
	case <-time.After(2 * time.Second):
		fmt.Fprintf(os.Stderr, "HTTP would NOT stop: just continuing on\n")
	}
}
