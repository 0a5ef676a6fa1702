package report

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/CraigKelly/automix/mixture"
	"github.com/CraigKelly/automix/sampler"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	catalog TEXT NOT NULL,
	config TEXT NOT NULL,
	finished_at TIMESTAMP,
	summary TEXT
);

CREATE TABLE IF NOT EXISTS samples (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	sweep INTEGER NOT NULL,
	model INTEGER NOT NULL,
	move TEXT NOT NULL,
	accepted INTEGER NOT NULL,
	alpha REAL NOT NULL,
	log_post REAL NOT NULL,
	log_lik REAL NOT NULL,
	theta TEXT NOT NULL,
	PRIMARY KEY (run_id, sweep)
);

CREATE INDEX IF NOT EXISTS idx_samples_model ON samples(run_id, model);

CREATE TABLE IF NOT EXISTS mixtures (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	model INTEGER NOT NULL,
	dim INTEGER NOT NULL,
	components INTEGER NOT NULL,
	model_weight REAL NOT NULL,
	record TEXT NOT NULL,
	PRIMARY KEY (run_id, model)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// storeBatch is the number of samples written per transaction
const storeBatch = 5000

// Store is a sample sink backed by a SQLite database. Samples are
// written in batched transactions. The database has a single connection,
// so every other call commits the open batch first.
type Store struct {
	db    *sql.DB
	runID string

	tx      *sql.Tx
	insert  *sql.Stmt
	pending int
}

// OpenStore opens (creating if needed) the database at path
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ioErrorf(err, "could not create directory for %s", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ioErrorf(err, "could not open database %s", path)
	}
	// One connection keeps the batch transaction and pragmas together
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, ioErrorf(err, "could not apply %q", pragma)
		}
	}

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, ioErrorf(err, "could not initialize schema")
	}

	return &Store{db: db}, nil
}

// BeginRun records a new run; samples added afterwards belong to it
func (s *Store) BeginRun(sum *Summary) error {
	if err := s.Flush(); err != nil {
		return err
	}
	cfg, err := yaml.Marshal(sum.Config)
	if err != nil {
		return errors.Wrap(err, "Could not encode run config")
	}
	_, err = s.db.Exec(`INSERT INTO runs (id, started_at, catalog, config) VALUES (?, ?, ?, ?)`,
		sum.RunID, sum.Started, sum.Catalog, string(cfg))
	if err != nil {
		return ioErrorf(err, "could not record run %s", sum.RunID)
	}
	s.runID = sum.RunID
	return nil
}

// RunID is the run samples are currently recorded against
func (s *Store) RunID() string { return s.runID }

// Add implements sampler.Sink
func (s *Store) Add(smp sampler.Sample) error {
	if s.runID == "" {
		return errors.New("No run started in the sample store")
	}
	if s.tx == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return ioErrorf(err, "could not begin sample batch")
		}
		stmt, err := tx.Prepare(`INSERT INTO samples
			(run_id, sweep, model, move, accepted, alpha, log_post, log_lik, theta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return ioErrorf(err, "could not prepare sample insert")
		}
		s.tx, s.insert = tx, stmt
	}

	acc := 0
	if smp.Accepted {
		acc = 1
	}
	_, err := s.insert.Exec(s.runID, smp.Sweep, smp.Model, smp.Move.String(), acc,
		smp.Alpha, smp.LogPost, smp.LogLik, encodeTheta(smp.Theta))
	if err != nil {
		return ioErrorf(err, "could not store sample %d", smp.Sweep)
	}

	s.pending++
	if s.pending >= storeBatch {
		return s.Flush()
	}
	return nil
}

// Flush commits any pending samples
func (s *Store) Flush() error {
	if s.tx == nil {
		return nil
	}
	s.insert.Close()
	err := s.tx.Commit()
	s.tx, s.insert, s.pending = nil, nil, 0
	if err != nil {
		return ioErrorf(err, "could not commit samples")
	}
	return nil
}

// SaveMixtures stores the per-model mixtures of the current run in the
// same text form as the _mix.data file.
func (s *Store) SaveMixtures(mixes []*mixture.Mixture) error {
	if s.runID == "" {
		return errors.New("No run started in the sample store")
	}
	if err := s.Flush(); err != nil {
		return err
	}
	for k, m := range mixes {
		var buf bytes.Buffer
		if err := mixture.Write(&buf, []*mixture.Mixture{m}); err != nil {
			return errors.Wrapf(err, "Could not encode mixture %d", k)
		}
		_, err := s.db.Exec(`INSERT OR REPLACE INTO mixtures
			(run_id, model, dim, components, model_weight, record) VALUES (?, ?, ?, ?, ?, ?)`,
			s.runID, k, m.Dim, len(m.Components), m.ModelWeight, buf.String())
		if err != nil {
			return ioErrorf(err, "could not store mixture %d", k)
		}
	}
	return nil
}

// LoadMixtures reads back the mixtures stored for a run, in model order
func (s *Store) LoadMixtures(runID string) ([]*mixture.Mixture, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT record FROM mixtures WHERE run_id = ? ORDER BY model`, runID)
	if err != nil {
		return nil, ioErrorf(err, "could not query mixtures")
	}
	defer rows.Close()

	var out []*mixture.Mixture
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, ioErrorf(err, "could not read mixture")
		}
		mixes, err := mixture.Read(strings.NewReader(rec))
		if err != nil {
			return nil, err
		}
		out = append(out, mixes...)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErrorf(err, "could not read mixtures")
	}
	return out, nil
}

// FinishRun commits pending samples and stores the final summary
func (s *Store) FinishRun(sum *Summary) error {
	if err := s.Flush(); err != nil {
		return err
	}
	buf, err := yaml.Marshal(sum)
	if err != nil {
		return errors.Wrap(err, "Could not encode run summary")
	}
	_, err = s.db.Exec(`UPDATE runs SET finished_at = ?, summary = ? WHERE id = ?`,
		time.Now().UTC(), string(buf), sum.RunID)
	if err != nil {
		return ioErrorf(err, "could not finish run %s", sum.RunID)
	}
	return nil
}

// ModelCounts returns the number of stored samples per model for a run
func (s *Store) ModelCounts(runID string, nmodels int) ([]int64, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT model, COUNT(*) FROM samples WHERE run_id = ? GROUP BY model`, runID)
	if err != nil {
		return nil, ioErrorf(err, "could not count samples")
	}
	defer rows.Close()

	out := make([]int64, nmodels)
	for rows.Next() {
		var k int
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, ioErrorf(err, "could not read sample count")
		}
		if k < 0 || k >= nmodels {
			return nil, errors.Errorf("Stored sample model %d outside %d models", k, nmodels)
		}
		out[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, ioErrorf(err, "could not count samples")
	}
	return out, nil
}

// Theta returns the stored theta of one sweep of a run
func (s *Store) Theta(runID string, sweep int64) ([]float64, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	var rec string
	err := s.db.QueryRow(`SELECT theta FROM samples WHERE run_id = ? AND sweep = ?`, runID, sweep).Scan(&rec)
	if err != nil {
		return nil, ioErrorf(err, "could not read sweep %d", sweep)
	}
	return decodeTheta(rec)
}

// Close commits pending samples and closes the database
func (s *Store) Close() error {
	ferr := s.Flush()
	if err := s.db.Close(); err != nil {
		return ioErrorf(err, "could not close database")
	}
	return ferr
}

func encodeTheta(theta []float64) string {
	var sb strings.Builder
	for i, v := range theta {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}

func decodeTheta(rec string) ([]float64, error) {
	fields := strings.Fields(rec)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "Invalid stored theta value %q", f)
		}
		out[i] = v
	}
	return out, nil
}
