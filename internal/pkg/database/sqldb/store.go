package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("sqldb: run not found")
	ErrDriver   = errors.New("sqldb: unsupported driver")
)

// fixed width so that created_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// Store persists power-flow reports in a relational database.
type Store struct {
	db     *sql.DB
	driver string
}

// Run is the summary row of a stored report.
type Run struct {
	RunID      uuid.UUID `json:"RunID"`
	Session    uuid.UUID `json:"Session"`
	Name       string    `json:"Name"`
	Converged  bool      `json:"Converged"`
	Iterations int       `json:"Iterations"`
	MaxDelta   float64   `json:"MaxDelta"`
	Loss       float64   `json:"Loss"`
	Created    time.Time `json:"Created"`
}

// Open connects to the database and brings its schema up to date.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case SQLite, MySQL, Postgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == SQLite {
		// an in-memory database lives and dies with its connection
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the name of the database driver in use.
func (s *Store) Driver() string {
	return s.driver
}

var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id     VARCHAR(36) PRIMARY KEY,
			session_id VARCHAR(36) NOT NULL,
			name       VARCHAR(255) NOT NULL,
			converged  INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			max_delta  DOUBLE PRECISION NOT NULL,
			loss       DOUBLE PRECISION NOT NULL,
			slack_re   DOUBLE PRECISION NOT NULL,
			slack_im   DOUBLE PRECISION NOT NULL,
			elapsed_ns BIGINT NOT NULL,
			created_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bus_voltages (
			run_id VARCHAR(36) NOT NULL,
			bus    INTEGER NOT NULL,
			re     DOUBLE PRECISION NOT NULL,
			im     DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, bus)
		)`,
	},
	{
		`CREATE INDEX idx_runs_created ON runs(created_at)`,
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var current sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	for i, statements := range migrations {
		version := i + 1
		if int64(version) <= current.Int64 {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("version %d: %w", version, err)
			}
		}
		if _, err := tx.Exec(s.rebind(`INSERT INTO schema_version (version) VALUES (?)`), version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v)
	return int(v.Int64), err
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveReport writes a report and its bus voltages in one transaction.
func (s *Store) SaveReport(ctx context.Context, r analysis.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	converged := 0
	if r.Converged {
		converged = 1
	}
	slack := complex128(r.SlackPower)
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (run_id, session_id, name, converged, iterations, max_delta, loss, slack_re, slack_im, elapsed_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.RunID.String(), r.Session.String(), r.Name, converged, r.Iterations, r.MaxDelta, r.Loss,
		real(slack), imag(slack), int64(r.Elapsed), r.Created.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run %v: %w", r.RunID, err)
	}

	for _, b := range r.Buses {
		v := complex128(b.Voltage)
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO bus_voltages (run_id, bus, re, im) VALUES (?, ?, ?, ?)`),
			r.RunID.String(), b.Bus, real(v), imag(v))
		if err != nil {
			return fmt.Errorf("insert bus %d of run %v: %w", b.Bus, r.RunID, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, float64, float64, int64, error) {
	var (
		run              Run
		runID, session   string
		created          string
		converged        int
		slackRe, slackIm float64
		elapsed          int64
	)
	err := row.Scan(&runID, &session, &run.Name, &converged, &run.Iterations, &run.MaxDelta, &run.Loss,
		&slackRe, &slackIm, &elapsed, &created)
	if err != nil {
		return Run{}, 0, 0, 0, err
	}
	if run.RunID, err = uuid.Parse(runID); err != nil {
		return Run{}, 0, 0, 0, err
	}
	if run.Session, err = uuid.Parse(session); err != nil {
		return Run{}, 0, 0, 0, err
	}
	if run.Created, err = time.Parse(timeLayout, created); err != nil {
		return Run{}, 0, 0, 0, err
	}
	run.Converged = converged != 0
	return run, slackRe, slackIm, elapsed, nil
}

const runColumns = `run_id, session_id, name, converged, iterations, max_delta, loss, slack_re, slack_im, elapsed_ns, created_at`

// Report reads back a stored report.
func (s *Store) Report(ctx context.Context, runID uuid.UUID) (analysis.Report, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`), runID.String())
	run, slackRe, slackIm, elapsed, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.Report{}, fmt.Errorf("%w: %v", ErrNotFound, runID)
	}
	if err != nil {
		return analysis.Report{}, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT bus, re, im FROM bus_voltages WHERE run_id = ? ORDER BY bus`), runID.String())
	if err != nil {
		return analysis.Report{}, err
	}
	defer rows.Close()

	buses := make([]analysis.BusVoltage, 0)
	for rows.Next() {
		var (
			bus    int
			re, im float64
		)
		if err := rows.Scan(&bus, &re, &im); err != nil {
			return analysis.Report{}, err
		}
		v := complex(re, im)
		buses = append(buses, analysis.BusVoltage{
			Bus:       bus,
			Voltage:   pu.Complex(v),
			Magnitude: cmplx.Abs(v),
			AngleDeg:  cmplx.Phase(v) * 180 / math.Pi,
		})
	}
	if err := rows.Err(); err != nil {
		return analysis.Report{}, err
	}

	return analysis.Report{
		RunID:      run.RunID,
		Session:    run.Session,
		Name:       run.Name,
		Buses:      buses,
		Converged:  run.Converged,
		Iterations: run.Iterations,
		MaxDelta:   run.MaxDelta,
		Loss:       run.Loss,
		SlackPower: pu.Complex(complex(slackRe, slackIm)),
		Elapsed:    time.Duration(elapsed),
		Created:    run.Created,
	}, nil
}

// Recent lists the newest runs first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, _, _, _, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
