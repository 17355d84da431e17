package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "ayod/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("jobstore: sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, spec JobSpec, replace bool) error {
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	if replace {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs(id, kind, year, month, day, hour, minute, second, user_id, intent, qualifier, fire, label, grace_secs, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET
			   kind=excluded.kind, year=excluded.year, month=excluded.month, day=excluded.day,
			   hour=excluded.hour, minute=excluded.minute, second=excluded.second,
			   user_id=excluded.user_id, intent=excluded.intent, qualifier=excluded.qualifier,
			   fire=excluded.fire, label=excluded.label, grace_secs=excluded.grace_secs`,
			spec.ID, string(spec.Kind), spec.Year, spec.Month, spec.Day,
			spec.Hour, spec.Minute, spec.Second,
			spec.Payload.UserID, spec.Payload.Intent, spec.Payload.Qualifier,
			string(spec.Payload.Fire), spec.Payload.Label, spec.GraceSeconds,
			spec.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("jobstore: put %s: %w", spec.ID, err)
		}
		return nil
	}

	// Insert-if-absent: OR IGNORE keeps the existing row untouched, and a
	// zero affected-rows count tells us the id was taken.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO jobs(id, kind, year, month, day, hour, minute, second, user_id, intent, qualifier, fire, label, grace_secs, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		spec.ID, string(spec.Kind), spec.Year, spec.Month, spec.Day,
		spec.Hour, spec.Minute, spec.Second,
		spec.Payload.UserID, spec.Payload.Intent, spec.Payload.Qualifier,
		string(spec.Payload.Fire), spec.Payload.Label, spec.GraceSeconds,
		spec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("jobstore: put %s: %w", spec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, spec.ID)
	}
	return nil
}

const jobColumns = `id, kind, year, month, day, hour, minute, second, user_id, intent, qualifier, fire, label, grace_secs, created_at`

func (s *sqliteStore) Get(ctx context.Context, id string) (JobSpec, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	spec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobSpec{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return JobSpec{}, fmt.Errorf("jobstore: get %s: %w", id, err)
	}
	return spec, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("jobstore: remove %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]JobSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}
	defer rows.Close()

	var specs []JobSpec
	for rows.Next() {
		spec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobstore: list scan: %w", err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobstore: list rows: %w", err)
	}
	return specs, nil
}

func (s *sqliteStore) AppendFire(ctx context.Context, rec FireRecord) error {
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fires(job_id, due_at, fired_at, outcome, err) VALUES(?,?,?,?,?)`,
		rec.JobID, rec.DueAt.Format(time.RFC3339Nano), rec.FiredAt.Format(time.RFC3339Nano),
		rec.Outcome, nullStr(rec.Err),
	)
	if err != nil {
		return fmt.Errorf("jobstore: append fire: %w", err)
	}
	return nil
}

func (s *sqliteStore) PruneFires(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fires WHERE fired_at < ?`, olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("jobstore: prune fires: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (JobSpec, error) {
	var (
		spec      JobSpec
		kind      string
		fire      string
		createdAt string
	)
	err := r.Scan(&spec.ID, &kind, &spec.Year, &spec.Month, &spec.Day,
		&spec.Hour, &spec.Minute, &spec.Second,
		&spec.Payload.UserID, &spec.Payload.Intent, &spec.Payload.Qualifier,
		&fire, &spec.Payload.Label, &spec.GraceSeconds, &createdAt)
	if err != nil {
		return JobSpec{}, err
	}
	spec.Kind = Kind(kind)
	spec.Payload.Fire = FireMode(fire)
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		spec.CreatedAt = t
	}
	return spec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
