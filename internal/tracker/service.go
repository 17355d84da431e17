// Package tracker keeps per-user engagement state: raw counters, start
// dates, and learning-module completion status. It is plumbing around a
// single sqlite table; the scheduler never reads it.
package tracker

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

	"ayod/pkg/cryptobox"
	logx "ayod/pkg/logx"
)

//go:embed tracker.sql
var migrationsFS embed.FS

var (
	ErrAlreadyExists = errors.New("tracker: user already initialized")
	ErrNotFound      = errors.New("tracker: user not found")
	ErrUnknownTopic  = errors.New("tracker: unknown topic")
	ErrBadStatus     = errors.New("tracker: invalid module status")
)

// Topic routing tables, mirroring the assistant's update vocabulary.
var (
	incTopics = map[string]bool{
		"faq_question": true, "faq_rephrase": true, "faq_threshold": true,
		"app_rem_count": true,
	}
	medRemTopics = map[string]bool{
		"med_rem_startdate": true, "med_rem_yes": true, "med_rem_remind": true,
	}
	moduleTopics = map[string]bool{
		"adherence": true, "drug_use_storage": true,
		"drugs_and_side_effects": true, "sex_h": true,
	}
	moduleStatuses = map[string]bool{
		"not_started": true, "initiated": true, "completed": true,
	}
)

// Config configures the tracker store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Entry is one user's tracking row. Nickname is decrypted on read.
type Entry struct {
	UserID           string            `json:"user_id"`
	GeneralStartdate string            `json:"general_startdate"`
	Nickname         string            `json:"general_nickname"`
	Counters         map[string]int64  `json:"counters"`
	StartDates       map[string]string `json:"start_dates"`
	Modules          map[string]string `json:"modules"`
}

// Service wraps the tracking table. A nil box stores nicknames in the
// clear (tests, local runs).
type Service struct {
	db  *sql.DB
	log logx.Logger
	box *cryptobox.Box
}

func Open(cfg Config, box *cryptobox.Box, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("tracker: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	b, err := migrationsFS.ReadFile("tracker.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(b)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Service{db: db, log: log, box: box}, nil
}

func (s *Service) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init creates the user's tracking row. Initializing an existing user is
// an error, matching the assistant's one-row-per-user contract.
func (s *Service) Init(ctx context.Context, userID, nickname, timePoint string) error {
	stored := nickname
	if s.box != nil && nickname != "" {
		sealed, err := s.box.Seal(nickname)
		if err != nil {
			return fmt.Errorf("tracker: seal nickname: %w", err)
		}
		stored = sealed
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tracking(user_id, general_startdate, general_nickname) VALUES(?,?,?)`,
		userID, timePoint, stored)
	if err != nil {
		return fmt.Errorf("tracker: init %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, userID)
	}
	s.log.Info("tracking initialized", logx.String("user", userID))
	return nil
}

// Record routes one tracking update by topic:
//   - counter topics increment by one (appointment counters also stamp
//     their start date on first use)
//   - med_rem_startdate is set-once-if-zero
//   - module topics set the completion status carried in value
func (s *Service) Record(ctx context.Context, userID, topic, value, timePoint string) error {
	switch {
	case incTopics[topic]:
		if topic == "app_rem_count" {
			if err := s.setDateOnce(ctx, userID, "app_rem_startdate", timePoint); err != nil {
				return err
			}
		}
		return s.increment(ctx, userID, topic)

	case medRemTopics[topic]:
		if topic == "med_rem_startdate" {
			return s.setDateOnce(ctx, userID, "med_rem_startdate", timePoint)
		}
		return s.increment(ctx, userID, topic)

	case moduleTopics[topic]:
		if !moduleStatuses[value] {
			return fmt.Errorf("%w: %q for %s", ErrBadStatus, value, topic)
		}
		return s.setModule(ctx, userID, topic, value)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
}

// CountMedicationFire bumps med_rem_count. It is driven by the fire
// pipeline, not by Record: the assistant reports medication engagement
// (med_rem_yes, med_rem_remind) while the count of sent reminders is
// the scheduler's to keep.
func (s *Service) CountMedicationFire(ctx context.Context, userID string) error {
	return s.increment(ctx, userID, "med_rem_count")
}

// Topic/column names are validated against the closed sets above before
// they reach these statements.
func (s *Service) increment(ctx context.Context, userID, column string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracking SET `+column+` = `+column+` + 1 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("tracker: increment %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

func (s *Service) setDateOnce(ctx context.Context, userID, column, timePoint string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracking SET `+column+` = ? WHERE user_id = ? AND `+column+` = '0'`,
		timePoint, userID)
	if err != nil {
		return fmt.Errorf("tracker: set %s: %w", column, err)
	}
	return nil
}

func (s *Service) setModule(ctx context.Context, userID, column, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracking SET `+column+` = ? WHERE user_id = ?`, status, userID)
	if err != nil {
		return fmt.Errorf("tracker: set %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// Exists reports whether the user has a tracking row.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tracking WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tracker: exists %s: %w", userID, err)
	}
	return true, nil
}

// Get returns the full tracking row.
func (s *Service) Get(ctx context.Context, userID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, general_startdate, general_nickname,
		faq_question, faq_rephrase, faq_threshold,
		app_rem_startdate, app_rem_count,
		med_rem_startdate, med_rem_count, med_rem_yes, med_rem_remind,
		adherence, drug_use_storage, drugs_and_side_effects, sex_h
		FROM tracking WHERE user_id = ?`, userID)

	var (
		e                                  Entry
		nickname                           string
		faqQ, faqR, faqT                   int64
		appStart                           string
		appCount                           int64
		medStart                           string
		medCount, medYes, medRemind        int64
		adherence, drugUse, drugSide, sexH string
	)
	err := row.Scan(&e.UserID, &e.GeneralStartdate, &nickname,
		&faqQ, &faqR, &faqT, &appStart, &appCount,
		&medStart, &medCount, &medYes, &medRemind,
		&adherence, &drugUse, &drugSide, &sexH)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("tracker: get %s: %w", userID, err)
	}

	e.Nickname = nickname
	if s.box != nil && nickname != "" {
		plain, err := s.box.Open(nickname)
		if err != nil {
			// Row predates encryption or the key changed; surface the
			// stored value rather than failing the whole read.
			s.log.Warn("nickname decrypt failed", logx.String("user", userID), logx.Err(err))
		} else {
			e.Nickname = plain
		}
	}
	e.Counters = map[string]int64{
		"faq_question": faqQ, "faq_rephrase": faqR, "faq_threshold": faqT,
		"app_rem_count": appCount, "med_rem_count": medCount,
		"med_rem_yes": medYes, "med_rem_remind": medRemind,
	}
	e.StartDates = map[string]string{
		"app_rem_startdate": appStart,
		"med_rem_startdate": medStart,
	}
	e.Modules = map[string]string{
		"adherence": adherence, "drug_use_storage": drugUse,
		"drugs_and_side_effects": drugSide, "sex_h": sexH,
	}
	return e, nil
}

// Delete removes the user's tracking row.
func (s *Service) Delete(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracking WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("tracker: delete %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	s.log.Info("tracking entry deleted", logx.String("user", userID))
	return nil
}
