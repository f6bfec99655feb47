package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/jobtrack/internal/tracker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile is the database file name inside the data directory.
const DBFile = "jobtrack.db"

// Store is the local company state, kept in a single SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

var _ tracker.LocalState = (*Store)(nil)

// Open opens (or creates) the database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn, path string
	if dataDir == ":memory:" {
		dsn = ":memory:"
		path = dsn
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(dataDir, DBFile)
		// Every transaction takes the write lock up front, so two processes
		// running a reconcile cycle serialize instead of deadlocking on upgrade.
		dsn = "file:" + path + "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", classify(err))
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", classify(err))
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", classify(err))
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", classify(err))
	}

	return s, nil
}

func classify(err error) error {
	if isCorrupt(err) {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path, or ":memory:".
func (s *Store) Path() string {
	return s.path
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Transactions ---

// Update runs fn inside a single write transaction. The transaction commits
// only when fn returns nil; any error or panic rolls it back.
func (s *Store) Update(ctx context.Context, fn func(tx tracker.StateTx) error) error {
	return s.run(ctx, fn, true)
}

// View runs fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx tracker.StateTx) error) error {
	return s.run(ctx, fn, false)
}

func (s *Store) run(ctx context.Context, fn func(tx tracker.StateTx) error, commit bool) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", classify(err))
	}

	done := false
	defer func() {
		if done {
			return
		}
		sqlTx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	done = true
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tx is the read-write view of the store inside Update or View.
type Tx struct {
	tx *sql.Tx
}

// Get returns the record for name (case-insensitive, trimmed), or nil if
// none exists.
func (t *Tx) Get(ctx context.Context, name string) (*tracker.CompanyRecord, error) {
	key := tracker.Key(name)
	var r companyRow
	err := t.tx.QueryRowContext(ctx, `
		SELECT key, name, status, last_interaction_type, last_interaction_at, remote_ref, created_at, updated_at
		FROM companies WHERE key = ?`, key,
	).Scan(&r.key, &r.name, &r.status, &r.lastInteractionType, &r.lastInteractionAt, &r.remoteRef, &r.createdAt, &r.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading company %q: %w", name, classify(err))
	}

	notes, err := t.notes(ctx, "WHERE company_key = ?", key)
	if err != nil {
		return nil, err
	}
	rec, err := toRecord(r, notes[key])
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert replaces the company row for rec and inserts its notes that are not
// stored yet. Stored notes keep their text; only their synced flag can be
// raised. A remote ref, once stored, cannot be cleared or replaced.
func (t *Tx) Upsert(ctx context.Context, rec tracker.CompanyRecord) error {
	key := rec.Key()
	if key == "" {
		return fmt.Errorf("upserting company: %w", tracker.ErrMissingCompany)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("upserting company %q: invalid status %d", rec.Name, int(rec.Status))
	}

	var stored string
	err := t.tx.QueryRowContext(ctx, `SELECT remote_ref FROM companies WHERE key = ?`, key).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading remote ref for %q: %w", rec.Name, classify(err))
	}
	if stored != "" && stored != rec.RemoteRef {
		return fmt.Errorf("upserting company %q: %w (stored %s, got %q)", rec.Name, ErrRemoteRefChanged, stored, rec.RemoteRef)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO companies (key, name, status, last_interaction_type, last_interaction_at, remote_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			last_interaction_type = excluded.last_interaction_type,
			last_interaction_at = excluded.last_interaction_at,
			remote_ref = excluded.remote_ref,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		key, strings.TrimSpace(rec.Name), rec.Status.String(), string(rec.LastInteractionType),
		formatTime(rec.LastInteractionAt), rec.RemoteRef, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting company %q: %w", rec.Name, err)
	}

	for i, n := range rec.Notes {
		ignored := ""
		if n.IgnoredStatus != nil {
			ignored = n.IgnoredStatus.String()
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO notes (id, company_key, seq, at, source, text, company_guess, ignored_status, key_points, synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET synced = MAX(notes.synced, excluded.synced)`,
			n.ID, key, i, formatTime(n.At), string(n.Source), n.Text, n.CompanyGuess, ignored,
			strings.Join(n.KeyPoints, "\n"), n.Synced,
		)
		if err != nil {
			return fmt.Errorf("storing note %d for %q: %w", i, rec.Name, err)
		}
	}
	return nil
}

// List returns every record ordered by name.
func (t *Tx) List(ctx context.Context) ([]tracker.CompanyRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT key, name, status, last_interaction_type, last_interaction_at, remote_ref, created_at, updated_at
		FROM companies ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", classify(err))
	}
	var companies []companyRow
	for rows.Next() {
		var r companyRow
		if err := rows.Scan(&r.key, &r.name, &r.status, &r.lastInteractionType, &r.lastInteractionAt, &r.remoteRef, &r.createdAt, &r.updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning company: %w", err)
		}
		companies = append(companies, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	notes, err := t.notes(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]tracker.CompanyRecord, 0, len(companies))
	for _, r := range companies {
		rec, err := toRecord(r, notes[r.key])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// notes loads note rows grouped by company key, in append order.
func (t *Tx) notes(ctx context.Context, where string, args ...any) (map[string][]noteRow, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, company_key, seq, at, source, text, company_guess, ignored_status, key_points, synced
		FROM notes `+where+` ORDER BY company_key ASC, seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", classify(err))
	}
	defer rows.Close()

	out := make(map[string][]noteRow)
	for rows.Next() {
		var n noteRow
		if err := rows.Scan(&n.id, &n.companyKey, &n.seq, &n.at, &n.source, &n.text, &n.companyGuess, &n.ignoredStatus, &n.keyPoints, &n.synced); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		out[n.companyKey] = append(out[n.companyKey], n)
	}
	return out, rows.Err()
}

// --- Convenience reads ---

// Get returns the record for name or ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (tracker.CompanyRecord, error) {
	var rec *tracker.CompanyRecord
	err := s.View(ctx, func(tx tracker.StateTx) error {
		var err error
		rec, err = tx.Get(ctx, name)
		return err
	})
	if err != nil {
		return tracker.CompanyRecord{}, err
	}
	if rec == nil {
		return tracker.CompanyRecord{}, ErrNotFound
	}
	return *rec, nil
}

// List returns every record ordered by name.
func (s *Store) List(ctx context.Context) ([]tracker.CompanyRecord, error) {
	var out []tracker.CompanyRecord
	err := s.View(ctx, func(tx tracker.StateTx) error {
		var err error
		out, err = tx.List(ctx)
		return err
	})
	return out, err
}

// CountByStatus returns the number of companies in each status. Statuses with
// no companies are present with a zero count.
func (s *Store) CountByStatus(ctx context.Context) (map[tracker.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM companies GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting companies: %w", classify(err))
	}
	defer rows.Close()

	counts := make(map[tracker.Status]int, len(tracker.Statuses()))
	for _, st := range tracker.Statuses() {
		counts[st] = 0
	}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		st, err := tracker.ParseStatus(label)
		if err != nil {
			return nil, fmt.Errorf("%w: status %q", ErrCorruptState, label)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// --- Row conversion ---

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseSource(s string) (tracker.SourceKind, error) {
	switch k := tracker.SourceKind(s); k {
	case tracker.Call, tracker.Email, tracker.Manual:
		return k, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func toRecord(r companyRow, notes []noteRow) (tracker.CompanyRecord, error) {
	corrupt := func(field string, err error) error {
		return fmt.Errorf("%w: company %q: %s: %v", ErrCorruptState, r.key, field, err)
	}

	rec := tracker.CompanyRecord{Name: r.name, RemoteRef: r.remoteRef}
	var err error
	if rec.Status, err = tracker.ParseStatus(r.status); err != nil {
		return rec, corrupt("status", err)
	}
	if r.lastInteractionType != "" {
		if rec.LastInteractionType, err = parseSource(r.lastInteractionType); err != nil {
			return rec, corrupt("last_interaction_type", err)
		}
	}
	if rec.LastInteractionAt, err = parseTime(r.lastInteractionAt); err != nil {
		return rec, corrupt("last_interaction_at", err)
	}
	if rec.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return rec, corrupt("created_at", err)
	}
	if rec.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return rec, corrupt("updated_at", err)
	}

	for _, nr := range notes {
		n := tracker.Note{ID: nr.id, Text: nr.text, CompanyGuess: nr.companyGuess, Synced: nr.synced}
		if nr.keyPoints != "" {
			n.KeyPoints = strings.Split(nr.keyPoints, "\n")
		}
		if n.At, err = parseTime(nr.at); err != nil {
			return rec, corrupt("note "+nr.id, err)
		}
		if n.Source, err = parseSource(nr.source); err != nil {
			return rec, corrupt("note "+nr.id, err)
		}
		if nr.ignoredStatus != "" {
			st, err := tracker.ParseStatus(nr.ignoredStatus)
			if err != nil {
				return rec, corrupt("note "+nr.id, err)
			}
			n.IgnoredStatus = &st
		}
		rec.Notes = append(rec.Notes, n)
	}
	return rec, nil
}
