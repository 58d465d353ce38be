package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"doccrawl/internal/config"
	"doccrawl/internal/crawl"
	"doccrawl/internal/extract"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	writeTimeout = 5 * time.Second
)

// Store persists crawl sessions and their pages. It implements
// crawl.Observer so a session can be mirrored as it runs.
type Store struct {
	DB     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is empty")
	}

	var driverName string
	switch cfg.Driver {
	case DriverPostgres:
		driverName = "pgx"
	case DriverSQLite, "":
		driverName = "sqlite"
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	st := New(db, cfg.Driver, logger)
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// New wraps an existing handle. driver is DriverPostgres or DriverSQLite.
func New(db *sql.DB, driver string, logger *slog.Logger) *Store {
	if driver == "" {
		driver = DriverSQLite
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{DB: db, driver: driver, logger: logger}
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	dialect := "sqlite3"
	if s.driver == DriverPostgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.DB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Observe mirrors a crawl event. Failures are logged and never stop the
// crawl.
func (s *Store) Observe(ev crawl.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.SaveSession(ctx, ev); err != nil {
		s.logger.Warn("persist crawl session failed", "session_id", ev.SessionID, "error", err)
		return
	}
	if ev.Page == nil {
		return
	}
	if err := s.SavePage(ctx, ev.SessionID, *ev.Page); err != nil {
		s.logger.Warn("persist crawl page failed", "session_id", ev.SessionID, "url", ev.Page.URL, "error", err)
	}
}

// SaveSession upserts the session row carried by ev.
func (s *Store) SaveSession(ctx context.Context, ev crawl.Event) error {
	q := s.rebind(`
	INSERT INTO crawl_sessions (
		id, seed_url, path_filter, max_pages, max_depth, mode, state, current_action,
		discovered, crawled, processed, failed, output_chars, started_at, finished_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		state = excluded.state,
		current_action = excluded.current_action,
		discovered = excluded.discovered,
		crawled = excluded.crawled,
		processed = excluded.processed,
		failed = excluded.failed,
		output_chars = excluded.output_chars,
		finished_at = excluded.finished_at,
		updated_at = excluded.updated_at`)

	_, err := s.DB.ExecContext(ctx, q,
		ev.SessionID,
		ev.Config.SeedURL,
		ev.Config.PathFilter,
		ev.Config.MaxPages,
		ev.Config.MaxDepth,
		string(ev.Config.Mode),
		string(ev.State),
		ev.Action,
		ev.Stats.Discovered,
		ev.Stats.Crawled,
		ev.Stats.Processed,
		ev.Stats.Failed,
		ev.Stats.OutputChars,
		toMillis(ev.StartedAt),
		nullMillis(ev.FinishedAt),
		toMillis(time.Now()),
	)
	return err
}

// SavePage upserts one page. New pages are numbered in arrival order so
// GetSnapshot can return them in discovery order.
func (s *Store) SavePage(ctx context.Context, sessionID string, p crawl.Page) error {
	links, err := json.Marshal(p.Links)
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	if p.Links == nil {
		links = []byte("[]")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT seq FROM crawl_pages WHERE session_id = ? AND url = ?`),
		sessionID, p.URL,
	).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT COALESCE(MAX(seq), -1) + 1 FROM crawl_pages WHERE session_id = ?`),
			sessionID,
		).Scan(&seq); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	var fetchedAt any
	if !p.Timestamp.IsZero() {
		fetchedAt = toMillis(p.Timestamp)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
	INSERT INTO crawl_pages (
		session_id, url, seq, title, raw_content, extracted_content, links, depth, status, error, fetched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id, url) DO UPDATE SET
		title = excluded.title,
		raw_content = excluded.raw_content,
		extracted_content = excluded.extracted_content,
		links = excluded.links,
		status = excluded.status,
		error = excluded.error,
		fetched_at = excluded.fetched_at`),
		sessionID, p.URL, seq, p.Title, p.RawContent, p.ExtractedContent, string(links),
		p.Depth, string(p.Status), p.Error, fetchedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const sessionColumns = `id, seed_url, path_filter, max_pages, max_depth, mode, state, current_action,
	discovered, crawled, processed, failed, output_chars, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (crawl.Snapshot, error) {
	var (
		snap       crawl.Snapshot
		mode       string
		state      string
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(
		&snap.ID, &snap.Config.SeedURL, &snap.Config.PathFilter, &snap.Config.MaxPages, &snap.Config.MaxDepth,
		&mode, &state, &snap.CurrentAction,
		&snap.Stats.Discovered, &snap.Stats.Crawled, &snap.Stats.Processed, &snap.Stats.Failed, &snap.Stats.OutputChars,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return crawl.Snapshot{}, err
	}
	snap.Config.Mode = extract.Mode(mode)
	snap.State = crawl.State(state)
	snap.StartedAt = fromMillis(startedAt)
	if finishedAt.Valid {
		t := fromMillis(finishedAt.Int64)
		snap.FinishedAt = &t
	}
	return snap, nil
}

// GetSnapshot loads a stored session with its pages in discovery order.
// Unknown ids return crawl.ErrSessionNotFound.
func (s *Store) GetSnapshot(ctx context.Context, id string) (crawl.Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM crawl_sessions WHERE id = ?`), id)
	snap, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawl.Snapshot{}, crawl.ErrSessionNotFound
	}
	if err != nil {
		return crawl.Snapshot{}, err
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(`
	SELECT url, title, raw_content, extracted_content, links, depth, status, error, fetched_at
	FROM crawl_pages WHERE session_id = ? ORDER BY seq`), id)
	if err != nil {
		return crawl.Snapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p         crawl.Page
			links     string
			status    string
			fetchedAt sql.NullInt64
		)
		if err := rows.Scan(&p.URL, &p.Title, &p.RawContent, &p.ExtractedContent, &links, &p.Depth, &status, &p.Error, &fetchedAt); err != nil {
			return crawl.Snapshot{}, err
		}
		if err := json.Unmarshal([]byte(links), &p.Links); err != nil {
			return crawl.Snapshot{}, fmt.Errorf("decode links for %s: %w", p.URL, err)
		}
		if len(p.Links) == 0 {
			p.Links = nil
		}
		p.Status = crawl.PageStatus(status)
		if fetchedAt.Valid {
			p.Timestamp = fromMillis(fetchedAt.Int64)
		}
		snap.Pages = append(snap.Pages, p)
	}
	return snap, rows.Err()
}

// ListSessions returns stored sessions without pages, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]crawl.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM crawl_sessions ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []crawl.Snapshot
	for rows.Next() {
		snap, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteSessionsBefore removes finished sessions that ended before cutoff,
// together with their pages. It returns the number of sessions deleted.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	ms := toMillis(cutoff)
	if _, err := tx.ExecContext(ctx, s.rebind(`
	DELETE FROM crawl_pages WHERE session_id IN (
		SELECT id FROM crawl_sessions WHERE finished_at IS NOT NULL AND finished_at < ?
	)`), ms); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM crawl_sessions WHERE finished_at IS NOT NULL AND finished_at < ?`), ms)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
