// Package history archives terminal task resolutions and exported log
// lines in a local SQLite database, and aggregates grab statistics from
// the archive.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ticketrush/coordinator/types"
)

//go:embed schema.sql
var schemaSQL string

const defaultLimit = 200

// Resolution is one archived terminal task outcome.
type Resolution struct {
	ID         string
	TaskID     string
	Kind       types.TaskKind
	Tag        types.ResultTag
	Success    bool
	Message    string
	Payload    string
	RecordedAt time.Time
}

// Stats aggregates archived grab outcomes.
type Stats struct {
	Attempts  int64
	Successes int64
	Failures  int64
}

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordResolution archives one terminal task outcome.
func (s *Store) RecordResolution(ctx context.Context, kind types.TaskKind, res types.TaskResult) error {
	if s == nil || s.db == nil {
		return nil
	}
	const q = `
INSERT INTO task_history (entry_id, task_id, kind, tag, success, message, payload, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(
		ctx,
		q,
		uuid.NewString(),
		res.TaskID,
		string(kind),
		string(res.Tag),
		boolInt(res.Success),
		res.Message,
		string(res.Payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record task resolution: %w", err)
	}
	return nil
}

// Resolutions lists archived outcomes for one task kind, oldest first.
func (s *Store) Resolutions(ctx context.Context, kind types.TaskKind, limit int) ([]Resolution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	const q = `
SELECT entry_id, task_id, kind, tag, success, message, payload, recorded_at
FROM task_history
WHERE kind = ?
ORDER BY recorded_at ASC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list task resolutions: %w", err)
	}
	defer rows.Close()

	out := make([]Resolution, 0, limit)
	for rows.Next() {
		var (
			r       Resolution
			kindRaw string
			tagRaw  string
			success int
			tsRaw   string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &kindRaw, &tagRaw, &success, &r.Message, &r.Payload, &tsRaw); err != nil {
			return nil, fmt.Errorf("failed to scan task resolution: %w", err)
		}
		r.Kind = types.TaskKind(kindRaw)
		r.Tag = types.ResultTag(tagRaw)
		r.Success = success != 0
		if ts, err := time.Parse(time.RFC3339Nano, tsRaw); err == nil {
			r.RecordedAt = ts
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task resolutions: %w", err)
	}
	return out, nil
}

// GrabStats aggregates archived grab outcomes, optionally bounded to
// entries recorded at or after since.
func (s *Store) GrabStats(ctx context.Context, since *time.Time) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, nil
	}
	where := "WHERE kind = ?"
	args := []any{string(types.TaskGrab)}
	if since != nil {
		where += " AND recorded_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}

	q := fmt.Sprintf(`
SELECT COUNT(*),
       COALESCE(SUM(success), 0),
       COALESCE(SUM(1 - success), 0)
FROM task_history %s;
`, where)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&stats.Attempts, &stats.Successes, &stats.Failures); err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate grab stats: %w", err)
	}
	return stats, nil
}

// ArchiveLogs stores exported log lines. Lines already archived are
// skipped, mirroring the ring buffer's content-based dedup.
func (s *Store) ArchiveLogs(ctx context.Context, lines []string) error {
	if s == nil || s.db == nil || len(lines) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin log archive tx: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO log_archive (line, archived_at) VALUES (?, ?);", line, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to archive log line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log archive: %w", err)
	}
	return nil
}

// ArchivedLogs returns archived lines, oldest first.
func (s *Store) ArchivedLogs(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT line FROM log_archive ORDER BY archived_at ASC, line ASC LIMIT ?;", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived logs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan archived log: %w", err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived logs: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
