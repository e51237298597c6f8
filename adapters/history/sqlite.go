package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

// SQLiteRepository stores workflow records in a local SQLite file
type SQLiteRepository struct {
	db         *sql.DB
	maxRecords int
	logger     *zap.Logger
}

// Ensure SQLiteRepository implements the HistoryRepository interface
var _ repositories.HistoryRepository = (*SQLiteRepository)(nil)

// OpenSQLite opens (and creates) the database at path
func OpenSQLite(ctx context.Context, path string, maxRecords int, logger *zap.Logger) (*SQLiteRepository, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &SQLiteRepository{db: db, maxRecords: maxRecords, logger: logger}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("Workflow history opened", zap.String("path", path))
	return r, nil
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    outcome TEXT NOT NULL,
    states TEXT NOT NULL,
    text TEXT,
    files TEXT,
    error_kind TEXT,
    error_message TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_workflows_started ON workflows(started_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *SQLiteRepository) Save(ctx context.Context, record *entities.WorkflowRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	states, err := json.Marshal(record.States)
	if err != nil {
		return fmt.Errorf("failed to encode states: %w", err)
	}
	files, err := json.Marshal(record.Files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO workflows(id, kind, outcome, states, text, files, error_kind, error_message, started_at, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET outcome=excluded.outcome, states=excluded.states, text=excluded.text,
		   files=excluded.files, error_kind=excluded.error_kind, error_message=excluded.error_message,
		   completed_at=excluded.completed_at`,
		record.ID, string(record.Kind), string(record.Outcome), string(states), record.Text, string(files),
		record.ErrorKind, record.ErrorMessage, formatTime(record.StartedAt), formatTime(record.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save workflow record: %w", err)
	}

	if err := r.prune(ctx); err != nil {
		r.logger.Warn("Workflow history prune failed", zap.Error(err))
	}
	return nil
}

// prune keeps the newest maxRecords rows
func (r *SQLiteRepository) prune(ctx context.Context) error {
	if r.maxRecords <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM workflows WHERE id NOT IN (
		   SELECT id FROM workflows ORDER BY started_at DESC LIMIT ?)`, r.maxRecords)
	return err
}

const selectColumns = `SELECT id, kind, outcome, states, text, files, error_kind, error_message, started_at, completed_at FROM workflows`

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*entities.WorkflowRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow record: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, repositories.ErrRecordNotFound
	}
	return records[0], nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*entities.WorkflowRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*entities.WorkflowRecord, error) {
	var records []*entities.WorkflowRecord
	for rows.Next() {
		var (
			record                       entities.WorkflowRecord
			kind, outcome, states        string
			text, files, errKind, errMsg sql.NullString
			started                      string
			completed                    sql.NullString
		)
		if err := rows.Scan(&record.ID, &kind, &outcome, &states, &text, &files, &errKind, &errMsg, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan workflow record: %w", err)
		}
		record.Kind = entities.WorkflowKind(kind)
		record.Outcome = entities.WorkflowOutcome(outcome)
		record.Text = text.String
		record.ErrorKind = errKind.String
		record.ErrorMessage = errMsg.String
		if err := json.Unmarshal([]byte(states), &record.States); err != nil {
			return nil, fmt.Errorf("failed to decode states: %w", err)
		}
		if files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &record.Files); err != nil {
				return nil, fmt.Errorf("failed to decode files: %w", err)
			}
		}
		record.StartedAt = parseTime(started)
		record.CompletedAt = parseTime(completed.String)
		records = append(records, &record)
	}
	return records, rows.Err()
}

// timeLayout is fixed width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if ts, err := time.Parse(timeLayout, s); err == nil {
		return ts
	}
	return time.Time{}
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}
