// Package audit keeps an append-only log of session revisions and completed
// calculations in SQLite. Each revision stores the JSON patch from the
// previous record, so any revision of a session can be rebuilt by replaying
// its patches in order.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"hsa-planner/internal/jsonpatch"
	"hsa-planner/internal/model"
	"hsa-planner/internal/session"
)

var ErrNoRevisions = errors.New("no revisions recorded for session")

const schema = `
CREATE TABLE IF NOT EXISTS revisions (
	session_id    TEXT NOT NULL,
	revision      INTEGER NOT NULL,
	stage         TEXT NOT NULL,
	patch         TEXT NOT NULL,
	reverse_patch TEXT NOT NULL,
	recorded_at   TEXT NOT NULL,
	PRIMARY KEY (session_id, revision)
);

CREATE TABLE IF NOT EXISTS calculations (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL DEFAULT '',
	revision      INTEGER NOT NULL DEFAULT 0,
	tax_year      INTEGER NOT NULL,
	method        TEXT NOT NULL,
	total_allowed TEXT NOT NULL,
	remaining     TEXT NOT NULL,
	result        TEXT NOT NULL,
	recorded_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calculations_session ON calculations(session_id, revision);
`

// Log is the SQLite-backed audit log. It implements session.Recorder.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path, creating its directory and
// schema as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	return &Log{db: db, now: time.Now}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// RecordRevision appends one session revision, and its calculation when the
// revision produced one, in a single transaction.
func (l *Log) RecordRevision(ctx context.Context, rev session.Revision) error {
	at := rev.RecordedAt
	if at.IsZero() {
		at = l.now()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO revisions (session_id, revision, stage, patch, reverse_patch, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rev.SessionID, int64(rev.Revision), string(rev.Stage), string(rev.Patch), string(rev.ReversePatch), formatTime(at))
	if err != nil {
		return fmt.Errorf("insert revision %s/%d: %w", rev.SessionID, rev.Revision, err)
	}

	if rev.Result != nil {
		if err := insertCalculation(ctx, tx, rev.SessionID, rev.Revision, *rev.Result, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordCalculation appends a calculation made outside any session, such as
// a direct API call. sessionID may be empty.
func (l *Log) RecordCalculation(ctx context.Context, sessionID string, res model.LimitCalculationResult) error {
	return insertCalculation(ctx, l.db, sessionID, 0, res, l.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCalculation(ctx context.Context, db execer, sessionID string, revision uint64, res model.LimitCalculationResult, at time.Time) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode calculation: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO calculations (id, session_id, revision, tax_year, method, total_allowed, remaining, result, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, int64(revision), res.TaxYear, string(res.Method),
		res.TotalAllowed.StringFixed(2), res.RemainingContribution.StringFixed(2), string(data), formatTime(at))
	if err != nil {
		return fmt.Errorf("insert calculation: %w", err)
	}
	return nil
}

type RevisionEntry struct {
	SessionID    string          `json:"session_id"`
	Revision     uint64          `json:"revision"`
	Stage        model.Stage     `json:"stage"`
	Patch        json.RawMessage `json:"patch"`
	ReversePatch json.RawMessage `json:"reverse_patch"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

type CalculationEntry struct {
	ID         string                       `json:"id"`
	SessionID  string                       `json:"session_id,omitempty"`
	Revision   uint64                       `json:"revision,omitempty"`
	Result     model.LimitCalculationResult `json:"result"`
	RecordedAt time.Time                    `json:"recorded_at"`
}

// Revisions lists a session's revisions in order.
func (l *Log) Revisions(ctx context.Context, sessionID string) ([]RevisionEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, revision, stage, patch, reverse_patch, recorded_at FROM revisions WHERE session_id = ? ORDER BY revision`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var out []RevisionEntry
	for rows.Next() {
		var (
			e             RevisionEntry
			rev           int64
			stage         string
			fwd, bwd, raw string
		)
		if err := rows.Scan(&e.SessionID, &rev, &stage, &fwd, &bwd, &raw); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		e.Revision = uint64(rev)
		e.Stage = model.Stage(stage)
		e.Patch = json.RawMessage(fwd)
		e.ReversePatch = json.RawMessage(bwd)
		if e.RecordedAt, err = parseTime(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Calculations lists the calculations recorded for a session, oldest first.
func (l *Log) Calculations(ctx context.Context, sessionID string) ([]CalculationEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, revision, result, recorded_at FROM calculations WHERE session_id = ? ORDER BY recorded_at, revision`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query calculations: %w", err)
	}
	defer rows.Close()

	var out []CalculationEntry
	for rows.Next() {
		var (
			e         CalculationEntry
			rev       int64
			data, raw string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &rev, &data, &raw); err != nil {
			return nil, fmt.Errorf("scan calculation: %w", err)
		}
		e.Revision = uint64(rev)
		if err := json.Unmarshal([]byte(data), &e.Result); err != nil {
			return nil, fmt.Errorf("decode calculation %s: %w", e.ID, err)
		}
		if e.RecordedAt, err = parseTime(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Replay rebuilds the session as it was at revision upTo by applying the
// recorded patches in order. upTo of zero replays every revision.
func (l *Log) Replay(ctx context.Context, sessionID string, upTo uint64) (model.ConversationState, error) {
	revs, err := l.Revisions(ctx, sessionID)
	if err != nil {
		return model.ConversationState{}, err
	}
	if len(revs) == 0 {
		return model.ConversationState{}, fmt.Errorf("%w: %s", ErrNoRevisions, sessionID)
	}

	var doc []byte
	for _, r := range revs {
		if upTo != 0 && r.Revision > upTo {
			break
		}
		if doc, err = jsonpatch.ApplyJSON(doc, r.Patch); err != nil {
			return model.ConversationState{}, fmt.Errorf("replay revision %d: %w", r.Revision, err)
		}
	}
	if doc == nil {
		return model.ConversationState{}, fmt.Errorf("%w: %s at revision %d", ErrNoRevisions, sessionID, upTo)
	}
	return session.Decode(doc)
}

// timeLayout has fixed width so recorded_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse recorded_at %q: %w", s, err)
	}
	return t, nil
}
