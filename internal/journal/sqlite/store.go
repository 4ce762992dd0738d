package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"control_room/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	plan TEXT NOT NULL,
	seed TEXT NOT NULL,
	event_count INTEGER NOT NULL DEFAULT 0,
	last_tick_id INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	tick_id INTEGER NOT NULL DEFAULT 0,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq);
`

var ErrRunNotFound = errors.New("run not found in journal")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("journal: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("journal: cbor decoder: " + err.Error())
	}
}

type Run struct {
	ID         string    `json:"id"`
	Plan       string    `json:"plan"`
	Seed       string    `json:"seed"`
	EventCount int64     `json:"event_count"`
	LastTickID int64     `json:"last_tick_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Entry struct {
	Seq       int64            `json:"seq"`
	RunID     string           `json:"run_id"`
	Kind      domain.EventType `json:"kind"`
	TickID    int64            `json:"tick_id,omitempty"`
	Event     domain.Event     `json:"event"`
	CreatedAt time.Time        `json:"created_at"`
}

// Applier receives replayed events in journal order.
type Applier interface {
	ApplySnapshot(state domain.State)
	ApplyTick(patch domain.TickPatch)
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CreateRun registers a run. It reports false when the run already exists.
func (s *Store) CreateRun(ctx context.Context, run Run) (bool, error) {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO runs(id, plan, seed, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)`,
		run.ID, run.Plan, run.Seed, run.CreatedAt.Unix(), run.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("create run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create run rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, plan, seed, event_count, last_tick_id, created_at, updated_at
		FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, plan, seed, event_count, last_tick_id, created_at, updated_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

// AppendEvent stores ev under runID and returns its sequence number.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev domain.Event) (int64, error) {
	payload, err := encMode.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx append event: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Unix()
	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO events(run_id, kind, tick_id, payload, created_at)
		VALUES(?, ?, ?, ?, ?)`,
		runID, string(ev.Type), ev.TickID, payload, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event sequence: %w", err)
	}

	updated, err := tx.ExecContext(
		ctx,
		`UPDATE runs
		SET event_count = event_count + 1,
			last_tick_id = MAX(last_tick_id, ?),
			updated_at = ?
		WHERE id = ?`,
		ev.TickID, now, runID,
	)
	if err != nil {
		return 0, fmt.Errorf("touch run after append: %w", err)
	}
	if n, err := updated.RowsAffected(); err == nil && n == 0 {
		return 0, ErrRunNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append event: %w", err)
	}
	return seq, nil
}

// ListEvents returns events of a run in sequence order, starting after
// afterSeq.
func (s *Store) ListEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, run_id, kind, tick_id, payload, created_at
		FROM events
		WHERE run_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?`,
		runID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	result := make([]Entry, 0)
	for rows.Next() {
		var item Entry
		var kind string
		var payload []byte
		var createdAt int64
		if err := rows.Scan(&item.Seq, &item.RunID, &kind, &item.TickID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := decMode.Unmarshal(payload, &item.Event); err != nil {
			return nil, fmt.Errorf("decode event seq=%d: %w", item.Seq, err)
		}
		item.Kind = domain.EventType(kind)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

// Replay feeds every recorded event of a run to dst in journal order and
// returns how many were applied.
func (s *Store) Replay(ctx context.Context, runID string, dst Applier) (int, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return 0, err
	}
	const page = 500
	var after int64
	applied := 0
	for {
		entries, err := s.ListEvents(ctx, runID, after, page)
		if err != nil {
			return applied, err
		}
		for _, entry := range entries {
			switch entry.Event.Type {
			case domain.EventTypeSnapshot:
				if entry.Event.State == nil {
					continue
				}
				dst.ApplySnapshot(*entry.Event.State)
			case domain.EventTypeTick:
				dst.ApplyTick(entry.Event.Patch())
			default:
				continue
			}
			applied++
		}
		if len(entries) < page {
			return applied, nil
		}
		after = entries[len(entries)-1].Seq
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var created, updated int64
	if err := row.Scan(&run.ID, &run.Plan, &run.Seed, &run.EventCount, &run.LastTickID, &created, &updated); err != nil {
		return Run{}, err
	}
	run.CreatedAt = unixToTime(created)
	run.UpdatedAt = unixToTime(updated)
	return run, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
