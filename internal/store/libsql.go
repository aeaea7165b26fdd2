package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// LibSQLJournal is a Journal on an embedded libSQL database.
type LibSQLJournal struct {
	db *sql.DB
}

// OpenLibSQL opens the database at dsn (a file URI such as
// "file:/var/lib/nodeflow/journal.db") and applies pending migrations.
func OpenLibSQL(ctx context.Context, dsn string) (*LibSQLJournal, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, storeError("open libsql", err)
	}
	// Writers serialize on one connection.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	} {
		var discard string
		_ = db.QueryRowContext(ctx, p).Scan(&discard)
	}

	j := &LibSQLJournal{db: db}
	if err := j.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *LibSQLJournal) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, j.db); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

func (j *LibSQLJournal) Vacuum(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "VACUUM"); err != nil {
		return storeError("vacuum", err)
	}
	return nil
}

func (j *LibSQLJournal) Close() error { return j.db.Close() }

// AppendEvent writes the event and keeps its run's summary row current, in
// one transaction.
func (j *LibSQLJournal) AppendEvent(ctx context.Context, e *schema.Event) error {
	if e == nil || e.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event needs a run id")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin append", err)
	}
	defer tx.Rollback()

	switch e.Type {
	case schema.EventFlowStarted:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (id, flow, status, entry_node, started_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			e.RunID, e.Flow, string(schema.RunStateRunning), nullStr(e.NodeID), ts)
	case schema.EventFlowCompleted:
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, last_node = ?, last_action = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
			string(schema.RunStateSucceeded), nullStr(e.NodeID), nullStr(string(e.Action)), e.DurationMs, ts, e.RunID)
	case schema.EventFlowFailed:
		code, msg := "", ""
		if e.Error != nil {
			code, msg = e.Error.Code, e.Error.Message
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, last_node = ?, error_code = ?, error_message = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
			string(schema.RunStateFailed), nullStr(e.NodeID), nullStr(code), nullStr(msg), e.DurationMs, ts, e.RunID)
	}
	if err != nil {
		return storeError("update run", err)
	}

	errJSON, err := nullJSON(e.Error)
	if err != nil {
		return storeError("marshal event error", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, sequence, type, node_id, action, attempt, item_index, duration_ms, error, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Sequence, e.Type, nullStr(e.NodeID), nullStr(string(e.Action)),
		nullInt(e.Attempt), nullIndex(e.ItemIndex), nullInt(int(e.DurationMs)), errJSON, nullRaw(e.Payload), ts)
	if err != nil {
		return storeError("insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit event", err)
	}
	return nil
}

const runColumns = `r.id, r.flow, r.status, r.entry_node, r.last_node, r.last_action, r.error_code, r.error_message,
	r.duration_ms, r.started_at, r.finished_at, (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)`

func (j *LibSQLJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, storeError("get run", err)
	}
	return run, nil
}

// ListRuns returns matching runs, newest first.
func (j *LibSQLJournal) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs r`
	var (
		where []string
		args  []any
	)
	if filter.Flow != "" {
		where = append(where, "r.flow = ?")
		args = append(args, filter.Flow)
	}
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, "r.started_at >= ?")
		args = append(args, filter.Since)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	query += fmt.Sprintf(" ORDER BY r.started_at DESC, r.id LIMIT %d", limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storeError("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list runs", err)
	}
	return runs, nil
}

// ListEvents returns a run's events in sequence order. An unknown run is
// NOT_FOUND.
func (j *LibSQLJournal) ListEvents(ctx context.Context, runID string) ([]*schema.Event, error) {
	var flowName string
	err := j.db.QueryRowContext(ctx, `SELECT flow FROM runs WHERE id = ?`, runID).Scan(&flowName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	if err != nil {
		return nil, storeError("get run", err)
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT sequence, type, node_id, action, attempt, item_index, duration_ms, error, payload, timestamp
		 FROM events WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, storeError("list events", err)
	}
	defer rows.Close()

	var events []*schema.Event
	for rows.Next() {
		e := &schema.Event{RunID: runID, Flow: flowName}
		var (
			nodeID, action, errJSON, payload sql.NullString
			attempt, itemIndex, duration     sql.NullInt64
		)
		if err := rows.Scan(&e.Sequence, &e.Type, &nodeID, &action, &attempt, &itemIndex, &duration, &errJSON, &payload, &e.Timestamp); err != nil {
			return nil, storeError("scan event", err)
		}
		e.NodeID = nodeID.String
		e.Action = schema.Action(action.String)
		e.Attempt = int(attempt.Int64)
		e.DurationMs = duration.Int64
		if itemIndex.Valid {
			i := int(itemIndex.Int64)
			e.ItemIndex = &i
		}
		if errJSON.Valid {
			e.Error = &schema.FlowError{}
			if err := json.Unmarshal([]byte(errJSON.String), e.Error); err != nil {
				return nil, storeError("unmarshal event error", err)
			}
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list events", err)
	}
	return events, nil
}

func (j *LibSQLJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin prune", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, storeError("prune events", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, storeError("prune runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("prune runs", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeError("commit prune", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	r := &Run{}
	var (
		status                               string
		entry, last, action, errCode, errMsg sql.NullString
		duration                             sql.NullInt64
		finished                             sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Flow, &status, &entry, &last, &action, &errCode, &errMsg,
		&duration, &r.StartedAt, &finished, &r.EventCount); err != nil {
		return nil, err
	}
	r.Status = schema.RunState(status)
	r.EntryNode = entry.String
	r.LastNode = last.String
	r.LastAction = action.String
	r.ErrorCode = errCode.String
	r.ErrorMessage = errMsg.String
	r.DurationMs = duration.Int64
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

// --- Helpers ---

func storeError(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err).WithCause(err)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullIndex(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func nullJSON(fe *schema.FlowError) (any, error) {
	if fe == nil {
		return nil, nil
	}
	b, err := json.Marshal(fe)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Journal = (*LibSQLJournal)(nil)
