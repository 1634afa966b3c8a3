// Package audit records privileged settlement mutations with before/after
// snapshots. Entries are write-once: there is no update or delete path, and
// the postgres logger exposes an in-transaction insert so a mutation and its
// audit row commit or roll back together.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Entry is one write-once audit record.
type Entry struct {
	ID         int64           `json:"id"`
	ActorID    string          `json:"actorId"`
	ActorRole  string          `json:"actorRole"`
	Action     string          `json:"action"`
	TargetType string          `json:"targetType"`
	TargetID   string          `json:"targetId"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Snapshot serializes a domain object for a before/after pair. A nil input
// produces an empty JSON object so columns stay non-null.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Query filters for reading the trail.
type Query struct {
	ActorID    string
	TargetType string
	TargetID   string
	Action     string
	From, To   time.Time
	Limit      int
}

// Logger persists audit entries.
type Logger interface {
	Log(ctx context.Context, e *Entry) error
	Find(ctx context.Context, q Query) ([]*Entry, error)
}

// --- PostgresLogger ---

// PostgresLogger writes audit entries to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (l *PostgresLogger) Log(ctx context.Context, e *Entry) error {
	_, err := l.db.ExecContext(ctx, insertSQL,
		e.ActorID, e.ActorRole, e.Action, e.TargetType, e.TargetID,
		nonEmpty(e.Before), nonEmpty(e.After), e.RequestID)
	return err
}

const insertSQL = `
	INSERT INTO audit_log (actor_id, actor_role, action, target_type, target_id, before_state, after_state, request_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7::JSONB, $8, NOW())`

// InsertTx writes an audit entry inside the caller's transaction. Stores use
// this so escrow/ledger mutations and their audit rows are atomic.
func InsertTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	if e == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, insertSQL,
		e.ActorID, e.ActorRole, e.Action, e.TargetType, e.TargetID,
		nonEmpty(e.Before), nonEmpty(e.After), e.RequestID)
	return err
}

func nonEmpty(m json.RawMessage) string {
	if len(m) == 0 {
		return "{}"
	}
	return string(m)
}

func (l *PostgresLogger) Find(ctx context.Context, q Query) ([]*Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, actor_id, actor_role, action, target_type, target_id,
		before_state::TEXT, after_state::TEXT, COALESCE(request_id, ''), created_at
		FROM audit_log WHERE 1=1`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		query += cond + argN(len(args))
	}

	if q.ActorID != "" {
		add(" AND actor_id = ", q.ActorID)
	}
	if q.TargetType != "" {
		add(" AND target_type = ", q.TargetType)
	}
	if q.TargetID != "" {
		add(" AND target_id = ", q.TargetID)
	}
	if q.Action != "" {
		add(" AND action = ", q.Action)
	}
	if !q.From.IsZero() {
		add(" AND created_at >= ", q.From)
	}
	if !q.To.IsZero() {
		add(" AND created_at <= ", q.To)
	}
	add(" ORDER BY created_at DESC LIMIT ", limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var before, after string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.TargetType,
			&e.TargetID, &before, &after, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Before = json.RawMessage(before)
		e.After = json.RawMessage(after)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func argN(n int) string {
	return "$" + strconv.Itoa(n)
}

// --- MemoryLog ---

// MemoryLog stores audit entries in memory for dev mode and tests.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewMemoryLog creates an in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Log(_ context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(e)
	return nil
}

// Append records an entry while the caller already holds whatever lock
// guards the mutation being audited (memory-store equivalent of InsertTx).
func (l *MemoryLog) Append(e *Entry) {
	if e == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(e)
}

func (l *MemoryLog) append(e *Entry) {
	l.nextID++
	cp := *e
	cp.ID = l.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	l.entries = append(l.entries, &cp)
}

func (l *MemoryLog) Find(_ context.Context, q Query) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var result []*Entry
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := l.entries[i]
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if q.TargetType != "" && e.TargetType != q.TargetType {
			continue
		}
		if q.TargetID != "" && e.TargetID != q.TargetID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.CreatedAt.After(q.To) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Entries returns all stored entries (for testing).
func (l *MemoryLog) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
