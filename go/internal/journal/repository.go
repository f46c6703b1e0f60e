// Package journal records every control action attempted on a match.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sqlc-dev/pqtype"

	"github.com/socrefy/matchdesk/go/internal/sqlutil"
)

const defaultListLimit = 50

// MaxListLimit caps how many entries one listing returns.
const MaxListLimit = 500

// Outcome is how an attempted action ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
	// OutcomeRejected is an action refused locally because another was in flight.
	OutcomeRejected Outcome = "rejected"
)

// Entry is one journaled action.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	MatchID   string          `json:"match_id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Outcome   Outcome         `json:"outcome"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder stores journal entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) (*Entry, error)
	ListForMatch(ctx context.Context, matchID string, limit int) ([]Entry, error)
}

type Repository struct {
	db    *sql.DB
	clock clockwork.Clock
}

func NewRepository(db *sql.DB, clk clockwork.Clock) *Repository {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Repository{db: db, clock: clk}
}

// EnsureSchema creates the journal table and index if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *Queries { return NewQueries(tx) }, func(q *Queries) error {
		return q.CreateSchema(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record stores entry, assigning an id and timestamp when unset.
func (r *Repository) Record(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now().UTC()
	}

	err := NewQueries(r.db).InsertAction(ctx, insertActionParams{
		ID:        entry.ID,
		MatchID:   entry.MatchID,
		Action:    entry.Action,
		Payload:   pqtype.NullRawMessage{RawMessage: entry.Payload, Valid: len(entry.Payload) > 0},
		Outcome:   string(entry.Outcome),
		Message:   sqlutil.ToSqlString(nonEmpty(entry.Message)),
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record control action: %w", err)
	}
	return &entry, nil
}

// ListForMatch returns the latest entries for a match, newest first.
func (r *Repository) ListForMatch(ctx context.Context, matchID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, MaxListLimit)
	rows, err := NewQueries(r.db).ListActionsForMatch(ctx, matchID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list control actions: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, rowToEntry(row))
	}
	return entries, nil
}

func rowToEntry(row actionRow) Entry {
	entry := Entry{
		ID:        row.ID,
		MatchID:   row.MatchID,
		Action:    row.Action,
		Outcome:   Outcome(row.Outcome),
		Message:   sqlutil.FromSqlString(row.Message, ""),
		CreatedAt: row.CreatedAt,
	}
	if row.Payload.Valid {
		entry.Payload = row.Payload.RawMessage
	}
	return entry
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Nop is the recorder used when the journal is disabled.
type Nop struct{}

func (Nop) Record(_ context.Context, entry Entry) (*Entry, error) {
	return &entry, nil
}

func (Nop) ListForMatch(context.Context, string, int) ([]Entry, error) {
	return []Entry{}, nil
}
