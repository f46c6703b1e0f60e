package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Queries runs the journal statements against a DB or a transaction.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const createActionsTable = `CREATE TABLE IF NOT EXISTS match_control_actions (
    id          uuid PRIMARY KEY,
    match_id    text        NOT NULL,
    action      text        NOT NULL,
    payload     jsonb,
    outcome     text        NOT NULL,
    message     text,
    created_at  timestamptz NOT NULL DEFAULT now()
)`

const createActionsIndex = `CREATE INDEX IF NOT EXISTS match_control_actions_match_id_idx
    ON match_control_actions (match_id, created_at DESC)`

func (q *Queries) CreateSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, createActionsTable); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, createActionsIndex)
	return err
}

type insertActionParams struct {
	ID        uuid.UUID
	MatchID   string
	Action    string
	Payload   pqtype.NullRawMessage
	Outcome   string
	Message   sql.NullString
	CreatedAt time.Time
}

const insertAction = `INSERT INTO match_control_actions (id, match_id, action, payload, outcome, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (q *Queries) InsertAction(ctx context.Context, arg insertActionParams) error {
	_, err := q.db.ExecContext(ctx, insertAction,
		arg.ID, arg.MatchID, arg.Action, arg.Payload, arg.Outcome, arg.Message, arg.CreatedAt)
	return err
}

type actionRow struct {
	ID        uuid.UUID
	MatchID   string
	Action    string
	Payload   pqtype.NullRawMessage
	Outcome   string
	Message   sql.NullString
	CreatedAt time.Time
}

const listActionsForMatch = `SELECT id, match_id, action, payload, outcome, message, created_at
FROM match_control_actions
WHERE match_id = $1
ORDER BY created_at DESC
LIMIT $2`

func (q *Queries) ListActionsForMatch(ctx context.Context, matchID string, limit int32) ([]actionRow, error) {
	rows, err := q.db.QueryContext(ctx, listActionsForMatch, matchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []actionRow
	for rows.Next() {
		var i actionRow
		if err := rows.Scan(&i.ID, &i.MatchID, &i.Action, &i.Payload, &i.Outcome, &i.Message, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
