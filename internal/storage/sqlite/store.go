// Package sqlite provides a SQLite-backed InteractionStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/storage"
)

// Store is a SQLite implementation of InteractionStore.
type Store struct {
	db *sql.DB
}

var _ storage.InteractionStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			protocol TEXT NOT NULL,
			model TEXT NOT NULL,
			session_id TEXT,
			streaming INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			stop_reason TEXT,
			pending_tool TEXT,
			duration_ns INTEGER,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			error_type TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_protocol ON interactions(protocol)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_status ON interactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) RecordInteraction(ctx context.Context, rec *storage.Interaction) error {
	if rec.ID == "" {
		return fmt.Errorf("interaction id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, protocol, model, session_id, streaming, status,
			stop_reason, pending_tool, duration_ns,
			input_tokens, output_tokens,
			error_type, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Protocol, rec.Model, rec.SessionID, boolToInt(rec.Streaming), rec.Status,
		rec.StopReason, rec.PendingTool, rec.DurationNS,
		rec.InputTokens, rec.OutputTokens,
		rec.ErrorType, rec.ErrorMessage, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (*storage.Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, protocol, model, session_id, streaming, status,
		       stop_reason, pending_tool, duration_ns,
		       input_tokens, output_tokens,
		       error_type, error_message, created_at
		FROM interactions WHERE id = ?`, id)

	rec, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("interaction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction: %w", err)
	}
	return rec, nil
}

func (s *Store) ListInteractions(ctx context.Context, opts storage.ListOptions) ([]*storage.Interaction, error) {
	var conds []string
	var args []any
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Protocol != "" {
		conds = append(conds, "protocol = ?")
		args = append(args, opts.Protocol)
	}

	query := `
		SELECT id, protocol, model, session_id, streaming, status,
		       stop_reason, pending_tool, duration_ns,
		       input_tokens, output_tokens,
		       error_type, error_message, created_at
		FROM interactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []*storage.Interaction
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*storage.Interaction, error) {
	var rec storage.Interaction
	var sessionID, stopReason, pendingTool, errType, errMsg sql.NullString
	var streaming int
	var durationNS sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.Protocol, &rec.Model, &sessionID, &streaming, &rec.Status,
		&stopReason, &pendingTool, &durationNS,
		&rec.InputTokens, &rec.OutputTokens,
		&errType, &errMsg, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SessionID = sessionID.String
	rec.StopReason = stopReason.String
	rec.PendingTool = pendingTool.String
	rec.DurationNS = durationNS.Int64
	rec.ErrorType = errType.String
	rec.ErrorMessage = errMsg.String
	rec.Streaming = streaming != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
