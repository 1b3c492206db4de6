package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxline-ai/voxline/pkg/core/call"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations. Run once at startup
// before accepting calls.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// PostgresFinalizer writes a call's final state to the call_sessions table.
// The insert is keyed on call_sid so a duplicate finalize is a no-op at the
// database too.
type PostgresFinalizer struct {
	pool *pgxpool.Pool
}

// NewPostgresFinalizer connects a pool to the given DSN.
func NewPostgresFinalizer(ctx context.Context, dsn string) (*PostgresFinalizer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresFinalizer{pool: pool}, nil
}

// finalRecord mirrors Session's JSON encoding so the snapshot is taken
// under the session lock via MarshalJSON.
type finalRecord struct {
	CallID     string           `json:"call_id"`
	Remote     string           `json:"remote"`
	Lead       call.LeadContext `json:"lead"`
	Stage      call.Stage       `json:"stage"`
	StartedAt  time.Time        `json:"started_at"`
	Transcript []call.Entry     `json:"transcript"`
	Collected  map[string]any   `json:"collected"`
	Outcome    call.Outcome     `json:"outcome"`
	Escalated  bool             `json:"escalated"`
}

func snapshotFinal(sess *call.Session) (finalRecord, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return finalRecord{}, err
	}
	var rec finalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return finalRecord{}, err
	}
	return rec, nil
}

func (f *PostgresFinalizer) PersistFinal(ctx context.Context, sess *call.Session) error {
	rec, err := snapshotFinal(sess)
	if err != nil {
		return fmt.Errorf("snapshot session %s: %w", sess.CallID, err)
	}
	lead, err := json.Marshal(rec.Lead)
	if err != nil {
		return fmt.Errorf("encode lead: %w", err)
	}
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	collected, err := json.Marshal(rec.Collected)
	if err != nil {
		return fmt.Errorf("encode collected fields: %w", err)
	}

	_, err = f.pool.Exec(ctx, `
		INSERT INTO call_sessions
			(call_sid, remote, lead, stage, outcome, escalated,
			 started_at, ended_at, transcript, collected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8, $9)
		ON CONFLICT (call_sid) DO NOTHING`,
		rec.CallID, rec.Remote, lead, string(rec.Stage),
		string(rec.Outcome), rec.Escalated, rec.StartedAt,
		transcript, collected,
	)
	if err != nil {
		return fmt.Errorf("persist call %s: %w", rec.CallID, err)
	}
	return nil
}

// Close releases the pool.
func (f *PostgresFinalizer) Close() { f.pool.Close() }

// LogFinalizer logs final state instead of persisting it. Used when no
// Postgres DSN is configured.
type LogFinalizer struct {
	Logger *slog.Logger
}

func (f *LogFinalizer) PersistFinal(ctx context.Context, sess *call.Session) error {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec, err := snapshotFinal(sess)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "call finalized",
		"call_sid", rec.CallID,
		"stage", rec.Stage,
		"outcome", rec.Outcome,
		"turns", len(rec.Transcript),
		"fields", len(rec.Collected),
		"escalated", rec.Escalated,
	)
	return nil
}
