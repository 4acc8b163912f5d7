// Package postgres provides the Postgres-backed audit store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var allStatuses = []audit.Status{
	audit.StatusPending,
	audit.StatusInProgress,
	audit.StatusCompleted,
	audit.StatusPartial,
	audit.StatusFailed,
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// AuditStore implements audit.Store on a single table. Status changes are
// conditional on the stored prior state, so a terminal row is never rewritten.
type AuditStore struct {
	pool  pool
	table string
	clock audit.Clock
}

// NewAuditStore connects a pool using cfg.
func NewAuditStore(ctx context.Context, cfg Config) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewAuditStoreWithPool(p, cfg.Table, nil)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewAuditStoreWithPool builds a store from an existing pool (primarily for testing).
func NewAuditStoreWithPool(p pool, table string, c audit.Clock) (*AuditStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "audits"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if c == nil {
		c = clock.New()
	}
	return &AuditStore{pool: p, table: table, clock: c}, nil
}

// Close releases the underlying pool resources.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for the readiness endpoint.
func (s *AuditStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the audits table when it does not exist.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	sitemap_url   TEXT NOT NULL,
	status        TEXT NOT NULL,
	client_name   TEXT NOT NULL DEFAULT '',
	client_email  TEXT NOT NULL DEFAULT '',
	overall_score DOUBLE PRECISION,
	error_text    TEXT NOT NULL DEFAULT '',
	summary       JSONB,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_status_created_idx ON %[1]s (status, created_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateJob inserts a PENDING row.
func (s *AuditStore) CreateJob(ctx context.Context, job audit.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Status == "" {
		job.Status = audit.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, sitemap_url, status, client_name, client_email, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.SitemapURL,
		string(job.Status),
		job.ClientName,
		job.ClientEmail,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", audit.ErrJobExists, job.ID)
	}
	return nil
}

// UpdateStatus applies one lifecycle transition. The row only changes when its
// current status may legally move to status.
func (s *AuditStore) UpdateStatus(
	ctx context.Context,
	jobID string,
	status audit.Status,
	errText string,
	summary *audit.Summary,
) error {
	now := s.clock.Now()
	var startedAt, completedAt *time.Time
	if status == audit.StatusInProgress {
		startedAt = &now
	}
	if status.Terminal() {
		completedAt = &now
	}
	var summaryJSON []byte
	var score *float64
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summaryJSON = data
		score = summary.OverallScore
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	started_at = COALESCE(started_at, $4),
	completed_at = COALESCE($5, completed_at),
	summary = COALESCE($6::jsonb, summary),
	overall_score = CASE WHEN $6::jsonb IS NULL THEN overall_score ELSE $7 END
WHERE id = $1 AND status = ANY($8)`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		startedAt,
		completedAt,
		summaryJSON,
		score,
		priorStatuses(status),
	)
	if err != nil {
		return fmt.Errorf("update audit status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table), jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("read audit status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, current, status)
}

// GetJob loads one audit row including its summary.
func (s *AuditStore) GetJob(ctx context.Context, jobID string) (audit.Job, error) {
	query := fmt.Sprintf(`
SELECT id, sitemap_url, status, client_name, client_email, overall_score,
	error_text, summary, created_at, started_at, completed_at
FROM %s WHERE id = $1`, s.table)

	var (
		job         audit.Job
		status      string
		summaryJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.SitemapURL,
		&status,
		&job.ClientName,
		&job.ClientEmail,
		&job.OverallScore,
		&job.ErrorText,
		&summaryJSON,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Job{}, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	if err != nil {
		return audit.Job{}, fmt.Errorf("select audit: %w", err)
	}
	job.Status = audit.Status(status)
	if len(summaryJSON) > 0 {
		var summary audit.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return audit.Job{}, fmt.Errorf("decode summary: %w", err)
		}
		job.Summary = &summary
	}
	return job, nil
}

func priorStatuses(to audit.Status) []string {
	var out []string
	for _, from := range allStatuses {
		if audit.CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}
