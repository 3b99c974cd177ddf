// Package postgres provides a PostgreSQL implementation of the quotaledger
// store interfaces. Consumption increments run as single atomic UPDATEs, so
// concurrent charges from separate processes cannot lose updates.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// Storage implements quotaledger.GrantStore, quotaledger.DeviceCounterStore,
// quotaledger.FreeAllowanceProvider, and quotaledger.AuditLogger using
// PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// NewWithPool wraps an existing pool, for callers that manage their own
// connection lifecycle.
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool, config: DefaultConfig()}
}

// Close closes the connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist. The created_seq column
// fixes the store's natural grant order to creation order.
func (s *Storage) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quota_grants (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			byte_limit BIGINT NOT NULL,
			bytes_consumed BIGINT NOT NULL DEFAULT 0,
			granted_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			payment_reference TEXT NOT NULL DEFAULT '',
			created_seq BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quota_grants_subject
			ON quota_grants (subject_id, created_seq)`,
		`CREATE INDEX IF NOT EXISTS idx_quota_grants_expiry
			ON quota_grants (expires_at) WHERE active`,
		`CREATE TABLE IF NOT EXISTS device_counters (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			bytes_used BIGINT NOT NULL DEFAULT 0,
			byte_limit BIGINT NOT NULL DEFAULT 0,
			billing_anchor TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS free_allowances (
			subject_id TEXT PRIMARY KEY,
			byte_limit BIGINT NOT NULL DEFAULT 0,
			bytes_used BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS quota_audit_log (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL DEFAULT '',
			grant_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			bytes BIGINT NOT NULL DEFAULT 0,
			actor TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save implements quotaledger.GrantStore.
func (s *Storage) Save(ctx context.Context, grant *quotaledger.QuotaGrant) error {
	if grant == nil || grant.ID == "" || grant.SubjectID == "" {
		return fmt.Errorf("invalid grant")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_grants
			(id, subject_id, tier, byte_limit, bytes_consumed, granted_at, expires_at, active, payment_reference)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		grant.ID, grant.SubjectID, grant.Tier, grant.ByteLimit, grant.BytesConsumed,
		grant.GrantedAt.Time(), grant.ExpiresAt.Time(), grant.Active, grant.PaymentReference)
	if err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	return nil
}

const grantColumns = `id, subject_id, tier, byte_limit, bytes_consumed, granted_at, expires_at, active, payment_reference`

func scanGrant(row pgx.Row) (*quotaledger.QuotaGrant, error) {
	var g quotaledger.QuotaGrant
	var grantedAt, expiresAt time.Time
	err := row.Scan(&g.ID, &g.SubjectID, &g.Tier, &g.ByteLimit, &g.BytesConsumed,
		&grantedAt, &expiresAt, &g.Active, &g.PaymentReference)
	if err != nil {
		return nil, err
	}
	g.GrantedAt = quotaledger.At(grantedAt)
	g.ExpiresAt = quotaledger.At(expiresAt)
	return &g, nil
}

// GetByID implements quotaledger.GrantStore.
func (s *Storage) GetByID(ctx context.Context, grantID string) (*quotaledger.QuotaGrant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM quota_grants WHERE id = $1`, grantID)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quotaledger.ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// GetValidBySubject implements quotaledger.GrantStore. Grants come back in
// creation order.
func (s *Storage) GetValidBySubject(ctx context.Context, subjectID string, now quotaledger.Instant) ([]*quotaledger.QuotaGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM quota_grants
			WHERE subject_id = $1 AND active AND expires_at > $2
			ORDER BY created_seq`,
		subjectID, now.Time())
	if err != nil {
		return nil, fmt.Errorf("failed to query valid grants: %w", err)
	}
	defer rows.Close()

	var out []*quotaledger.QuotaGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetExpiredActive implements quotaledger.GrantStore.
func (s *Storage) GetExpiredActive(ctx context.Context, now quotaledger.Instant) ([]*quotaledger.QuotaGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+grantColumns+` FROM quota_grants
			WHERE active AND expires_at <= $1
			ORDER BY created_seq`,
		now.Time())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired grants: %w", err)
	}
	defer rows.Close()

	var out []*quotaledger.QuotaGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// IncrementConsumed implements quotaledger.GrantStore. The single UPDATE is
// atomic on the row, so concurrent increments add up correctly without an
// explicit transaction.
func (s *Storage) IncrementConsumed(ctx context.Context, grantID string, delta int64) error {
	if delta < 0 {
		return quotaledger.ErrInvalidAmount
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE quota_grants SET bytes_consumed = bytes_consumed + $2 WHERE id = $1`,
		grantID, delta)
	if err != nil {
		return fmt.Errorf("failed to increment consumption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quotaledger.ErrGrantNotFound
	}
	return nil
}

// Deactivate implements quotaledger.GrantStore. Deactivating an inactive
// grant is a no-op, so overlapping sweeps are safe.
func (s *Storage) Deactivate(ctx context.Context, grantID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quota_grants SET active = FALSE WHERE id = $1`, grantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quotaledger.ErrGrantNotFound
	}
	return nil
}

// ResetConsumed implements quotaledger.GrantStore.
func (s *Storage) ResetConsumed(ctx context.Context, grantID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quota_grants SET bytes_consumed = 0 WHERE id = $1`, grantID)
	if err != nil {
		return fmt.Errorf("failed to reset consumption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quotaledger.ErrGrantNotFound
	}
	return nil
}

// Delete implements quotaledger.GrantStore.
func (s *Storage) Delete(ctx context.Context, grantID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM quota_grants WHERE id = $1`, grantID)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quotaledger.ErrGrantNotFound
	}
	return nil
}

// PutCounter stores or replaces a device counter.
func (s *Storage) PutCounter(ctx context.Context, counter *quotaledger.DeviceCounter) error {
	if counter == nil || counter.ID == "" {
		return fmt.Errorf("invalid counter")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO device_counters (id, subject_id, bytes_used, byte_limit, billing_anchor)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				subject_id = EXCLUDED.subject_id,
				bytes_used = EXCLUDED.bytes_used,
				byte_limit = EXCLUDED.byte_limit,
				billing_anchor = EXCLUDED.billing_anchor`,
		counter.ID, counter.SubjectID, counter.BytesUsed, counter.ByteLimit,
		counter.BillingAnchor.Time())
	if err != nil {
		return fmt.Errorf("failed to put counter: %w", err)
	}
	return nil
}

// GetAll implements quotaledger.DeviceCounterStore.
func (s *Storage) GetAll(ctx context.Context) ([]*quotaledger.DeviceCounter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, bytes_used, byte_limit, billing_anchor
			FROM device_counters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer rows.Close()

	var out []*quotaledger.DeviceCounter
	for rows.Next() {
		var c quotaledger.DeviceCounter
		var anchor time.Time
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.BytesUsed, &c.ByteLimit, &anchor); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		c.BillingAnchor = quotaledger.At(anchor)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Reset implements quotaledger.DeviceCounterStore.
func (s *Storage) Reset(ctx context.Context, counterID string, now quotaledger.Instant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE device_counters SET bytes_used = 0, billing_anchor = $2 WHERE id = $1`,
		counterID, now.Time())
	if err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quotaledger.ErrCounterNotFound
	}
	return nil
}

// SetAllowance stores a subject's free allowance.
func (s *Storage) SetAllowance(ctx context.Context, allowance *quotaledger.FreeAllowance) error {
	if allowance == nil || allowance.SubjectID == "" {
		return fmt.Errorf("invalid allowance")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO free_allowances (subject_id, byte_limit, bytes_used)
			VALUES ($1, $2, $3)
			ON CONFLICT (subject_id) DO UPDATE SET
				byte_limit = EXCLUDED.byte_limit,
				bytes_used = EXCLUDED.bytes_used`,
		allowance.SubjectID, allowance.ByteLimit, allowance.BytesUsed)
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return nil
}

// GetRemaining implements quotaledger.FreeAllowanceProvider. Subjects
// without an allowance row report zero.
func (s *Storage) GetRemaining(ctx context.Context, subjectID string) (int64, error) {
	var remaining int64
	err := s.pool.QueryRow(ctx,
		`SELECT GREATEST(byte_limit - bytes_used, 0) FROM free_allowances WHERE subject_id = $1`,
		subjectID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get allowance: %w", err)
	}
	return remaining, nil
}

// LogAuditEntry implements quotaledger.AuditLogger.
func (s *Storage) LogAuditEntry(ctx context.Context, entry *quotaledger.AuditEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("invalid audit entry")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_audit_log (id, subject_id, grant_id, action, bytes, actor, reason, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SubjectID, entry.GrantID, entry.Action, entry.Bytes,
		entry.Actor, entry.Reason, entry.At.Time())
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}
