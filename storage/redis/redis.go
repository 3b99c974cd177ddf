// Package redis provides a Redis implementation of the quotaledger store
// interfaces. Mutations that must not race across processes run as Lua
// scripts so the existence check and the write are one atomic step.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// Storage implements quotaledger.GrantStore, quotaledger.DeviceCounterStore,
// quotaledger.FreeAllowanceProvider, and quotaledger.AuditLogger using
// Redis.
//
// Layout: one hash per grant and per counter, a per-subject list fixing the
// store's natural grant order to creation order, and a sorted set of active
// grants scored by expiry for the sweep query.
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "quotaledger:").
	KeyPrefix string

	// AuditTrim caps the audit log list length, 0 keeps everything
	// (default: 10000).
	AuditTrim int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "quotaledger:",
		AuditTrim: 10000,
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "quotaledger:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts compiles the Lua scripts for atomic grant mutations.
func (s *Storage) loadScripts() {
	// Increment consumption only if the grant exists.
	s.scripts["increment"] = redis.NewScript(`
		local grantKey = KEYS[1]
		local delta = tonumber(ARGV[1])

		if redis.call('EXISTS', grantKey) == 0 then
			return redis.error_reply('NOTFOUND')
		end
		return redis.call('HINCRBY', grantKey, 'bytes_consumed', delta)
	`)

	// Retire a grant: flip the flag and drop it from the active-by-expiry
	// index in one step. Retiring an already-retired grant is a no-op.
	s.scripts["deactivate"] = redis.NewScript(`
		local grantKey = KEYS[1]
		local activeIdx = KEYS[2]
		local grantID = ARGV[1]

		if redis.call('EXISTS', grantKey) == 0 then
			return redis.error_reply('NOTFOUND')
		end
		redis.call('HSET', grantKey, 'active', 0)
		redis.call('ZREM', activeIdx, grantID)
		return 1
	`)

	// Zero consumption only if the grant exists.
	s.scripts["resetConsumed"] = redis.NewScript(`
		local grantKey = KEYS[1]

		if redis.call('EXISTS', grantKey) == 0 then
			return redis.error_reply('NOTFOUND')
		end
		redis.call('HSET', grantKey, 'bytes_consumed', 0)
		return 1
	`)

	// Zero a counter and move its anchor in one step.
	s.scripts["resetCounter"] = redis.NewScript(`
		local counterKey = KEYS[1]
		local anchor = ARGV[1]

		if redis.call('EXISTS', counterKey) == 0 then
			return redis.error_reply('NOTFOUND')
		end
		redis.call('HSET', counterKey, 'bytes_used', 0, 'billing_anchor', anchor)
		return 1
	`)
}

func isNotFound(err error) bool {
	return err != nil && err.Error() == "NOTFOUND"
}

func (s *Storage) grantKey(grantID string) string {
	return s.config.KeyPrefix + "grant:" + grantID
}

func (s *Storage) subjectGrantsKey(subjectID string) string {
	return s.config.KeyPrefix + "subject:" + subjectID + ":grants"
}

func (s *Storage) activeByExpiryKey() string {
	return s.config.KeyPrefix + "grants:active_by_expiry"
}

func (s *Storage) counterKey(counterID string) string {
	return s.config.KeyPrefix + "counter:" + counterID
}

func (s *Storage) counterIndexKey() string {
	return s.config.KeyPrefix + "counters"
}

func (s *Storage) allowanceKey(subjectID string) string {
	return s.config.KeyPrefix + "allowance:" + subjectID
}

func (s *Storage) auditKey() string {
	return s.config.KeyPrefix + "audit"
}

func grantToFields(g *quotaledger.QuotaGrant) map[string]interface{} {
	active := 0
	if g.Active {
		active = 1
	}
	return map[string]interface{}{
		"subject_id":        g.SubjectID,
		"tier":              g.Tier,
		"byte_limit":        g.ByteLimit,
		"bytes_consumed":    g.BytesConsumed,
		"granted_at":        g.GrantedAt.Time().UnixNano(),
		"expires_at":        g.ExpiresAt.Time().UnixNano(),
		"active":            active,
		"payment_reference": g.PaymentReference,
	}
}

func grantFromFields(grantID string, fields map[string]string) (*quotaledger.QuotaGrant, error) {
	if len(fields) == 0 {
		return nil, quotaledger.ErrGrantNotFound
	}

	byteLimit, err := strconv.ParseInt(fields["byte_limit"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt byte_limit for grant %s: %w", grantID, err)
	}
	consumed, err := strconv.ParseInt(fields["bytes_consumed"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt bytes_consumed for grant %s: %w", grantID, err)
	}
	grantedAt, err := strconv.ParseInt(fields["granted_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt granted_at for grant %s: %w", grantID, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt expires_at for grant %s: %w", grantID, err)
	}

	return &quotaledger.QuotaGrant{
		ID:               grantID,
		SubjectID:        fields["subject_id"],
		Tier:             fields["tier"],
		ByteLimit:        byteLimit,
		BytesConsumed:    consumed,
		GrantedAt:        quotaledger.At(time.Unix(0, grantedAt)),
		ExpiresAt:        quotaledger.At(time.Unix(0, expiresAt)),
		Active:           fields["active"] == "1",
		PaymentReference: fields["payment_reference"],
	}, nil
}

// Save implements quotaledger.GrantStore.
func (s *Storage) Save(ctx context.Context, grant *quotaledger.QuotaGrant) error {
	if grant == nil || grant.ID == "" || grant.SubjectID == "" {
		return fmt.Errorf("invalid grant")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.grantKey(grant.ID), grantToFields(grant))
	pipe.RPush(ctx, s.subjectGrantsKey(grant.SubjectID), grant.ID)
	if grant.Active {
		pipe.ZAdd(ctx, s.activeByExpiryKey(), redis.Z{
			Score:  float64(grant.ExpiresAt.Time().UnixNano()),
			Member: grant.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	return nil
}

// GetByID implements quotaledger.GrantStore.
func (s *Storage) GetByID(ctx context.Context, grantID string) (*quotaledger.QuotaGrant, error) {
	fields, err := s.client.HGetAll(ctx, s.grantKey(grantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return grantFromFields(grantID, fields)
}

// GetValidBySubject implements quotaledger.GrantStore. Grants come back in
// creation order.
func (s *Storage) GetValidBySubject(ctx context.Context, subjectID string, now quotaledger.Instant) ([]*quotaledger.QuotaGrant, error) {
	ids, err := s.client.LRange(ctx, s.subjectGrantsKey(subjectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subject grants: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.grantKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch grants: %w", err)
	}

	var out []*quotaledger.QuotaGrant
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			// Deleted grant still referenced by the list; skip it.
			continue
		}
		g, err := grantFromFields(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if g.Valid(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

// GetExpiredActive implements quotaledger.GrantStore, served from the
// active-by-expiry index.
func (s *Storage) GetExpiredActive(ctx context.Context, now quotaledger.Instant) ([]*quotaledger.QuotaGrant, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activeByExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Time().UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query expired grants: %w", err)
	}

	var out []*quotaledger.QuotaGrant
	for _, id := range ids {
		g, err := s.GetByID(ctx, id)
		if err == quotaledger.ErrGrantNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if g.Active && g.Expired(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

// IncrementConsumed implements quotaledger.GrantStore.
func (s *Storage) IncrementConsumed(ctx context.Context, grantID string, delta int64) error {
	if delta < 0 {
		return quotaledger.ErrInvalidAmount
	}

	err := s.scripts["increment"].Run(ctx, s.client,
		[]string{s.grantKey(grantID)}, delta).Err()
	if isNotFound(err) {
		return quotaledger.ErrGrantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to increment consumption: %w", err)
	}
	return nil
}

// Deactivate implements quotaledger.GrantStore.
func (s *Storage) Deactivate(ctx context.Context, grantID string) error {
	err := s.scripts["deactivate"].Run(ctx, s.client,
		[]string{s.grantKey(grantID), s.activeByExpiryKey()}, grantID).Err()
	if isNotFound(err) {
		return quotaledger.ErrGrantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to deactivate grant: %w", err)
	}
	return nil
}

// ResetConsumed implements quotaledger.GrantStore.
func (s *Storage) ResetConsumed(ctx context.Context, grantID string) error {
	err := s.scripts["resetConsumed"].Run(ctx, s.client,
		[]string{s.grantKey(grantID)}).Err()
	if isNotFound(err) {
		return quotaledger.ErrGrantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to reset consumption: %w", err)
	}
	return nil
}

// Delete implements quotaledger.GrantStore.
func (s *Storage) Delete(ctx context.Context, grantID string) error {
	g, err := s.GetByID(ctx, grantID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.grantKey(grantID))
	pipe.LRem(ctx, s.subjectGrantsKey(g.SubjectID), 0, grantID)
	pipe.ZRem(ctx, s.activeByExpiryKey(), grantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

// PutCounter stores or replaces a device counter.
func (s *Storage) PutCounter(ctx context.Context, counter *quotaledger.DeviceCounter) error {
	if counter == nil || counter.ID == "" {
		return fmt.Errorf("invalid counter")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.counterKey(counter.ID), map[string]interface{}{
		"subject_id":     counter.SubjectID,
		"bytes_used":     counter.BytesUsed,
		"byte_limit":     counter.ByteLimit,
		"billing_anchor": counter.BillingAnchor.Time().UnixNano(),
	})
	pipe.SAdd(ctx, s.counterIndexKey(), counter.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put counter: %w", err)
	}
	return nil
}

// GetAll implements quotaledger.DeviceCounterStore.
func (s *Storage) GetAll(ctx context.Context) ([]*quotaledger.DeviceCounter, error) {
	ids, err := s.client.SMembers(ctx, s.counterIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}

	var out []*quotaledger.DeviceCounter
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.counterKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch counter %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		used, err := strconv.ParseInt(fields["bytes_used"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt bytes_used for counter %s: %w", id, err)
		}
		limit, err := strconv.ParseInt(fields["byte_limit"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt byte_limit for counter %s: %w", id, err)
		}
		anchor, err := strconv.ParseInt(fields["billing_anchor"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt billing_anchor for counter %s: %w", id, err)
		}
		out = append(out, &quotaledger.DeviceCounter{
			ID:            id,
			SubjectID:     fields["subject_id"],
			BytesUsed:     used,
			ByteLimit:     limit,
			BillingAnchor: quotaledger.At(time.Unix(0, anchor)),
		})
	}
	return out, nil
}

// Reset implements quotaledger.DeviceCounterStore.
func (s *Storage) Reset(ctx context.Context, counterID string, now quotaledger.Instant) error {
	err := s.scripts["resetCounter"].Run(ctx, s.client,
		[]string{s.counterKey(counterID)}, now.Time().UnixNano()).Err()
	if isNotFound(err) {
		return quotaledger.ErrCounterNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// SetAllowance stores a subject's free allowance.
func (s *Storage) SetAllowance(ctx context.Context, allowance *quotaledger.FreeAllowance) error {
	if allowance == nil || allowance.SubjectID == "" {
		return fmt.Errorf("invalid allowance")
	}

	err := s.client.HSet(ctx, s.allowanceKey(allowance.SubjectID), map[string]interface{}{
		"byte_limit": allowance.ByteLimit,
		"bytes_used": allowance.BytesUsed,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return nil
}

// GetRemaining implements quotaledger.FreeAllowanceProvider.
func (s *Storage) GetRemaining(ctx context.Context, subjectID string) (int64, error) {
	fields, err := s.client.HGetAll(ctx, s.allowanceKey(subjectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get allowance: %w", err)
	}
	if len(fields) == 0 {
		return 0, nil
	}
	limit, err := strconv.ParseInt(fields["byte_limit"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt byte_limit for allowance %s: %w", subjectID, err)
	}
	used, err := strconv.ParseInt(fields["bytes_used"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt bytes_used for allowance %s: %w", subjectID, err)
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// LogAuditEntry implements quotaledger.AuditLogger, appending JSON entries
// to a capped list.
func (s *Storage) LogAuditEntry(ctx context.Context, entry *quotaledger.AuditEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("invalid audit entry")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.auditKey(), data)
	if s.config.AuditTrim > 0 {
		pipe.LTrim(ctx, s.auditKey(), -s.config.AuditTrim, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
