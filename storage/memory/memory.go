// Package memory provides an in-memory implementation of the quotaledger
// store interfaces. This implementation is primarily intended for testing
// and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

// Storage implements quotaledger.GrantStore, quotaledger.DeviceCounterStore,
// quotaledger.FreeAllowanceProvider, and quotaledger.AuditLogger using
// in-memory maps.
//
// Grants are held per subject in insertion order, which is therefore the
// allocation order the core observes.
type Storage struct {
	mu         sync.RWMutex
	grants     map[string]*quotaledger.QuotaGrant
	bySubject  map[string][]string
	counters   map[string]*quotaledger.DeviceCounter
	counterIDs []string
	allowances map[string]*quotaledger.FreeAllowance
	audit      []*quotaledger.AuditEntry
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		grants:     make(map[string]*quotaledger.QuotaGrant),
		bySubject:  make(map[string][]string),
		counters:   make(map[string]*quotaledger.DeviceCounter),
		allowances: make(map[string]*quotaledger.FreeAllowance),
	}
}

// Save implements quotaledger.GrantStore.
func (s *Storage) Save(ctx context.Context, grant *quotaledger.QuotaGrant) error {
	if grant == nil || grant.ID == "" || grant.SubjectID == "" {
		return fmt.Errorf("invalid grant")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[grant.ID]; !exists {
		s.bySubject[grant.SubjectID] = append(s.bySubject[grant.SubjectID], grant.ID)
	}
	// Store a copy to prevent external mutations.
	grantCopy := *grant
	s.grants[grant.ID] = &grantCopy
	return nil
}

// GetByID implements quotaledger.GrantStore.
func (s *Storage) GetByID(ctx context.Context, grantID string) (*quotaledger.QuotaGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[grantID]
	if !ok {
		return nil, quotaledger.ErrGrantNotFound
	}
	grantCopy := *g
	return &grantCopy, nil
}

// GetValidBySubject implements quotaledger.GrantStore. Grants come back in
// insertion order.
func (s *Storage) GetValidBySubject(ctx context.Context, subjectID string, now quotaledger.Instant) ([]*quotaledger.QuotaGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*quotaledger.QuotaGrant
	for _, id := range s.bySubject[subjectID] {
		g := s.grants[id]
		if !g.Valid(now) {
			continue
		}
		grantCopy := *g
		out = append(out, &grantCopy)
	}
	return out, nil
}

// GetExpiredActive implements quotaledger.GrantStore.
func (s *Storage) GetExpiredActive(ctx context.Context, now quotaledger.Instant) ([]*quotaledger.QuotaGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*quotaledger.QuotaGrant
	for _, subjectIDs := range s.bySubject {
		for _, id := range subjectIDs {
			g := s.grants[id]
			if g.Active && g.Expired(now) {
				grantCopy := *g
				out = append(out, &grantCopy)
			}
		}
	}
	return out, nil
}

// IncrementConsumed implements quotaledger.GrantStore. The mutex makes the
// read-modify-write atomic, matching the conditional-update requirement of
// the interface.
func (s *Storage) IncrementConsumed(ctx context.Context, grantID string, delta int64) error {
	if delta < 0 {
		return quotaledger.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok {
		return quotaledger.ErrGrantNotFound
	}
	g.BytesConsumed += delta
	return nil
}

// Deactivate implements quotaledger.GrantStore. Deactivating an inactive
// grant is a no-op, not an error.
func (s *Storage) Deactivate(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok {
		return quotaledger.ErrGrantNotFound
	}
	g.Active = false
	return nil
}

// ResetConsumed implements quotaledger.GrantStore.
func (s *Storage) ResetConsumed(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok {
		return quotaledger.ErrGrantNotFound
	}
	g.BytesConsumed = 0
	return nil
}

// Delete implements quotaledger.GrantStore.
func (s *Storage) Delete(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok {
		return quotaledger.ErrGrantNotFound
	}
	delete(s.grants, grantID)

	ids := s.bySubject[g.SubjectID]
	for i, id := range ids {
		if id == grantID {
			s.bySubject[g.SubjectID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// PutCounter stores a device counter, keeping insertion order for GetAll.
func (s *Storage) PutCounter(ctx context.Context, counter *quotaledger.DeviceCounter) error {
	if counter == nil || counter.ID == "" {
		return fmt.Errorf("invalid counter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.counters[counter.ID]; !exists {
		s.counterIDs = append(s.counterIDs, counter.ID)
	}
	counterCopy := *counter
	s.counters[counter.ID] = &counterCopy
	return nil
}

// GetCounter retrieves a device counter by ID.
func (s *Storage) GetCounter(ctx context.Context, counterID string) (*quotaledger.DeviceCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[counterID]
	if !ok {
		return nil, quotaledger.ErrCounterNotFound
	}
	counterCopy := *c
	return &counterCopy, nil
}

// GetAll implements quotaledger.DeviceCounterStore.
func (s *Storage) GetAll(ctx context.Context) ([]*quotaledger.DeviceCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*quotaledger.DeviceCounter, 0, len(s.counterIDs))
	for _, id := range s.counterIDs {
		counterCopy := *s.counters[id]
		out = append(out, &counterCopy)
	}
	return out, nil
}

// Reset implements quotaledger.DeviceCounterStore.
func (s *Storage) Reset(ctx context.Context, counterID string, now quotaledger.Instant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterID]
	if !ok {
		return quotaledger.ErrCounterNotFound
	}
	c.BytesUsed = 0
	c.BillingAnchor = now
	return nil
}

// AddDeviceUsage accumulates usage on a device counter, clamped at the
// device ceiling.
func (s *Storage) AddDeviceUsage(ctx context.Context, counterID string, delta int64) error {
	if delta < 0 {
		return quotaledger.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterID]
	if !ok {
		return quotaledger.ErrCounterNotFound
	}
	c.BytesUsed += delta
	if c.ByteLimit > 0 && c.BytesUsed > c.ByteLimit {
		c.BytesUsed = c.ByteLimit
	}
	return nil
}

// SetAllowance stores a subject's free allowance.
func (s *Storage) SetAllowance(ctx context.Context, allowance *quotaledger.FreeAllowance) error {
	if allowance == nil || allowance.SubjectID == "" {
		return fmt.Errorf("invalid allowance")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	allowanceCopy := *allowance
	s.allowances[allowance.SubjectID] = &allowanceCopy
	return nil
}

// GetRemaining implements quotaledger.FreeAllowanceProvider. A subject with
// no allowance record reports zero.
func (s *Storage) GetRemaining(ctx context.Context, subjectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.allowances[subjectID]
	if !ok {
		return 0, nil
	}
	return a.Remaining(), nil
}

// LogAuditEntry implements quotaledger.AuditLogger.
func (s *Storage) LogAuditEntry(ctx context.Context, entry *quotaledger.AuditEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("invalid audit entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	s.audit = append(s.audit, &entryCopy)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail in order.
func (s *Storage) AuditEntries() []*quotaledger.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*quotaledger.AuditEntry, 0, len(s.audit))
	for _, e := range s.audit {
		entryCopy := *e
		out = append(out, &entryCopy)
	}
	return out
}
