package ledger

import (
	"context"
	"sort"
	"sync"
)

// EntryStore is the persistence seam for ledger entries. Hashing and
// chain logic never touch SQL directly; they only see this interface,
// satisfied by MemoryStore (tests) and the postgres store (production).
type EntryStore interface {
	// Head returns the highest-sequence entry for entityID, or ok=false
	// if the chain is empty.
	Head(ctx context.Context, entityID string) (Entry, bool, error)
	// InsertIfNextSequence atomically appends entry if entry.Sequence is
	// exactly one past the current head; otherwise returns a *SequenceConflictError.
	InsertIfNextSequence(ctx context.Context, entry Entry) error
	// List returns all entries for entityID in ascending sequence order.
	List(ctx context.Context, entityID string) ([]Entry, error)
	// Query returns entries matching filters, newest first, paged.
	Query(ctx context.Context, filters QueryFilters, paging Paging) ([]Entry, error)
	// ChainStatus returns the current status of entityID's chain.
	ChainStatus(ctx context.Context, entityID string) (ChainStatus, error)
	// SetChainStatus transitions entityID's chain status.
	SetChainStatus(ctx context.Context, entityID string, status ChainStatus) error
}

// MemoryStore is an in-process EntryStore, used by tests and as a
// development fallback when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string][]Entry
	status  map[string]ChainStatus
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string][]Entry),
		status: make(map[string]ChainStatus),
	}
}

func (s *MemoryStore) Head(_ context.Context, entityID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byID[entityID]
	if len(chain) == 0 {
		return Entry{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (s *MemoryStore) InsertIfNextSequence(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byID[entry.EntityID]
	expected := int64(0)
	if len(chain) > 0 {
		expected = chain[len(chain)-1].Sequence + 1
	}
	if entry.Sequence != expected {
		return &SequenceConflictError{EntityID: entry.EntityID, Expected: expected, Actual: entry.Sequence}
	}
	s.byID[entry.EntityID] = append(chain, entry)
	if _, ok := s.status[entry.EntityID]; !ok {
		s.status[entry.EntityID] = ChainOpen
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, entityID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byID[entityID]
	out := make([]Entry, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *MemoryStore) Query(_ context.Context, filters QueryFilters, paging Paging) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Entry
	for _, chain := range s.byID {
		for _, e := range chain {
			if matchesFilters(e, filters) {
				all = append(all, e)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Sequence > all[j].Sequence
		}
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	return paginate(all, paging), nil
}

func matchesFilters(e Entry, f QueryFilters) bool {
	if f.WorkspaceID != "" && e.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.Actor != "" && e.PerformedBy != f.Actor {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.ComplianceFlag != "" && e.ComplianceFlag != f.ComplianceFlag {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

func paginate(entries []Entry, paging Paging) []Entry {
	limit := paging.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := paging.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func (s *MemoryStore) ChainStatus(_ context.Context, entityID string) (ChainStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.status[entityID]; ok {
		return st, nil
	}
	return ChainOpen, nil
}

func (s *MemoryStore) SetChainStatus(_ context.Context, entityID string, status ChainStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status[entityID] = status
	return nil
}
