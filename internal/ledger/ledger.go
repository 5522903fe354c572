package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
)

// maxAppendRetries bounds how many insert attempts Append makes while it
// keeps losing the sequence race; after the last one the
// SequenceConflictError is returned to the caller.
const maxAppendRetries = 3

// Ledger is the immutable, hash-chained audit ledger. It is the sole
// constructor of Entry values; no other component may build one
// directly.
type Ledger struct {
	store EntryStore
	key   []byte

	entityLocksMu sync.Mutex
	entityLocks   map[string]*sync.Mutex

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger attaches a structured logger used for append failures and
// integrity breaches.
func WithLogger(l *logging.Logger) Option {
	return func(ld *Ledger) { ld.logger = l }
}

// WithMetrics attaches the shared Prometheus metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ld *Ledger) { ld.metrics = m }
}

// New constructs a Ledger backed by store, signing entries with key.
func New(store EntryStore, key []byte, opts ...Option) *Ledger {
	ld := &Ledger{
		store:       store,
		key:         key,
		entityLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

func (ld *Ledger) lockFor(entityID string) *sync.Mutex {
	ld.entityLocksMu.Lock()
	defer ld.entityLocksMu.Unlock()

	m, ok := ld.entityLocks[entityID]
	if !ok {
		m = &sync.Mutex{}
		ld.entityLocks[entityID] = m
	}
	return m
}

// Append atomically appends a new entry to entityID's chain. Appends to
// the same entityID are serialized by a per-entity lock; a
// SequenceConflictError from the store is retried with a fresh head, for
// at most maxAppendRetries attempts in all, before being surfaced to the
// caller.
func (ld *Ledger) Append(ctx context.Context, req AppendRequest) (Entry, error) {
	if req.EntityID == "" {
		return Entry{}, errors.New("ledger: entityId is required")
	}
	if req.EventType == "" {
		return Entry{}, errors.New("ledger: eventType is required")
	}

	lock := ld.lockFor(req.EntityID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		entry, err := ld.buildNextEntry(ctx, req)
		if err != nil {
			return Entry{}, err
		}

		if err := ld.store.InsertIfNextSequence(ctx, entry); err != nil {
			var conflict *SequenceConflictError
			if errors.As(err, &conflict) {
				lastErr = err
				continue
			}
			ld.recordAppendFailure(req.EntityModel, time.Since(started), err)
			return Entry{}, err
		}

		ld.recordAppendSuccess(req.EntityModel, time.Since(started))
		return entry, nil
	}

	ld.recordAppendFailure(req.EntityModel, time.Since(started), lastErr)
	return Entry{}, lastErr
}

func (ld *Ledger) buildNextEntry(ctx context.Context, req AppendRequest) (Entry, error) {
	head, hasHead, err := ld.store.Head(ctx, req.EntityID)
	if err != nil {
		return Entry{}, err
	}

	previousHash := ZeroHash
	sequence := int64(0)
	if hasHead {
		previousHash = head.CurrentHash
		sequence = head.Sequence + 1
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	canonical, err := canonicalPayload(payload)
	if err != nil {
		return Entry{}, err
	}

	timestamp := time.Now().UTC()
	timestampStr := timestamp.Format(time.RFC3339Nano)

	currentHash := computeHash(previousHash, canonical, sequence, timestampStr, req.EntityID, req.EventType)
	signature := sign(ld.key, currentHash)

	return Entry{
		Sequence:       sequence,
		EntityID:       req.EntityID,
		EntityModel:    req.EntityModel,
		EventType:      req.EventType,
		Payload:        payload,
		PerformedBy:    req.PerformedBy,
		Timestamp:      timestamp,
		PreviousHash:   previousHash,
		CurrentHash:    currentHash,
		Signature:      signature,
		WorkspaceID:    req.WorkspaceID,
		SessionID:      req.SessionID,
		IPAddress:      req.IPAddress,
		RequestID:      req.RequestID,
		RiskLevel:      req.RiskLevel,
		ComplianceFlag: req.ComplianceFlag,
	}, nil
}

func (ld *Ledger) recordAppendSuccess(entityModel string, elapsed time.Duration) {
	if ld.metrics != nil {
		ld.metrics.RecordLedgerAppend("ledger", entityModel, "success", elapsed)
	}
}

func (ld *Ledger) recordAppendFailure(entityModel string, elapsed time.Duration, err error) {
	if ld.metrics != nil {
		ld.metrics.RecordLedgerAppend("ledger", entityModel, "failure", elapsed)
	}
	if ld.logger != nil && err != nil {
		ld.logger.WithError(err).WithFields(map[string]interface{}{"entityModel": entityModel}).
			Error("ledger append failed")
	}
}

// Entries returns entityID's full chain in ascending sequence order, the
// data GET /ledger/{entityId} renders alongside AuditChain's verdict.
func (ld *Ledger) Entries(ctx context.Context, entityID string) ([]Entry, error) {
	return ld.store.List(ctx, entityID)
}

// AuditChain walks entityID's entries in sequence order, recomputing
// each hash and verifying linkage and signature. It returns the first
// break found, or Valid=true if the whole chain checks out.
func (ld *Ledger) AuditChain(ctx context.Context, entityID string) (IntegrityResult, error) {
	entries, err := ld.store.List(ctx, entityID)
	if err != nil {
		return IntegrityResult{}, err
	}

	return verifyChain(entries, ld.key), nil
}

func verifyChain(entries []Entry, key []byte) IntegrityResult {
	expectedPrevious := ZeroHash
	for i, entry := range entries {
		if entry.Sequence != int64(i) {
			return IntegrityResult{Valid: false, BrokenAt: entry.Sequence, Reason: "SEQUENCE_GAP"}
		}
		if entry.PreviousHash != expectedPrevious {
			return IntegrityResult{Valid: false, BrokenAt: entry.Sequence, Reason: "PREVIOUS_HASH_MISMATCH"}
		}

		canonical, err := canonicalPayload(entry.Payload)
		if err != nil {
			return IntegrityResult{Valid: false, BrokenAt: entry.Sequence, Reason: "PAYLOAD_ENCODING_ERROR"}
		}
		recomputed := computeHash(entry.PreviousHash, canonical, entry.Sequence, entry.Timestamp.Format(time.RFC3339Nano), entry.EntityID, entry.EventType)
		if recomputed != entry.CurrentHash {
			return IntegrityResult{Valid: false, BrokenAt: entry.Sequence, Reason: "HASH_MISMATCH"}
		}
		if !verifySignature(key, entry.CurrentHash, entry.Signature) {
			return IntegrityResult{Valid: false, BrokenAt: entry.Sequence, Reason: "SIGNATURE_MISMATCH"}
		}

		expectedPrevious = entry.CurrentHash
	}

	return IntegrityResult{Valid: true}
}

// ReconstructState folds entityID's entries into the entity's state as
// of atSequence (or the latest entry when atSequence is nil). It fails
// closed with a ChainBrokenError if integrity verification fails during
// the fold.
func (ld *Ledger) ReconstructState(ctx context.Context, entityID string, atSequence *int64) (map[string]interface{}, error) {
	entries, err := ld.store.List(ctx, entityID)
	if err != nil {
		return nil, err
	}

	result := verifyChain(entries, ld.key)
	if !result.Valid {
		return nil, &ChainBrokenError{EntityID: entityID, BrokenAt: result.BrokenAt, Reason: result.Reason}
	}

	state := make(map[string]interface{})
	for _, entry := range entries {
		if atSequence != nil && entry.Sequence > *atSequence {
			break
		}

		switch entry.EventType {
		case EventCreated:
			state = make(map[string]interface{}, len(entry.Payload))
			for k, v := range entry.Payload {
				state[k] = v
			}
		case EventUpdated:
			applyDelta(state, entry.Payload)
		case EventDeleted:
			state["_deleted"] = true
		case EventCustom:
			// Custom events (e.g. role-cycle detection, legal hold toggles)
			// are recorded but do not mutate reconstructed entity state.
		}
	}

	return state, nil
}

// applyDelta mutates state in place from a field-level patch map of the
// shape {field: {old, new}}.
func applyDelta(state map[string]interface{}, payload map[string]interface{}) {
	for field, raw := range payload {
		patch, ok := raw.(map[string]interface{})
		if !ok {
			state[field] = raw
			continue
		}
		if newVal, ok := patch["new"]; ok {
			state[field] = newVal
		}
	}
}

// Query supports forensic review across chains.
func (ld *Ledger) Query(ctx context.Context, filters QueryFilters, paging Paging) ([]Entry, error) {
	return ld.store.Query(ctx, filters, paging)
}

// LegalHold sets or clears a legal hold on entityID's chain and appends
// a CUSTOM audit entry recording the change. A chain under legal hold
// cannot be purged by retention sweeps.
func (ld *Ledger) LegalHold(ctx context.Context, entityID string, on bool, reason, actor string) (Entry, error) {
	status := ChainOpen
	if on {
		status = ChainLegalHold
	}
	if err := ld.store.SetChainStatus(ctx, entityID, status); err != nil {
		return Entry{}, err
	}

	return ld.Append(ctx, AppendRequest{
		EntityID:    entityID,
		EntityModel: "LegalHold",
		EventType:   EventCustom,
		PerformedBy: actor,
		Payload: map[string]interface{}{
			"legalHold": on,
			"reason":    reason,
		},
	})
}

// ChainStatus returns entityID's current chain status.
func (ld *Ledger) ChainStatus(ctx context.Context, entityID string) (ChainStatus, error) {
	return ld.store.ChainStatus(ctx, entityID)
}
