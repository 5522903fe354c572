package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *Ledger {
	return New(NewMemoryStore(), []byte("test-hmac-key"))
}

func TestAppendThenReconstructRoundTrip(t *testing.T) {
	ld := newTestLedger()
	ctx := context.Background()

	_, err := ld.Append(ctx, AppendRequest{
		EntityID:    "expense-1",
		EntityModel: "Expense",
		EventType:   EventCreated,
		Payload:     map[string]interface{}{"amount": 100.0, "status": "draft"},
		PerformedBy: "user-1",
	})
	require.NoError(t, err)

	_, err = ld.Append(ctx, AppendRequest{
		EntityID:    "expense-1",
		EntityModel: "Expense",
		EventType:   EventUpdated,
		Payload: map[string]interface{}{
			"status": map[string]interface{}{"old": "draft", "new": "approved"},
		},
		PerformedBy: "user-2",
	})
	require.NoError(t, err)

	state, err := ld.ReconstructState(ctx, "expense-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "approved", state["status"])
	assert.Equal(t, 100.0, state["amount"])
}

func TestDeterministicHashing(t *testing.T) {
	ld := newTestLedger()
	ctx := context.Background()

	_, err := ld.Append(ctx, AppendRequest{
		EntityID:    "e1",
		EntityModel: "X",
		EventType:   EventCreated,
		Payload:     map[string]interface{}{"b": 1.0, "a": 2.0},
	})
	require.NoError(t, err)

	result1, err := ld.AuditChain(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, result1.Valid)

	// Rewalking produces the same currentHash values (determinism:
	// hashing is stable under key-order permutations of payload JSON).
	entries, err := ld.store.List(ctx, "e1")
	require.NoError(t, err)
	firstHash := entries[0].CurrentHash

	result2, err := ld.AuditChain(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, result2.Valid)

	entries2, err := ld.store.List(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, firstHash, entries2[0].CurrentHash)
}

func TestTamperedPreviousHashDetectedByAuditChain(t *testing.T) {
	store := NewMemoryStore()
	ld := New(store, []byte("key"))
	ctx := context.Background()

	_, err := ld.Append(ctx, AppendRequest{EntityID: "e2", EntityModel: "X", EventType: EventCreated, Payload: map[string]interface{}{}})
	require.NoError(t, err)

	// Attempting to insert sequence 1 with a bogus previousHash directly
	// through the store (bypassing Append) still fails AuditChain offline.
	err = store.InsertIfNextSequence(ctx, Entry{
		Sequence:     1,
		EntityID:     "e2",
		EntityModel:  "X",
		EventType:    EventUpdated,
		Payload:      map[string]interface{}{},
		PreviousHash: "tampered",
		CurrentHash:  "whatever",
		Signature:    "whatever",
	})
	require.NoError(t, err)

	result, err := ld.AuditChain(ctx, "e2")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(1), result.BrokenAt)
}

func TestAuditChainDetectsTamperedPayload(t *testing.T) {
	store := NewMemoryStore()
	ld := New(store, []byte("key"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := ld.Append(ctx, AppendRequest{
			EntityID:    "e3",
			EntityModel: "X",
			EventType:   EventUpdated,
			Payload:     map[string]interface{}{"n": float64(i)},
		})
		require.NoError(t, err)
	}

	entries, err := store.List(ctx, "e3")
	require.NoError(t, err)
	entries[2].Payload["n"] = 999.0
	store.byID["e3"] = entries

	result, err := ld.AuditChain(ctx, "e3")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(2), result.BrokenAt)
	assert.Equal(t, "HASH_MISMATCH", result.Reason)
}

func TestReconstructStateFailsClosedOnBrokenChain(t *testing.T) {
	store := NewMemoryStore()
	ld := New(store, []byte("key"))
	ctx := context.Background()

	_, err := ld.Append(ctx, AppendRequest{EntityID: "e4", EntityModel: "X", EventType: EventCreated, Payload: map[string]interface{}{"a": 1.0}})
	require.NoError(t, err)

	entries, _ := store.List(ctx, "e4")
	entries[0].CurrentHash = "corrupted"
	store.byID["e4"] = entries

	_, err = ld.ReconstructState(ctx, "e4", nil)
	require.Error(t, err)
	var chainBroken *ChainBrokenError
	require.ErrorAs(t, err, &chainBroken)
}

func TestConcurrentAppendsSerializePerEntity(t *testing.T) {
	ld := newTestLedger()
	ctx := context.Background()
	const n = 50

	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := ld.Append(ctx, AppendRequest{
				EntityID:    "concurrent-1",
				EntityModel: "X",
				EventType:   EventUpdated,
				Payload:     map[string]interface{}{"tick": 1.0},
			})
			done <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	entries, err := ld.store.List(ctx, "concurrent-1")
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, int64(i), e.Sequence)
	}

	result, err := ld.AuditChain(ctx, "concurrent-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestLegalHoldRecordsAuditEntry(t *testing.T) {
	ld := newTestLedger()
	ctx := context.Background()

	_, err := ld.Append(ctx, AppendRequest{EntityID: "e5", EntityModel: "X", EventType: EventCreated, Payload: map[string]interface{}{}})
	require.NoError(t, err)

	_, err = ld.LegalHold(ctx, "e5", true, "litigation hold", "admin-1")
	require.NoError(t, err)

	status, err := ld.ChainStatus(ctx, "e5")
	require.NoError(t, err)
	assert.Equal(t, ChainLegalHold, status)

	entries, err := ld.store.List(ctx, "e5")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventCustom, entries[1].EventType)
}

func TestQueryFiltersByWorkspaceAndActor(t *testing.T) {
	ld := newTestLedger()
	ctx := context.Background()

	_, err := ld.Append(ctx, AppendRequest{EntityID: "e6", EntityModel: "X", EventType: EventCreated, Payload: map[string]interface{}{}, PerformedBy: "alice", WorkspaceID: "ws-1"})
	require.NoError(t, err)
	_, err = ld.Append(ctx, AppendRequest{EntityID: "e7", EntityModel: "X", EventType: EventCreated, Payload: map[string]interface{}{}, PerformedBy: "bob", WorkspaceID: "ws-2"})
	require.NoError(t, err)

	results, err := ld.Query(ctx, QueryFilters{WorkspaceID: "ws-1"}, Paging{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].PerformedBy)
}
