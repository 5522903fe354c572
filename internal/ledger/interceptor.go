package ledger

import (
	"context"
	"reflect"
)

// MutationInterceptor is the persistence-layer audit seam: an explicit
// interface any persistence implementation can call
// with (model, before, after, actor) on every create/update/delete,
// removing the ORM coupling. The Ledger is its sole implementor.
type MutationInterceptor interface {
	OnMutation(ctx context.Context, entityID, entityModel string, before, after map[string]interface{}, actor string) error
}

// OnMutation implements MutationInterceptor. It classifies the
// mutation from the before/after snapshots and appends the
// corresponding ledger entry:
//   - before == nil, after != nil  -> CREATED, payload is the full snapshot
//   - before != nil, after == nil  -> DELETED, payload is {_deleted: true}
//   - both present                -> UPDATED, payload is the field-level
//     delta ({field: {old, new}}) that reconstruction folds back in
//
// A mutation that produces no field-level change (before == after) is
// still recorded: callers of OnMutation are expected to call it once
// per persistence-layer write, and a no-op diff is itself meaningful
// audit signal (e.g. a no-op save that nonetheless touched the record).
func (ld *Ledger) OnMutation(ctx context.Context, entityID, entityModel string, before, after map[string]interface{}, actor string) error {
	switch {
	case before == nil && after != nil:
		_, err := ld.Append(ctx, AppendRequest{
			EntityID:    entityID,
			EntityModel: entityModel,
			EventType:   EventCreated,
			Payload:     after,
			PerformedBy: actor,
		})
		return err
	case before != nil && after == nil:
		_, err := ld.Append(ctx, AppendRequest{
			EntityID:    entityID,
			EntityModel: entityModel,
			EventType:   EventDeleted,
			Payload:     map[string]interface{}{"_deleted": true},
			PerformedBy: actor,
		})
		return err
	default:
		_, err := ld.Append(ctx, AppendRequest{
			EntityID:    entityID,
			EntityModel: entityModel,
			EventType:   EventUpdated,
			Payload:     diffFields(before, after),
			PerformedBy: actor,
		})
		return err
	}
}

// diffFields builds the {field: {old, new}} delta reconstruction
// expects for UPDATED payloads: one entry per field
// whose value differs between before and after (including fields
// added or removed entirely).
func diffFields(before, after map[string]interface{}) map[string]interface{} {
	delta := make(map[string]interface{})
	seen := make(map[string]bool, len(before)+len(after))

	for field, newVal := range after {
		seen[field] = true
		oldVal, existed := before[field]
		if !existed || !reflect.DeepEqual(oldVal, newVal) {
			delta[field] = map[string]interface{}{"old": oldVal, "new": newVal}
		}
	}
	for field, oldVal := range before {
		if seen[field] {
			continue
		}
		delta[field] = map[string]interface{}{"old": oldVal, "new": nil}
	}
	return delta
}
