package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore is the durable EntryStore, backed by the ledger_entries
// table applied by internal/platform/migrations, using sqlx
// named-parameter inserts.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an established *sqlx.DB connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type entryRow struct {
	EntityID       string         `db:"entity_id"`
	Sequence       int64          `db:"sequence"`
	EntityModel    string         `db:"entity_model"`
	EventType      string         `db:"event_type"`
	Payload        []byte         `db:"payload"`
	PerformedBy    sql.NullString `db:"performed_by"`
	OccurredAt     time.Time      `db:"occurred_at"`
	PreviousHash   string         `db:"previous_hash"`
	CurrentHash    string         `db:"current_hash"`
	Signature      string         `db:"signature"`
	WorkspaceID    sql.NullString `db:"workspace_id"`
	SessionID      sql.NullString `db:"session_id"`
	IPAddress      sql.NullString `db:"ip_address"`
	RequestID      sql.NullString `db:"request_id"`
	RiskLevel      sql.NullString `db:"risk_level"`
	ComplianceFlag sql.NullString `db:"compliance_flag"`
}

func (r entryRow) toEntry() (Entry, error) {
	var payload map[string]interface{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return Entry{}, err
		}
	}
	return Entry{
		EntityID:       r.EntityID,
		Sequence:       r.Sequence,
		EntityModel:    r.EntityModel,
		EventType:      EventType(r.EventType),
		Payload:        payload,
		PerformedBy:    r.PerformedBy.String,
		Timestamp:      r.OccurredAt.UTC(),
		PreviousHash:   r.PreviousHash,
		CurrentHash:    r.CurrentHash,
		Signature:      r.Signature,
		WorkspaceID:    r.WorkspaceID.String,
		SessionID:      r.SessionID.String,
		IPAddress:      r.IPAddress.String,
		RequestID:      r.RequestID.String,
		RiskLevel:      r.RiskLevel.String,
		ComplianceFlag: r.ComplianceFlag.String,
	}, nil
}

func (s *PostgresStore) Head(ctx context.Context, entityID string) (Entry, bool, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT entity_id, sequence, entity_model, event_type, payload, performed_by,
		       occurred_at, previous_hash, current_hash, signature,
		       workspace_id, session_id, ip_address, request_id, risk_level, compliance_flag
		FROM ledger_entries
		WHERE entity_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, entityID)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry, err := row.toEntry()
	return entry, true, err
}

// InsertIfNextSequence relies on the (entity_id, sequence) primary key
// to provide the compare-and-set: a concurrent writer racing for the
// same sequence number hits a unique-violation, which is surfaced as a
// SequenceConflictError for the caller to retry with a fresh head.
func (s *PostgresStore) InsertIfNextSequence(ctx context.Context, entry Entry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO ledger_entries (
			entity_id, sequence, entity_model, event_type, payload, performed_by,
			occurred_at, previous_hash, current_hash, signature,
			workspace_id, session_id, ip_address, request_id, risk_level, compliance_flag
		) VALUES (
			:entity_id, :sequence, :entity_model, :event_type, :payload, :performed_by,
			:occurred_at, :previous_hash, :current_hash, :signature,
			:workspace_id, :session_id, :ip_address, :request_id, :risk_level, :compliance_flag
		)
	`, map[string]interface{}{
		"entity_id":       entry.EntityID,
		"sequence":        entry.Sequence,
		"entity_model":    entry.EntityModel,
		"event_type":      string(entry.EventType),
		"payload":         payloadJSON,
		"performed_by":    nullableString(entry.PerformedBy),
		"occurred_at":     entry.Timestamp,
		"previous_hash":   entry.PreviousHash,
		"current_hash":    entry.CurrentHash,
		"signature":       entry.Signature,
		"workspace_id":    nullableString(entry.WorkspaceID),
		"session_id":      nullableString(entry.SessionID),
		"ip_address":      nullableString(entry.IPAddress),
		"request_id":      nullableString(entry.RequestID),
		"risk_level":      nullableString(entry.RiskLevel),
		"compliance_flag": nullableString(entry.ComplianceFlag),
	})
	if err != nil {
		if isUniqueViolation(err) {
			head, _, headErr := s.Head(ctx, entry.EntityID)
			expected := entry.Sequence
			if headErr == nil {
				expected = head.Sequence + 1
			}
			return &SequenceConflictError{EntityID: entry.EntityID, Expected: expected, Actual: entry.Sequence}
		}
		return err
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation matches Postgres SQLSTATE 23505 without importing
// the lib/pq error type directly, so callers using other pq-compatible
// drivers still get correct conflict detection.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}

func (s *PostgresStore) List(ctx context.Context, entityID string) ([]Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT entity_id, sequence, entity_model, event_type, payload, performed_by,
		       occurred_at, previous_hash, current_hash, signature,
		       workspace_id, session_id, ip_address, request_id, risk_level, compliance_flag
		FROM ledger_entries
		WHERE entity_id = $1
		ORDER BY sequence ASC
	`, entityID)
	if err != nil {
		return nil, err
	}
	return rowsToEntries(rows)
}

func (s *PostgresStore) Query(ctx context.Context, filters QueryFilters, paging Paging) ([]Entry, error) {
	query := `
		SELECT entity_id, sequence, entity_model, event_type, payload, performed_by,
		       occurred_at, previous_hash, current_hash, signature,
		       workspace_id, session_id, ip_address, request_id, risk_level, compliance_flag
		FROM ledger_entries
		WHERE 1=1
	`
	args := map[string]interface{}{}
	if filters.WorkspaceID != "" {
		query += " AND workspace_id = :workspace_id"
		args["workspace_id"] = filters.WorkspaceID
	}
	if filters.Actor != "" {
		query += " AND performed_by = :actor"
		args["actor"] = filters.Actor
	}
	if filters.SessionID != "" {
		query += " AND session_id = :session_id"
		args["session_id"] = filters.SessionID
	}
	if filters.IPAddress != "" {
		query += " AND ip_address = :ip_address"
		args["ip_address"] = filters.IPAddress
	}
	if filters.RequestID != "" {
		query += " AND request_id = :request_id"
		args["request_id"] = filters.RequestID
	}
	if filters.RiskLevel != "" {
		query += " AND risk_level = :risk_level"
		args["risk_level"] = filters.RiskLevel
	}
	if filters.ComplianceFlag != "" {
		query += " AND compliance_flag = :compliance_flag"
		args["compliance_flag"] = filters.ComplianceFlag
	}
	if !filters.From.IsZero() {
		query += " AND occurred_at >= :from_time"
		args["from_time"] = filters.From
	}
	if !filters.To.IsZero() {
		query += " AND occurred_at <= :to_time"
		args["to_time"] = filters.To
	}

	limit := paging.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := paging.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY occurred_at DESC, sequence DESC LIMIT :limit OFFSET :offset"
	args["limit"] = limit
	args["offset"] = offset

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var rows []entryRow
	if err := stmt.SelectContext(ctx, &rows, args); err != nil {
		return nil, err
	}
	return rowsToEntries(rows)
}

func rowsToEntries(rows []entryRow) ([]Entry, error) {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *PostgresStore) ChainStatus(ctx context.Context, entityID string) (ChainStatus, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM ledger_chain_status WHERE entity_id = $1`, entityID)
	if err == sql.ErrNoRows {
		return ChainOpen, nil
	}
	if err != nil {
		return "", err
	}
	return ChainStatus(status), nil
}

func (s *PostgresStore) SetChainStatus(ctx context.Context, entityID string, status ChainStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_chain_status (entity_id, status) VALUES ($1, $2)
		ON CONFLICT (entity_id) DO UPDATE SET status = EXCLUDED.status
	`, entityID, string(status))
	return err
}
