// Package ledger implements the immutable, hash-chained audit ledger:
// append-only entries per entity, integrity
// verification, and deterministic state reconstruction.
package ledger

import (
	"time"
)

// EventType classifies what happened to an entity.
type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
	EventCustom  EventType = "CUSTOM"
)

// ChainStatus is the per-chain state machine: OPEN -> LEGAL_HOLD <-> OPEN -> PURGED.
type ChainStatus string

const (
	ChainOpen       ChainStatus = "OPEN"
	ChainLegalHold  ChainStatus = "LEGAL_HOLD"
	ChainPurged     ChainStatus = "PURGED"
)

// ZeroHash is the previousHash of the first entry in any chain: 32
// zero bytes, hex-encoded.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// FieldPatch describes a single-field change for a field-level UPDATED delta.
type FieldPatch struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Entry is one immutable record in an entity's hash chain.
type Entry struct {
	Sequence     int64                  `json:"sequence"`
	EntityID     string                 `json:"entityId"`
	EntityModel  string                 `json:"entityModel"`
	EventType    EventType              `json:"eventType"`
	Payload      map[string]interface{} `json:"payload"`
	PerformedBy  string                 `json:"performedBy,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	PreviousHash string                 `json:"previousHash"`
	CurrentHash  string                 `json:"currentHash"`
	Signature    string                 `json:"signature"`

	// Forensic context, queryable via Query but excluded from hashing.
	WorkspaceID      string `json:"workspaceId,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`
	RequestID        string `json:"requestId,omitempty"`
	RiskLevel        string `json:"riskLevel,omitempty"`
	ComplianceFlag   string `json:"complianceFlag,omitempty"`
}

// AppendRequest is the input to Append.
type AppendRequest struct {
	EntityID    string
	EntityModel string
	EventType   EventType
	Payload     map[string]interface{}
	PerformedBy string

	WorkspaceID    string
	SessionID      string
	IPAddress      string
	RequestID      string
	RiskLevel      string
	ComplianceFlag string
}

// IntegrityResult is the outcome of AuditChain.
type IntegrityResult struct {
	Valid    bool
	BrokenAt int64
	Reason   string
}

// QueryFilters narrows Query results for forensic review.
type QueryFilters struct {
	WorkspaceID string
	Actor       string
	SessionID   string
	IPAddress   string
	RequestID   string
	RiskLevel   string
	ComplianceFlag string
	From        time.Time
	To          time.Time
}

// Paging is a simple offset/limit page request.
type Paging struct {
	Offset int
	Limit  int
}
