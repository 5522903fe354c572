// Package workspace models the tenant forest, the
// membership/role/permission graph, invites, and policies.
package workspace

import "time"

// Type enumerates the workspace kinds in the tenant forest.
type Type string

const (
	TypeCompany    Type = "company"
	TypeDepartment Type = "department"
	TypeTeam       Type = "team"
	TypeProject    Type = "project"
	TypeSandbox    Type = "sandbox"
)

// Status is the workspace lifecycle/circuit-breaker status.
type Status string

const (
	StatusActive             Status = "active"
	StatusArchived           Status = "archived"
	StatusSuspended          Status = "suspended"
	StatusFrozen             Status = "frozen"
	StatusComplianceFrozen   Status = "compliance-frozen"
)

// InheritanceSettings controls what a child workspace inherits from its parent.
type InheritanceSettings struct {
	InheritMembers    bool
	InheritRules      bool
	InheritCategories bool
	AllowOverrides    bool
}

// Workspace is a tenant container; a node in the forest of workspaces.
type Workspace struct {
	ID                   string
	ParentID             string
	Type                 Type
	Name                 string
	OwnerPrincipalID      string
	CacheEpoch           int64
	Status               Status
	InheritanceSettings  InheritanceSettings
	CreatedAt            time.Time
}

// MembershipStatus is the lifecycle of a (principal, workspace) pairing.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// Membership associates a Principal with a Workspace under a Role.
type Membership struct {
	PrincipalID      string
	WorkspaceID      string
	RoleID           string
	Status           MembershipStatus
	CustomGrants     []string
	RestrictedGrants []string
	JoinedAt         time.Time
	InvitedBy        string
}

// Role is a named capability bundle. InheritsFrom forms a DAG;
// resolution must terminate via a visited-set cycle guard.
type Role struct {
	ID            string
	WorkspaceID   string
	Name          string
	Permissions   []string // permission codes
	InheritsFrom  string   // role ID, empty if none
}

// ConditionKind is the sum-type discriminant for a Permission's attached condition.
type ConditionKind string

const (
	ConditionTimeWindow     ConditionKind = "time_window"
	ConditionGeoAllowlist   ConditionKind = "geo_allowlist"
	ConditionDeviceAllowlist ConditionKind = "device_allowlist"
	ConditionAmountLimit    ConditionKind = "amount_limit"
	ConditionCustomPredicate ConditionKind = "custom_predicate"
)

// Condition is a permission precondition evaluated against a request context.
type Condition struct {
	Kind ConditionKind

	// TimeWindow
	StartHour int
	EndHour   int

	// GeoAllowlist
	CountryAllowlist []string

	// DeviceAllowlist
	DeviceAllowlist []string

	// AmountLimit
	MaxAmount float64

	// CustomPredicate
	PredicateID string
}

// Permission is a capability, referenced by stable code (not id).
type Permission struct {
	Code        string
	Module      string
	Description string
	Actions     []string
	Conditions  []Condition
}

// InviteStatus is the lifecycle of a workspace invite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
	InviteRevoked  InviteStatus = "revoked"
)

// Invite is a pending or resolved workspace invitation. The plaintext
// token is revealed only once, at creation; TokenHash is the persisted
// form.
type Invite struct {
	ID          string
	WorkspaceID string
	Email       string
	RoleID      string
	TokenHash   string
	ExpiresAt   time.Time
	Status      InviteStatus
	ViewCount   int
	CreatedAt   time.Time
	Message     string
}

// EffectiveStatus resolves the invite's true status as of now, treating
// an unexpired pending invite as pending and an expired one as expired
// even if the persisted Status hasn't been swept yet. Boundary: an
// invite at exactly ExpiresAt is still valid (expiresAt - 1s valid,
// expiresAt + 1s expired).
func (i Invite) EffectiveStatus(now time.Time) InviteStatus {
	if i.Status == InvitePending && now.After(i.ExpiresAt) {
		return InviteExpired
	}
	return i.Status
}

// PolicyEffect is the outcome a Compliance policy rule produces.
type PolicyEffect string

const (
	EffectAllow  PolicyEffect = "ALLOW"
	EffectFlag   PolicyEffect = "FLAG"
	EffectDeny   PolicyEffect = "DENY"
	EffectFreeze PolicyEffect = "FREEZE"
)

// effectPriority ranks effects for tie-breaking: DENY > FREEZE > FLAG > ALLOW.
var effectPriority = map[PolicyEffect]int{
	EffectDeny:   4,
	EffectFreeze: 3,
	EffectFlag:   2,
	EffectAllow:  1,
}

// EffectPriority returns e's tie-break rank; higher wins.
func EffectPriority(e PolicyEffect) int {
	return effectPriority[e]
}

// SyncConflictStatus is the lifecycle of a captured optimistic-concurrency conflict.
type SyncConflictStatus string

const (
	SyncConflictOpen     SyncConflictStatus = "open"
	SyncConflictResolved SyncConflictStatus = "resolved"
	SyncConflictIgnored  SyncConflictStatus = "ignored"
)

// ResolutionStrategy is how a SyncConflict was or will be resolved.
type ResolutionStrategy string

const (
	ResolutionClientWins ResolutionStrategy = "client_wins"
	ResolutionServerWins ResolutionStrategy = "server_wins"
	ResolutionMerge      ResolutionStrategy = "merge"
	ResolutionManual     ResolutionStrategy = "manual"
)

// SyncConflict captures a collision between two vector-clock-ordered
// updates. It is owned by the mutation/versioning layer that performed
// the optimistic-concurrency write; the Ledger only records the
// eventual resolution as a CUSTOM audit entry.
type SyncConflict struct {
	TransactionID string
	BaseState     map[string]interface{}
	ServerState   map[string]interface{}
	ClientState   map[string]interface{}
	VectorClocks  map[string]int64
	Status        SyncConflictStatus
	Resolution    ResolutionStrategy
	CreatedAt     time.Time
}
