package workspace

import (
	"context"
	"sync"
)

// Store is the persistence seam for the workspace/RBAC graph.
type Store interface {
	GetWorkspace(ctx context.Context, id string) (Workspace, bool, error)
	PutWorkspace(ctx context.Context, w Workspace) error
	ListAllWorkspaceIDs(ctx context.Context) ([]string, error)

	GetMembership(ctx context.Context, principalID, workspaceID string) (Membership, bool, error)
	PutMembership(ctx context.Context, m Membership) error
	ListMemberships(ctx context.Context, workspaceID string) ([]Membership, error)

	GetRole(ctx context.Context, id string) (Role, bool, error)
	PutRole(ctx context.Context, r Role) error

	GetPermission(ctx context.Context, code string) (Permission, bool, error)
	PutPermission(ctx context.Context, p Permission) error

	CreateInvite(ctx context.Context, i Invite) error
	GetInviteByTokenHash(ctx context.Context, tokenHash string) (Invite, bool, error)
	GetPendingInvite(ctx context.Context, workspaceID, email string) (Invite, bool, error)
	UpdateInvite(ctx context.Context, i Invite) error
}

// MemoryStore is an in-process Store used by tests and as a development fallback.
type MemoryStore struct {
	mu          sync.Mutex
	workspaces  map[string]Workspace
	memberships map[string]Membership // key: principalID + "|" + workspaceID
	roles       map[string]Role
	permissions map[string]Permission
	invites     map[string]Invite // key: tokenHash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces:  make(map[string]Workspace),
		memberships: make(map[string]Membership),
		roles:       make(map[string]Role),
		permissions: make(map[string]Permission),
		invites:     make(map[string]Invite),
	}
}

func membershipKey(principalID, workspaceID string) string {
	return principalID + "|" + workspaceID
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id string) (Workspace, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[id]
	return w, ok, nil
}

func (s *MemoryStore) PutWorkspace(_ context.Context, w Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[w.ID] = w
	return nil
}

func (s *MemoryStore) ListAllWorkspaceIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workspaces))
	for id := range s.workspaces {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) GetMembership(_ context.Context, principalID, workspaceID string) (Membership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(principalID, workspaceID)]
	return m, ok, nil
}

func (s *MemoryStore) PutMembership(_ context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[membershipKey(m.PrincipalID, m.WorkspaceID)] = m
	return nil
}

func (s *MemoryStore) ListMemberships(_ context.Context, workspaceID string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Membership
	for _, m := range s.memberships {
		if m.WorkspaceID == workspaceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRole(_ context.Context, id string) (Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	return r, ok, nil
}

func (s *MemoryStore) PutRole(_ context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryStore) GetPermission(_ context.Context, code string) (Permission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[code]
	return p, ok, nil
}

func (s *MemoryStore) PutPermission(_ context.Context, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[p.Code] = p
	return nil
}

func (s *MemoryStore) CreateInvite(_ context.Context, i Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[i.TokenHash] = i
	return nil
}

func (s *MemoryStore) GetInviteByTokenHash(_ context.Context, tokenHash string) (Invite, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.invites[tokenHash]
	return i, ok, nil
}

func (s *MemoryStore) GetPendingInvite(_ context.Context, workspaceID, email string) (Invite, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.invites {
		if i.WorkspaceID == workspaceID && i.Email == email && i.Status == InvitePending {
			return i, true, nil
		}
	}
	return Invite{}, false, nil
}

func (s *MemoryStore) UpdateInvite(_ context.Context, i Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[i.TokenHash] = i
	return nil
}
