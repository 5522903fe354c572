package workspace

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	serr "github.com/r3e-network/security-governance-core/infrastructure/errors"
)

// InviteTokenBytes is the CSPRNG output length for invite tokens;
// tokens travel hex-encoded and persist only as their SHA-256.
const InviteTokenBytes = 32

// InviteService implements the invite lifecycle operations createInvite,
// findByToken and accept; it has no decline operation. At most one pending invite per
// (workspace, email); the plaintext token is returned only once.
type InviteService struct {
	store Store
	now   func() time.Time
}

// NewInviteService constructs an InviteService over store.
func NewInviteService(store Store) *InviteService {
	return &InviteService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInvite mints a new invite, rejecting a second pending invite to
// the same (workspace, email).
func (s *InviteService) CreateInvite(ctx context.Context, workspaceID, email, roleID, message string, expiryDays int) (Invite, string, error) {
	if existing, ok, err := s.store.GetPendingInvite(ctx, workspaceID, email); err != nil {
		return Invite{}, "", err
	} else if ok {
		return Invite{}, "", serr.New(serr.KindValidationFailed, fmt.Sprintf("pending invite already exists for %s", existing.Email))
	}

	token, err := generateInviteToken()
	if err != nil {
		return Invite{}, "", err
	}
	tokenHash := hashInviteToken(token)

	if expiryDays <= 0 {
		expiryDays = 7
	}

	invite := Invite{
		ID:          tokenHash[:16],
		WorkspaceID: workspaceID,
		Email:       email,
		RoleID:      roleID,
		TokenHash:   tokenHash,
		ExpiresAt:   s.now().Add(time.Duration(expiryDays) * 24 * time.Hour),
		Status:      InvitePending,
		Message:     message,
		CreatedAt:   s.now(),
	}

	if err := s.store.CreateInvite(ctx, invite); err != nil {
		return Invite{}, "", err
	}
	return invite, token, nil
}

// FindByToken looks up an invite by its plaintext token, tracking a
// view.
func (s *InviteService) FindByToken(ctx context.Context, token string, trackView bool) (Invite, error) {
	invite, ok, err := s.store.GetInviteByTokenHash(ctx, hashInviteToken(token))
	if err != nil {
		return Invite{}, err
	}
	if !ok {
		return Invite{}, serr.NotFound("Invite", "")
	}

	invite.Status = invite.EffectiveStatus(s.now())

	if trackView {
		invite.ViewCount++
		if err := s.store.UpdateInvite(ctx, invite); err != nil {
			return Invite{}, err
		}
	}
	return invite, nil
}

// Accept resolves an invite into a Membership. A second acceptance by
// an existing member returns a sentinel "already a member" outcome
// rather than an error.
func (s *InviteService) Accept(ctx context.Context, token, principalID string) (Membership, bool, error) {
	invite, ok, err := s.store.GetInviteByTokenHash(ctx, hashInviteToken(token))
	if err != nil {
		return Membership{}, false, err
	}
	if !ok {
		return Membership{}, false, serr.NotFound("Invite", "")
	}

	effective := invite.EffectiveStatus(s.now())
	if effective == InviteExpired {
		return Membership{}, false, serr.New(serr.KindValidationFailed, "invite expired")
	}

	if existing, ok, err := s.store.GetMembership(ctx, principalID, invite.WorkspaceID); err != nil {
		return Membership{}, false, err
	} else if ok && existing.Status == MembershipActive {
		return existing, true, nil // "already a member"
	}

	membership := Membership{
		PrincipalID: principalID,
		WorkspaceID: invite.WorkspaceID,
		RoleID:      invite.RoleID,
		Status:      MembershipActive,
		JoinedAt:    s.now(),
		InvitedBy:   invite.ID,
	}
	if err := s.store.PutMembership(ctx, membership); err != nil {
		return Membership{}, false, err
	}

	invite.Status = InviteAccepted
	if err := s.store.UpdateInvite(ctx, invite); err != nil {
		return Membership{}, false, err
	}

	return membership, false, nil
}

func generateInviteToken() (string, error) {
	buf := make([]byte, InviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashInviteToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
