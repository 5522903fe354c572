package principal

import (
	"context"
	"sync"
	"time"
)

// Store is the persistence seam for principals, their MFA configuration,
// trusted devices, and recent login history. Production deployments may
// back this with postgres; the in-memory implementation below is used
// by tests and as a development fallback.
type Store interface {
	GetPrincipal(ctx context.Context, id string) (Principal, bool, error)
	PutPrincipal(ctx context.Context, p Principal) error

	GetTwoFactorConfig(ctx context.Context, principalID string) (TwoFactorConfig, bool, error)
	PutTwoFactorConfig(ctx context.Context, cfg TwoFactorConfig) error

	GetTrustedDevice(ctx context.Context, principalID, fingerprint string) (TrustedDevice, bool, error)
	ListTrustedDevices(ctx context.Context, principalID string) ([]TrustedDevice, error)
	PutTrustedDevice(ctx context.Context, d TrustedDevice) error

	RecentLogins(ctx context.Context, principalID string, since time.Time) ([]LoginEvent, error)
	RecordLogin(ctx context.Context, e LoginEvent) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu              sync.Mutex
	principals      map[string]Principal
	twoFactor       map[string]TwoFactorConfig
	trustedDevices  map[string]map[string]TrustedDevice
	logins          map[string][]LoginEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals:     make(map[string]Principal),
		twoFactor:      make(map[string]TwoFactorConfig),
		trustedDevices: make(map[string]map[string]TrustedDevice),
		logins:         make(map[string][]LoginEvent),
	}
}

func (s *MemoryStore) GetPrincipal(_ context.Context, id string) (Principal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	return p, ok, nil
}

func (s *MemoryStore) PutPrincipal(_ context.Context, p Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.ID] = p
	return nil
}

func (s *MemoryStore) GetTwoFactorConfig(_ context.Context, principalID string) (TwoFactorConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.twoFactor[principalID]
	return cfg, ok, nil
}

func (s *MemoryStore) PutTwoFactorConfig(_ context.Context, cfg TwoFactorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twoFactor[cfg.PrincipalID] = cfg
	return nil
}

func (s *MemoryStore) GetTrustedDevice(_ context.Context, principalID, fingerprint string) (TrustedDevice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.trustedDevices[principalID]
	if !ok {
		return TrustedDevice{}, false, nil
	}
	d, ok := devices[fingerprint]
	return d, ok, nil
}

func (s *MemoryStore) ListTrustedDevices(_ context.Context, principalID string) ([]TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := s.trustedDevices[principalID]
	out := make([]TrustedDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) PutTrustedDevice(_ context.Context, d TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.trustedDevices[d.PrincipalID]
	if !ok {
		devices = make(map[string]TrustedDevice)
		s.trustedDevices[d.PrincipalID] = devices
	}
	devices[d.Fingerprint] = d
	return nil
}

func (s *MemoryStore) RecentLogins(_ context.Context, principalID string, since time.Time) ([]LoginEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LoginEvent
	for _, e := range s.logins[principalID] {
		if e.OccurredAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordLogin(_ context.Context, e LoginEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[e.PrincipalID] = append(s.logins[e.PrincipalID], e)
	return nil
}
