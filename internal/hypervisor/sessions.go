package hypervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// loginFunc exchanges credentials for a vSphere session token.
type loginFunc func(ctx context.Context) (string, error)

// serviceTenant keys the session used for tenant-less operational calls
// (connectivity probes, deletes by external ref).
var serviceTenant = uuid.Nil

type session struct {
	token     string
	expiresAt time.Time
}

// sessionManager caches vSphere session tokens keyed strictly by tenant id.
// Each tenant rides its own session; entries re-authenticate when they age
// out. Login is serialized per manager.
type sessionManager struct {
	login loginFunc
	ttl   time.Duration
	now   func() time.Time

	mtx      sync.Mutex
	sessions map[uuid.UUID]*session
}

func newSessionManager(login loginFunc, ttl time.Duration) *sessionManager {
	return &sessionManager{
		login:    login,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Token returns the tenant's cached session token, logging in first if the
// tenant has no live session.
func (m *sessionManager) Token(ctx context.Context, tenantID uuid.UUID) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if s, ok := m.sessions[tenantID]; ok && s.token != "" && m.now().Before(s.expiresAt) {
		return s.token, nil
	}
	token, err := m.login(ctx)
	if err != nil {
		return "", err
	}
	m.sessions[tenantID] = &session{token: token, expiresAt: m.now().Add(m.ttl)}
	return token, nil
}

// Invalidate drops the tenant's cached token so its next call logs in again.
// Called when the endpoint rejects the session.
func (m *sessionManager) Invalidate(tenantID uuid.UUID) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.sessions, tenantID)
}

// RefreshAll forces a new login for every cached tenant session. The
// keep-alive job uses this to hold warm sessions across idle periods. An
// empty cache warms the service session so connectivity stays verified.
func (m *sessionManager) RefreshAll(ctx context.Context) error {
	m.mtx.Lock()
	tenants := make([]uuid.UUID, 0, len(m.sessions))
	for tenantID := range m.sessions {
		tenants = append(tenants, tenantID)
	}
	m.mtx.Unlock()

	if len(tenants) == 0 {
		tenants = append(tenants, serviceTenant)
	}

	var errs error
	for _, tenantID := range tenants {
		m.Invalidate(tenantID)
		if _, err := m.Token(ctx, tenantID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
