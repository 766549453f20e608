package authn

import (
	"context"
	"strings"
	"sync"
	"time"

	"sentra.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used when no database is configured and as
// the backing for package tests. Safe for concurrent use.
type MemStore struct {
	mu          sync.Mutex
	principals  []Principal
	credentials []Credential
	sessions    map[string]*SessionRecord
	events      []SecurityEvent
}

func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*SessionRecord)}
}

func (m *MemStore) Principals() PrincipalStore   { return (*memPrincipals)(m) }
func (m *MemStore) Credentials() CredentialStore { return (*memCredentials)(m) }
func (m *MemStore) Sessions() SessionStore       { return (*memSessions)(m) }
func (m *MemStore) Events() EventStore           { return (*memEvents)(m) }

// AddPrincipal seeds an identity, assigning an id if absent.
func (m *MemStore) AddPrincipal(p Principal) Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	m.principals = append(m.principals, p)
	return p
}

// AddCredential seeds credential material for a principal.
func (m *MemStore) AddCredential(c Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials = append(m.credentials, c)
}

// EventLog returns a copy of the recorded security events, oldest first.
func (m *MemStore) EventLog() []SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SecurityEvent, len(m.events))
	copy(out, m.events)
	return out
}

type memPrincipals MemStore

func (m *memPrincipals) FindByIdentifier(_ context.Context, identifier, role string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.principals {
		p := m.principals[i]
		if strings.EqualFold(p.Identifier, identifier) && p.Role == role {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPrincipals) Find(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.principals {
		if m.principals[i].ID == id {
			p := m.principals[i]
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

type memCredentials MemStore

func (m *memCredentials) FindLocal(_ context.Context, principalID string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.credentials {
		c := m.credentials[i]
		if c.PrincipalID == principalID && c.Method == MethodLocal && c.DeletedAt == nil {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCredentials) FindSSO(_ context.Context, principalID, provider string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.credentials {
		c := m.credentials[i]
		if c.PrincipalID == principalID && c.Method == MethodSSO && c.Provider == provider && c.DeletedAt == nil {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memCredentials) TouchLastAuthenticated(_ context.Context, principalID string, method CredentialMethod, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.credentials {
		c := &m.credentials[i]
		if c.PrincipalID == principalID && c.Method == method && c.DeletedAt == nil {
			t := at.UTC()
			c.LastAuthenticatedAt = &t
		}
	}
	return nil
}

type memSessions MemStore

func (m *memSessions) Create(_ context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	clone := *rec
	m.sessions[rec.ID] = &clone
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memSessions) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	if rec.RevokedAt != nil {
		return false, nil
	}
	t := at.UTC()
	rec.RevokedAt = &t
	return true, nil
}

type memEvents MemStore

func (m *memEvents) Append(_ context.Context, event *SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = ids.New()
	}
	m.events = append(m.events, *event)
	return nil
}
