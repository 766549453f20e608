package authn

import (
	"context"
	"time"
)

// Store bundles the persistence surfaces the subsystem requires. The
// surrounding application owns the schema; this package only consumes it.
type Store interface {
	Principals() PrincipalStore
	Credentials() CredentialStore
	Sessions() SessionStore
	Events() EventStore
}

// PrincipalStore resolves role-scoped identities. Lookups return the row
// regardless of status so the service can audit soft-deleted accounts
// distinctly while still failing them uniformly.
type PrincipalStore interface {
	FindByIdentifier(ctx context.Context, identifier, role string) (*Principal, error)
	Find(ctx context.Context, id string) (*Principal, error)
}

// CredentialStore resolves stored credential material. Soft-deleted rows
// are never returned. TouchLastAuthenticated is the single mutation this
// subsystem performs on credentials; last-writer-wins is acceptable.
type CredentialStore interface {
	FindLocal(ctx context.Context, principalID string) (*Credential, error)
	FindSSO(ctx context.Context, principalID, provider string) (*Credential, error)
	TouchLastAuthenticated(ctx context.Context, principalID string, method CredentialMethod, at time.Time) error
}

// SessionStore persists session records: append on login, one revoke
// mutation, no deletes. Revoke must leave an already-revoked row untouched
// and report whether this call performed the transition.
type SessionStore interface {
	Create(ctx context.Context, rec *SessionRecord) error
	Find(ctx context.Context, id string) (*SessionRecord, error)
	Revoke(ctx context.Context, id string, at time.Time) (revoked bool, err error)
}

// EventStore appends immutable security events. No update or delete is
// exposed; the audit trail is write-only from this subsystem's view.
type EventStore interface {
	Append(ctx context.Context, event *SecurityEvent) error
}
