package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/ids"
)

const (
	severityInfo    = "info"
	severityWarning = "warning"
)

// Service orchestrates the authenticate→issue→record pipeline. Each call is
// an independent unit of work; the only long-lived state is the injected
// issuer and store handles.
type Service struct {
	store  Store
	issuer *Issuer
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the orchestrator.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) *Service {
	svc := &Service{store: store, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Authenticate verifies the presented credential and, on success, issues a
// token pair, persists a session record, and appends a LOGIN_SUCCESS event.
// Every failing branch appends exactly one LOGIN_FAILURE event before
// returning; no attempt completes without an audit trail.
func (s *Service) Authenticate(ctx context.Context, req Request) (IssuedSession, error) {
	identifier := strings.TrimSpace(strings.ToLower(req.Identifier))
	role := strings.TrimSpace(req.Role)

	method, err := req.method()
	if err != nil {
		return IssuedSession{}, s.deny(ctx, "", "credential input missing", ErrMissingCredential)
	}
	if identifier == "" || role == "" {
		return IssuedSession{}, s.deny(ctx, "", "identifier or role missing", ErrInvalidCredentials)
	}

	principal, err := s.store.Principals().FindByIdentifier(ctx, identifier, role)
	if errors.Is(err, ErrNotFound) {
		return IssuedSession{}, s.deny(ctx, "", "unknown identifier", ErrInvalidCredentials)
	}
	if err != nil {
		return IssuedSession{}, storageErr("lookup principal", err)
	}
	if principal.Status != StatusActive {
		// Same uniform error as a bad password; only the audit summary
		// distinguishes an unavailable account.
		return IssuedSession{}, s.deny(ctx, principal.ID, "account unavailable", ErrInvalidCredentials)
	}

	var cred *Credential
	switch method {
	case MethodLocal:
		cred, err = s.store.Credentials().FindLocal(ctx, principal.ID)
	case MethodSSO:
		cred, err = s.store.Credentials().FindSSO(ctx, principal.ID, req.SSO.Provider)
	}
	if errors.Is(err, ErrNotFound) {
		return IssuedSession{}, s.deny(ctx, principal.ID, "credential not found", ErrInvalidCredentials)
	}
	if err != nil {
		return IssuedSession{}, storageErr("lookup credential", err)
	}

	switch method {
	case MethodLocal:
		if err := VerifyPassword(cred.PasswordHash, req.Local.Password); err != nil {
			return IssuedSession{}, s.deny(ctx, principal.ID, "password mismatch", ErrInvalidCredentials)
		}
	case MethodSSO:
		// The provider already authenticated the subject; an exact match
		// against the stored pair is the whole check.
		if cred.Provider != req.SSO.Provider || cred.ProviderKey != req.SSO.Key {
			return IssuedSession{}, s.deny(ctx, principal.ID, "sso key mismatch", ErrInvalidCredentials)
		}
	}

	return s.openSession(ctx, *principal, method, req.Client, "login")
}

// Refresh rotates a refresh token into a fresh pair. The superseded session
// is revoked, so a rotated refresh token cannot be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientMeta) (IssuedSession, error) {
	claims, err := s.issuer.Parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return IssuedSession{}, s.deny(ctx, "", "refresh token rejected", ErrInvalidToken)
	}
	rec, err := s.store.Sessions().Find(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return IssuedSession{}, s.deny(ctx, claims.Subject, "refresh for unknown session", ErrInvalidToken)
	}
	if err != nil {
		return IssuedSession{}, storageErr("find session", err)
	}
	if rec.Revoked() {
		return IssuedSession{}, s.deny(ctx, claims.Subject, "refresh token reuse after revocation", ErrInvalidToken)
	}

	principal, err := s.store.Principals().Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return IssuedSession{}, s.deny(ctx, claims.Subject, "refresh for unknown principal", ErrInvalidToken)
	}
	if err != nil {
		return IssuedSession{}, storageErr("lookup principal", err)
	}
	if principal.Status != StatusActive {
		return IssuedSession{}, s.deny(ctx, principal.ID, "account unavailable", ErrInvalidToken)
	}

	if _, err := s.store.Sessions().Revoke(ctx, rec.ID, s.now().UTC()); err != nil {
		return IssuedSession{}, storageErr("revoke superseded session", err)
	}
	return s.openSession(ctx, *principal, "", client, "token refresh")
}

// openSession mints tokens, persists the session row, and records success.
// Tokens are never returned unless the session row and the audit event are
// both committed.
func (s *Service) openSession(ctx context.Context, principal Principal, method CredentialMethod, client ClientMeta, summary string) (IssuedSession, error) {
	now := s.now().UTC()
	sessionID := ids.New()

	tokens, err := s.issuer.Issue(principal.ID, principal.Role, sessionID, now)
	if err != nil {
		return IssuedSession{}, fmt.Errorf("issue tokens: %w", err)
	}

	rec := SessionRecord{
		ID:          sessionID,
		PrincipalID: principal.ID,
		Role:        principal.Role,
		IssuedAt:    now,
		ExpiresAt:   tokens.AccessExpiresAt,
		UserAgent:   client.UserAgent,
		RemoteAddr:  client.RemoteAddr,
	}
	if err := s.store.Sessions().Create(ctx, &rec); err != nil {
		_ = s.failure(ctx, principal.ID, "session persistence failed")
		return IssuedSession{}, storageErr("create session", err)
	}

	if method != "" {
		// last_authenticated_at is informational and last-writer-wins; a
		// failed touch must not fail an otherwise sound login or leave a
		// committed session behind unaudited.
		_ = s.store.Credentials().TouchLastAuthenticated(ctx, principal.ID, method, now)
	}

	ev := SecurityEvent{
		Type:       EventLoginSuccess,
		SubjectID:  principal.ID,
		Severity:   severityInfo,
		Summary:    summary,
		OccurredAt: now,
	}
	if err := s.store.Events().Append(ctx, &ev); err != nil {
		// The audit trail is not best-effort: without the event the login
		// does not stand, so the fresh session is withdrawn.
		_, _ = s.store.Sessions().Revoke(ctx, rec.ID, s.now().UTC())
		return IssuedSession{}, storageErr("append audit event", err)
	}

	return IssuedSession{Principal: principal, Session: rec, Tokens: tokens}, nil
}

// Revoke invalidates a session. Revoking an already-revoked session is a
// successful no-op and appends no further events.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrNotFound
	}
	rec, err := s.store.Sessions().Find(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("find session", err)
	}
	if rec.Revoked() {
		return nil
	}

	now := s.now().UTC()
	changed, err := s.store.Sessions().Revoke(ctx, sessionID, now)
	if err != nil {
		return storageErr("revoke session", err)
	}
	if !changed {
		// Lost the race to a concurrent revoker; their event stands.
		return nil
	}
	ev := SecurityEvent{
		Type:       EventRevoke,
		SubjectID:  rec.PrincipalID,
		Severity:   severityInfo,
		Summary:    "session revoked",
		OccurredAt: now,
	}
	if err := s.store.Events().Append(ctx, &ev); err != nil {
		return storageErr("append audit event", err)
	}
	return nil
}

// SessionActive reports whether a session exists, has not been revoked, and
// has not passed its expiry.
func (s *Service) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	rec, err := s.store.Sessions().Find(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("find session", err)
	}
	return !rec.Revoked() && s.now().Before(rec.ExpiresAt), nil
}

// VerifyAccess validates a bearer access token and confirms the session it
// references is still active server-side.
func (s *Service) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.issuer.Parse(token, TokenTypeAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}
	active, err := s.SessionActive(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// deny records a LOGIN_FAILURE and returns cause. If the audit write itself
// fails, the storage error takes precedence.
func (s *Service) deny(ctx context.Context, subjectID, summary string, cause error) error {
	if err := s.failure(ctx, subjectID, summary); err != nil {
		return err
	}
	return cause
}

func (s *Service) failure(ctx context.Context, subjectID, summary string) error {
	ev := SecurityEvent{
		Type:       EventLoginFailure,
		SubjectID:  subjectID,
		Severity:   severityWarning,
		Summary:    summary,
		OccurredAt: s.now().UTC(),
	}
	if err := s.store.Events().Append(ctx, &ev); err != nil {
		return storageErr("append audit event", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
