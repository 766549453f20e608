package authn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer([]byte("test-signing-key"),
		WithIssuerName("sentra-test"),
		WithAccessTTL(15*time.Minute),
		WithRefreshTTL(24*time.Hour),
	)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func seedLocalPrincipal(t *testing.T, store *MemStore, identifier, role, password string) Principal {
	t.Helper()
	p := store.AddPrincipal(Principal{Identifier: identifier, Role: role})
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.AddCredential(Credential{PrincipalID: p.ID, Method: MethodLocal, PasswordHash: hash, HashVersion: 1})
	return p
}

func eventsOfType(store *MemStore, typ EventType) []SecurityEvent {
	var out []SecurityEvent
	for _, ev := range store.EventLog() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestAuthenticateLocalSuccess(t *testing.T) {
	store := NewMemStore()
	issuer := newTestIssuer(t)
	svc := NewService(store, issuer)
	alice := seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	issued, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
		Client:     ClientMeta{UserAgent: "test-agent", RemoteAddr: "10.0.0.9"},
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if issued.Principal.ID != alice.ID {
		t.Fatalf("unexpected principal: %s", issued.Principal.ID)
	}

	claims, err := issuer.Parse(issued.Tokens.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Parse access token: %v", err)
	}
	if claims.Subject != alice.ID {
		t.Fatalf("sub claim %q does not match principal %q", claims.Subject, alice.ID)
	}
	if claims.Role != "patient" {
		t.Fatalf("unexpected role claim: %s", claims.Role)
	}
	if claims.SessionID != issued.Session.ID {
		t.Fatalf("sid claim %q does not match session %q", claims.SessionID, issued.Session.ID)
	}

	successes := eventsOfType(store, EventLoginSuccess)
	if len(successes) != 1 {
		t.Fatalf("expected exactly one LOGIN_SUCCESS, got %d", len(successes))
	}
	if successes[0].SubjectID != alice.ID {
		t.Fatalf("success event subject: %s", successes[0].SubjectID)
	}

	cred, err := store.Credentials().FindLocal(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("FindLocal: %v", err)
	}
	if cred.LastAuthenticatedAt == nil {
		t.Fatal("last_authenticated_at was not updated")
	}

	active, err := svc.SessionActive(context.Background(), issued.Session.ID)
	if err != nil || !active {
		t.Fatalf("expected active session, got active=%v err=%v", active, err)
	}
}

func TestAuthenticateIdentifierCaseInsensitive(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "Alice@Example.com", "patient", "Secret123!")

	if _, err := svc.Authenticate(context.Background(), Request{
		Identifier: "ALICE@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	}); err != nil {
		t.Fatalf("mixed-case identifier must resolve the same principal: %v", err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	alice := seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	_, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "wrong"},
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	failures := eventsOfType(store, EventLoginFailure)
	if len(failures) != 1 {
		t.Fatalf("expected exactly one LOGIN_FAILURE, got %d", len(failures))
	}
	if failures[0].SubjectID != alice.ID {
		t.Fatalf("failure subject should be the resolved principal, got %q", failures[0].SubjectID)
	}
}

func TestAuthenticateUnknownIdentifierIndistinguishable(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	_, unknownErr := svc.Authenticate(context.Background(), Request{
		Identifier: "mallory@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	_, wrongErr := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "wrong"},
	})
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("both outcomes must be ErrInvalidCredentials, got %v and %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("error shapes differ: %q vs %q", unknownErr, wrongErr)
	}

	failures := eventsOfType(store, EventLoginFailure)
	if len(failures) != 2 {
		t.Fatalf("expected two LOGIN_FAILURE events, got %d", len(failures))
	}
	if failures[0].SubjectID != "" {
		t.Fatalf("unknown-identifier failure must have empty subject, got %q", failures[0].SubjectID)
	}
	if failures[1].SubjectID == "" {
		t.Fatal("wrong-password failure must carry the principal id")
	}
}

func TestAuthenticateSoftDeletedPrincipal(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	p := store.AddPrincipal(Principal{Identifier: "gone@example.com", Role: "patient", Status: "deleted"})
	hash, err := HashPassword("Secret123!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.AddCredential(Credential{PrincipalID: p.ID, Method: MethodLocal, PasswordHash: hash})

	_, err = svc.Authenticate(context.Background(), Request{
		Identifier: "gone@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unavailable account, got %v", err)
	}

	failures := eventsOfType(store, EventLoginFailure)
	if len(failures) != 1 {
		t.Fatalf("expected one LOGIN_FAILURE, got %d", len(failures))
	}
	if failures[0].Summary != "account unavailable" {
		t.Fatalf("expected distinguishing summary, got %q", failures[0].Summary)
	}
	if failures[0].SubjectID != p.ID {
		t.Fatalf("unexpected failure subject: %q", failures[0].SubjectID)
	}
}

// countingPrincipals verifies that malformed requests are rejected before
// any store lookup happens.
type countingPrincipals struct {
	PrincipalStore
	calls int
}

func (c *countingPrincipals) FindByIdentifier(ctx context.Context, identifier, role string) (*Principal, error) {
	c.calls++
	return c.PrincipalStore.FindByIdentifier(ctx, identifier, role)
}

type wrappedStore struct {
	Store
	principals *countingPrincipals
}

func (w *wrappedStore) Principals() PrincipalStore { return w.principals }

func TestAuthenticateMissingCredentialInput(t *testing.T) {
	mem := NewMemStore()
	counting := &countingPrincipals{PrincipalStore: mem.Principals()}
	store := &wrappedStore{Store: mem, principals: counting}
	svc := NewService(store, newTestIssuer(t))

	_, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
	})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if counting.calls != 0 {
		t.Fatalf("principal store consulted %d times before input validation", counting.calls)
	}

	failures := eventsOfType(mem, EventLoginFailure)
	if len(failures) != 1 {
		t.Fatalf("expected the rejection to be audited once, got %d events", len(failures))
	}
	if failures[0].SubjectID != "" {
		t.Fatalf("subject must be empty, got %q", failures[0].SubjectID)
	}
}

func TestAuthenticateRejectsBothCredentialMethods(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	_, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
		SSO:        &SSOCredential{Provider: "github", Key: "gh-1"},
	})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential for ambiguous input, got %v", err)
	}
}

func TestAuthenticateSSO(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	dev := store.AddPrincipal(Principal{Identifier: "dev@example.com", Role: "developer"})
	store.AddCredential(Credential{PrincipalID: dev.ID, Method: MethodSSO, Provider: "github", ProviderKey: "gh-777"})

	issued, err := svc.Authenticate(context.Background(), Request{
		Identifier: "dev@example.com",
		Role:       "developer",
		SSO:        &SSOCredential{Provider: "github", Key: "gh-777"},
	})
	if err != nil {
		t.Fatalf("sso authenticate: %v", err)
	}
	if issued.Session.PrincipalID != dev.ID {
		t.Fatalf("unexpected session principal: %s", issued.Session.PrincipalID)
	}

	_, err = svc.Authenticate(context.Background(), Request{
		Identifier: "dev@example.com",
		Role:       "developer",
		SSO:        &SSOCredential{Provider: "github", Key: "gh-000"},
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for key mismatch, got %v", err)
	}
}

func TestConcurrentAuthenticateCreatesDistinctSessions(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	req := Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	}

	var wg sync.WaitGroup
	results := make([]IssuedSession, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Authenticate(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent authenticate %d: %v", i, err)
		}
	}
	if results[0].Session.ID == results[1].Session.ID {
		t.Fatal("concurrent logins must create distinct session records")
	}
	if got := len(eventsOfType(store, EventLoginSuccess)); got != 2 {
		t.Fatalf("expected two LOGIN_SUCCESS events, got %d", got)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	issued, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := svc.Revoke(context.Background(), issued.Session.ID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := svc.Revoke(context.Background(), issued.Session.ID); err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}

	active, err := svc.SessionActive(context.Background(), issued.Session.ID)
	if err != nil {
		t.Fatalf("SessionActive: %v", err)
	}
	if active {
		t.Fatal("session still active after revoke")
	}
	if got := len(eventsOfType(store, EventRevoke)); got != 1 {
		t.Fatalf("expected a single REVOKE event, got %d", got)
	}
}

func TestRevokeUnknownSession(t *testing.T) {
	svc := NewService(NewMemStore(), newTestIssuer(t))
	if err := svc.Revoke(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	issued, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	rotated, err := svc.Refresh(context.Background(), issued.Tokens.RefreshToken, ClientMeta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.Session.ID == issued.Session.ID {
		t.Fatal("refresh must open a new session")
	}

	old, err := store.Sessions().Find(context.Background(), issued.Session.ID)
	if err != nil {
		t.Fatalf("Find superseded session: %v", err)
	}
	if !old.Revoked() {
		t.Fatal("superseded session was not revoked")
	}

	// The rotated-out refresh token must not work a second time.
	if _, err := svc.Refresh(context.Background(), issued.Tokens.RefreshToken, ClientMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on refresh reuse, got %v", err)
	}
}

func TestVerifyAccessRejectsRevokedSession(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, newTestIssuer(t))
	seedLocalPrincipal(t, store, "alice@example.com", "patient", "Secret123!")

	issued, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if _, err := svc.VerifyAccess(context.Background(), issued.Tokens.AccessToken); err != nil {
		t.Fatalf("VerifyAccess before revoke: %v", err)
	}
	if err := svc.Revoke(context.Background(), issued.Session.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.VerifyAccess(context.Background(), issued.Tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}
}

// failingEvents simulates an audit store outage.
type failingEvents struct{}

func (failingEvents) Append(context.Context, *SecurityEvent) error {
	return errors.New("events table unavailable")
}

type brokenEventStore struct{ Store }

func (b *brokenEventStore) Events() EventStore { return failingEvents{} }

func TestAuditFailureIsFatal(t *testing.T) {
	mem := NewMemStore()
	seedLocalPrincipal(t, mem, "alice@example.com", "patient", "Secret123!")
	svc := NewService(&brokenEventStore{Store: mem}, newTestIssuer(t))

	// Audit is mandatory even for a correct credential.
	_, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage when audit write fails, got %v", err)
	}
}

type failingSessions struct{ SessionStore }

func (failingSessions) Create(context.Context, *SessionRecord) error {
	return errors.New("sessions table unavailable")
}

type brokenSessionStore struct{ Store }

func (b *brokenSessionStore) Sessions() SessionStore {
	return failingSessions{SessionStore: b.Store.Sessions()}
}

type failingTouch struct{ CredentialStore }

func (f failingTouch) TouchLastAuthenticated(context.Context, string, CredentialMethod, time.Time) error {
	return errors.New("credentials table unavailable")
}

type brokenTouchStore struct{ Store }

func (b *brokenTouchStore) Credentials() CredentialStore {
	return failingTouch{CredentialStore: b.Store.Credentials()}
}

func TestTouchFailureDoesNotFailLogin(t *testing.T) {
	mem := NewMemStore()
	seedLocalPrincipal(t, mem, "alice@example.com", "patient", "Secret123!")
	svc := NewService(&brokenTouchStore{Store: mem}, newTestIssuer(t))

	issued, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if err != nil {
		t.Fatalf("login must survive a failed timestamp touch, got %v", err)
	}

	active, err := svc.SessionActive(context.Background(), issued.Session.ID)
	if err != nil || !active {
		t.Fatalf("expected active session, got active=%v err=%v", active, err)
	}
	if got := len(eventsOfType(mem, EventLoginSuccess)); got != 1 {
		t.Fatalf("expected exactly one LOGIN_SUCCESS, got %d", got)
	}
	if got := len(eventsOfType(mem, EventLoginFailure)); got != 0 {
		t.Fatalf("expected no LOGIN_FAILURE, got %d", got)
	}
}

func TestSessionWriteFailureIsFatal(t *testing.T) {
	mem := NewMemStore()
	seedLocalPrincipal(t, mem, "alice@example.com", "patient", "Secret123!")
	svc := NewService(&brokenSessionStore{Store: mem}, newTestIssuer(t))

	_, err := svc.Authenticate(context.Background(), Request{
		Identifier: "alice@example.com",
		Role:       "patient",
		Local:      &LocalCredential{Password: "Secret123!"},
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if got := len(eventsOfType(mem, EventLoginSuccess)); got != 0 {
		t.Fatalf("no success event may exist without a session row, got %d", got)
	}
}
