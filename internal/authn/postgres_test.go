package authn

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPGStore(db), mock, func() { _ = db.Close() }
}

func TestPGFindByIdentifier(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "role", "identifier", "status", "created_at", "updated_at"}).
		AddRow("p-1", "patient", "Alice@Example.com", "active", now, now)
	mock.ExpectQuery(`select id, role, identifier, status.*from principals where lower\(identifier\)=lower\(\$1\)`).
		WithArgs("alice@example.com", "patient").
		WillReturnRows(rows)

	p, err := store.Principals().FindByIdentifier(context.Background(), "alice@example.com", "patient")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if p.ID != "p-1" || p.Status != "active" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	mock.ExpectQuery(`select id, role, identifier, status.*from principals where lower\(identifier\)=lower\(\$1\)`).
		WithArgs("nobody@example.com", "patient").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.Principals().FindByIdentifier(context.Background(), "nobody@example.com", "patient"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindLocalCredential(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	rows := sqlmock.NewRows([]string{"principal_id", "method", "password_hash", "hash_version", "provider", "provider_key", "last_authenticated_at"}).
		AddRow("p-1", "local", "$2a$10$hash", 1, "", "", nil)
	mock.ExpectQuery("select principal_id, method.*from credentials").
		WithArgs("p-1").
		WillReturnRows(rows)

	cred, err := store.Credentials().FindLocal(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("FindLocal: %v", err)
	}
	if cred.Method != MethodLocal || cred.PasswordHash != "$2a$10$hash" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cred.LastAuthenticatedAt != nil {
		t.Fatal("expected nil last_authenticated_at")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionCreateAndRevoke(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	rec := &SessionRecord{
		PrincipalID: "p-1",
		Role:        "patient",
		IssuedAt:    now,
		ExpiresAt:   now.Add(15 * time.Minute),
		UserAgent:   "test-agent",
		RemoteAddr:  "10.0.0.9",
	}
	mock.ExpectExec("insert into sessions").
		WithArgs(sqlmock.AnyArg(), "p-1", "patient", sqlmock.AnyArg(), sqlmock.AnyArg(), "test-agent", "10.0.0.9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Sessions().Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Create must assign an id")
	}

	mock.ExpectExec("update sessions set revoked_at").
		WithArgs(sqlmock.AnyArg(), rec.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	changed, err := store.Sessions().Revoke(context.Background(), rec.ID, now)
	if err != nil || !changed {
		t.Fatalf("Revoke: changed=%v err=%v", changed, err)
	}

	// Second revoke touches no rows.
	mock.ExpectExec("update sessions set revoked_at").
		WithArgs(sqlmock.AnyArg(), rec.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	changed, err = store.Sessions().Revoke(context.Background(), rec.ID, now)
	if err != nil || changed {
		t.Fatalf("expected no-op revoke, changed=%v err=%v", changed, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGEventAppendNullSubject(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("insert into security_events").
		WithArgs(sqlmock.AnyArg(), "LOGIN_FAILURE", sql.NullString{}, "warning", "unknown identifier", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := &SecurityEvent{
		Type:       EventLoginFailure,
		Severity:   "warning",
		Summary:    "unknown identifier",
		OccurredAt: time.Now(),
	}
	if err := store.Events().Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("Append must assign an id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
