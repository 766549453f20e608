package authn

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sentra.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals() PrincipalStore  { return &principalStore{db: s.db} }
func (s *PGStore) Credentials() CredentialStore { return &credentialStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore      { return &sessionStore{db: s.db} }
func (s *PGStore) Events() EventStore          { return &eventStore{db: s.db} }

// Principal store -----------------------------------------------------------
type principalStore struct{ db *sql.DB }

// FindByIdentifier matches identifiers case-insensitively so a principal
// provisioned with uppercase can still log in with the normalized form.
func (s *principalStore) FindByIdentifier(ctx context.Context, identifier, role string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, role, identifier, status, created_at, updated_at
		 from principals where lower(identifier)=lower($1) and role=$2`, identifier, role)
	var p Principal
	if err := row.Scan(&p.ID, &p.Role, &p.Identifier, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *principalStore) Find(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, role, identifier, status, created_at, updated_at
		 from principals where id=$1`, id)
	var p Principal
	if err := row.Scan(&p.ID, &p.Role, &p.Identifier, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Credential store ----------------------------------------------------------
type credentialStore struct{ db *sql.DB }

func (s *credentialStore) FindLocal(ctx context.Context, principalID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select principal_id, method, coalesce(password_hash,''), hash_version,
		        coalesce(provider,''), coalesce(provider_key,''), last_authenticated_at
		 from credentials
		 where principal_id=$1 and method='local' and deleted_at is null`, principalID)
	return scanCredential(row)
}

func (s *credentialStore) FindSSO(ctx context.Context, principalID, provider string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select principal_id, method, coalesce(password_hash,''), hash_version,
		        coalesce(provider,''), coalesce(provider_key,''), last_authenticated_at
		 from credentials
		 where principal_id=$1 and method='sso' and provider=$2 and deleted_at is null`,
		principalID, provider)
	return scanCredential(row)
}

func scanCredential(row *sql.Row) (*Credential, error) {
	var (
		c        Credential
		lastAuth sql.NullTime
	)
	if err := row.Scan(&c.PrincipalID, &c.Method, &c.PasswordHash, &c.HashVersion,
		&c.Provider, &c.ProviderKey, &lastAuth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastAuth.Valid {
		t := lastAuth.Time
		c.LastAuthenticatedAt = &t
	}
	return &c, nil
}

func (s *credentialStore) TouchLastAuthenticated(ctx context.Context, principalID string, method CredentialMethod, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update credentials set last_authenticated_at=$1
		 where principal_id=$2 and method=$3 and deleted_at is null`,
		at.UTC(), principalID, string(method))
	return err
}

// Session store -------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, principal_id, role, issued_at, expires_at, user_agent, remote_addr)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.PrincipalID, rec.Role, rec.IssuedAt.UTC(), rec.ExpiresAt.UTC(),
		rec.UserAgent, rec.RemoteAddr)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, principal_id, role, issued_at, expires_at, revoked_at,
		        coalesce(user_agent,''), coalesce(remote_addr,'')
		 from sessions where id=$1`, id)
	var (
		rec     SessionRecord
		revoked sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.PrincipalID, &rec.Role, &rec.IssuedAt, &rec.ExpiresAt,
		&revoked, &rec.UserAgent, &rec.RemoteAddr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

// Revoke sets revoked_at once; the guard keeps historical rows immutable
// under concurrent revocation.
func (s *sessionStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$1 where id=$2 and revoked_at is null`,
		at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Event store ---------------------------------------------------------------
type eventStore struct{ db *sql.DB }

func (s *eventStore) Append(ctx context.Context, event *SecurityEvent) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	subject := sql.NullString{String: event.SubjectID, Valid: event.SubjectID != ""}
	_, err := s.db.ExecContext(ctx,
		`insert into security_events(id, event_type, subject_id, severity, summary, occurred_at)
		 values($1,$2,$3,$4,$5,$6)`,
		event.ID, string(event.Type), subject, event.Severity, event.Summary, event.OccurredAt.UTC())
	return err
}
