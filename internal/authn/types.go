package authn

import "time"

// CredentialMethod distinguishes how a principal proves its identity.
type CredentialMethod string

const (
	MethodLocal CredentialMethod = "local"
	MethodSSO   CredentialMethod = "sso"
)

// StatusActive marks a principal that may authenticate. Any other status is
// treated as unavailable and fails verification.
const StatusActive = "active"

// EventType classifies security events in the audit trail.
type EventType string

const (
	EventLoginSuccess EventType = "LOGIN_SUCCESS"
	EventLoginFailure EventType = "LOGIN_FAILURE"
	EventRevoke       EventType = "REVOKE"
)

// Principal is a role-scoped identity (patient, admin, developer, ...).
// The subsystem only reads principals; identity management owns mutation.
type Principal struct {
	ID         string
	Role       string
	Identifier string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Credential holds the stored material proving a principal's claim.
// A principal has at most one live local credential and at most one live
// (provider, provider_key) pair.
type Credential struct {
	PrincipalID         string
	Method              CredentialMethod
	PasswordHash        string
	HashVersion         int
	Provider            string
	ProviderKey         string
	LastAuthenticatedAt *time.Time
	DeletedAt           *time.Time
}

// SessionRecord is the server-side view of an issued token pair. Rows are
// appended on login and mutated exactly once, to set RevokedAt.
type SessionRecord struct {
	ID          string
	PrincipalID string
	Role        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	UserAgent   string
	RemoteAddr  string
}

// Revoked reports whether the session has been explicitly invalidated.
func (s SessionRecord) Revoked() bool { return s.RevokedAt != nil }

// SecurityEvent is an immutable audit fact about one authentication
// decision. SubjectID is empty when the principal could not be resolved.
type SecurityEvent struct {
	ID         string
	Type       EventType
	SubjectID  string
	Severity   string
	Summary    string
	OccurredAt time.Time
}

// TokenPair bundles the signed access and refresh tokens with their
// expiries. Access lifetime is always the shorter of the two.
type TokenPair struct {
	AccessToken      string    `json:"access"`
	RefreshToken     string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IssuedSession is the successful outcome of Authenticate: the token pair,
// the persisted session row, and a snapshot of the principal's public
// fields.
type IssuedSession struct {
	Principal Principal
	Session   SessionRecord
	Tokens    TokenPair
}

// LocalCredential is a presented plaintext password.
type LocalCredential struct {
	Password string
}

// SSOCredential is a federated identity assertion already validated by the
// external provider; this subsystem only matches it against stored values.
type SSOCredential struct {
	Provider string
	Key      string
}

// ClientMeta carries optional request metadata recorded on the session.
type ClientMeta struct {
	UserAgent  string
	RemoteAddr string
}

// Request describes one authentication attempt. Exactly one of Local or SSO
// must be populated.
type Request struct {
	Identifier string
	Role       string
	Local      *LocalCredential
	SSO        *SSOCredential
	Client     ClientMeta
}

// method resolves the credential variant carried by the request.
func (r Request) method() (CredentialMethod, error) {
	switch {
	case r.Local != nil && r.SSO != nil:
		return "", ErrMissingCredential
	case r.Local != nil:
		if r.Local.Password == "" {
			return "", ErrMissingCredential
		}
		return MethodLocal, nil
	case r.SSO != nil:
		if r.SSO.Provider == "" || r.SSO.Key == "" {
			return "", ErrMissingCredential
		}
		return MethodSSO, nil
	default:
		return "", ErrMissingCredential
	}
}
