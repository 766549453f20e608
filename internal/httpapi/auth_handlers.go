package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sentra.org/internal/authn"
	"sentra.org/internal/obs"
)

type loginRequest struct {
	Identifier  string `json:"identifier"`
	Role        string `json:"role"`
	Password    string `json:"password,omitempty"`
	Provider    string `json:"provider,omitempty"`
	ProviderKey string `json:"provider_key,omitempty"`
}

type principalResponse struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	Principal principalResponse `json:"principal"`
	Token     authn.TokenPair   `json:"token"`
}

func issuedResponse(issued authn.IssuedSession) sessionResponse {
	return sessionResponse{
		SessionID: issued.Session.ID,
		Principal: principalResponse{
			ID:         issued.Principal.ID,
			Identifier: issued.Principal.Identifier,
			Role:       issued.Principal.Role,
		},
		Token: issued.Tokens,
	}
}

// credential builds the tagged request union; empty optional fields stay
// nil so the service sees exactly what the client presented.
func (req loginRequest) credential() (local *authn.LocalCredential, sso *authn.SSOCredential) {
	if req.Password != "" {
		local = &authn.LocalCredential{Password: req.Password}
	}
	if req.Provider != "" || req.ProviderKey != "" {
		sso = &authn.SSOCredential{Provider: req.Provider, Key: req.ProviderKey}
	}
	return local, sso
}

func clientMeta(r *http.Request) authn.ClientMeta {
	return authn.ClientMeta{
		UserAgent:  r.UserAgent(),
		RemoteAddr: clientIP(r),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	local, sso := req.credential()
	issued, err := a.auth.Authenticate(r.Context(), authn.Request{
		Identifier: req.Identifier,
		Role:       req.Role,
		Local:      local,
		SSO:        sso,
		Client:     clientMeta(r),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	obs.AuthAttempt("success")
	obs.LogEvent("LOGIN_SUCCESS", map[string]any{
		"principal":  issued.Principal.ID,
		"session_id": issued.Session.ID,
		"request_id": RequestIDFromContext(r.Context()),
	})
	writeJSON(w, http.StatusOK, issuedResponse(issued))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	issued, err := a.auth.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	obs.AuthAttempt("success")
	writeJSON(w, http.StatusOK, issuedResponse(issued))
}

type revokeRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := a.auth.Revoke(r.Context(), req.SessionID); err != nil {
		handleAuthError(w, r, err)
		return
	}

	obs.SessionRevoked()
	obs.LogEvent("REVOKE", map[string]any{
		"session_id": req.SessionID,
		"request_id": RequestIDFromContext(r.Context()),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "revoked",
		"session_id": req.SessionID,
	})
}

// handleSession introspects the caller's own session using the bearer
// token validated by the auth middleware.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": claims.SessionID,
		"principal":  claims.Subject,
		"role":       claims.Role,
		"expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

// handleAuthError maps service errors onto the uniform wire contract. All
// verification failures share one message so the response shape never
// leaks whether the identifier exists.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authn.ErrMissingCredential):
		obs.AuthAttempt("invalid")
		writeError(w, r, http.StatusBadRequest, "exactly one credential method is required")
	case errors.Is(err, authn.ErrInvalidCredentials):
		obs.AuthAttempt("invalid")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, authn.ErrInvalidToken):
		obs.AuthAttempt("invalid")
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, authn.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "session not found")
	case errors.Is(err, authn.ErrStorage):
		obs.AuthAttempt("error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	default:
		obs.AuthAttempt("error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
