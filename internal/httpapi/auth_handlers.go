package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
)

type phonePayload struct {
	Number      string `json:"number"`
	CityCode    string `json:"city_code"`
	CountryCode string `json:"country_code"`
}

type registerRequest struct {
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Password string         `json:"password"`
	Phones   []phonePayload `json:"phones"`
	Roles    []string       `json:"roles"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Active       bool      `json:"active"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
	LastLogin    time.Time `json:"last_login"`
}

func toAuthResponse(res *auth.AuthResponse) authResponse {
	return authResponse{
		UserID:       res.UserID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Active:       res.Active,
		Created:      res.Created,
		Modified:     res.Modified,
		LastLogin:    res.LastLogin,
	}
}

func clientInfo(r *http.Request) audit.ClientInfo {
	return audit.ClientInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}

	phones := make([]auth.Phone, 0, len(req.Phones))
	for _, p := range req.Phones {
		phones = append(phones, auth.Phone{
			Number:      p.Number,
			CityCode:    p.CityCode,
			CountryCode: p.CountryCode,
		})
	}

	res, err := a.auth.Register(r.Context(), auth.RegisterRequest{
		Email:     email,
		Name:      req.Name,
		Password:  req.Password,
		Phones:    phones,
		RoleNames: req.Roles,
	}, clientInfo(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
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
	res, err := a.auth.Authenticate(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
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
	res, err := a.auth.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken, clientInfo(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type auditRecordPayload struct {
	ID              string    `json:"id"`
	EventType       string    `json:"event_type"`
	AccessTokenHash string    `json:"access_token_hash,omitempty"`
	RefreshTokenID  string    `json:"refresh_token_id,omitempty"`
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent"`
	EventTime       time.Time `json:"event_time"`
	Successful      bool      `json:"successful"`
	FailureReason   string    `json:"failure_reason,omitempty"`
}

// handleUserScoped routes /v1/users/{id} and /v1/users/{id}/audit.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		a.handleUserProfile(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "audit":
		a.handleUserAudit(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

type profilePayload struct {
	UserID    string         `json:"user_id"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Active    bool           `json:"active"`
	Created   time.Time      `json:"created"`
	Modified  time.Time      `json:"modified"`
	LastLogin time.Time      `json:"last_login"`
	Phones    []phonePayload `json:"phones"`
}

// handleUserProfile returns the credential record and registered phones.
// Same visibility rule as the audit trail: the owner or an ADMIN.
func (a *API) handleUserProfile(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if claims.Subject != userID && !hasRole(claims, auth.AdminRole) {
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return
	}

	user, phones, err := a.auth.Profile(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	payload := profilePayload{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Active:    !user.Deleted,
		Created:   user.CreatedAt,
		Modified:  user.UpdatedAt,
		LastLogin: user.LastLogin,
		Phones:    make([]phonePayload, 0, len(phones)),
	}
	for _, p := range phones {
		payload.Phones = append(payload.Phones, phonePayload{
			Number:      p.Number,
			CityCode:    p.CityCode,
			CountryCode: p.CountryCode,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleUserAudit lists the authentication trail for a user. Callers may
// read their own trail; the ADMIN role may read anyone's.
func (a *API) handleUserAudit(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if claims.Subject != userID && !hasRole(claims, auth.AdminRole) {
		writeError(w, r, http.StatusForbidden, "insufficient privileges")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := parsePositiveInt(raw, 1, 1000)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		limit = val
	}

	records, err := a.auditLog.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	payload := make([]auditRecordPayload, 0, len(records))
	for _, rec := range records {
		payload = append(payload, auditRecordPayload{
			ID:              rec.ID,
			EventType:       rec.EventType,
			AccessTokenHash: rec.AccessTokenHash,
			RefreshTokenID:  rec.RefreshTokenID,
			IPAddress:       rec.IPAddress,
			UserAgent:       rec.UserAgent,
			EventTime:       rec.EventTime,
			Successful:      rec.Successful,
			FailureReason:   rec.FailureReason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": payload})
}
