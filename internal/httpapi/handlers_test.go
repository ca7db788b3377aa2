package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
)

type apiClient struct {
	baseURL  string
	client   *http.Client
	auditLog *audit.InMemory
	t        *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewInMemory()
	signer, err := auth.NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	svc, err := auth.NewService(store, signer, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	auditLog := audit.NewInMemory()
	api := New(ReadyProbe{}, "test", svc, auditLog)
	api.SetRateLimit(1000, 1000)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		auditLog: auditLog,
		t:        t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) register(email string, roles []string) authResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":    email,
		"name":     "Test User",
		"password": "Sup3r$ecret",
		"roles":    roles,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	return decode[authResponse](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuthLifecycleFlow(t *testing.T) {
	c := newTestAPI(t)

	reg := c.register("alice@example.com", nil)
	if reg.UserID == "" || reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatalf("incomplete register response: %+v", reg)
	}
	if !reg.Active {
		t.Fatal("registered user should be active")
	}

	loginResp := c.post("/v1/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "Sup3r$ecret",
	}, nil)
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", loginResp.StatusCode)
	}
	login := decode[authResponse](t, loginResp)
	if login.UserID != reg.UserID {
		t.Fatalf("login user %q != register user %q", login.UserID, reg.UserID)
	}
	if login.RefreshToken == reg.RefreshToken {
		t.Fatal("each login must mint a fresh refresh token")
	}

	refreshResp := c.post("/v1/auth/refresh", map[string]any{
		"refresh_token": login.RefreshToken,
	}, nil)
	if refreshResp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status %d", refreshResp.StatusCode)
	}
	rotated := decode[authResponse](t, refreshResp)
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	// The consumed token is gone.
	replay := c.post("/v1/auth/refresh", map[string]any{
		"refresh_token": login.RefreshToken,
	}, nil)
	replay.Body.Close()
	if replay.StatusCode != http.StatusNotFound {
		t.Fatalf("replayed refresh status %d, want 404", replay.StatusCode)
	}

	logout := c.post("/v1/auth/logout", map[string]any{
		"refresh_token": rotated.RefreshToken,
	}, nil)
	logout.Body.Close()
	if logout.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d, want 204", logout.StatusCode)
	}

	// Logout of an already-invalidated token still succeeds.
	again := c.post("/v1/auth/logout", map[string]any{
		"refresh_token": rotated.RefreshToken,
	}, nil)
	again.Body.Close()
	if again.StatusCode != http.StatusNoContent {
		t.Fatalf("repeat logout status %d, want 204", again.StatusCode)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	c := newTestAPI(t)
	c.register("alice@example.com", nil)

	resp := c.post("/v1/auth/register", map[string]any{
		"email":    "alice@example.com",
		"password": "Sup3r$ecret",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status %d, want 409", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	c := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"weak password", map[string]any{"email": "bob@example.com", "password": "weak"}},
		{"missing email", map[string]any{"password": "Sup3r$ecret"}},
		{"malformed email", map[string]any{"email": "not-an-email", "password": "Sup3r$ecret"}},
		{"unknown field", map[string]any{"email": "bob@example.com", "password": "Sup3r$ecret", "bogus": true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := c.post("/v1/auth/register", tc.body, nil)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	c := newTestAPI(t)
	c.register("alice@example.com", nil)

	for _, body := range []map[string]any{
		{"email": "alice@example.com", "password": "Wr0ng!pass"},
		{"email": "ghost@example.com", "password": "Sup3r$ecret"},
	} {
		resp := c.post("/v1/auth/login", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %v: status %d, want 401", body["email"], resp.StatusCode)
		}
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/refresh", map[string]any{"refresh_token": "never-issued"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}

	empty := c.post("/v1/auth/refresh", map[string]any{"refresh_token": "  "}, nil)
	empty.Body.Close()
	if empty.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank token status %d, want 400", empty.StatusCode)
	}
}

func TestAuthEndpointsRejectWrongMethod(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/v1/auth/register", "/v1/auth/login", "/v1/auth/refresh", "/v1/auth/logout"} {
		resp := c.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s: status %d, want 405", path, resp.StatusCode)
		}
	}
}

func TestUserAuditEndpoint(t *testing.T) {
	c := newTestAPI(t)
	alice := c.register("alice@example.com", nil)
	mallory := c.register("mallory@example.com", nil)
	admin := c.register("root@example.com", []string{auth.AdminRole})

	seed := &audit.Record{
		ID:        "rec-1",
		UserID:    alice.UserID,
		EventType: audit.EventLogin,
		IPAddress: "203.0.113.7",
		UserAgent: "go-test/1.0",
		EventTime: time.Now().UTC(),
	}
	if err := c.auditLog.Append(context.Background(), seed); err != nil {
		t.Fatalf("seed audit record: %v", err)
	}

	path := "/v1/users/" + alice.UserID + "/audit"

	// No token.
	resp := c.get(path, nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status %d, want 401", resp.StatusCode)
	}

	// Another user's token.
	resp = c.get(path, nil, bearer(mallory.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign token status %d, want 403", resp.StatusCode)
	}

	// The owner.
	resp = c.get(path, nil, bearer(alice.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner status %d, want 200", resp.StatusCode)
	}
	body := decode[struct {
		Records []auditRecordPayload `json:"records"`
	}](t, resp)
	if len(body.Records) != 1 || body.Records[0].EventType != audit.EventLogin {
		t.Fatalf("unexpected audit payload: %+v", body.Records)
	}

	// An admin.
	resp = c.get(path, nil, bearer(admin.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d, want 200", resp.StatusCode)
	}

	// Bad limit.
	resp = c.get(path, url.Values{"limit": {"zero"}}, bearer(alice.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status %d, want 400", resp.StatusCode)
	}
}

func TestUserProfileEndpoint(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/register", map[string]any{
		"email":    "alice@example.com",
		"name":     "Alice",
		"password": "Sup3r$ecret",
		"phones": []map[string]any{
			{"number": "5551234", "city_code": "1", "country_code": "57"},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status %d", resp.StatusCode)
	}
	alice := decode[authResponse](t, resp)
	mallory := c.register("mallory@example.com", nil)
	admin := c.register("root@example.com", []string{auth.AdminRole})

	path := "/v1/users/" + alice.UserID

	resp = c.get(path, nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status %d, want 401", resp.StatusCode)
	}

	resp = c.get(path, nil, bearer(mallory.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign token status %d, want 403", resp.StatusCode)
	}

	resp = c.get(path, nil, bearer(alice.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner status %d, want 200", resp.StatusCode)
	}
	profile := decode[profilePayload](t, resp)
	if profile.Email != "alice@example.com" || profile.Name != "Alice" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if len(profile.Phones) != 1 || profile.Phones[0].Number != "5551234" {
		t.Fatalf("phones not returned: %+v", profile.Phones)
	}

	resp = c.get(path, nil, bearer(admin.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d, want 200", resp.StatusCode)
	}

	resp = c.get("/v1/users/no-such-user", nil, bearer(admin.AccessToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user status %d, want 404", resp.StatusCode)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["service"] != "authgate-api" || health["version"] != "test" {
		t.Fatalf("unexpected healthz payload: %v", health)
	}

	resp = c.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}
}
