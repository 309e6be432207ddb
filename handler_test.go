package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/arcwell/authcore/storage"
	"github.com/arcwell/authcore/storage/memory"
)

type testEnv struct {
	srv     *Server
	store   *memory.Store
	handler http.Handler
	userID  string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)
	store.SetLogger(logger)

	srv, err := New(store, store, store, store, &Config{
		Issuer:     "https://auth.test",
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
	}, logger)
	if err != nil {
		t.Fatalf("server setup failed: %v", err)
	}
	t.Cleanup(srv.Stop)

	user, err := srv.RegisterUser(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("user setup failed: %v", err)
	}

	mux := http.NewServeMux()
	NewHandler(srv, logger).RegisterRoutes(mux)

	return &testEnv{srv: srv, store: store, handler: mux, userID: user.ID}
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, values := range header {
		req.Header[key] = values
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) registerClient(t *testing.T) *ClientRegistrationResponse {
	t.Helper()
	body, _ := json.Marshal(&ClientRegistrationRequest{
		ClientName:   "Test App",
		RedirectURIs: []string{"https://app.test/callback"},
		HostURI:      "https://app.test",
		Scopes:       []string{"read", "write"},
	})
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("registration returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp ClientRegistrationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("malformed registration response: %v", err)
	}

	for _, value := range []string{"read", "write"} {
		err := e.store.CreateScope(context.Background(), &storage.Scope{Value: value, AudienceID: resp.AudienceID})
		if err != nil {
			t.Fatalf("scope seeding failed: %v", err)
		}
	}
	return &resp
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("malformed JSON response: %v", err)
	}
	return &out
}

func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	env := setupTestEnv(t)
	client := env.registerClient(t)

	// 1. Authorize: the host app posts the approved request
	authHeader := http.Header{"X-Authenticated-User": []string{env.userID}}
	rec := env.postForm(t, "/oauth/authorize", url.Values{
		"response_type": {"code"},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://app.test/callback"},
		"scope":         {"read write"},
		"audience":      {client.AudienceID},
		"state":         {"xyz"},
	}, authHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize returned %d: %s", rec.Code, rec.Body.String())
	}
	authz := decodeJSON[AuthorizationResponse](t, rec)
	if authz.Code == "" {
		t.Fatal("no authorization code in response")
	}
	if authz.State != "xyz" {
		t.Errorf("state = %q", authz.State)
	}

	// 2. Token: exchange the code with Basic client authentication
	tokenReq := url.Values{
		"grant_type":   {GrantTypeAuthorizationCode},
		"code":         {authz.Code},
		"redirect_uri": {"https://app.test/callback"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenReq.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, client.ClientSecret)
	tokenRec := httptest.NewRecorder()
	env.handler.ServeHTTP(tokenRec, req)

	if tokenRec.Code != http.StatusOK {
		t.Fatalf("token endpoint returned %d: %s", tokenRec.Code, tokenRec.Body.String())
	}
	if cc := tokenRec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	tok := decodeJSON[TokenResponse](t, tokenRec)
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatal("expected both tokens in response")
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("token_type = %q", tok.TokenType)
	}
	if tok.ExpiresIn <= 0 || tok.ExpiresIn > 3600 {
		t.Errorf("expires_in = %d", tok.ExpiresIn)
	}

	// 3. Introspect: the token is active
	rec = env.postForm(t, "/oauth/introspect", url.Values{"token": {tok.AccessToken}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("introspect returned %d", rec.Code)
	}
	intro := decodeJSON[Introspection](t, rec)
	if !intro.Active {
		t.Fatal("token should be active")
	}
	if intro.ClientID != client.ClientID {
		t.Errorf("client_id = %q", intro.ClientID)
	}

	// 4. Refresh: rotate the pair
	rec = env.postForm(t, "/oauth/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {tok.RefreshToken},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", rec.Code, rec.Body.String())
	}
	rotated := decodeJSON[TokenResponse](t, rec)
	if rotated.AccessToken == tok.AccessToken || rotated.RefreshToken == tok.RefreshToken {
		t.Error("refresh must rotate both tokens")
	}

	// 5. The old access token is now inactive
	rec = env.postForm(t, "/oauth/introspect", url.Values{"token": {tok.AccessToken}}, nil)
	if decodeJSON[Introspection](t, rec).Active {
		t.Error("rotated-out token should be inactive")
	}

	// 6. Revoke the new one and confirm
	rec = env.postForm(t, "/oauth/revoke", url.Values{"token": {rotated.AccessToken}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke returned %d", rec.Code)
	}
	rec = env.postForm(t, "/oauth/introspect", url.Values{"token": {rotated.AccessToken}}, nil)
	if decodeJSON[Introspection](t, rec).Active {
		t.Error("revoked token should be inactive")
	}
}

func TestAuthorizeRequiresAuthenticatedUser(t *testing.T) {
	env := setupTestEnv(t)
	client := env.registerClient(t)

	rec := env.postForm(t, "/oauth/authorize", url.Values{
		"response_type": {"code"},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://app.test/callback"},
		"audience":      {client.AudienceID},
	}, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthorizeRejectsUnknownResponseType(t *testing.T) {
	env := setupTestEnv(t)
	client := env.registerClient(t)

	rec := env.postForm(t, "/oauth/authorize", url.Values{
		"response_type": {"id_token"},
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://app.test/callback"},
		"audience":      {client.AudienceID},
	}, http.Header{"X-Authenticated-User": []string{env.userID}})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errResp := decodeJSON[ErrorResponse](t, rec)
	if errResp.Error != "invalid_request" {
		t.Errorf("error = %q", errResp.Error)
	}
}

func TestTokenEndpointErrors(t *testing.T) {
	env := setupTestEnv(t)
	client := env.registerClient(t)

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantError  string
	}{
		{
			"unsupported grant type",
			url.Values{"grant_type": {"device_code"}},
			http.StatusBadRequest, "unsupported_grant_type",
		},
		{
			"missing grant type",
			url.Values{},
			http.StatusBadRequest, "unsupported_grant_type",
		},
		{
			"bad client credentials",
			url.Values{
				"grant_type":    {GrantTypeClientCredentials},
				"client_id":     {client.ClientID},
				"client_secret": {"wrong"},
				"audience":      {client.AudienceID},
			},
			http.StatusForbidden, "access_denied",
		},
		{
			"password grant without audience",
			url.Values{
				"grant_type":    {GrantTypePassword},
				"client_id":     {client.ClientID},
				"client_secret": {client.ClientSecret},
				"username":      {"alice"},
				"password":      {"password123"},
			},
			http.StatusBadRequest, "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postForm(t, "/oauth/token", tt.form, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			errResp := decodeJSON[ErrorResponse](t, rec)
			if errResp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", errResp.Error, tt.wantError)
			}
		})
	}
}

func TestIntrospectEndpointAlwaysOK(t *testing.T) {
	env := setupTestEnv(t)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		rec := env.postForm(t, "/oauth/introspect", url.Values{"token": {token}}, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("introspect(%q) returned %d, want 200", token, rec.Code)
		}
		if decodeJSON[Introspection](t, rec).Active {
			t.Errorf("introspect(%q) should be inactive", token)
		}
	}
}

func TestClientManagementEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	client := env.registerClient(t)
	bearer := http.Header{"Authorization": []string{"Bearer " + client.RegistrationAccessToken}}

	// Read hides secret material
	req := httptest.NewRequest(http.MethodGet, "/oauth/register/"+client.ClientID, nil)
	req.Header = bearer.Clone()
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("read returned %d: %s", rec.Code, rec.Body.String())
	}
	read := decodeJSON[ClientRegistrationResponse](t, rec)
	if read.ClientSecret != "" || read.RegistrationAccessToken != "" {
		t.Error("read must not echo secret material")
	}

	// Update
	body, _ := json.Marshal(&ClientRegistrationRequest{ClientName: "Renamed App"})
	req = httptest.NewRequest(http.MethodPut, "/oauth/register/"+client.ClientID, bytes.NewReader(body))
	req.Header = bearer.Clone()
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}
	if decodeJSON[ClientRegistrationResponse](t, rec).ClientName != "Renamed App" {
		t.Error("name not updated")
	}

	// Reset returns the fresh credentials exactly once
	req = httptest.NewRequest(http.MethodPost, "/oauth/register/"+client.ClientID+"/reset", nil)
	req.Header = bearer.Clone()
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset returned %d: %s", rec.Code, rec.Body.String())
	}
	reset := decodeJSON[ClientRegistrationResponse](t, rec)
	if reset.ClientSecret == "" || reset.ClientSecret == client.ClientSecret {
		t.Error("reset should return a fresh secret")
	}
	if reset.RegistrationAccessToken == "" || reset.RegistrationAccessToken == client.RegistrationAccessToken {
		t.Error("reset should return a fresh registration token")
	}

	// The old registration token died with the reset
	req = httptest.NewRequest(http.MethodGet, "/oauth/register/"+client.ClientID, nil)
	req.Header = bearer.Clone()
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("read with stale registration token returned %d, want 401", rec.Code)
	}
	bearer = http.Header{"Authorization": []string{"Bearer " + reset.RegistrationAccessToken}}

	// Delete
	req = httptest.NewRequest(http.MethodDelete, "/oauth/register/"+client.ClientID, nil)
	req.Header = bearer.Clone()
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}

	// Reads now fail closed
	req = httptest.NewRequest(http.MethodGet, "/oauth/register/"+client.ClientID, nil)
	req.Header = bearer.Clone()
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("read after delete returned %d, want 401", rec.Code)
	}
}

func TestManagementRejectsBadBearer(t *testing.T) {
	env := setupTestEnv(t)
	client := env.registerClient(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth/register/"+client.ClientID, nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
