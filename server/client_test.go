package server

import (
	"context"
	"testing"

	"github.com/arcwell/authcore/storage"
)

func TestRegisterClient(t *testing.T) {
	srv, _ := testServerSetup(t)
	ctx := context.Background()

	client, err := srv.RegisterClient(ctx, "My App",
		[]string{"https://myapp.test/callback", "myapp://callback"},
		"https://myapp.test", "", []string{"read"})
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	if client.ID == "" {
		t.Error("client ID is empty")
	}
	if len(client.Secret) != srv.Config.ClientSecretLength {
		t.Errorf("secret length = %d, want %d", len(client.Secret), srv.Config.ClientSecretLength)
	}
	if len(client.RegistrationToken) != srv.Config.RegistrationTokenLength {
		t.Errorf("registration token length = %d, want %d",
			len(client.RegistrationToken), srv.Config.RegistrationTokenLength)
	}
	if client.AudienceID == "" {
		t.Error("audience should be generated when omitted")
	}
}

func TestRegisterClientValidation(t *testing.T) {
	srv, _ := testServerSetup(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		clientName   string
		redirectURIs []string
	}{
		{"missing name", "", []string{"https://app.test/callback"}},
		{"no redirect URIs", "App", nil},
		{"relative redirect URI", "App", []string{"/callback"}},
		{"redirect URI with fragment", "App", []string{"https://app.test/callback#frag"}},
		{"unparseable redirect URI", "App", []string{"https://app.test/%zz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.RegisterClient(ctx, tt.clientName, tt.redirectURIs, "", "", nil)
			assertErrorCode(t, err, ErrorCodeInvalidRequest)
		})
	}
}

func TestRegisterClientDuplicateName(t *testing.T) {
	srv, _ := testServerSetup(t)
	ctx := context.Background()

	if _, err := srv.RegisterClient(ctx, "My App",
		[]string{"https://one.test/callback"}, "https://one.test", "", nil); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	_, err := srv.RegisterClient(ctx, "My App",
		[]string{"https://two.test/callback"}, "https://two.test", "", nil)
	assertErrorCode(t, err, ErrorCodeInvalidRequest)
}

func TestRegisterClientDuplicateRedirectURI(t *testing.T) {
	srv, _ := testServerSetup(t)
	ctx := context.Background()

	if _, err := srv.RegisterClient(ctx, "First App",
		[]string{"https://shared.test/callback"}, "https://one.test", "", nil); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	// Redirect URIs are globally unique across clients
	_, err := srv.RegisterClient(ctx, "Second App",
		[]string{"https://shared.test/callback"}, "https://two.test", "", nil)
	assertErrorCode(t, err, ErrorCodeInvalidRequest)
}

func TestManagementAuthorization(t *testing.T) {
	srv, store := testServerSetup(t)
	client := seedClient(t, srv, store)
	ctx := context.Background()

	// Self-management with the registration token
	if _, err := srv.GetClientInfo(ctx, client.ID, client.RegistrationToken); err != nil {
		t.Errorf("registration token should authorize: %v", err)
	}

	// Wrong credential
	_, err := srv.GetClientInfo(ctx, client.ID, "wrong-credential")
	assertErrorCode(t, err, ErrorCodeInvalidClient)

	// Missing credential
	_, err = srv.GetClientInfo(ctx, client.ID, "")
	assertErrorCode(t, err, ErrorCodeInvalidClient)

	// Unknown clients look exactly like bad credentials
	_, err = srv.GetClientInfo(ctx, "no-such-client", client.RegistrationToken)
	assertErrorCode(t, err, ErrorCodeInvalidClient)
}

func TestManagementWithManagerToken(t *testing.T) {
	srv, store := testServerSetup(t)
	client := seedClient(t, srv, store)
	ctx := context.Background()

	manager, err := srv.RegisterClient(ctx, "Admin Console",
		[]string{"https://admin.test/callback"}, "https://admin.test", "", nil)
	if err != nil {
		t.Fatalf("manager registration failed: %v", err)
	}
	err = store.CreateScope(ctx, &storage.Scope{
		Value:      srv.Config.ManagerScope,
		AudienceID: manager.AudienceID,
	})
	if err != nil {
		t.Fatalf("manager scope seeding failed: %v", err)
	}

	managerTok, err := srv.ExchangeClientCredentials(ctx, manager.ID, manager.Secret,
		[]string{srv.Config.ManagerScope}, manager.AudienceID)
	if err != nil {
		t.Fatalf("manager token exchange failed: %v", err)
	}

	// A manager token authorizes operations on other clients
	if _, err := srv.GetClientInfo(ctx, client.ID, managerTok.AccessToken); err != nil {
		t.Errorf("manager token should authorize cross-client reads: %v", err)
	}

	// A token without the manager scope does not
	plainTok, err := srv.ExchangeClientCredentials(ctx, client.ID, client.Secret,
		[]string{"read"}, client.AudienceID)
	if err != nil {
		t.Fatalf("plain token exchange failed: %v", err)
	}
	_, err = srv.GetClientInfo(ctx, manager.ID, plainTok.AccessToken)
	assertErrorCode(t, err, ErrorCodeInsufficientScope)
}

func TestUpdateClientRegistration(t *testing.T) {
	srv, store := testServerSetup(t)
	client := seedClient(t, srv, store)
	ctx := context.Background()

	updated, err := srv.UpdateClientRegistration(ctx, client.ID, client.RegistrationToken, ClientUpdate{
		Name:         "Renamed App",
		RedirectURIs: []string{"https://app.test/callback", "https://app.test/callback2"},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != "Renamed App" {
		t.Errorf("name = %q", updated.Name)
	}
	if len(updated.RedirectURIs) != 2 {
		t.Errorf("redirect URIs = %v", updated.RedirectURIs)
	}
	// Untouched fields survive
	if updated.HostURI != "https://app.test" {
		t.Errorf("host URI should be unchanged, got %q", updated.HostURI)
	}

	// Collision with another client's name is rejected
	other, err := srv.RegisterClient(ctx, "Other App",
		[]string{"https://other.test/callback"}, "https://other.test", "", nil)
	if err != nil {
		t.Fatalf("second registration failed: %v", err)
	}
	_, err = srv.UpdateClientRegistration(ctx, other.ID, other.RegistrationToken, ClientUpdate{
		Name: "Renamed App",
	})
	assertErrorCode(t, err, ErrorCodeInvalidRequest)
}

func TestResetClientSecret(t *testing.T) {
	srv, store := testServerSetup(t)
	client := seedClient(t, srv, store)
	ctx := context.Background()

	oldSecret := client.Secret
	oldRegToken := client.RegistrationToken
	reset, err := srv.ResetClientSecret(ctx, client.ID, oldRegToken)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if reset.Secret == oldSecret {
		t.Fatal("secret was not rotated")
	}
	if reset.RegistrationToken == oldRegToken {
		t.Fatal("registration token was not rotated")
	}

	// Old secret no longer authenticates
	_, err = srv.ExchangeClientCredentials(ctx, client.ID, oldSecret, []string{"read"}, client.AudienceID)
	assertErrorCode(t, err, ErrorCodeAccessDenied)

	// New one does
	if _, err := srv.ExchangeClientCredentials(ctx, client.ID, reset.Secret, []string{"read"}, client.AudienceID); err != nil {
		t.Errorf("new secret should authenticate: %v", err)
	}

	// Same for the registration token on the management surface
	if _, err := srv.GetClientInfo(ctx, client.ID, oldRegToken); err == nil {
		t.Error("old registration token should no longer authorize management")
	}
	if _, err := srv.GetClientInfo(ctx, client.ID, reset.RegistrationToken); err != nil {
		t.Errorf("new registration token should authorize management: %v", err)
	}
}

func TestResetClientSecretRevokesCredentials(t *testing.T) {
	srv, store := testServerSetup(t)
	client := seedClient(t, srv, store)
	seedUser(t, srv)
	ctx := context.Background()

	tok, err := srv.ExchangePassword(ctx, client.ID, client.Secret,
		"alice", "password123", []string{"read"}, client.AudienceID)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	reset, err := srv.ResetClientSecret(ctx, client.ID, client.RegistrationToken)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	// Every credential minted under the old secret is revoked
	if _, err := store.GetAccessToken(ctx, tok.AccessToken); err == nil {
		t.Error("access token should be revoked on reset")
	}
	if _, err := store.GetRefreshToken(ctx, tok.RefreshToken); err == nil {
		t.Error("refresh token should be revoked on reset")
	}
	if introspection := srv.Introspect(ctx, tok.AccessToken); introspection.Active {
		t.Error("token should be inactive after reset")
	}
	_, err = srv.ExchangeRefreshToken(ctx, tok.RefreshToken, client.ID, reset.Secret)
	assertErrorCode(t, err, ErrorCodeAccessDenied)

	// The relation is free again: the new secret can mint a fresh pair
	if _, err := srv.ExchangePassword(ctx, client.ID, reset.Secret,
		"alice", "password123", []string{"read"}, client.AudienceID); err != nil {
		t.Errorf("fresh issuance after reset failed: %v", err)
	}
}

func TestDeleteClientRegistration(t *testing.T) {
	srv, store := testServerSetup(t)
	client := seedClient(t, srv, store)
	seedUser(t, srv)
	ctx := context.Background()

	tok, err := srv.ExchangePassword(ctx, client.ID, client.Secret,
		"alice", "password123", []string{"read"}, client.AudienceID)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if err := srv.DeleteClientRegistration(ctx, client.ID, client.RegistrationToken); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// Every credential the client held is revoked
	if _, err := store.GetAccessToken(ctx, tok.AccessToken); err == nil {
		t.Error("access token should be revoked with the client")
	}
	if _, err := store.GetRefreshToken(ctx, tok.RefreshToken); err == nil {
		t.Error("refresh token should be revoked with the client")
	}
	if introspection := srv.Introspect(ctx, tok.AccessToken); introspection.Active {
		t.Error("token should be inactive after client deletion")
	}

	// The registration itself is gone
	if _, err := store.GetClient(ctx, client.ID); err == nil {
		t.Error("client should be deleted")
	}
}
