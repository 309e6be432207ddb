package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arcwell/authcore/storage"
	"github.com/arcwell/authcore/storage/memory"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServerSetup(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)
	store.SetLogger(testLogger())

	srv, err := New(store, store, store, store, &Config{
		Issuer:     "https://auth.test",
		SigningKey: testSigningKey,
	}, testLogger())
	if err != nil {
		t.Fatalf("server setup failed: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, store
}

// seedClient registers a client and seeds "read" and "write" scopes for its
// audience.
func seedClient(t *testing.T, srv *Server, store *memory.Store) *storage.Client {
	t.Helper()
	ctx := context.Background()

	client, err := srv.RegisterClient(ctx, "Test App",
		[]string{"https://app.test/callback"}, "https://app.test", "", []string{"read", "write"})
	if err != nil {
		t.Fatalf("client registration failed: %v", err)
	}

	for _, value := range []string{"read", "write"} {
		err := store.CreateScope(ctx, &storage.Scope{Value: value, AudienceID: client.AudienceID})
		if err != nil {
			t.Fatalf("scope seeding failed: %v", err)
		}
	}
	return client
}

func seedUser(t *testing.T, srv *Server) *storage.User {
	t.Helper()
	user, err := srv.RegisterUser(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("user registration failed: %v", err)
	}
	return user
}

// assertErrorCode checks that err is a protocol error with the given code
func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var protoErr *Error
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if protoErr.Code != code {
		t.Fatalf("expected error code %s, got %s (%s)", code, protoErr.Code, protoErr.Description)
	}
}

func TestNewValidation(t *testing.T) {
	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)

	config := &Config{Issuer: "https://auth.test", SigningKey: testSigningKey}

	tests := []struct {
		name string
		call func() (*Server, error)
	}{
		{"nil token store", func() (*Server, error) {
			return New(nil, store, store, store, config, testLogger())
		}},
		{"nil client store", func() (*Server, error) {
			return New(store, nil, store, store, config, testLogger())
		}},
		{"nil scope store", func() (*Server, error) {
			return New(store, store, nil, store, config, testLogger())
		}},
		{"nil user store", func() (*Server, error) {
			return New(store, store, store, nil, config, testLogger())
		}},
		{"missing issuer", func() (*Server, error) {
			return New(store, store, store, store, &Config{SigningKey: testSigningKey}, testLogger())
		}},
		{"missing signing key", func() (*Server, error) {
			return New(store, store, store, store, &Config{Issuer: "https://auth.test"}, testLogger())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.call(); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestRegisterUserDuplicateUsername(t *testing.T) {
	srv, _ := testServerSetup(t)
	ctx := context.Background()

	if _, err := srv.RegisterUser(ctx, "alice", "password123"); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	_, err := srv.RegisterUser(ctx, "alice", "different-password")
	assertErrorCode(t, err, ErrorCodeInvalidRequest)
}
