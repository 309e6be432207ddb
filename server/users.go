package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arcwell/authcore/security"
	"github.com/arcwell/authcore/storage"
)

// RegisterUser creates a resource owner account. The password is stored as
// a bcrypt hash; the plaintext is never persisted.
func (s *Server) RegisterUser(ctx context.Context, username, password string) (*storage.User, error) {
	if username == "" {
		return nil, ErrInvalidParameter("username is required")
	}
	if password == "" {
		return nil, ErrInvalidParameter("password is required")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		s.Logger.Error("Failed to hash password", "error", err)
		return nil, ErrInternal("password hashing failure")
	}

	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}

	if err := s.userStore.CreateUser(ctx, user); err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, ErrInvalidParameter("username is already taken")
		}
		s.Logger.Error("Failed to save user", "error", err)
		return nil, ErrInternal("storage failure")
	}

	s.Logger.Info("Registered user", "user_id", user.ID)
	return user, nil
}
