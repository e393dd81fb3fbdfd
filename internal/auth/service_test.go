package auth

import (
	"context"
	"errors"
	"testing"

	"newsdesk/internal/database"
)

func setupAuth(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db.DB)
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	s := setupAuth(t)
	ctx := context.Background()

	has, err := s.HasUsers(ctx)
	if err != nil || has {
		t.Fatalf("HasUsers on fresh database = %v, %v; want false", has, err)
	}

	if err := s.CreateUser(ctx, "admin", "correct horse battery"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if has, _ = s.HasUsers(ctx); !has {
		t.Errorf("HasUsers = false after CreateUser")
	}

	session, err := s.Authenticate(ctx, "admin", "correct horse battery")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if session.ID == "" || session.UserID == 0 {
		t.Errorf("session = %+v", session)
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		t.Errorf("session expires before it starts: %+v", session)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	s := setupAuth(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "admin", "right"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := s.Authenticate(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password = %v; want ErrInvalidCredentials", err)
	}
	if _, err := s.Authenticate(ctx, "nobody", "right"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user = %v; want ErrInvalidCredentials", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := setupAuth(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "admin", "pw12345678"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	session, err := s.Authenticate(ctx, "admin", "pw12345678")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	got, err := s.ValidateSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if got.UserID != session.UserID {
		t.Errorf("validated session = %+v", got)
	}

	if err := s.InvalidateSession(ctx, session.ID); err != nil {
		t.Fatalf("InvalidateSession failed: %v", err)
	}
	if _, err := s.ValidateSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("invalidated session = %v; want ErrSessionNotFound", err)
	}

	if _, err := s.ValidateSession(ctx, "no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session = %v; want ErrSessionNotFound", err)
	}
}
