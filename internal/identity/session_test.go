package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/supply/internal/model"
)

// --- モック定義 ---

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// --- テスト ---

func TestSessionProvider_ValidSession_ReturnsIdentity(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "valid-session" {
				t.Errorf("session id = %q, want %q", id, "valid-session")
			}
			return &model.Session{ID: id, UserID: "uid-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	users := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "a@example.com", Name: "A"}, nil
		},
	}

	p := NewSessionProvider(sessions, users)
	id, err := Current(context.Background(), p, Credential{SessionID: "valid-session"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil {
		t.Fatal("expected identity")
	}
	if id.UID != "uid-1" || id.Email != "a@example.com" || id.Provider != ProviderSession {
		t.Errorf("id = %+v", id)
	}
}

func TestSessionProvider_NoSessionID_ReturnsNilWithoutLookup(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			t.Error("session store should not be queried")
			return nil, nil
		},
	}

	p := NewSessionProvider(sessions, &mockUserFinder{})
	id, err := Current(context.Background(), p, Credential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
}

func TestSessionProvider_ExpiredSession_ReturnsNil(t *testing.T) {
	// 期限切れのセッションはリポジトリがnilを返す
	p := NewSessionProvider(&mockSessionFinder{}, &mockUserFinder{})

	id, err := Current(context.Background(), p, Credential{SessionID: "expired"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
}

func TestSessionProvider_UserDeleted_ReturnsNil(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "gone"}, nil
		},
	}

	p := NewSessionProvider(sessions, &mockUserFinder{})
	id, err := Current(context.Background(), p, Credential{SessionID: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
}

func TestSessionProvider_RepositoryError_ReturnsLookupFailed(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, context.DeadlineExceeded
		},
	}

	p := NewSessionProvider(sessions, &mockUserFinder{})
	_, err := Current(context.Background(), p, Credential{SessionID: "s"})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("err = %v, want ErrLookupFailed", err)
	}
}

func TestSessionProvider_UserRepositoryError_ReturnsLookupFailed(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "uid"}, nil
		},
	}
	users := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("connection reset")
		},
	}

	p := NewSessionProvider(sessions, users)
	_, err := Current(context.Background(), p, Credential{SessionID: "s"})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("err = %v, want ErrLookupFailed", err)
	}
}
