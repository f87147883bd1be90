package identity

import (
	"context"
	"fmt"

	"github.com/hitoshi/supply/internal/model"
)

// ProviderSession はサーバーセッション経由で解決したユーザーを示す。
const ProviderSession = "session"

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionProvider はセッションCookieの値からユーザーを解決するプロバイダー。
// 期限切れや未登録のセッションは不在として通知する。
type SessionProvider struct {
	sessions SessionFinder
	users    UserFinder
}

// NewSessionProvider はSessionProviderを生成する。
func NewSessionProvider(sessions SessionFinder, users UserFinder) *SessionProvider {
	return &SessionProvider{sessions: sessions, users: users}
}

// Subscribe はセッションを検索し、結果を1回だけ通知する。
func (p *SessionProvider) Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) func() {
	return watch(ctx, cred, onChange, onError, p.lookup)
}

func (p *SessionProvider) lookup(ctx context.Context, cred Credential) (*Identity, error) {
	if cred.SessionID == "" {
		return nil, nil
	}

	session, err := p.sessions.FindByID(ctx, cred.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := p.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	return &Identity{
		UID:      user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Provider: ProviderSession,
	}, nil
}

// compile-time interface check
var _ Provider = (*SessionProvider)(nil)
