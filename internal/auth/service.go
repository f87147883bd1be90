// Package auth はFirebase IDトークンによるログインとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/repository"
)

// TokenVerifier はIDトークンを検証するインターフェース。
// identity.TokenVerifierが実装する。
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*identity.Identity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier    TokenVerifier
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	verifier TokenVerifier,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		verifier:    verifier,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// Login はクライアントがFirebaseから取得したIDトークンを検証し、セッションを発行する。
// ユーザーはUIDをキーに作成または更新される。
// トークンが不正な場合はINVALID_ID_TOKENのAPIErrorを返す。
func (s *Service) Login(ctx context.Context, idToken string) (*model.Session, *model.User, error) {
	if idToken == "" {
		return nil, nil, model.NewInvalidIDTokenError()
	}

	// 1. IDトークンを検証
	id, err := s.verifier.Verify(ctx, idToken)
	if errors.Is(err, identity.ErrInvalidToken) {
		slog.Warn("login rejected", slog.String("error", err.Error()))
		return nil, nil, model.NewInvalidIDTokenError()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	// 2. ユーザーを作成または更新
	user := &model.User{
		ID:    id.UID,
		Email: id.Email,
		Name:  id.Name,
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
