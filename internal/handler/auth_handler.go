// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/middleware"
	"github.com/hitoshi/supply/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, idToken string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain    string
	CookieSecure    bool
	SessionMaxAge   int           // セッションCookieの有効期間（秒）
	IdentityTimeout time.Duration // /auth/me のユーザー問い合わせのタイムアウト
}

// AuthHandler はログイン、ログアウト、ログインユーザー取得のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	provider identity.Provider
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// providerは /auth/me で現在のユーザーを問い合わせるために使う。
func NewAuthHandler(service AuthServiceInterface, provider identity.Provider, config AuthHandlerConfig) *AuthHandler {
	if config.IdentityTimeout <= 0 {
		config.IdentityTimeout = 5 * time.Second
	}
	return &AuthHandler{
		service:  service,
		provider: provider,
		config:   config,
	}
}

type loginRequest struct {
	IDToken string `json:"id_token"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// Login はIDトークンを検証し、サーバーセッションを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		req.IDToken = r.PostFormValue("id_token")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	session, user, err := h.service.Login(r.Context(), req.IDToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, userResponse{
		UID:      user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Provider: identity.ProviderSession,
	})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
// 問い合わせに失敗した場合も未ログインとして扱う。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.IdentityTimeout)
	defer cancel()

	id, err := identity.Current(ctx, h.provider, middleware.CredentialFromContext(r.Context()))
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError(guard.WarningIdentityUnavailable))
		return
	}
	if id == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError(guard.WarningLoginRequired))
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(id))
}
