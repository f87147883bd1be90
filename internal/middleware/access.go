package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/route"
)

const (
	// FlashWarningCookieName はリダイレクト先で表示する警告を保持するCookieの名前。
	FlashWarningCookieName = "flash_warning"
	// NavigationWarningHeader はブロックされた遷移の警告を返すヘッダー名。
	NavigationWarningHeader = "X-Navigation-Warning"

	flashWarningMaxAge = 60
)

// AccessGuardConfig はアクセスガードミドルウェアの設定。
type AccessGuardConfig struct {
	Table        *route.Table
	Decider      guard.Decider
	CookieSecure bool
	CookieDomain string
}

// AccessGuard はルートごとにガードを適用するミドルウェアを生成する。
type AccessGuard struct {
	config AccessGuardConfig
}

// NewAccessGuard はAccessGuardを生成する。
func NewAccessGuard(config AccessGuardConfig) *AccessGuard {
	return &AccessGuard{config: config}
}

// Route は遷移先ルートに対するガードミドルウェアを返す。
// 許可された場合はユーザーをコンテキストに注入して次のハンドラーを呼ぶ。
// GETとHEADはリダイレクト先へ303で転送し、警告をCookieとヘッダーで渡す。
// それ以外のメソッドはリダイレクト先を含むJSONのエラーレスポンスを返す。
func (a *AccessGuard) Route(target route.Route) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := guard.NavigationRequest{
				Target:     target,
				Source:     a.sourceRoute(r),
				Credential: CredentialFromContext(r.Context()),
			}

			d := a.config.Decider.Decide(r.Context(), req)
			if d.Allowed() {
				ctx := ContextWithIdentity(r.Context(), d.Identity)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if d.Identity != nil {
				setRequestUser(r.Context(), d.Identity.UID)
			}
			a.writeBlocked(w, r, d)
		})
	}
}

// writeBlocked はブロックされた遷移のレスポンスを書き込む。
func (a *AccessGuard) writeBlocked(w http.ResponseWriter, r *http.Request, d guard.Decision) {
	w.Header().Set(NavigationWarningHeader, d.Warning)
	w.Header().Set("Cache-Control", "no-store")

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		http.SetCookie(w, &http.Cookie{
			Name:     FlashWarningCookieName,
			Value:    url.QueryEscape(d.Warning),
			Path:     "/",
			Domain:   a.config.CookieDomain,
			MaxAge:   flashWarningMaxAge,
			HttpOnly: false, // クライアント側で警告を表示するため
			Secure:   a.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
		return
	}

	if d.Outcome == guard.RedirectNotAuthorized {
		WriteBlockedResponse(w, model.NewNotAuthorizedError(d.Warning), d.Redirect)
		return
	}
	WriteBlockedResponse(w, model.NewAuthRequiredError(d.Warning), d.Redirect)
}

// sourceRoute はRefererから遷移元ルートを推定する。分からない場合はゼロ値を返す。
func (a *AccessGuard) sourceRoute(r *http.Request) route.Route {
	if a.config.Table == nil {
		return route.Route{}
	}
	ref := r.Referer()
	if ref == "" {
		return route.Route{}
	}
	u, err := url.Parse(ref)
	if err != nil {
		return route.Route{}
	}
	src, err := a.config.Table.Lookup(u.Path)
	if err != nil {
		return route.Route{}
	}
	return src
}

// PopFlashWarning はリダイレクト元で設定された警告を取り出し、Cookieを削除する。
func PopFlashWarning(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(FlashWarningCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:   FlashWarningCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	warning, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		slog.Warn("invalid flash warning cookie", slog.String("error", err.Error()))
		return ""
	}
	return warning
}
