// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/supply/internal/identity"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	credentialContextKey  = contextKey("credential")
	identityContextKey    = contextKey("identity")
	requestUserContextKey = contextKey("request_user")
)

// NewCredentialMiddleware はリクエストから認証情報を取り出し、コンテキストに注入する。
// セッションCookieとAuthorizationヘッダーのBearerトークンを読み取る。
// 検証は行わず、未認証のリクエストもそのまま通す。
func NewCredentialMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithCredential(r.Context(), CredentialFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFromRequest はリクエストのCookieとヘッダーから認証情報を組み立てる。
func CredentialFromRequest(r *http.Request) identity.Credential {
	var cred identity.Credential
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		cred.SessionID = cookie.Value
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			cred.BearerToken = strings.TrimSpace(token)
		}
	}
	return cred
}

// ContextWithCredential はコンテキストに認証情報を注入する。
func ContextWithCredential(ctx context.Context, cred identity.Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// CredentialFromContext はコンテキストから認証情報を取得する。
// 注入されていない場合はゼロ値を返す。
func CredentialFromContext(ctx context.Context) identity.Credential {
	cred, _ := ctx.Value(credentialContextKey).(identity.Credential)
	return cred
}

// ContextWithIdentity はガードが確認したユーザーをコンテキストに注入する。
func ContextWithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	if id != nil {
		setRequestUser(ctx, id.UID)
	}
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext はガードを通過したリクエストのユーザーを返す。
// ガードを通過していない、または未ログインの場合はnilを返す。
func IdentityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(identityContextKey).(*identity.Identity)
	return id
}

// requestUser はロギングミドルウェアが内側のハンドラーで確定したユーザーIDを
// 受け取るための入れ物。
type requestUser struct {
	uid string
}

func setRequestUser(ctx context.Context, uid string) {
	if ru, ok := ctx.Value(requestUserContextKey).(*requestUser); ok {
		ru.uid = uid
	}
}

// ClientKey はレート制限に使うクライアントの識別子を返す。
// セッション、Bearerトークン、接続元IPの順に使用する。
func ClientKey(r *http.Request) string {
	if key := credentialKey(r); key != "" {
		return key
	}
	return "ip:" + remoteIP(r)
}

// NavigationKey はナビゲーションの順序制御に使うクライアントの識別子を返す。
// 認証情報のないリクエストは空文字を返す。同じIPの別クライアントを
// 同一視しないため、接続元IPにはフォールバックしない。
func NavigationKey(r *http.Request) string {
	return credentialKey(r)
}

// credentialKey はセッションまたはBearerトークンからキーを作る。
// トークンはそのままキーにせずハッシュ化する。
func credentialKey(r *http.Request) string {
	cred := CredentialFromContext(r.Context())
	if cred.IsZero() {
		cred = CredentialFromRequest(r)
	}
	switch {
	case cred.SessionID != "":
		return "session:" + cred.SessionID
	case cred.BearerToken != "":
		sum := sha256.Sum256([]byte(cred.BearerToken))
		return "token:" + hex.EncodeToString(sum[:16])
	default:
		return ""
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
