package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/metrics"
	"github.com/hitoshi/supply/internal/middleware"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/route"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	HealthChecker     HealthChecker

	// メトリクス（nilの場合は/metricsを公開しない）
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// アクセス制御
	Routes           *route.Table
	Guard            guard.Decider
	Navigator        NavigatorInterface
	IdentityProvider identity.Provider

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 商品
	ProductService ProductServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → Credential
//	→ StripSlashes → GetHead → RateLimit(General) → CSRF → AccessGuard（ページルートのみ）
//
// /health と /metrics はレート制限とCSRFの外に配置する。
// 末尾のスラッシュはroute.Table.Lookupと同じく無視し、HEADはGETのルートで処理する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var panicRecorder middleware.PanicRecorder
	if deps.Metrics != nil {
		panicRecorder = deps.Metrics
	}
	r.Use(middleware.NewRecoveryMiddleware(panicRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS: deps.CSRFConfig.CookieSecure,
	}))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCredentialMiddleware())
	r.Use(chimw.StripSlashes)
	r.Use(chimw.GetHead)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownRouteError(r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, model.NewInvalidRequestError("このメソッドは利用できません。"))
	})

	// --- 運用エンドポイント ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	var restockRecorder RestockRecorder
	var supersededRecorder SupersededRecorder
	if deps.Metrics != nil {
		restockRecorder = deps.Metrics
		supersededRecorder = deps.Metrics
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.IdentityProvider, deps.AuthConfig)
	pageHandler := NewPageHandler(deps.ProductService, restockRecorder)
	navHandler := NewNavigationHandler(deps.Routes, deps.Navigator, supersededRecorder)
	access := middleware.NewAccessGuard(middleware.AccessGuardConfig{
		Table:        deps.Routes,
		Decider:      deps.Guard,
		CookieSecure: deps.CSRFConfig.CookieSecure,
		CookieDomain: deps.CSRFConfig.CookieDomain,
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// クライアントルーター向けAPI
		r.Route("/api", func(r chi.Router) {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
			r.Get("/routes", navHandler.Routes)
			r.Post("/navigate", navHandler.Navigate)
		})

		// ページルート。ルートテーブルの各エントリにガードを適用する
		for _, rt := range deps.Routes.Routes() {
			r.With(access.Route(rt)).Get(rt.Path, pageHandler.ForRoute(rt))
		}

		// 状態を変更するページ操作は表示と同じタグで保護する
		if rt, err := deps.Routes.ByName(route.NameCreateProduct); err == nil {
			r.With(access.Route(rt)).Post(rt.Path, pageHandler.CreateProduct)
		}
		if rt, err := deps.Routes.ByName(route.NameRestock); err == nil {
			r.With(access.Route(rt)).Post(rt.Path, pageHandler.Restock)
		}
	})

	return r
}
