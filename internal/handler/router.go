package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sugiyama/opsdesk/internal/metrics"
	"github.com/sugiyama/opsdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface

	// プロバイダー連携
	Connector     ConnectorInterface
	Subscriptions SubscriptionEstablisher
	ProviderName  string

	// 観測
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer

	// ヘルスチェック
	HealthCheck http.HandlerFunc
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → AuthGate → RateLimit(General)
//
// 認証ゲートは公開パス（/auth/login等）を素通しし、それ以外を保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewAuthGateMiddleware(deps.TokenVerifier, deps.UserFinder))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Collector)
	integrationHandler := NewIntegrationHandler(deps.Connector, deps.Subscriptions, deps.ProviderName)

	// 認証
	r.Route("/auth", func(r chi.Router) {
		// ログイン試行はIPごとの専用レート制限を追加
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Post("/signup", authHandler.Signup)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// プロバイダー連携
	r.Route("/integrations/{provider}", func(r chi.Router) {
		r.Get("/connect", integrationHandler.Connect)
		r.Get("/oauth/callback", integrationHandler.Callback)
		r.Delete("/disconnect/{channel_id}", integrationHandler.Disconnect)
	})

	// 運用エンドポイント
	r.Get("/health", deps.HealthCheck)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	return r
}
