package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/middleware"
	"github.com/hitoshi/snapboard/internal/model"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない
	HealthChecker     HealthChecker

	// 認証・メンバー
	AuthService   AuthServiceInterface
	MemberService MemberServiceInterface
	AuthConfig    AuthHandlerConfig

	// 投稿・コメント
	InteractionService InteractionServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Identity → Logging
//
// Identityは全ルートに適用し、認証の要否はルートグループごとにRequireAuth/RequireRoleで判定する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS:          deps.AuthConfig.CookieSecure,
		NoStorePrefix: "/api/",
	}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(metrics.NewHTTPMiddleware(collector))
	r.Use(middleware.NewIdentityMiddleware(deps.IdentityResolver, collector))
	r.Use(middleware.NewLoggingMiddleware(logger, "/health", "/metrics"))

	authHandler := NewAuthHandler(deps.AuthService, deps.MemberService, deps.AuthConfig, collector)
	userHandler := NewUserHandler(authHandler, deps.MemberService, deps.InteractionService)
	postHandler := NewPostHandler(deps.InteractionService, deps.AuthConfig.MaxUploadSize)
	adminHandler := NewAdminHandler(deps.MemberService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Post("/register", authHandler.Register)
	})
	r.Get("/api/posts", postHandler.List)
	r.Get("/api/posts/{id}/comments", postHandler.ListComments)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Get("/api/user/me", userHandler.Me)
		r.Get("/api/user/saved", userHandler.Saved)

		r.Post("/api/posts", postHandler.Create)
		r.Delete("/api/posts/{id}", postHandler.Delete)
		r.Patch("/api/posts/{id}", postHandler.UpdateCaption)
		r.Post("/api/posts/{id}/like", postHandler.ToggleLike)
		r.Post("/api/posts/{id}/save", postHandler.ToggleSave)
		r.Post("/api/posts/{id}/comments", postHandler.AddComment)
		r.Delete("/api/comments/{id}", postHandler.DeleteComment)
	})

	// プロフィールは匿名でも閲覧でき、投稿一覧は閲覧者の状態を付与する
	r.Get("/api/user/{username}", userHandler.Profile)
	r.Get("/api/user/{username}/posts", userHandler.Posts)

	// --- 管理者ルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(model.RoleAdmin))
		r.Put("/api/admin/members/{username}", adminHandler.SetMemberStatus)
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はデータベースの疎通を確認するハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
