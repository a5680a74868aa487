// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/token"
)

// TokenCookieName はトークンを格納するCookie名。
const TokenCookieName = "jwt"

// 401レスポンスに含める理由文字列
const (
	ReasonTokenMalformed        = "Unable to get token"
	ReasonTokenExpired          = "Token has expired"
	ReasonTokenInvalidSignature = "Invalid token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// IdentityResolver はトークンの検証とPrincipalの解決に必要なインターフェース。
// auth.Serviceが実装する。
type IdentityResolver interface {
	Decode(tokenString string) (*token.Claims, error)
	LoadPrincipal(ctx context.Context, id string) (*model.Principal, error)
	Validate(tokenString, expectedPrincipalID string) bool
}

// TokenErrorBody はトークン検証失敗時のレスポンス。
type TokenErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewIdentityMiddleware はCookieのトークンからリクエストの主体を解決するミドルウェアを返す。
// トークンがない場合は匿名のまま後続に渡す。トークンが不正な場合は401を返し、後続は実行しない。
// ロールと有効フラグはトークンではなく、リクエストごとに現在のメンバー情報から解決する。
func NewIdentityMiddleware(resolver IdentityResolver, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得
			cookie, err := r.Cookie(TokenCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			// 2. トークンを検証
			claims, err := resolver.Decode(cookie.Value)
			if err != nil {
				reason, code := classifyTokenError(err)
				collector.RecordAuthFailure(code)
				writeTokenError(w, reason, code)
				return
			}

			// 3. 現在のメンバー情報からPrincipalを解決
			principal, err := resolver.LoadPrincipal(r.Context(), claims.Subject)
			if err != nil {
				slog.Error("failed to load principal",
					slog.String("user_id", claims.Subject),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if principal == nil || !principal.Enabled || !resolver.Validate(cookie.Value, principal.ID) {
				next.ServeHTTP(w, r)
				return
			}

			// 4. リクエストコンテキストに束縛
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAuth は匿名リクエストに401 UNAUTHORIZEDを返すミドルウェア。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			WriteAPIError(w, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole は指定ロールを持たないリクエストを拒否するミドルウェアを返す。
// 匿名の場合は401、ロールがない場合は403を返す。
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}
			if !principal.HasRole(role) {
				WriteAPIError(w, model.NewForbiddenError("必要なロールがありません: "+role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// 匿名リクエストの場合はnilを返す。
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalContextKey).(*model.Principal)
	return p
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func classifyTokenError(err error) (reason, code string) {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ReasonTokenExpired, model.ErrCodeTokenExpired
	case errors.Is(err, token.ErrInvalidSignature):
		return ReasonTokenInvalidSignature, model.ErrCodeTokenInvalidSignature
	default:
		return ReasonTokenMalformed, model.ErrCodeTokenMalformed
	}
}

func writeTokenError(w http.ResponseWriter, reason, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(TokenErrorBody{Error: reason, Code: code})
}
