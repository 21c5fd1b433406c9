// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sugiyama/opsdesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// publicPaths は認証なしでアクセスできるパス。
var publicPaths = map[string]bool{
	"/auth/login":  true,
	"/auth/signup": true,
	"/auth/logout": true,
	"/health":      true,
	"/metrics":     true,
}

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.Serviceの部分集合として定義する。
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAuthGateMiddleware は公開パス以外のすべてのリクエストを認証で保護する
// ミドルウェアを返す。トークンはクエリパラメータ、次にAuthorizationヘッダーの
// 順で探す。検証済みユーザーをリクエストコンテキストに注入する。
// トークン不正とユーザー不在は同一の401レスポンスにマップし、
// どちらのケースかをクライアントに漏らさない。
func NewAuthGateMiddleware(verifier TokenVerifier, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORSプリフライトと公開パスは素通しする
			if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				writeUnauthorized(w)
				return
			}

			userID, err := verifier.Verify(tokenString)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user for token",
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w)
				return
			}
			if user == nil {
				// トークンは有効だがユーザーが削除済み。トークン不正と区別しない
				writeUnauthorized(w)
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken はリクエストからアクセストークンを取り出す。
// OAuthコールバック等のリダイレクト経由のリクエストのために
// クエリパラメータを優先し、次にBearerヘッダーを見る。
func extractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}

	authz := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// writeUnauthorized は認証失敗の統一401レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ゲートを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
