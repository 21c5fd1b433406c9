// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sugiyama/opsdesk/internal/auth"
	"github.com/sugiyama/opsdesk/internal/metrics"
	"github.com/sugiyama/opsdesk/internal/middleware"
	"github.com/sugiyama/opsdesk/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, input auth.SignupInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	collector metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, collector metrics.MetricsCollector) *AuthHandler {
	return &AuthHandler{
		service:   service,
		collector: collector,
	}
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

// Signup は新規ユーザーを登録し、アクセストークンを発行する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewValidationError("リクエストボディが不正です。"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, model.NewValidationError("メールアドレスとパスワードは必須です。"))
		return
	}

	result, err := h.service.Signup(r.Context(), auth.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		AccessToken: result.AccessToken,
		TokenType:   "bearer",
		User:        newUserResponse(result.User),
	})
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewValidationError("リクエストボディが不正です。"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, model.NewValidationError("メールアドレスとパスワードは必須です。"))
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.collector.RecordAuthAttempt(metrics.ResultFailure)
		writeError(w, err)
		return
	}
	h.collector.RecordAuthAttempt(metrics.ResultSuccess)

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: result.AccessToken,
		TokenType:   "bearer",
		User:        newUserResponse(result.User),
	})
}

// Me は現在の認証済みユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewInvalidTokenError())
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// Logout はログアウトを受け付ける。トークンはステートレスなため
// サーバー側に破棄すべき状態はなく、クライアントがトークンを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ログアウトしました。"})
}
