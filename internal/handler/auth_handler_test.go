package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sugiyama/opsdesk/internal/auth"
	"github.com/sugiyama/opsdesk/internal/metrics"
	"github.com/sugiyama/opsdesk/internal/middleware"
	"github.com/sugiyama/opsdesk/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn func(ctx context.Context, input auth.SignupInput) (*auth.AuthResult, error)
	loginFn  func(ctx context.Context, email, password string) (*auth.AuthResult, error)
}

func (m *mockAuthService) Signup(ctx context.Context, input auth.SignupInput) (*auth.AuthResult, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

type nopCollector struct{}

func (nopCollector) RecordAuthAttempt(result string)                                {}
func (nopCollector) RecordProviderCall(operation string, result string)             {}
func (nopCollector) RecordProviderLatency(operation string, duration time.Duration) {}
func (nopCollector) RecordTokenRefresh(result string)                               {}
func (nopCollector) RecordChannelDeactivated(reason string)                         {}
func (nopCollector) RecordRenewalSweep(channelCount int)                            {}

var _ AuthServiceInterface = (*mockAuthService)(nil)
var _ metrics.MetricsCollector = nopCollector{}

// --- テスト ---

func TestLogin_ValidRequest_ReturnsToken(t *testing.T) {
	service := &mockAuthService{
		loginFn: func(_ context.Context, email, password string) (*auth.AuthResult, error) {
			return &auth.AuthResult{
				AccessToken: "jwt-token",
				User:        &model.User{ID: "user-1", Email: email},
			}, nil
		},
	}
	h := NewAuthHandler(service, nopCollector{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"secret"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["access_token"] != "jwt-token" {
		t.Errorf("access_token = %v, want jwt-token", resp["access_token"])
	}
	if resp["token_type"] != "bearer" {
		t.Errorf("token_type = %v, want bearer", resp["token_type"])
	}
}

func TestLogin_InvalidCredentials_401(t *testing.T) {
	service := &mockAuthService{
		loginFn: func(_ context.Context, _, _ string) (*auth.AuthResult, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := NewAuthHandler(service, nopCollector{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLogin_MissingFields_400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nopCollector{})

	for name, body := range map[string]string{
		"empty body":       `{}`,
		"missing password": `{"email":"user@example.com"}`,
		"malformed json":   `{not json`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSignup_ValidRequest_Returns201(t *testing.T) {
	service := &mockAuthService{
		signupFn: func(_ context.Context, input auth.SignupInput) (*auth.AuthResult, error) {
			return &auth.AuthResult{
				AccessToken: "jwt-token",
				User:        &model.User{ID: "user-1", Email: input.Email, Status: model.UserStatusActive},
			}, nil
		},
	}
	h := NewAuthHandler(service, nopCollector{})

	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"email":"new@example.com","password":"secret","first_name":"Hanako","last_name":"Yamada"}`))
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "password") {
		t.Error("response must not contain password material")
	}
}

func TestSignup_DuplicateEmail_409(t *testing.T) {
	service := &mockAuthService{
		signupFn: func(_ context.Context, _ auth.SignupInput) (*auth.AuthResult, error) {
			return nil, model.NewEmailTakenError()
		},
	}
	h := NewAuthHandler(service, nopCollector{})

	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"email":"dup@example.com","password":"secret"}`))
	rec := httptest.NewRecorder()
	h.Signup(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestMe_AuthenticatedUser_ReturnsProfile(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nopCollector{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), &model.User{
		ID:             "user-1",
		Email:          "user@example.com",
		OrganizationID: "org-1",
		Status:         model.UserStatusActive,
	}))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp userResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "user-1" || resp.OrganizationID != "org-1" {
		t.Errorf("unexpected profile: %+v", resp)
	}
}

func TestLogout_Returns200(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nopCollector{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
