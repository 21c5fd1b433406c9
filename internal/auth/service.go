// Package auth はパスワード認証とセッショントークン発行のビジネスロジックを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sugiyama/opsdesk/internal/model"
	"github.com/sugiyama/opsdesk/internal/repository"
)

// TokenIssuer はセッショントークンの発行に必要なインターフェース。
// token.Serviceの部分集合として定義する。
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// SignupInput はサインアップの入力を表す。
type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AuthResult は認証成功時の結果を表す。
type AuthResult struct {
	AccessToken string
	User        *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, hasher PasswordHasher, tokens TokenIssuer) *Service {
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
		tokens:   tokens,
	}
}

// Signup は新規ユーザーを作成し、セッショントークンを発行する。
// 登録済みメールアドレスの場合はEmailTakenエラーを返す。
func (s *Service) Signup(ctx context.Context, input SignupInput) (*AuthResult, error) {
	hashed, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:             uuid.New().String(),
		Email:          input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		HashedPassword: hashed,
		Status:         model.UserStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	accessToken, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("new user signed up", slog.String("user_id", user.ID))

	return &AuthResult{AccessToken: accessToken, User: user}, nil
}

// Login はメールアドレスとパスワードを検証し、セッショントークンを発行する。
// メールアドレス不明とパスワード不一致は同一のエラーとして扱い、
// アカウントの存在有無を漏らさない。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if !s.hasher.Verify(password, user.HashedPassword) {
		return nil, model.NewInvalidCredentialsError()
	}

	accessToken, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return &AuthResult{AccessToken: accessToken, User: user}, nil
}

// CurrentUser は指定IDのユーザーを取得する。
// 存在しない場合はIdentityNotFoundエラーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewIdentityNotFoundError()
	}
	return user, nil
}
