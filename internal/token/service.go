// Package token は署名付きセッショントークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken は署名不正・構造不正・期限切れのトークンを表す。
// 呼び出し側はこのエラーを一律に401相当として扱い、詳細を区別しない。
var ErrInvalidToken = errors.New("invalid token")

// Claims はセッショントークンに埋め込むクレームセット。
// user_idクレーム名は従来のトークン形式とのワイヤ互換のために維持する。
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Service はHMAC署名付きセッショントークンの発行と検証を行う。
// 状態を持たず、秘密鍵とトークン文字列のみの純粋な関数として動作する。
// 秘密鍵のローテーションは発行済みトークンを全て無効化する（仕様上の許容動作）。
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService はServiceを生成する。
// secretはプロセス全体で共有される署名秘密鍵、ttlはトークンの固定有効期間。
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue は指定ユーザーIDを主体とするセッショントークンを発行する。
// 有効期限は常に発行時刻 + 固定TTL。副作用はCPUバウンドの署名計算のみ。
func (s *Service) Issue(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify はトークン文字列を検証し、主体のユーザーIDを返す。
// 署名不正・構造不正・期限切れの場合はErrInvalidTokenを返す。
// ストアには一切アクセスしない。
func (s *Service) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// 署名アルゴリズムの固定（alg none / RS256すり替え対策）
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}

	return claims.UserID, nil
}
