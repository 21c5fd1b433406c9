package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/sugiyama/opsdesk/internal/model"
)

const (
	defaultGoogleAuthURL   = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL  = "https://oauth2.googleapis.com/token"
	defaultGmailProfileURL = "https://gmail.googleapis.com/gmail/v1/users/me/profile"
	defaultGmailWatchURL   = "https://gmail.googleapis.com/gmail/v1/users/me/watch"
)

// gmailScopes はチャネル接続時に委譲を要求する固定スコープセット。
var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.labels",
	"https://www.googleapis.com/auth/gmail.metadata",
}

// GmailConfig はGmailプロバイダーの設定。
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TopicName    string // watch通知の送信先Pub/Subトピック（完全修飾名）
	Timeout      time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
	WatchURL   string
}

// GmailProvider はGmail APIによるMailProviderの実装。
type GmailProvider struct {
	config GmailConfig
	oauth  *oauth2.Config
	client *http.Client
}

// NewGmailProvider はGmailProviderを生成する。
func NewGmailProvider(config GmailConfig) *GmailProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultGmailProfileURL
	}
	if config.WatchURL == "" {
		config.WatchURL = defaultGmailWatchURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &GmailProvider{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       gmailScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
			},
		},
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Name はプロバイダー識別子を返す。
func (p *GmailProvider) Name() string {
	return "gmail"
}

// AuthCodeURL はGoogleの認可リクエストURLを生成する。
// access_type=offlineとprompt=consentによりリフレッシュトークンの発行を要求する。
func (p *GmailProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// ExchangeCode は認可コードを初期トークンセットに交換する。
func (p *GmailProvider) ExchangeCode(ctx context.Context, code string) (*ProviderToken, error) {
	tok, err := p.oauth.Exchange(p.httpContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in exchange response")
	}

	return &ProviderToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       gmailScopes,
	}, nil
}

// gmailProfile はGmailのプロフィールエンドポイントのレスポンス。
type gmailProfile struct {
	EmailAddress string `json:"emailAddress"`
}

// FetchAddress はアクセストークンでメールボックスの正規アドレスを取得する。
func (p *GmailProvider) FetchAddress(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProfileURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read profile response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile fetch failed with status %d", resp.StatusCode)
	}

	var profile gmailProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", fmt.Errorf("failed to parse profile response: %w", err)
	}
	if profile.EmailAddress == "" {
		return "", fmt.Errorf("empty emailAddress in profile response")
	}

	return profile.EmailAddress, nil
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
// invalid_grant等の恒久的な拒否はErrRefreshRejected、
// タイムアウト・5xxはErrProviderUnavailableに分類する。
func (p *GmailProvider) Refresh(ctx context.Context, cred *model.Credential) (*ProviderToken, error) {
	source := p.oauth.TokenSource(p.httpContext(ctx), &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute), // 強制的にリフレッシュさせる
	})

	tok, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			code := retrieveErr.Response.StatusCode
			if code == http.StatusBadRequest || code == http.StatusUnauthorized {
				return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, retrieveErr.ErrorCode)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return &ProviderToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       cred.Scopes,
	}, nil
}

// gmailWatchRequest はGmail watchエンドポイントのリクエストボディ。
type gmailWatchRequest struct {
	LabelIDs          []string `json:"labelIds"`
	TopicName         string   `json:"topicName"`
	LabelFilterAction string   `json:"labelFilterAction"`
}

// gmailWatchResponse はGmail watchエンドポイントのレスポンス。
// expirationはエポックミリ秒の文字列。
type gmailWatchResponse struct {
	HistoryID  string `json:"historyId"`
	Expiration string `json:"expiration"`
}

// Watch はINBOXのpush通知登録を発行する。
func (p *GmailProvider) Watch(ctx context.Context, accessToken string) (*WatchResult, error) {
	reqBody, err := json.Marshal(gmailWatchRequest{
		LabelIDs:          []string{"INBOX"},
		TopicName:         p.config.TopicName,
		LabelFilterAction: "include",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal watch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WatchURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create watch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read watch response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: watch call failed with status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var watchResp gmailWatchResponse
	if err := json.Unmarshal(body, &watchResp); err != nil {
		return nil, fmt.Errorf("failed to parse watch response: %w", err)
	}

	expiresAt, err := parseEpochMillis(watchResp.Expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration in watch response: %w", err)
	}

	return &WatchResult{
		ExpiresAt: expiresAt,
		Cursor:    watchResp.HistoryID,
	}, nil
}

// httpContext はoauth2パッケージにタイムアウト付きHTTPクライアントを渡す。
func (p *GmailProvider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// parseEpochMillis はエポックミリ秒の文字列をtime.Timeに変換する。
func parseEpochMillis(s string) (time.Time, error) {
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

// compile-time interface check
var _ MailProvider = (*GmailProvider)(nil)
