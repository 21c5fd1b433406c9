package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// プロバイダーの生のエラーテキストをMessageに含めてはならない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, integration, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeIdentityNotFound     = "IDENTITY_NOT_FOUND"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken           = "EMAIL_TAKEN"
	ErrCodeProviderExchange     = "PROVIDER_EXCHANGE_FAILED"
	ErrCodeReconnectRequired    = "RECONNECT_REQUIRED"
	ErrCodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	ErrCodeOwnershipViolation   = "OWNERSHIP_VIOLATION"
	ErrCodeChannelNotFound      = "CHANNEL_NOT_FOUND"
	ErrCodeInvalidOAuthState    = "INVALID_OAUTH_STATE"
	ErrCodeUnsupportedProvider  = "UNSUPPORTED_PROVIDER"
	ErrCodeOrganizationRequired = "ORGANIZATION_REQUIRED"
	ErrCodeValidation           = "VALIDATION_ERROR"
)

// NewValidationError はリクエスト内容の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidTokenError は不正・改ざん・期限切れトークンのエラーを生成する。
// IdentityNotFoundと同一のHTTPレスポンスにマップされ、
// どちらのケースかをクライアントに漏らさない。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewIdentityNotFoundError はトークンは有効だが対象ユーザーが存在しない場合の
// エラーを生成する。HTTP境界ではInvalidTokenと区別せずに扱うこと。
func NewIdentityNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗のエラーを生成する。
// メールアドレス不明とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewProviderExchangeError は認可コード交換またはアカウント情報取得の失敗を表す。
// チャネルは作成・変更されず、ユーザーは接続を再試行できる。
func NewProviderExchangeError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderExchange,
		Message:  "外部プロバイダーとの認可処理に失敗しました。",
		Category: "integration",
		Action:   "しばらく待ってから再度接続をお試しください。",
	}
}

// NewReconnectRequiredError はリフレッシュトークンがプロバイダーに拒否され、
// チャネルが無効化された場合のエラーを生成する。自動リトライしてはならない。
func NewReconnectRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeReconnectRequired,
		Message:  "チャネルの認可が失効しました。",
		Category: "integration",
		Action:   "チャネルを再接続してください。",
	}
}

// NewProviderUnavailableError はタイムアウト・5xx等の一時的なプロバイダー障害を表す。
// チャネルの状態は変更されず、次回の試行でリトライされる。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "外部プロバイダーに一時的に接続できません。",
		Category: "integration",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOwnershipViolationError は他組織のチャネルへの操作を拒否するエラーを生成する。
// チャネルの存在有無に関わらず状態は変更されない。
func NewOwnershipViolationError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnershipViolation,
		Message:  "このチャネルを操作する権限がありません。",
		Category: "auth",
		Action:   "組織の管理者に確認してください。",
	}
}

// NewChannelNotFoundError はチャネルが見つからない場合のエラーを生成する。
func NewChannelNotFoundError(channelID string) *APIError {
	return &APIError{
		Code:     ErrCodeChannelNotFound,
		Message:  fmt.Sprintf("指定されたチャネルが見つかりません: %s", channelID),
		Category: "validation",
		Action:   "チャネルIDを確認してください。",
	}
}

// NewInvalidOAuthStateError は不明・期限切れ・他組織のstate値のエラーを生成する。
func NewInvalidOAuthStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOAuthState,
		Message:  "認可フローのstateが無効です。",
		Category: "auth",
		Action:   "接続フローを最初からやり直してください。",
	}
}

// NewUnsupportedProviderError は未対応プロバイダー指定のエラーを生成する。
func NewUnsupportedProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", provider),
		Category: "validation",
		Action:   "対応しているプロバイダー（gmail）を指定してください。",
	}
}

// NewOrganizationRequiredError は組織に所属していないユーザーが
// チャネル接続を試みた場合のエラーを生成する。
func NewOrganizationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOrganizationRequired,
		Message:  "チャネルの接続には組織への所属が必要です。",
		Category: "validation",
		Action:   "組織を作成するか、組織に参加してください。",
	}
}
