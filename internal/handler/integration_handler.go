package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sugiyama/opsdesk/internal/middleware"
	"github.com/sugiyama/opsdesk/internal/model"
)

// ConnectorInterface はチャネル接続ハンドラーが必要とするサービスインターフェース。
type ConnectorInterface interface {
	BeginAuthorization(ctx context.Context, orgID string) (string, error)
	CompleteAuthorization(ctx context.Context, code, state, orgID string) (*model.Channel, error)
	Disconnect(ctx context.Context, channelID, orgID string) error
}

// SubscriptionEstablisher は接続直後のwatch確立に必要なインターフェース。
type SubscriptionEstablisher interface {
	Establish(ctx context.Context, ch *model.Channel) error
}

// IntegrationHandler は外部プロバイダー連携のHTTPハンドラー。
type IntegrationHandler struct {
	connector     ConnectorInterface
	subscriptions SubscriptionEstablisher
	providerName  string
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
func NewIntegrationHandler(connector ConnectorInterface, subscriptions SubscriptionEstablisher, providerName string) *IntegrationHandler {
	return &IntegrationHandler{
		connector:     connector,
		subscriptions: subscriptions,
		providerName:  providerName,
	}
}

// requireProvider はパスパラメータのプロバイダーが対応済みかを検証する。
func (h *IntegrationHandler) requireProvider(w http.ResponseWriter, r *http.Request) bool {
	provider := chi.URLParam(r, "provider")
	if provider != h.providerName {
		writeError(w, model.NewUnsupportedProviderError(provider))
		return false
	}
	return true
}

// Connect は認可フローを開始し、プロバイダーの認可URLを返す。
// GET /integrations/{provider}/connect
func (h *IntegrationHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}

	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewInvalidTokenError())
		return
	}

	url, err := h.connector.BeginAuthorization(r.Context(), user.OrganizationID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

// Callback はプロバイダーからの認可コールバックを処理し、チャネルを確立する。
// watchの確立失敗は接続自体を失敗させない。
// GET /integrations/{provider}/oauth/callback?code=xxx&state=yyy
func (h *IntegrationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}

	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewInvalidTokenError())
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, model.NewValidationError("codeとstateは必須です。"))
		return
	}

	ch, err := h.connector.CompleteAuthorization(r.Context(), code, state, user.OrganizationID)
	if err != nil {
		writeError(w, err)
		return
	}

	// watchは非同期に再試行されるため、ここでの失敗は接続成功を妨げない
	_ = h.subscriptions.Establish(r.Context(), ch)

	writeJSON(w, http.StatusOK, newChannelResponse(ch))
}

// Disconnect はチャネルを無効化する。
// DELETE /integrations/{provider}/disconnect/{channel_id}
func (h *IntegrationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireProvider(w, r) {
		return
	}

	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewInvalidTokenError())
		return
	}

	channelID := chi.URLParam(r, "channel_id")
	if err := h.connector.Disconnect(r.Context(), channelID, user.OrganizationID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "チャネルを切断しました。"})
}
