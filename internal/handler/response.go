package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sugiyama/opsdesk/internal/middleware"
	"github.com/sugiyama/opsdesk/internal/model"
)

// statusForCode はエラーコードをHTTPステータスコードにマップする。
// InvalidTokenとIdentityNotFoundは同じ401になり、クライアントからは区別できない。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidToken, model.ErrCodeIdentityNotFound, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeOwnershipViolation:
		return http.StatusForbidden
	case model.ErrCodeChannelNotFound, model.ErrCodeUnsupportedProvider:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken, model.ErrCodeReconnectRequired:
		return http.StatusConflict
	case model.ErrCodeInvalidOAuthState, model.ErrCodeOrganizationRequired, model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeProviderExchange:
		return http.StatusBadGateway
	case model.ErrCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError はエラーを統一フォーマットのHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログのみに記録し、500を返す。
func writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
		return
	}

	slog.Error("unhandled error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// userResponse はユーザー情報のAPI表現。ハッシュ済みパスワードは含めない。
type userResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	OrganizationID string `json:"organization_id,omitempty"`
	Status         string `json:"status"`
}

func newUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:             user.ID,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		OrganizationID: user.OrganizationID,
		Status:         string(user.Status),
	}
}

// channelResponse はチャネルのAPI表現。トークン等の秘匿情報は含めない。
type channelResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Type           string `json:"type"`
	Provider       string `json:"provider"`
	Identifier     string `json:"identifier"`
	Status         string `json:"status"`
	WatchActive    bool   `json:"watch_active"`
}

func newChannelResponse(ch *model.Channel) channelResponse {
	return channelResponse{
		ID:             ch.ID,
		OrganizationID: ch.OrganizationID,
		Type:           string(ch.Type),
		Provider:       ch.Provider,
		Identifier:     ch.Identifier,
		Status:         string(ch.Status),
		WatchActive:    ch.Subscription.Active,
	}
}
