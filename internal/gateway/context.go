package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/koopa0/system-design/14-game-session/pkg/logger"
)

// 上游驗證服務寫入的標頭
const (
	HeaderUsername  = "X-Username"
	HeaderRequestID = "X-Request-ID"
)

// adminPrefix admin 連線的身分前綴
const adminPrefix = "admin:"

// 保留給房間邏輯與日誌的標頭
var forwardedHeaders = []string{
	HeaderRequestID,
	"User-Agent",
	"Origin",
	"X-Forwarded-For",
}

// RequestContext 從 HTTP 升級請求中取出的連線資訊
//
// 房間與配對邏輯只看得到這些欄位，不接觸原始請求。
type RequestContext struct {
	// Identity 已驗證的玩家名稱
	Identity  string
	RequestID string

	// 路徑參數
	RoomID  string
	AdminID string
	Mode    string

	Headers http.Header
}

// NewRequestContext 解析請求
//
// 身分優先取自 X-Username 標頭，其次是 username 查詢參數；
// admin 路由沒有玩家身分，以 admin:<admin_id> 表示。
func NewRequestContext(r *http.Request) (RequestContext, error) {
	adminID := r.PathValue("admin_id")

	identity := strings.TrimSpace(r.Header.Get(HeaderUsername))
	if identity == "" {
		identity = strings.TrimSpace(r.URL.Query().Get("username"))
	}
	if strings.HasPrefix(identity, adminPrefix) {
		return RequestContext{}, apperrors.ErrInvalidInput.WithDetails("reserved username " + identity)
	}
	if identity == "" && adminID != "" {
		identity = adminPrefix + adminID
	}
	if identity == "" {
		return RequestContext{}, apperrors.ErrInvalidInput.WithDetails("username is required")
	}

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	headers := make(http.Header, len(forwardedHeaders))
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			headers.Set(name, v)
		}
	}
	headers.Set(HeaderRequestID, requestID)

	return RequestContext{
		Identity:  identity,
		RequestID: requestID,
		RoomID:    r.PathValue("room_id"),
		AdminID:   adminID,
		Mode:      r.PathValue("mode"),
		Headers:   headers,
	}, nil
}

// Context 將請求資訊放進 context，供日誌使用
func (rc RequestContext) Context(parent context.Context) context.Context {
	ctx := context.WithValue(parent, logger.RequestIDKey, rc.RequestID)
	ctx = context.WithValue(ctx, logger.UsernameKey, rc.Identity)
	if rc.RoomID != "" {
		ctx = context.WithValue(ctx, logger.RoomIDKey, rc.RoomID)
	}
	return ctx
}
