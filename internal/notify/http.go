package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// HTTPNotifier 以 HTTP POST 通知遊戲服務
//
// 遊戲服務回應 201 Created 才算成功，其他狀態碼一律視為失敗（不重試）。
type HTTPNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPNotifier 創建 HTTP 通知
func NewHTTPNotifier(url string, timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// NotifyFormation 發送組隊結果
func (n *HTTPNotifier) NotifyFormation(ctx context.Context, f matchmaking.Formation) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal formation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "game service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.logger.Warn("遊戲服務拒絕組隊",
			"room_id", f.RoomID,
			"status", resp.StatusCode,
			"body", string(bytes.TrimSpace(msg)))
		return apperrors.ErrFormationFailed.WithDetails(fmt.Sprintf("game service answered %d", resp.StatusCode))
	}

	n.logger.Debug("組隊通知已送達（http）", "room_id", f.RoomID, "url", n.url)
	return nil
}
