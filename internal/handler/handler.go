// Package handler 提供遊戲會話服務的 HTTP API
//
// 包含遊戲服務端的建房端點（配對以 HTTP 通知時使用）、
// 房間與佇列查詢、玩家狀態與歷史，以及健康檢查。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/room"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/store"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/koopa0/system-design/14-game-session/pkg/logger"
)

// PlayerStore 玩家狀態與歷史的查詢
type PlayerStore interface {
	Status(ctx context.Context, username string) (session.Status, error)
	History(ctx context.Context, username string, limit int) ([]store.HistoryEntry, error)
}

// ConnCounter 回傳目前的連線數
type ConnCounter interface {
	Active() int
}

// Options HTTP 處理器的依賴
type Options struct {
	Rooms    *room.Registry
	Queue    *matchmaking.Queue
	Sessions *session.Registry
	Players  PlayerStore
	Gateway  ConnCounter
	// RecorderStats 非同步記錄器的統計，可為 nil
	RecorderStats func() map[string]int64
	Logger        *slog.Logger
}

// Handler HTTP 請求處理器
type Handler struct {
	rooms         *room.Registry
	queue         *matchmaking.Queue
	sessions      *session.Registry
	players       PlayerStore
	gateway       ConnCounter
	recorderStats func() map[string]int64
	logger        *slog.Logger
	startedAt     time.Time
}

// New 創建 HTTP 處理器
func New(opts Options) *Handler {
	return &Handler{
		rooms:         opts.Rooms,
		queue:         opts.Queue,
		sessions:      opts.Sessions,
		players:       opts.Players,
		gateway:       opts.Gateway,
		recorderStats: opts.RecorderStats,
		logger:        opts.Logger,
		startedAt:     time.Now(),
	}
}

// Register 在 mux 上註冊 API 路由
func (h *Handler) Register(mux *http.ServeMux) {
	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.recoverer(h.loggerMiddleware(handler)))
	}

	// 遊戲服務端：接收組隊通知
	mux.HandleFunc("POST /api/v1/games", wrap(h.createGame))

	// 房間查詢
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoom))

	// 配對佇列
	mux.HandleFunc("GET /api/v1/matchmaking", wrap(h.queueStats))
	mux.HandleFunc("DELETE /api/v1/matchmaking/{username}", wrap(h.withdraw))

	// 玩家
	mux.HandleFunc("GET /api/v1/players/{username}/status", wrap(h.playerStatus))
	mux.HandleFunc("GET /api/v1/players/{username}/history", wrap(h.playerHistory))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))
}

// Routes 回傳只含 API 路由的 handler
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// createGame 建立配對組成的房間，成功回傳 201
func (h *Handler) createGame(w http.ResponseWriter, r *http.Request) {
	var req matchmaking.Formation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("無效的請求格式"))
		return
	}
	if req.RoomID == "" || req.AdminID == "" || req.Mode == "" {
		h.errorResponse(w, apperrors.ErrInvalidInput.WithDetails("gameId、adminId、gameMode 為必填"))
		return
	}

	rm, err := h.rooms.CreateRoom(req.RoomID, req.AdminID, req.Mode, req.Players)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"gameId": rm.ID,
		"state":  rm.State(),
	}, http.StatusCreated)
}

// listRooms 列出房間，可依 state、mode 篩選
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := room.State(query.Get("state"))
	mode := query.Get("mode")

	rooms := make([]room.Info, 0)
	for _, info := range h.rooms.List() {
		if state != "" && info.State != state {
			continue
		}
		if mode != "" && info.Mode != mode {
			continue
		}
		rooms = append(rooms, info)
	}

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// getRoom 房間詳情
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.rooms.GetRoom(r.PathValue("room_id"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.jsonResponse(w, rm.Info(), http.StatusOK)
}

// queueStats 各模式等待人數
func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"waiting": h.queue.Waiting(),
	}, http.StatusOK)
}

// withdraw 撤回玩家的排隊請求
func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if !h.queue.Withdraw(username) {
		h.errorResponse(w, apperrors.ErrNotWaiting.WithDetails(username))
		return
	}
	h.jsonResponse(w, map[string]any{
		"success": true,
	}, http.StatusOK)
}

// playerStatus 玩家狀態
//
// 佇列中的 in_queue / pending 以佇列為準，其餘查詢儲存層。
func (h *Handler) playerStatus(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	status := h.queue.Status(username)
	if status == session.StatusInactive && h.players != nil {
		stored, err := h.players.Status(r.Context(), username)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "查詢玩家狀態失敗", "username", username, "error", err)
			h.errorResponse(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "status store unavailable"))
			return
		}
		status = stored
	}

	h.jsonResponse(w, map[string]any{
		"username": username,
		"status":   status,
		"active":   status.Active(),
	}, http.StatusOK)
}

// playerHistory 玩家加入過的房間（新到舊）
func (h *Handler) playerHistory(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	entries := make([]store.HistoryEntry, 0)
	if h.players != nil {
		got, err := h.players.History(r.Context(), username, limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "查詢玩家歷史失敗", "username", username, "error", err)
			h.errorResponse(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "history store unavailable"))
			return
		}
		entries = append(entries, got...)
	}

	h.jsonResponse(w, map[string]any{
		"username": username,
		"history":  entries,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"rooms":    h.rooms.Stats(),
		"queue":    h.queue.Waiting(),
		"sessions": h.sessions.Count(),
		"uptime":   time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.gateway != nil {
		stats["connections"] = h.gateway.Active()
	}
	if h.recorderStats != nil {
		stats["recorder"] = h.recorderStats()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 依錯誤碼返回對應的狀態碼
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	code := "INTERNAL"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}

	body := map[string]any{
		"error": err.Error(),
		"code":  code,
	}
	if appErr != nil && appErr.Details != "" {
		body["details"] = appErr.Details
	}
	h.jsonResponse(w, body, statusFor(code))
}

func statusFor(code string) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeInvalidClaim, apperrors.ErrCodeDuplicateRequest:
		return http.StatusConflict
	case apperrors.ErrCodeExpired:
		return http.StatusGone
	case apperrors.ErrCodeFormationFailed:
		return http.StatusBadGateway
	case apperrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestID 為每個請求附上 X-Request-ID
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), logger.RequestIDKey, id)
		next(w, r.WithContext(ctx))
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, errors.New("內部伺服器錯誤"))
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
