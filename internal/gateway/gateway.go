// Package gateway 處理玩家與 admin 的 websocket 連線
//
// 系統設計問題：
//
//	同一個服務要接受三種長連線（配對、遊戲房間、大廳），
//	每條連線的生命週期都要正確地反映到佇列與房間上。
//
// 核心挑戰：
//  1. 斷線偵測：客戶端崩潰或網路中斷時伺服器必須察覺
//  2. 斷線連鎖：連線一斷就要撤回排隊請求、觸發房間拆除或降級
//  3. 慢客戶端：一條連線的寫入不能拖慢整個房間的廣播
//
// 設計方案：
//
//	✅ 讀寫 pump - 每條連線一對 goroutine，Ping/Pong 心跳（54s/60s）
//	✅ 緩衝 channel - Send 不阻塞，滿了回傳錯誤
//	✅ RequestContext - 升級時只取出身分、路徑參數與少數標頭
//	✅ 統一斷線路徑 - readPump 結束時依序撤回佇列、房間斷線、註銷連線
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/room"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
	"github.com/koopa0/system-design/14-game-session/internal/sim/area"
	"github.com/koopa0/system-design/14-game-session/internal/sim/pong"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// 上行訊息類型
const (
	MsgJoinQueue    = "join_queue"
	MsgLeaveQueue   = "leave_queue"
	MsgMove         = "move"
	MsgInput        = "input"
	MsgReady        = "ready"
	MsgUsePowerUp   = "use_power_up"
	MsgStartGame    = "start_game"
	MsgJoinGame     = "join_game"
	MsgExportStatus = "export_status"
	MsgPing         = "ping"
)

// inbound 客戶端訊息
type inbound struct {
	Type      string `json:"type"`
	Mode      string `json:"mode"`
	Input     string `json:"input"`
	Key       string `json:"key"`
	IsKeyDown bool   `json:"isKeyDown"`
	Slot      *int   `json:"slot"`
	GameID    string `json:"gameId"`
}

// frameHandler 處理單一上行訊息
type frameHandler func(c *client, msg inbound) error

// Gateway websocket 入口
type Gateway struct {
	queue    *matchmaking.Queue
	rooms    *room.Registry
	sessions *session.Registry
	hub      *broadcast.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New 創建 websocket 入口
func New(queue *matchmaking.Queue, rooms *room.Registry, sessions *session.Registry, hub *broadcast.Hub, logger *slog.Logger) *Gateway {
	return &Gateway{
		queue:    queue,
		rooms:    rooms,
		sessions: sessions,
		hub:      hub,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 來源檢查由前端代理負責
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// Register 在 mux 上註冊 websocket 路由
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/matchmaking", g.serveMatchmaking)
	mux.HandleFunc("GET /ws/game/{room_id}", g.serveGame)
	mux.HandleFunc("GET /ws/game/{room_id}/{admin_id}", g.serveAdmin)
	mux.HandleFunc("GET /ws/lobby/{mode}", g.serveLobby)
}

// Active 目前的 websocket 連線數
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Stop 關閉所有 websocket 連線
func (g *Gateway) Stop() {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		_ = c.session.Close()
	}
	g.logger.Info("WebSocket 入口已停止", "closed", len(clients))
}

// client 單一 websocket 連線的狀態
type client struct {
	gw      *Gateway
	rc      RequestContext
	session *session.Session
	handle  frameHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queued atomic.Bool
}

func (g *Gateway) serveMatchmaking(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, nil, g.handleMatchmaking)
}

func (g *Gateway) serveGame(w http.ResponseWriter, r *http.Request) {
	if _, err := g.rooms.GetRoom(r.PathValue("room_id")); err != nil {
		http.Error(w, "房間不存在", http.StatusNotFound)
		return
	}
	g.serve(w, r, func(c *client) error {
		_, err := g.rooms.ClaimPlayerSeat(c.rc.Identity, c.session, c.rc.RoomID)
		return err
	}, g.handleGame)
}

func (g *Gateway) serveAdmin(w http.ResponseWriter, r *http.Request) {
	if _, err := g.rooms.GetRoom(r.PathValue("room_id")); err != nil {
		http.Error(w, "房間不存在", http.StatusNotFound)
		return
	}
	g.serve(w, r, func(c *client) error {
		_, err := g.rooms.ClaimAdminSeat(c.rc.AdminID, c.session, c.rc.RoomID)
		return err
	}, g.handleGame)
}

func (g *Gateway) serveLobby(w http.ResponseWriter, r *http.Request) {
	mode, ok := g.rooms.Mode(r.PathValue("mode"))
	if !ok || !mode.Lobby {
		http.Error(w, "未知的大廳模式", http.StatusNotFound)
		return
	}
	g.serve(w, r, func(c *client) error {
		return g.rooms.SendLobby(c.session)
	}, g.handleLobby)
}

// serve 升級連線並啟動讀寫 pump
//
// onOpen 失敗時送出 error 事件後關閉連線，斷線流程照常執行。
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, onOpen func(c *client) error, handle frameHandler) {
	rc, err := NewRequestContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("升級 WebSocket 失敗", "error", err, "request_id", rc.RequestID)
		return
	}

	log := g.logger.With("request_id", rc.RequestID, "username", rc.Identity, "path", r.URL.Path)
	conn := newConn(ws, log)
	s := session.New(rc.Identity, conn)
	ctx, cancel := context.WithCancel(rc.Context(context.Background()))

	c := &client{
		gw:      g,
		rc:      rc,
		session: s,
		handle:  handle,
		logger:  log.With("session_id", s.ID),
		ctx:     ctx,
		cancel:  cancel,
	}

	g.sessions.Register(s)
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	go conn.writePump()

	if onOpen != nil {
		if err := onOpen(c); err != nil {
			c.logger.Info("連線被拒絕", "error", err)
			c.sendError(err)
			_ = s.Close()
		}
	}

	go func() {
		conn.readPump(c.dispatch)
		c.disconnect()
	}()

	c.logger.Info("WebSocket 連線建立")
}

// dispatch 解析並處理一則上行訊息
func (c *client) dispatch(message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("解析客戶端訊息失敗", "error", err)
		c.sendError(apperrors.ErrInvalidInput.WithDetails("malformed message"))
		return
	}

	if msg.Type == MsgPing {
		_ = c.session.Send([]byte(`{"type":"pong"}`))
		return
	}

	if err := c.handle(c, msg); err != nil {
		c.logger.Debug("處理訊息失敗", "type", msg.Type, "error", err)
		c.sendError(err)
	}
}

// disconnect 連線中斷後的清理
//
// 順序：撤回排隊請求 → 房間斷線連鎖 → 關閉並註銷連線。
func (c *client) disconnect() {
	c.cancel()
	g := c.gw

	if c.queued.Load() {
		g.queue.Withdraw(c.rc.Identity)
	}
	g.rooms.Disconnect(c.session)
	_ = c.session.Close()
	g.sessions.Unregister(c.session)

	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()

	c.logger.Info("WebSocket 連線中斷")
}

func (c *client) send(event any) {
	if err := c.gw.hub.Send(c.session, event); err != nil {
		c.logger.Debug("投遞失敗", "error", err)
	}
}

func (c *client) sendError(err error) {
	c.send(broadcast.NewError(err.Error()))
}

// handleMatchmaking 配對連線：join_queue、leave_queue
func (g *Gateway) handleMatchmaking(c *client, msg inbound) error {
	switch msg.Type {
	case MsgJoinQueue:
		ticket, err := g.queue.Enqueue(c.ctx, c.rc.Identity, msg.Mode)
		if err != nil {
			c.send(broadcast.NewMatchRejected(err.Error()))
			return nil
		}
		c.queued.Store(true)
		c.send(broadcast.QueueStatus{Type: broadcast.TypeQueueJoined, Mode: msg.Mode})
		go c.awaitMatch(ticket)
		return nil

	case MsgLeaveQueue:
		if !g.queue.Withdraw(c.rc.Identity) {
			return apperrors.ErrNotWaiting.WithDetails(c.rc.Identity)
		}
		c.send(broadcast.QueueStatus{Type: broadcast.TypeQueueLeft})
		return nil
	}
	return unknownType(msg.Type)
}

// awaitMatch 等待配對結果並通知客戶端
func (c *client) awaitMatch(ticket *matchmaking.Ticket) {
	a, err := ticket.Wait(c.ctx)
	switch {
	case err == nil:
		c.send(broadcast.NewMatchFound(a.RoomID, a.Mode))
	case errors.Is(err, matchmaking.ErrWithdrawn), c.ctx.Err() != nil:
	default:
		c.send(broadcast.NewMatchRejected(err.Error()))
	}
}

// handleGame 房間連線：玩家輸入、ready，admin 的 export_status
func (g *Gateway) handleGame(c *client, msg inbound) error {
	switch msg.Type {
	case MsgReady:
		return g.rooms.Ready(c.session)

	case MsgMove:
		return g.rooms.Input(c.session, sim.Input{Control: pong.ControlMove, Value: msg.Input})

	case MsgInput:
		if msg.Key == "" {
			return apperrors.ErrInvalidInput.WithDetails("key is required")
		}
		value := area.KeyUp
		if msg.IsKeyDown {
			value = area.KeyDown
		}
		return g.rooms.Input(c.session, sim.Input{Control: area.ControlKeyPrefix + msg.Key, Value: value})

	case MsgUsePowerUp:
		if msg.Slot == nil {
			return apperrors.ErrInvalidInput.WithDetails("slot is required")
		}
		return g.rooms.Input(c.session, sim.Input{Control: area.ControlPowerUp, Value: strconv.Itoa(*msg.Slot)})

	case MsgExportStatus:
		return g.rooms.Export(c.session)
	}
	return unknownType(msg.Type)
}

// handleLobby 大廳連線：開房、加入，其餘訊息同遊戲房間
func (g *Gateway) handleLobby(c *client, msg inbound) error {
	switch msg.Type {
	case MsgStartGame:
		_, err := g.rooms.CreateLobbyRoom(c.rc.Mode, c.session)
		return err
	case MsgJoinGame:
		if msg.GameID == "" {
			return apperrors.ErrInvalidInput.WithDetails("gameId is required")
		}
		_, err := g.rooms.JoinLobbyRoom(msg.GameID, c.session)
		return err
	}
	return g.handleGame(c, msg)
}

func unknownType(t string) error {
	return apperrors.ErrInvalidInput.WithDetails("unknown message type " + strconv.Quote(t))
}
