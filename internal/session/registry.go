package session

import (
	"log/slog"
	"sync"
)

// Registry 連線註冊表
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // sessionID -> Session
	byRoom   map[string]map[string]*Session // roomID -> sessionID -> Session
	logger   *slog.Logger
}

// NewRegistry 創建連線註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byRoom:   make(map[string]map[string]*Session),
		logger:   logger,
	}
}

// Register 註冊新連線
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("連線已註冊", "session_id", s.ID, "identity", s.Identity)
}

// Unregister 移除連線並解除房間綁定（冪等）
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(s)
	delete(r.sessions, s.ID)
}

// Get 依 ID 取得連線
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Attach 將連線綁定到房間（冪等）
//
// 若連線已在其他房間，先從舊房間移除。
func (r *Registry) Attach(s *Session, roomID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := s.RoomID(); current != "" && current != roomID {
		r.detachLocked(s)
	}

	members, ok := r.byRoom[roomID]
	if !ok {
		members = make(map[string]*Session)
		r.byRoom[roomID] = members
	}
	members[s.ID] = s
	s.bind(roomID, role)
}

// Detach 解除連線與房間的綁定（冪等）
func (r *Registry) Detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(s)
}

func (r *Registry) detachLocked(s *Session) {
	roomID := s.RoomID()
	if roomID == "" {
		return
	}
	if members, ok := r.byRoom[roomID]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	s.bind("", RoleNone)
}

// InRoom 回傳房間內尚未關閉的連線快照
func (r *Registry) InRoom(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byRoom[roomID]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	return out
}

// All 回傳所有尚未關閉的連線快照
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	return out
}

// Count 回傳已註冊連線數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomCount 回傳有連線的房間數
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom)
}
