package room

import (
	"time"
)

// Start 啟動房間清理 goroutine
func (reg *Registry) Start() {
	if reg.sweepInterval <= 0 {
		return
	}
	reg.wg.Add(1)
	go reg.cleanupLoop()
}

// cleanupLoop 定期清理
func (reg *Registry) cleanupLoop() {
	defer reg.wg.Done()

	ticker := time.NewTicker(reg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reg.Sweep()
		case <-reg.stopCh:
			return
		}
	}
}

// Sweep 執行一次清理（公開方法供測試使用）
//
//   - admin 逾時未就位的房間：中止並拆除
//   - 配對房間的玩家逾時未全部連入：中止並拆除，釋放 pending 保留
//   - 終止狀態超過 TTL 的房間：關閉剩餘連線並移除
func (reg *Registry) Sweep() {
	now := time.Now()

	for _, room := range reg.snapshot() {
		room.mu.Lock()
		state := room.state
		adminAttached := room.adminAttached
		missing := len(room.expected) - len(room.players)
		endedAt := room.endedAt
		room.mu.Unlock()

		age := now.Sub(room.CreatedAt)
		switch {
		case state.Terminal():
			if reg.terminalTTL > 0 && now.Sub(endedAt) >= reg.terminalTTL {
				reg.logger.Info("終止房間過期清理", "room_id", room.ID, "state", state)
				reg.teardown(room, nil, state)
			}
		case !adminAttached:
			if reg.adminAttachTimeout > 0 && age >= reg.adminAttachTimeout {
				reg.logger.Warn("admin 逾時未就位，中止房間", "room_id", room.ID)
				reg.teardown(room, nil, StateAborted)
			}
		case state == StateWaiting && !room.Lobby && missing > 0:
			if reg.playerAttachTimeout > 0 && age >= reg.playerAttachTimeout {
				reg.logger.Warn("玩家逾時未連入，中止房間", "room_id", room.ID, "missing", missing)
				reg.teardown(room, nil, StateAborted)
			}
		}
	}
}

// Stop 停止清理並拆除所有房間，等待所有引擎結束
func (reg *Registry) Stop() {
	reg.stopOnce.Do(func() {
		close(reg.stopCh)
	})
	reg.wg.Wait()

	for _, room := range reg.snapshot() {
		engine := room.Engine()
		reg.teardown(room, nil, StateAborted)
		if engine != nil {
			engine.Wait()
		}
	}

	reg.logger.Info("房間註冊表已停止")
}
