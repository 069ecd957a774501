// Package games 依模式配置建立對應的遊戲規則
package games

import (
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/sim"
	"github.com/koopa0/system-design/14-game-session/internal/sim/area"
	"github.com/koopa0/system-design/14-game-session/internal/sim/pong"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
)

// NewFactory 回傳依 modes 建立遊戲的 Factory
//
// seed 為 nil 時使用當下時間。
func NewFactory(modes map[string]config.Mode, seed func() int64) sim.Factory {
	if seed == nil {
		seed = func() int64 { return time.Now().UnixNano() }
	}

	return func(mode string, players []string) (sim.Game, error) {
		m, ok := modes[mode]
		if !ok {
			return nil, apperrors.ErrUnknownMode.WithDetails(mode)
		}

		switch m.Game {
		case config.GamePong:
			g, err := pong.New(mode, players, seed())
			if err != nil {
				return nil, err
			}
			return g, nil
		case config.GameArea:
			g, err := area.New(players, seed())
			if err != nil {
				return nil, err
			}
			return g, nil
		}
		return nil, apperrors.ErrUnknownMode.WithDetails(m.Game)
	}
}
