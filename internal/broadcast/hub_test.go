package broadcast_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/koopa0/system-design/14-game-session/internal/broadcast"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	"github.com/koopa0/system-design/14-game-session/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type member struct {
	conn *testutils.RecordingConn
	sess *session.Session
}

func join(reg *session.Registry, identity, roomID string) member {
	conn := testutils.NewRecordingConn()
	s := session.New(identity, conn)
	reg.Register(s)
	if roomID != "" {
		reg.Attach(s, roomID, session.RolePlayer)
	}
	return member{conn: conn, sess: s}
}

// TestHub_Broadcast 一個連線失敗不影響其他連線
func TestHub_Broadcast(t *testing.T) {
	reg := session.NewRegistry(testLogger())
	hub := broadcast.NewHub(reg, testLogger())

	a := join(reg, "a", "room-1")
	b := join(reg, "b", "room-1")
	c := join(reg, "c", "room-1")
	other := join(reg, "d", "room-2")

	b.conn.FailSend.Store(true)

	d := hub.Broadcast("room-1", broadcast.NewGameStart())

	assert.Equal(t, broadcast.Delivery{Delivered: 2, Failed: 1}, d)
	assert.Equal(t, []string{broadcast.TypeGameStart}, a.conn.Types())
	assert.Empty(t, b.conn.Types())
	assert.Equal(t, []string{broadcast.TypeGameStart}, c.conn.Types())
	assert.Empty(t, other.conn.Types(), "rooms are isolated")
}

// TestHub_SkipsClosed 已關閉的連線不計入投遞
func TestHub_SkipsClosed(t *testing.T) {
	reg := session.NewRegistry(testLogger())
	hub := broadcast.NewHub(reg, testLogger())

	a := join(reg, "a", "room-1")
	b := join(reg, "b", "room-1")
	require.NoError(t, b.sess.Close())

	d := hub.Broadcast("room-1", broadcast.NewPlayerDisconnected("b"))

	assert.Equal(t, broadcast.Delivery{Delivered: 1}, d)
	ev, ok := a.conn.Last(broadcast.TypePlayerDisconnected)
	require.True(t, ok)
	assert.Equal(t, "b", ev["playerId"])
}

// TestHub_BroadcastAll 大廳廣播排除指定連線
func TestHub_BroadcastAll(t *testing.T) {
	reg := session.NewRegistry(testLogger())
	hub := broadcast.NewHub(reg, testLogger())

	a := join(reg, "a", "")
	b := join(reg, "b", "room-1")
	c := join(reg, "c", "")

	d := hub.BroadcastAll(broadcast.NewUpdateWaitingRoom(nil), a.sess)

	assert.Equal(t, 2, d.Delivered)
	assert.Empty(t, a.conn.Types())
	assert.Equal(t, 1, b.conn.Count(broadcast.TypeUpdateWaitingRoom))
	ev, ok := c.conn.Last(broadcast.TypeUpdateWaitingRoom)
	require.True(t, ok)
	assert.Equal(t, []any{}, ev["games"])
}

// TestHub_UnencodableEvent 無法序列化的事件不發送
func TestHub_UnencodableEvent(t *testing.T) {
	reg := session.NewRegistry(testLogger())
	hub := broadcast.NewHub(reg, testLogger())
	a := join(reg, "a", "room-1")

	d := hub.Broadcast("room-1", map[string]any{"bad": make(chan int)})

	assert.Equal(t, broadcast.Delivery{}, d)
	assert.Empty(t, a.conn.Frames())
}
