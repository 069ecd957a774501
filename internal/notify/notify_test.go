package notify_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/notify"
	"github.com/koopa0/system-design/14-game-session/internal/room"
	"github.com/koopa0/system-design/14-game-session/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeRooms 記錄建立的房間
type fakeRooms struct {
	mu      sync.Mutex
	created []matchmaking.Formation
	err     error
}

func (r *fakeRooms) CreateRoom(id, adminID, mode string, expected []string) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.created = append(r.created, matchmaking.Formation{RoomID: id, AdminID: adminID, Mode: mode, Players: expected})
	return &room.Room{ID: id, AdminID: adminID, Mode: mode}, nil
}

func (r *fakeRooms) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRooms) all() []matchmaking.Formation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]matchmaking.Formation(nil), r.created...)
}

var formation = matchmaking.Formation{
	RoomID:  "room-1",
	AdminID: "admin-1",
	Mode:    config.ModePongClassic,
	Players: []string{"alice", "bob"},
}

// TestLocalNotifier 同程序通知直接建立房間
func TestLocalNotifier(t *testing.T) {
	rooms := &fakeRooms{}
	n := notify.NewLocalNotifier(rooms, testLogger())

	require.NoError(t, n.NotifyFormation(context.Background(), formation))
	assert.Equal(t, []matchmaking.Formation{formation}, rooms.all())

	rooms.fail(apperrors.ErrPlayerCountMismatch)
	err := n.NotifyFormation(context.Background(), formation)
	assert.ErrorIs(t, err, apperrors.ErrPlayerCountMismatch)
}

// TestHTTPNotifier 只有 201 視為成功
func TestHTTPNotifier(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		validate func(t *testing.T, err error)
	}{
		{
			name:   "created",
			status: http.StatusCreated,
			validate: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:   "ok is not enough",
			status: http.StatusOK,
			validate: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsFormationFailed(err))
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			validate: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsFormationFailed(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got matchmaking.Formation
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			n := notify.NewHTTPNotifier(srv.URL, time.Second, testLogger())
			err := n.NotifyFormation(context.Background(), formation)
			tt.validate(t, err)
			assert.Equal(t, formation, got)
		})
	}
}

// TestHTTPNotifier_Unreachable 無法連線時回傳錯誤
func TestHTTPNotifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n := notify.NewHTTPNotifier(url, 200*time.Millisecond, testLogger())
	err := n.NotifyFormation(context.Background(), formation)
	require.Error(t, err)
	assert.False(t, apperrors.IsFormationFailed(err), "transport errors are reported as unavailable")
}

// TestNew 依配置選擇通知方式
func TestNew(t *testing.T) {
	cfg := config.Default()
	rooms := &fakeRooms{}

	n, err := notify.New(cfg, rooms, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.LocalNotifier{}, n)

	cfg.Matchmaking.Notify = config.NotifyHTTP
	cfg.Matchmaking.NotifyURL = "http://localhost:9/api/v1/games"
	n, err = notify.New(cfg, rooms, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.HTTPNotifier{}, n)

	cfg.Matchmaking.Notify = config.NotifyNATS
	_, err = notify.New(cfg, rooms, nil, testLogger())
	assert.Error(t, err, "nats driver needs a connection")

	cfg.Matchmaking.Notify = "carrier-pigeon"
	_, err = notify.New(cfg, rooms, nil, testLogger())
	assert.Error(t, err)
}

// TestEventPublisher_NoConn 沒有 NATS 連線時只記錄
func TestEventPublisher_NoConn(t *testing.T) {
	p := notify.NewEventPublisher(nil, "game.events", testLogger())
	assert.NotPanics(t, func() {
		p.Publish(notify.Event{Type: "room.started", RoomID: "room-1"})
	})
}

// TestNATS_FormationRoundTrip 透過 NATS request/reply 建立房間
func TestNATS_FormationRoundTrip(t *testing.T) {
	nc := testutils.SetupNATS(t)

	rooms := &fakeRooms{}
	responder := notify.NewResponder(nc, rooms, testLogger())
	require.NoError(t, responder.Start("game.formation"))
	defer func() { _ = responder.Stop() }()
	require.NoError(t, nc.Flush())

	n := notify.NewNATSNotifier(nc, "game.formation", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, n.NotifyFormation(ctx, formation))
	assert.Equal(t, []matchmaking.Formation{formation}, rooms.all())

	rooms.fail(apperrors.ErrUnknownMode)
	err := n.NotifyFormation(ctx, formation)
	assert.True(t, apperrors.IsFormationFailed(err))
}

// TestNATS_NoResponder 沒有遊戲服務時請求失敗
func TestNATS_NoResponder(t *testing.T) {
	nc := testutils.SetupNATS(t)

	n := notify.NewNATSNotifier(nc, "game.formation", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := n.NotifyFormation(ctx, formation)
	require.Error(t, err)
}

// TestNATS_EventPublisher 事件發布到 <prefix>.<type>
func TestNATS_EventPublisher(t *testing.T) {
	nc := testutils.SetupNATS(t)

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("game.events.>", received)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	p := notify.NewEventPublisher(nc, "game.events", testLogger())
	p.Publish(notify.Event{Type: "room.finished", RoomID: "room-1", Winner: "left"})

	select {
	case msg := <-received:
		assert.Equal(t, "game.events.room.finished", msg.Subject)
		var ev notify.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "left", ev.Winner)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
