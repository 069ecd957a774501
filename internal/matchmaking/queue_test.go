package matchmaking_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-session/internal/config"
	"github.com/koopa0/system-design/14-game-session/internal/matchmaking"
	"github.com/koopa0/system-design/14-game-session/internal/session"
	apperrors "github.com/koopa0/system-design/14-game-session/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeNotifier 記錄所有組隊通知
type fakeNotifier struct {
	mu         sync.Mutex
	formations []matchmaking.Formation
	fail       error
}

func (n *fakeNotifier) NotifyFormation(_ context.Context, f matchmaking.Formation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.formations = append(n.formations, f)
	return nil
}

func (n *fakeNotifier) all() []matchmaking.Formation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]matchmaking.Formation(nil), n.formations...)
}

type fakeAdmin struct {
	mu      sync.Mutex
	started []string
}

func (a *fakeAdmin) StartAdmin(_ context.Context, f matchmaking.Formation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = append(a.started, f.AdminID)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	statuses map[string]session.Status
	history  map[string][]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		statuses: make(map[string]session.Status),
		history:  make(map[string][]string),
	}
}

func (r *fakeRecorder) RecordStatus(username string, status session.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[username] = status
}

func (r *fakeRecorder) AppendHistory(username, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[username] = append(r.history[username], roomID)
}

func (r *fakeRecorder) status(username string) session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[username]
}

// fakeActivity 記錄已在房間內的玩家
type fakeActivity struct {
	mu    sync.Mutex
	rooms map[string]string
}

func (a *fakeActivity) ActiveRoom(username string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	roomID, ok := a.rooms[username]
	return roomID, ok
}

func (a *fakeActivity) leave(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rooms, username)
}

var testModes = map[string]config.Mode{
	"DUEL":  {Players: 2, Game: config.GamePong, TickInterval: 25 * time.Millisecond},
	"QUAD":  {Players: 4, Game: config.GamePong, TickInterval: 25 * time.Millisecond},
	"LOBBY": {Players: 1, Game: config.GameArea, Lobby: true},
}

type fixture struct {
	queue    *matchmaking.Queue
	notifier *fakeNotifier
	admin    *fakeAdmin
	recorder *fakeRecorder
}

func newFixture(ttl time.Duration) *fixture {
	f := &fixture{
		notifier: &fakeNotifier{},
		admin:    &fakeAdmin{},
		recorder: newFakeRecorder(),
	}
	f.queue = matchmaking.New(matchmaking.Options{
		Modes:         testModes,
		Notifier:      f.notifier,
		Admin:         f.admin,
		Recorder:      f.recorder,
		Logger:        testLogger(),
		Interval:      5 * time.Millisecond,
		RequestTTL:    ttl,
		NotifyTimeout: time.Second,
	})
	return f
}

func resolved(t *testing.T, ticket *matchmaking.Ticket) (matchmaking.Assignment, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return ticket.Wait(ctx)
}

// TestQueue_Enqueue 測試加入佇列的驗證
func TestQueue_Enqueue(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(q *matchmaking.Queue)
		username string
		mode     string
		validate func(t *testing.T, ticket *matchmaking.Ticket, err error)
	}{
		{
			name:     "valid",
			username: "alice",
			mode:     "DUEL",
			validate: func(t *testing.T, ticket *matchmaking.Ticket, err error) {
				require.NoError(t, err)
				assert.Equal(t, "alice", ticket.Username)
				assert.Equal(t, "DUEL", ticket.Mode)
			},
		},
		{
			name:     "unknown mode",
			username: "alice",
			mode:     "CHESS",
			validate: func(t *testing.T, ticket *matchmaking.Ticket, err error) {
				assert.Nil(t, ticket)
				assert.True(t, apperrors.IsInvalidInput(err))
			},
		},
		{
			name:     "lobby modes are not queued",
			username: "alice",
			mode:     "LOBBY",
			validate: func(t *testing.T, ticket *matchmaking.Ticket, err error) {
				assert.Nil(t, ticket)
				assert.True(t, apperrors.IsInvalidInput(err))
			},
		},
		{
			name:     "empty username",
			username: "",
			mode:     "DUEL",
			validate: func(t *testing.T, ticket *matchmaking.Ticket, err error) {
				assert.True(t, apperrors.IsInvalidInput(err))
			},
		},
		{
			name: "already queued in another mode",
			setup: func(q *matchmaking.Queue) {
				_, _ = q.Enqueue(context.Background(), "alice", "QUAD")
			},
			username: "alice",
			mode:     "DUEL",
			validate: func(t *testing.T, ticket *matchmaking.Ticket, err error) {
				assert.Nil(t, ticket)
				assert.True(t, apperrors.IsDuplicateRequest(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			if tt.setup != nil {
				tt.setup(f.queue)
			}
			ticket, err := f.queue.Enqueue(context.Background(), tt.username, tt.mode)
			tt.validate(t, ticket, err)
		})
	}
}

// TestQueue_FormParty 先到先配，恰好取 N 人
func TestQueue_FormParty(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	tickets := make(map[string]*matchmaking.Ticket)
	for _, name := range []string{"alice", "bob", "carol"} {
		ticket, err := f.queue.Enqueue(ctx, name, "DUEL")
		require.NoError(t, err)
		tickets[name] = ticket
		assert.Equal(t, session.StatusInQueue, f.queue.Status(name))
	}

	f.queue.Tick(ctx)

	formations := f.notifier.all()
	require.Len(t, formations, 1)
	assert.Equal(t, []string{"alice", "bob"}, formations[0].Players)
	assert.Equal(t, "DUEL", formations[0].Mode)
	assert.NotEmpty(t, formations[0].AdminID)
	assert.Equal(t, []string{formations[0].AdminID}, f.admin.started)

	for _, name := range []string{"alice", "bob"} {
		a, err := resolved(t, tickets[name])
		require.NoError(t, err)
		assert.Equal(t, formations[0].RoomID, a.RoomID)
		assert.Equal(t, session.StatusPending, f.queue.Status(name))
		assert.Equal(t, session.StatusPending, f.recorder.status(name))
		assert.Equal(t, []string{a.RoomID}, f.recorder.history[name])
	}

	select {
	case <-tickets["carol"].Done():
		t.Fatal("carol should still be waiting")
	default:
	}
	assert.Equal(t, map[string]int{"DUEL": 1}, f.queue.Waiting())

	_, err := f.queue.Enqueue(ctx, "alice", "DUEL")
	assert.True(t, apperrors.IsDuplicateRequest(err), "pending players cannot re-queue")
}

// TestQueue_OnePartyPerModePerTick 每個 tick 每個模式最多一隊
func TestQueue_OnePartyPerModePerTick(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.queue.Enqueue(ctx, fmt.Sprintf("duel-%d", i), "DUEL")
		require.NoError(t, err)
		_, err = f.queue.Enqueue(ctx, fmt.Sprintf("quad-%d", i), "QUAD")
		require.NoError(t, err)
	}

	f.queue.Tick(ctx)
	formations := f.notifier.all()
	require.Len(t, formations, 2)
	assert.Equal(t, "DUEL", formations[0].Mode, "modes are scanned in sorted order")
	assert.Equal(t, "QUAD", formations[1].Mode)
	assert.Equal(t, map[string]int{"DUEL": 2}, f.queue.Waiting())

	f.queue.Tick(ctx)
	assert.Len(t, f.notifier.all(), 3)
	assert.Empty(t, f.queue.Waiting())
}

// TestQueue_FormationFailure 通知失敗時所有成員收到 FORMATION_FAILED
func TestQueue_FormationFailure(t *testing.T) {
	f := newFixture(0)
	f.notifier.fail = errors.New("game service unavailable")
	ctx := context.Background()

	a, err := f.queue.Enqueue(ctx, "alice", "DUEL")
	require.NoError(t, err)
	b, err := f.queue.Enqueue(ctx, "bob", "DUEL")
	require.NoError(t, err)

	f.queue.Tick(ctx)

	for name, ticket := range map[string]*matchmaking.Ticket{"alice": a, "bob": b} {
		_, err := resolved(t, ticket)
		assert.True(t, apperrors.IsFormationFailed(err), name)
		assert.Equal(t, session.StatusInactive, f.queue.Status(name))
		assert.Equal(t, session.StatusInactive, f.recorder.status(name))
	}
	assert.Empty(t, f.admin.started)

	_, err = f.queue.Enqueue(ctx, "alice", "DUEL")
	assert.NoError(t, err, "failed members may queue again")
}

// TestQueue_Withdraw 只有等待中的請求可以撤回
func TestQueue_Withdraw(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	ticket, err := f.queue.Enqueue(ctx, "alice", "DUEL")
	require.NoError(t, err)

	assert.True(t, f.queue.Withdraw("alice"))
	assert.False(t, f.queue.Withdraw("alice"))

	_, err = resolved(t, ticket)
	assert.ErrorIs(t, err, matchmaking.ErrWithdrawn)
	assert.Equal(t, session.StatusInactive, f.queue.Status("alice"))
	assert.Empty(t, f.queue.Waiting())

	_, err = f.queue.Enqueue(ctx, "bob", "DUEL")
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "carol", "DUEL")
	require.NoError(t, err)
	f.queue.Tick(ctx)
	assert.False(t, f.queue.Withdraw("bob"), "formed requests cannot be withdrawn")
}

// TestQueue_Release 房間結束後可以重新排隊
func TestQueue_Release(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, "alice", "DUEL")
	require.NoError(t, err)

	f.queue.Release("alice")
	assert.Equal(t, session.StatusInQueue, f.queue.Status("alice"), "release only drops pending reservations")

	_, err = f.queue.Enqueue(ctx, "bob", "DUEL")
	require.NoError(t, err)
	f.queue.Tick(ctx)
	assert.Equal(t, session.StatusPending, f.queue.Status("alice"))

	f.queue.Release("alice")
	assert.Equal(t, session.StatusInactive, f.queue.Status("alice"))
	_, err = f.queue.Enqueue(ctx, "alice", "DUEL")
	assert.NoError(t, err)
}

// TestQueue_RejectsPlayersInRoom 已在大廳房或觀戰中的玩家不能再排隊
func TestQueue_RejectsPlayersInRoom(t *testing.T) {
	activity := &fakeActivity{rooms: map[string]string{
		"dave":    "lobby-1",
		"watcher": "room-9",
	}}
	recorder := newFakeRecorder()
	q := matchmaking.New(matchmaking.Options{
		Modes:    testModes,
		Activity: activity,
		Notifier: &fakeNotifier{},
		Recorder: recorder,
		Logger:   testLogger(),
		Interval: time.Hour,
	})
	ctx := context.Background()

	for _, username := range []string{"dave", "watcher"} {
		ticket, err := q.Enqueue(ctx, username, "DUEL")
		assert.Nil(t, ticket)
		assert.True(t, apperrors.IsDuplicateRequest(err), username)
		assert.Equal(t, session.StatusInactive, q.Status(username))
	}
	assert.Empty(t, q.Waiting())
	assert.Empty(t, recorder.status("dave"), "rejected requests are not recorded")

	activity.leave("dave")
	_, err := q.Enqueue(ctx, "dave", "DUEL")
	assert.NoError(t, err)
}

// TestQueue_Expiry 超過 TTL 的請求被移除
func TestQueue_Expiry(t *testing.T) {
	f := newFixture(20 * time.Millisecond)
	ctx := context.Background()

	ticket, err := f.queue.Enqueue(ctx, "alice", "DUEL")
	require.NoError(t, err)

	f.queue.Tick(ctx)
	assert.Equal(t, session.StatusInQueue, f.queue.Status("alice"))

	time.Sleep(30 * time.Millisecond)
	_, err = f.queue.Enqueue(ctx, "bob", "DUEL")
	require.NoError(t, err)
	f.queue.Tick(ctx)

	_, err = resolved(t, ticket)
	assert.ErrorIs(t, err, apperrors.ErrRequestExpired)
	assert.Equal(t, session.StatusInactive, f.queue.Status("alice"))
	assert.Empty(t, f.notifier.all(), "expired requests never join a party")
	assert.Equal(t, map[string]int{"DUEL": 1}, f.queue.Waiting())
}

// TestQueue_StartStop 迴圈定期組隊，停止時拒絕等待中的請求
func TestQueue_StartStop(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	f.queue.Start(ctx)

	a, err := f.queue.Enqueue(ctx, "alice", "DUEL")
	require.NoError(t, err)
	b, err := f.queue.Enqueue(ctx, "bob", "DUEL")
	require.NoError(t, err)

	assignA, err := resolved(t, a)
	require.NoError(t, err)
	assignB, err := resolved(t, b)
	require.NoError(t, err)
	assert.Equal(t, assignA.RoomID, assignB.RoomID)

	c, err := f.queue.Enqueue(ctx, "carol", "QUAD")
	require.NoError(t, err)

	f.queue.Stop()

	_, err = resolved(t, c)
	assert.ErrorIs(t, err, apperrors.ErrQueueStopped)
	assert.Equal(t, session.StatusInactive, f.recorder.status("carol"))

	_, err = f.queue.Enqueue(ctx, "dave", "DUEL")
	assert.ErrorIs(t, err, apperrors.ErrQueueStopped)
}

// TestTicket_WaitContext 等待可被取消
func TestTicket_WaitContext(t *testing.T) {
	f := newFixture(0)
	ticket, err := f.queue.Enqueue(context.Background(), "alice", "DUEL")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = ticket.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestQueue_ConcurrentNoDoubleAssignment 並發加入與撤回時，沒有玩家被配進兩隊
func TestQueue_ConcurrentNoDoubleAssignment(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	f := newFixture(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.queue.Tick(ctx)
			}
		}
	}()

	var (
		clients   sync.WaitGroup
		mu        sync.Mutex
		successes = make(map[string]int)
	)
	for i := 0; i < 50; i++ {
		clients.Add(1)
		go func(i int) {
			defer clients.Done()
			name := fmt.Sprintf("player-%d", i)
			for round := 0; round < 20; round++ {
				ticket, err := f.queue.Enqueue(ctx, name, "DUEL")
				if err != nil {
					continue
				}
				if round%3 == 0 {
					f.queue.Withdraw(name)
				}
				waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
				a, err := ticket.Wait(waitCtx)
				waitCancel()
				if err != nil && !f.queue.Withdraw(name) {
					// 已被取出組隊，等待結果
					a, err = ticket.Wait(ctx)
				}
				if err == nil {
					assert.NotEmpty(t, a.RoomID)
					mu.Lock()
					successes[name]++
					mu.Unlock()
					f.queue.Release(name)
				}
			}
		}(i)
	}
	clients.Wait()
	close(stop)
	wg.Wait()

	memberships := make(map[string]int)
	for _, formation := range f.notifier.all() {
		require.Len(t, formation.Players, 2)
		assert.NotEqual(t, formation.Players[0], formation.Players[1])
		for _, p := range formation.Players {
			memberships[p]++
		}
	}
	assert.Equal(t, memberships, successes)
	assert.Empty(t, f.queue.Waiting())
}
