package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
	"remindbot/internal/transport"
)

type fakeAdapter struct {
	mu    sync.Mutex
	out   chan<- transport.Update
	texts []string
	menu  []transport.BotCommand
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) push(up transport.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- up
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := `
telegram:
  token: "123:abc"
logging:
  level: error
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "bot.db") + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppServesCommands(t *testing.T) {
	ad := &fakeAdapter{}
	a, err := New(context.Background(), writeConfig(t, ""), WithAdapter(ad))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.ready())

	ad.mu.Lock()
	assert.NotEmpty(t, ad.menu)
	ad.mu.Unlock()

	ad.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 1, ChatID: 7, FromID: 7, FirstName: "Kim", Text: "/start", IsPrivate: true,
	}})
	require.Eventually(t, func() bool {
		for _, s := range ad.sent() {
			if strings.Contains(s, "time zone") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return a.router.Stats().Handled == 1 }, 5*time.Second, 20*time.Millisecond)

	snap, ok := a.Stats().(Snapshot)
	require.True(t, ok)
	assert.Contains(t, snap.Supervisors, "app")
	assert.Contains(t, snap.Supervisors, "router")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.Error(t, a.ready())
}

func TestApplySwapsDefaultZone(t *testing.T) {
	a, err := New(context.Background(), writeConfig(t, ""), WithAdapter(&fakeAdapter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })
	ctx := context.Background()

	prev := a.cfgm.Get()
	next := *prev
	next.Scheduler.DefaultTimezone = "Europe/Berlin"
	next.Scheduler.Interval = "30s"
	a.apply(ctx, prev, &next)

	assert.Equal(t, "Europe/Berlin", a.zones.Name(ctx, "nobody"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), writeConfig(t, "scheduler:\n  interval: -5s\n"), WithAdapter(&fakeAdapter{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.interval")
}

func TestMapStorageDefaults(t *testing.T) {
	sc, err := mapStorage(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultDBPath, sc.Path)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	sc, err = mapStorage(&config.Config{Storage: config.StorageConfig{Driver: "Postgres", DSN: " postgres://x ", MaxConns: 8}})
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, "postgres://x", sc.DSN)
	assert.Empty(t, sc.Path)
	assert.Equal(t, int32(8), sc.MaxConns)
}

func TestMapNotifierAlwaysEnabled(t *testing.T) {
	nc, err := mapNotifier(&config.Config{Notifier: config.NotifierConfig{RetryMax: 2, DedupWindow: "1m"}})
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 2, nc.RetryMax)
	assert.Equal(t, time.Minute, nc.DedupWindow)
	assert.Equal(t, 10*time.Second, nc.SendTimeout)
}

func TestMapSchedulerDefaults(t *testing.T) {
	sc, err := mapScheduler(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, sc.Interval)
	assert.Equal(t, 5*time.Minute, sc.Grace)

	_, err = mapScheduler(&config.Config{Scheduler: config.SchedulerConfig{Grace: "-1m"}})
	assert.Error(t, err)
}
