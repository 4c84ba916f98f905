package logx

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memSink) AppendLog(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func TestStoreSink_PersistsWarnAndAbove(t *testing.T) {
	sink := &memSink{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "bot.log")},
		Store: StoreConfig{Enabled: true},
	}, nil, sink)
	defer svc.Close()

	l := log.With(Comp("scheduler"))
	l.Info("cycle finished")
	l.Warn("dispatch failed", String("reminder", "r1"))
	l.Error("store down")

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()
	assert.Equal(t, "WARN", got[0].Level)
	assert.Equal(t, "dispatch failed", got[0].Message)
	assert.Equal(t, "scheduler", got[0].Module)
	assert.False(t, got[0].At.IsZero())
	assert.Equal(t, "ERROR", got[1].Level)
}

func TestChatSink_FormatsAndTargetsChat(t *testing.T) {
	type sent struct {
		chat int64
		text string
	}
	var (
		mu  sync.Mutex
		out []sent
	)
	sender := ChatSenderFunc(func(_ context.Context, chatID int64, text string) error {
		mu.Lock()
		out = append(out, sent{chatID, text})
		mu.Unlock()
		return nil
	})
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "bot.log")},
		Chat:  ChatConfig{Enabled: true, ChatID: 42, MinLevel: "error", RatePerSec: 5},
	}, sender, nil)
	defer svc.Close()

	log.Warn("ignored")
	log.Error("boom", String("owner", "7"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(out) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(42), out[0].chat)
	assert.Contains(t, out[0].text, "[ERROR] boom")
	assert.Contains(t, out[0].text, "- owner=7")
}

func TestApply_SwapsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}}, nil, nil)
	defer svc.Close()

	assert.False(t, log.Enabled(LevelInfo))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.True(t, log.Enabled(LevelDebug))

	log.Info("hello")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelWarn, ParseLevel("warning", LevelInfo))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense", LevelInfo))
	assert.True(t, ValidLevel(""))
	assert.True(t, ValidLevel("DEBUG"))
	assert.False(t, ValidLevel("loud"))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Error("nothing", Err(nil)) })
	assert.False(t, Nop().IsZero())
}
