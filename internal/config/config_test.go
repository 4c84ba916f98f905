package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 15s
logging:
  level: debug
  console: true
scheduler:
  interval: 30s
  grace: 2m
  default_timezone: Europe/Moscow
notifier:
  workers: 3
  rate_per_sec: 10
storage:
  driver: sqlite
  path: ./reminders.db
ops:
  enabled: true
  addr: 127.0.0.1:8081
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Storage:  StorageConfig{Driver: "sqlite", Path: "x.db"},
	}
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "30s", cfg.Scheduler.Interval)
	assert.Equal(t, "Europe/Moscow", cfg.Scheduler.DefaultTimezone)
	assert.Equal(t, 3, cfg.Notifier.Workers)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Same(t, cfg, m.Get())
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"telegram":{"token":"t"},"storage":{"driver":"mongo","dsn":"mongodb://localhost","database":"bot"}}`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "bot", cfg.Storage.Database)
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	_, err := NewManager(writeFile(t, "c.yaml", sampleYAML+"\nplugins: {}\n")).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	_, err = NewManager(writeFile(t, "c.json", `{"telegram":{"token":"t"}} {}`)).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("BOT_TIMEZONE", "Asia/Tokyo")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("STORAGE_DSN", "postgres://u:p@localhost/db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := NewManager(writeFile(t, "config.yaml", sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "Asia/Tokyo", cfg.Scheduler.DefaultTimezone)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Storage.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// untouched by env
	assert.Equal(t, "15s", cfg.Telegram.PollTimeout)
}

func TestEnvOnlyWithoutFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "only-env")
	cfg, err := NewManager("").Load()
	require.NoError(t, err)
	assert.Equal(t, "only-env", cfg.Telegram.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad duration", func(c *Config) { c.Scheduler.Interval = "soon" }, "scheduler.interval"},
		{"negative duration", func(c *Config) { c.Scheduler.Grace = "-1m" }, "scheduler.grace"},
		{"bad zone", func(c *Config) { c.Scheduler.DefaultTimezone = "Mars/Olympus" }, "scheduler.default_timezone"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "file" }, "storage.driver"},
		{"postgres needs dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "dsn is required"},
		{"mongo needs database", func(c *Config) {
			c.Storage.Driver = "mongo"
			c.Storage.DSN = "mongodb://localhost"
		}, "database are required"},
		{"chat log needs chat", func(c *Config) { c.Logging.Chat.Enabled = true }, "logging.chat.chat_id"},
		{"ops public without token", func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:8081"
		}, "not loopback"},
		{"ops public with token", func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:8081"
			c.Ops.Token = "secret"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = Duration("x", " 90s ", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = Duration("scheduler.grace", "-5s", time.Minute)
	require.ErrorContains(t, err, "scheduler.grace")
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	a := validConfig()
	b := validConfig()
	b.Telegram.Token = "rotated"
	b.Scheduler.Interval = "10s"
	b.Storage.DSN = "postgres://secret"

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"telegram", "scheduler", "storage"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"telegram", "storage"}, NeedsRestart(changed))

	changed, _ = SummarizeChange(a, validConfig())
	assert.Empty(t, changed)
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	updated := sampleYAML + "\n"
	updated = strings.Replace(updated, "interval: 30s", "interval: 45s", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case cfg := <-ch:
		assert.Equal(t, "45s", cfg.Scheduler.Interval)
	default:
		t.Fatal("expected a published config")
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	before, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "grace: 2m", "grace: later", 1)), 0o600))
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, before, m.Get())

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "grace: 2m", "grace: 3m", 1)), 0o600))
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Same(t, before, m.Get())
}

func TestPublishDropsOldest(t *testing.T) {
	m := NewManager("")
	ch := m.Subscribe(1)
	first, second := validConfig(), validConfig()
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updated := strings.Replace(sampleYAML, "workers: 3", "workers: 5", 1)
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o600)
		select {
		case cfg := <-ch:
			return cfg.Notifier.Workers == 5
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestToJSONFormats(t *testing.T) {
	j, err := toJSON("c.yml", []byte("a: 1\nb: [x, y]\n1: one\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":["x","y"],"1":"one"}`, string(j))

	raw := []byte(`{"a": 1}`)
	j, err = toJSON("config", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, j)

	j, err = toJSON("config", []byte("a: 2\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(j))

	_, err = toJSON("c.yaml", []byte("a: 1\n---\nb: 2\n"))
	assert.ErrorContains(t, err, "multiple documents")

	_, err = toJSON("c.yaml", nil)
	assert.ErrorContains(t, err, "empty document")
}
