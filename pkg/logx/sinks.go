package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChatSender delivers a log line to a chat.
type ChatSender interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

type ChatSenderFunc func(ctx context.Context, chatID int64, text string) error

func (f ChatSenderFunc) SendLog(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

// Entry is a persisted log record.
type Entry struct {
	Level   string
	Message string
	Module  string
	At      time.Time
}

// EntrySink persists log records.
type EntrySink interface {
	AppendLog(ctx context.Context, e Entry) error
}

type EntrySinkFunc func(ctx context.Context, e Entry) error

func (f EntrySinkFunc) AppendLog(ctx context.Context, e Entry) error { return f(ctx, e) }

// record is a decoded zerolog JSON line.
type record struct {
	level  zerolog.Level
	fields map[string]any
}

func decode(level zerolog.Level, p []byte) (record, bool) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return record{}, false
	}
	return record{level: level, fields: m}, true
}

func (r record) str(k string) string {
	v, _ := r.fields[k].(string)
	return v
}

func (r record) at() time.Time {
	if t, err := time.Parse(timeFormat, r.str(zerolog.TimestampFieldName)); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// queue runs one worker that drains records into deliver. Writes never
// block; a full queue drops.
type queue struct {
	mu       sync.Mutex
	ch       chan record
	minLevel zerolog.Level
	once     sync.Once
	wg       sync.WaitGroup
	deliver  func(ctx context.Context, r record)
}

func (q *queue) start(ctx context.Context, size int) {
	q.once.Do(func() {
		if size <= 0 {
			size = 256
		}
		q.ch = make(chan record, size)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case r := <-q.ch:
					q.deliver(ctx, r)
				}
			}
		}()
	})
}

func (q *queue) wait() { q.wg.Wait() }

func (q *queue) offer(level zerolog.Level, p []byte, allow func() bool) {
	q.mu.Lock()
	min := q.minLevel
	ch := q.ch
	q.mu.Unlock()
	if ch == nil || level < min || (allow != nil && !allow()) {
		return
	}
	r, ok := decode(level, p)
	if !ok {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

type chatSink struct {
	queue
	sender  ChatSender
	chatID  int64
	limiter *rate.Limiter
}

func newChatSink(sender ChatSender) *chatSink {
	c := &chatSink{sender: sender}
	c.deliver = func(ctx context.Context, r record) {
		c.mu.Lock()
		id := c.chatID
		c.mu.Unlock()
		if id == 0 {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = c.sender.SendLog(cctx, id, formatChat(r))
		cancel()
	}
	return c
}

func (c *chatSink) configure(ctx context.Context, cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
	if cfg.Enabled {
		c.start(ctx, 256)
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(LevelInfo, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	lim := c.limiter
	c.mu.Unlock()
	c.offer(level, p, lim.Allow)
	return len(p), nil
}

type storeSink struct {
	queue
	sink EntrySink
}

func newStoreSink(sink EntrySink) *storeSink {
	s := &storeSink{sink: sink}
	s.deliver = func(ctx context.Context, r record) {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = s.sink.AppendLog(cctx, Entry{
			Level:   strings.ToUpper(r.level.String()),
			Message: r.str(zerolog.MessageFieldName),
			Module:  r.str("comp"),
			At:      r.at(),
		})
		cancel()
	}
	return s
}

func (s *storeSink) configure(ctx context.Context, cfg StoreConfig) {
	s.mu.Lock()
	s.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	s.mu.Unlock()
	if cfg.Enabled {
		s.start(ctx, cfg.QueueSize)
	}
}

func (s *storeSink) Write(p []byte) (int, error) { return s.WriteLevel(LevelInfo, p) }

func (s *storeSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s.offer(level, p, nil)
	return len(p), nil
}

func formatChat(r record) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.ToUpper(r.level.String()))
	b.WriteString("] ")
	b.WriteString(r.str(zerolog.MessageFieldName))

	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(r.fields[k]), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
