package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	answers []string
	menu    []transport.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), append([]string(nil), f.answers...)
}

func msg(from int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: from, FromID: from, Text: text}}
}

func cb(from int64, data string) transport.Update {
	return transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "c1", ChatID: from, FromID: from, Data: data}}
}

func echo(ctx context.Context, req *Request) error {
	return req.Reply(ctx, req.Command+":"+req.Text, nil)
}

func TestSanitizeCommand(t *testing.T) {
	tests := map[string]string{
		"start":          "start",
		"/Help":          "help",
		"my-reminders":   "my_reminders",
		"two  words":     "two_words",
		"9lives":         "cmd_9lives",
		"emoji🙂name":     "emojiname",
		"":               "",
		"___":            "",
		"a_very_long_command_name_that_overflows_limit": "a_very_long_command_name_that_ov",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeCommand(in), in)
	}
}

func TestRouteCommandsLabelsAndFallback(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad)
	r.SetRegistry([]Command{
		{Name: "list", Aliases: []string{"ls"}, Labels: []string{"My reminders"}, Handle: echo},
	}, nil, func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, "fallback:"+req.Text, nil)
	})

	ctx := context.Background()
	r.Handle(ctx, msg(1, "/list extra args"))
	r.Handle(ctx, msg(1, "/ls@remind_bot"))
	r.Handle(ctx, msg(1, "my reminders"))
	r.Handle(ctx, msg(1, "hello there"))
	r.Handle(ctx, msg(1, "/nope"))

	texts, _ := ad.snapshot()
	assert.Equal(t, []string{
		"list:extra args",
		"list:",
		"list:",
		"fallback:hello there",
		"Unknown command. Try /help",
	}, texts)
}

func TestCallbacks(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad)
	var got []string
	r.SetRegistry(nil, []CallbackRoute{
		{NS: "reminder", Action: "confirm", Handle: func(ctx context.Context, req *Request, payload string) error {
			got = append(got, payload)
			return req.Answer(ctx, "done")
		}},
		{NS: "tz", Action: "set", Handle: func(_ context.Context, _ *Request, payload string) error {
			got = append(got, payload)
			return nil
		}},
	}, nil)

	ctx := context.Background()
	r.Handle(ctx, cb(1, "reminder:confirm:abc"))
	r.Handle(ctx, cb(1, "tz:set:America/New_York"))
	r.Handle(ctx, cb(1, "unknown:thing"))
	r.Handle(ctx, cb(1, "garbage"))

	assert.Equal(t, []string{"abc", "America/New_York"}, got)
	_, answers := ad.snapshot()
	// one answer per callback: explicit, implicit, unknown, unparsable
	assert.Equal(t, []string{"done", "", "", ""}, answers)
}

func TestHandlerFailuresReachTheUser(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, WithDefaultTimeout(20*time.Millisecond))
	r.SetRegistry([]Command{
		{Name: "fail", Handle: func(context.Context, *Request) error { return errors.New("boom") }},
		{Name: "slow", Handle: func(ctx context.Context, _ *Request) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "panic", Handle: func(context.Context, *Request) error { panic("oops") }},
	}, nil, nil)

	ctx := context.Background()
	r.Handle(ctx, msg(1, "/fail"))
	r.Handle(ctx, msg(1, "/slow"))
	r.Handle(ctx, msg(1, "/panic"))

	texts, _ := ad.snapshot()
	assert.Equal(t, []string{
		"Something went wrong, please try again.",
		"The request timed out, please try again.",
		"Something went wrong, please try again.",
	}, texts)
	assert.Equal(t, uint64(3), r.Stats().Handled)
}

func TestHelpIsAddedAndMenuPublished(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad)
	r.SetRegistry([]Command{
		{Name: "new", Description: "create a <reminder>", Handle: echo},
		{Name: "secret", Hidden: true, Handle: echo},
	}, nil, nil)

	require.NoError(t, r.PublishMenu(context.Background()))
	assert.Equal(t, []transport.BotCommand{
		{Command: "new", Description: "create a <reminder>"},
		{Command: "help", Description: "show commands"},
	}, ad.menu)

	help := r.HelpText()
	assert.Contains(t, help, "create a &lt;reminder&gt;")
	assert.NotContains(t, help, "secret")
}

func TestDispatchLoopKeepsPerUserOrder(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, WithWorkers(3))

	var (
		mu   sync.Mutex
		seen = map[int64][]string{}
	)
	r.SetRegistry(nil, nil, func(_ context.Context, req *Request) error {
		mu.Lock()
		seen[req.FromID] = append(seen[req.FromID], req.Text)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	want := []string{"a", "b", "c", "d", "e"}
	for _, s := range want {
		for _, u := range []int64{1, 2, 3, 4} {
			updates <- msg(u, s)
		}
	}
	require.Eventually(t, func() bool { return r.Stats().Handled == 20 }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, u := range []int64{1, 2, 3, 4} {
		assert.Equal(t, want, seen[u], "user %d", u)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
	assert.Nil(t, r.Supervisor())
}

func TestDispatchLoopRejectsWhenBusy(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, WithWorkers(1), WithQueueSize(1))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	r.SetRegistry(nil, nil, func(context.Context, *Request) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan transport.Update)
	go func() { _ = r.DispatchLoop(ctx, updates) }()

	updates <- msg(1, "first")
	<-started
	updates <- msg(1, "queued")
	updates <- msg(1, "rejected")

	require.Eventually(t, func() bool { return r.Stats().Busy == 1 }, 5*time.Second, 10*time.Millisecond)
	texts, _ := ad.snapshot()
	assert.Equal(t, []string{"Busy, please try again."}, texts)
	close(release)
}
