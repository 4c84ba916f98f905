// Package router dispatches chat updates to command, callback and dialog
// handlers on a small worker pool.
package router

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// ErrBusy is returned when the worker queue is full.
var ErrBusy = errors.New("router: busy")

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Labels are reply-keyboard texts that trigger the command.
	Labels []string
	// Hidden commands work but are left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data "ns:action[:payload]".
type CallbackRoute struct {
	NS      string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Text is the message text with the command word removed.
	Text    string
	Payload string
	ReqID   string
	Adapter transport.Adapter
	Logger  logx.Logger

	answered atomic.Bool
}

// Message is the incoming message, nil for callbacks.
func (r *Request) Message() *transport.Message { return r.Update.Message }

// Callback is the incoming callback, nil for messages.
func (r *Request) Callback() *transport.Callback { return r.Update.Callback }

// Reply sends a plain message to the request chat.
func (r *Request) Reply(ctx context.Context, text string, opt *transport.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// Answer acknowledges a callback; later calls are ignored.
func (r *Request) Answer(ctx context.Context, text string) error {
	cb := r.Update.Callback
	if cb == nil || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.Adapter.AnswerCallback(ctx, cb.ID, text)
}

// ReplyMsg sends a prepared message to the request chat.
func (r *Request) ReplyMsg(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.Adapter, r.Chat)
	return err
}

type Option func(*Router)

// WithWorkers sets the pool size. Updates from one user always land on the
// same worker, so a user's updates are handled in order.
func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithDefaultTimeout bounds handlers without their own timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Router) { r.defTimeout = d }
}

type registry struct {
	cmds      []Command
	byName    map[string]*Command
	byLabel   map[string]*Command
	callbacks map[string]map[string]CallbackRoute
	fallback  HandlerFunc
}

// Router owns the command table and the worker pool.
type Router struct {
	log     logx.Logger
	adapter transport.Adapter

	reg atomic.Pointer[registry]

	workers    int
	queueSize  int
	defTimeout time.Duration

	mu     sync.Mutex
	queues []chan func()
	sup    *supervisor.Supervisor

	handled atomic.Uint64
	busy    atomic.Uint64
}

func New(log logx.Logger, adapter transport.Adapter, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:        log,
		adapter:    adapter,
		workers:    4,
		queueSize:  64,
		defTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	r.reg.Store(&registry{byName: map[string]*Command{}, byLabel: map[string]*Command{}})
	return r
}

// SetRegistry installs commands, callback routes and the handler for plain
// text that matched nothing else. /help is added automatically.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, fallback HandlerFunc) {
	reg := &registry{
		byName:    map[string]*Command{},
		byLabel:   map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		fallback:  fallback,
	}
	all := append([]Command(nil), cmds...)
	if !hasCommand(all, "help") {
		all = append(all, Command{
			Name:        "help",
			Description: "show commands",
			Usage:       "/help",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, r.HelpText(), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			},
		})
	}
	for i := range all {
		c := &all[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg.cmds = append(reg.cmds, *c)
		reg.byName[name] = c
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, exists := reg.byName[a]; !exists {
					reg.byName[a] = c
				}
			}
		}
		for _, l := range c.Labels {
			if l = strings.TrimSpace(l); l != "" {
				reg.byLabel[strings.ToLower(l)] = c
			}
		}
	}
	for _, cb := range cbs {
		ns, action := strings.TrimSpace(cb.NS), strings.TrimSpace(cb.Action)
		if ns == "" || action == "" || cb.Handle == nil {
			continue
		}
		if reg.callbacks[ns] == nil {
			reg.callbacks[ns] = map[string]CallbackRoute{}
		}
		reg.callbacks[ns][action] = cb
	}
	r.reg.Store(reg)
}

func hasCommand(cmds []Command, name string) bool {
	for _, c := range cmds {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// PublishMenu pushes the visible commands to the platform menu when the
// adapter supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.MenuCommands())
}

// Stats are dispatcher counters.
type Stats struct {
	Handled uint64 `json:"handled"`
	Busy    uint64 `json:"busy"`
}

func (r *Router) Stats() Stats {
	return Stats{Handled: r.handled.Load(), Busy: r.busy.Load()}
}

// Supervisor returns the worker supervisor while the loop runs.
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sup
}

// DispatchLoop reads updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.Comp("router"))),
		supervisor.WithCancelOnError(false),
	)
	queues := make([]chan func(), r.workers)
	for i := range queues {
		queues[i] = make(chan func(), r.queueSize)
	}
	r.mu.Lock()
	r.queues = queues
	r.sup = sup
	r.mu.Unlock()

	for i, q := range queues {
		sup.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			return r.work(c, q)
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("router started", logx.Int("workers", r.workers), logx.Int("queue_size", r.queueSize))

	defer func() {
		r.mu.Lock()
		r.queues = nil
		r.sup = nil
		r.mu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.Route(ctx, up)
			if job == nil {
				continue
			}
			if err := r.enqueue(fromID(up), job); err != nil {
				r.busy.Add(1)
				r.rejectBusy(ctx, up)
			}
		}
	}
}

func (r *Router) work(ctx context.Context, q <-chan func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q:
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in router job", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (r *Router) enqueue(user int64, job func()) error {
	r.mu.Lock()
	queues := r.queues
	r.mu.Unlock()
	if len(queues) == 0 {
		return ErrBusy
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(user, 10)))
	select {
	case queues[h.Sum32()%uint32(len(queues))] <- job:
		return nil
	default:
		return ErrBusy
	}
}

func (r *Router) rejectBusy(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		_, _ = r.adapter.SendText(ctx, transport.ChatTarget{ChatID: up.Message.ChatID}, "Busy, please try again.", nil)
	case transport.UpdateCallback:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "Busy, please try again.")
	}
}

func fromID(up transport.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.FromID
	case up.Callback != nil:
		return up.Callback.FromID
	}
	return 0
}

// Route resolves an update into a runnable job, nil when nothing handles it.
func (r *Router) Route(ctx context.Context, up transport.Update) func() {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			return r.routeMessage(ctx, up)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			return r.routeCallback(ctx, up)
		}
	}
	return nil
}

// Handle routes and runs an update on the calling goroutine.
func (r *Router) Handle(ctx context.Context, up transport.Update) {
	if job := r.Route(ctx, up); job != nil {
		job()
	}
}

func (r *Router) routeMessage(ctx context.Context, up transport.Update) func() {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	reg := r.reg.Load()
	chat := transport.ChatTarget{ChatID: msg.ChatID}

	if strings.HasPrefix(text, "/") {
		word, rest, _ := strings.Cut(text[1:], " ")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		cmd, ok := reg.byName[strings.ToLower(word)]
		if !ok {
			return func() {
				_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
			}
		}
		rest = strings.TrimSpace(rest)
		return r.job(ctx, up, chat, msg.FromID, cmd.Name, rest, "", cmd.Timeout, cmd.Handle)
	}

	if cmd, ok := reg.byLabel[strings.ToLower(text)]; ok {
		return r.job(ctx, up, chat, msg.FromID, cmd.Name, "", "", cmd.Timeout, cmd.Handle)
	}
	if reg.fallback != nil && text != "" {
		return r.job(ctx, up, chat, msg.FromID, "text", text, "", 0, reg.fallback)
	}
	return nil
}

func (r *Router) routeCallback(ctx context.Context, up transport.Update) func() {
	cb := up.Callback
	data, ok := tgui.ParseData(cb.Data)
	if !ok {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "") }
	}
	reg := r.reg.Load()
	route, ok := reg.callbacks[data.NS][data.Action]
	if !ok {
		return func() { _ = r.adapter.AnswerCallback(ctx, cb.ID, "") }
	}
	h := func(ctx context.Context, req *Request) error { return route.Handle(ctx, req, req.Payload) }
	name := "cb:" + data.NS + ":" + data.Action
	return r.job(ctx, up, transport.ChatTarget{ChatID: cb.ChatID}, cb.FromID, name, "", data.Payload, route.Timeout, h)
}

func (r *Router) job(ctx context.Context, up transport.Update, chat transport.ChatTarget, from int64, name, text, payload string, timeout time.Duration, h HandlerFunc) func() {
	rid := uuid.NewString()
	log := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", chat.ChatID),
		logx.Int64("from_id", from),
		logx.String("cmd", name),
	)
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: name,
		Text:    text,
		Args:    strings.Fields(text),
		Payload: payload,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger:  log,
	}
	if timeout <= 0 {
		timeout = r.defTimeout
	}
	final := Chain(h,
		MWReplyError(),
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	return func() {
		_ = final(ctx, req)
		// stop the client spinner if the handler did not answer
		_ = req.Answer(ctx, "")
		r.handled.Add(1)
	}
}
