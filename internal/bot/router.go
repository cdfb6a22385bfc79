// Package bot is the Telegram command layer: the main menu, the tracking
// menus with their toggle callbacks, the threshold conversation and the
// manual supply and match commands.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coefbot/internal/eventbus"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	"coefbot/internal/transport"
	logx "coefbot/pkg/logx"
	"coefbot/pkg/tgui"
)

// Supply is the snapshot and threshold API the handlers use.
type Supply interface {
	SupplyData(ctx context.Context) supply.Snapshot
	Threshold(ctx context.Context) (int, bool, error)
	SetThreshold(ctx context.Context, v int) error
	Clear(ctx context.Context) error
}

// Checker runs one match computation on demand.
type Checker interface {
	CheckNow(ctx context.Context) ([]supply.Entry, error)
}

type Deps struct {
	Adapter    transport.Adapter
	Supply     Supply
	Checker    Checker
	KV         storage.KV
	Warehouses storage.WarehouseRegistry
	BoxTypes   storage.BoxTypeRegistry
	Dates      storage.DateRegistry
	Bus        eventbus.Bus

	// Owners restricts the bot to these user ids. Empty allows everyone.
	Owners  []int64
	Timeout time.Duration
	Now     func() time.Time
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Text    string
	Command string
	Action  string
	Payload string
	ReqID   string
	Logger  logx.Logger

	adapter transport.Adapter
	sent    transport.MessageRef
	answer  string
}

// Reply sends text to the request chat and remembers the message.
func (r *Request) Reply(ctx context.Context, text string, opt *transport.SendOptions) error {
	ref, err := r.adapter.SendText(ctx, r.Chat, text, opt)
	if err != nil {
		return err
	}
	r.sent = ref
	return nil
}

// Edit replaces the text of the message a callback came from.
func (r *Request) Edit(ctx context.Context, text string, opt *transport.SendOptions) error {
	cb := r.Update.Callback
	if cb == nil {
		return r.Reply(ctx, text, opt)
	}
	return r.adapter.EditText(ctx, transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}, text, opt)
}

// Answer sets the toast shown for a callback.
func (r *Request) Answer(text string) { r.answer = text }

type command struct {
	name        string
	description string
	handle      HandlerFunc
}

type awaitKey struct {
	chat int64
	from int64
}

type Router struct {
	d   Deps
	log logx.Logger

	mu       sync.RWMutex
	owners   []int64
	commands map[string]command
	order    []command
	buttons  map[string]HandlerFunc
	cbs      map[string]map[string]HandlerFunc

	awaitMu  sync.Mutex
	awaiting map[awaitKey]struct{}

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(d Deps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	r := &Router{
		d:        d,
		log:      log.With(logx.Comp("bot")),
		owners:   append([]int64(nil), d.Owners...),
		awaiting: map[awaitKey]struct{}{},
		jobs:     make(chan func(), 256),
	}
	r.register()
	return r
}

func (r *Router) register() {
	cmds := []command{
		{"start", "главное меню", r.handleStart},
		{"help", "справка", r.handleHelp},
		{"supply", "последние данные о коэффициентах", r.handleSupply},
		{"matches", "что подходит под фильтры сейчас", r.handleMatches},
		{"clearall", "очистить отслеживание и кэш", r.handleClearAll},
	}
	r.commands = make(map[string]command, len(cmds))
	for _, c := range cmds {
		r.commands[c.name] = c
	}
	r.order = cmds

	r.buttons = map[string]HandlerFunc{
		btnWarehouses: Chain(r.handleWarehouseMenu, ReplaceMenu(r.d.KV, "warehouse")),
		btnBoxTypes:   Chain(r.handleBoxTypeMenu, ReplaceMenu(r.d.KV, "box_type")),
		btnDates:      Chain(r.handleDateMenu, ReplaceMenu(r.d.KV, "date")),
	}

	r.cbs = map[string]map[string]HandlerFunc{
		scopeWarehouse: {
			actToggle: r.handleWarehouseToggle,
			actPage:   r.handleWarehousePage,
			actNoop:   func(context.Context, *Request) error { return nil },
		},
		scopeBoxType: {
			actToggle: r.handleBoxTypeToggle,
			actIndex:  r.handleBoxTypeToggle,
		},
		scopeDate: {
			actToggle: r.handleDateToggle,
		},
	}
}

// SetOwners updates the allow-list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) allowed(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners) == 0 || slices.Contains(r.owners, id)
}

// UpdateMenu publishes the slash command list when the adapter supports it.
func (r *Router) UpdateMenu(ctx context.Context) error {
	up, ok := r.d.Adapter.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	list := make([]transport.BotCommand, 0, len(r.order))
	for _, c := range r.order {
		list = append(list, transport.BotCommand{Command: c.name, Description: c.description})
	}
	return up.UpdateMenuCommands(ctx, list)
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// Supervisor returns the worker pool supervisor while dispatching.
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or
// updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in bot job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.prepare(ctx, up)
			if job == nil {
				continue
			}
			if !r.tryEnqueue(job) {
				r.rejectBusy(ctx, up)
			}
		}
	}
}

func (r *Router) rejectBusy(ctx context.Context, up transport.Update) {
	switch {
	case up.Message != nil:
		_, _ = r.d.Adapter.SendText(ctx, transport.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, msgs.Busy, nil)
	case up.Callback != nil:
		_ = r.d.Adapter.AnswerCallback(ctx, up.Callback.ID, msgs.Busy)
	}
}

// prepare resolves an update into a job ready to run, or nil to ignore it.
func (r *Router) prepare(ctx context.Context, up transport.Update) func() {
	switch up.Kind {
	case transport.UpdateMessage:
		return r.prepareMessage(ctx, up)
	case transport.UpdateCallback:
		return r.prepareCallback(ctx, up)
	}
	return nil
}

func (r *Router) newRequest(up transport.Update, chat transport.ChatTarget, from int64, cmd string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: cmd,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", cmd),
		),
		adapter: r.d.Adapter,
	}
}

func (r *Router) wrap(h HandlerFunc) HandlerFunc {
	return Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.d.Timeout),
	)
}

func (r *Router) prepareMessage(ctx context.Context, up transport.Update) func() {
	msg := up.Message
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	var (
		name string
		h    HandlerFunc
	)
	switch {
	case strings.HasPrefix(text, "/"):
		fields := strings.Fields(text)
		word := strings.TrimPrefix(fields[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		c, ok := r.commands[strings.ToLower(word)]
		if !ok {
			return nil
		}
		r.stopAwaiting(msg.ChatID, msg.FromID)
		name, h = c.name, c.handle
	case r.buttons[text] != nil:
		r.stopAwaiting(msg.ChatID, msg.FromID)
		name, h = "button:"+text, r.buttons[text]
	case btnCoefPattern.MatchString(text):
		name, h = "button:coefficient", r.handleAskCoefficient
	case r.isAwaiting(msg.ChatID, msg.FromID):
		name, h = "coefficient", r.handleCoefficientInput
	default:
		return nil
	}

	req := r.newRequest(up, chat, msg.FromID, name)
	req.Text = text
	if !r.allowed(msg.FromID) {
		return func() { _ = req.Reply(ctx, msgs.Unauthorized, nil) }
	}
	final := r.wrap(h)
	return func() {
		if err := final(ctx, req); err != nil {
			_ = req.Reply(ctx, msgs.Failed, nil)
		}
	}
}

func (r *Router) prepareCallback(ctx context.Context, up transport.Update) func() {
	cb := up.Callback
	if cb == nil {
		return nil
	}
	scope, action, payload, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		return nil
	}
	h := r.cbs[scope][action]
	if h == nil {
		return func() { _ = r.d.Adapter.AnswerCallback(ctx, cb.ID, "") }
	}
	if !r.allowed(cb.FromID) {
		return func() { _ = r.d.Adapter.AnswerCallback(ctx, cb.ID, msgs.Unauthorized) }
	}

	chat := transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.FromID, "cb:"+scope+":"+action)
	req.Action = action
	req.Payload = payload

	final := r.wrap(h)
	return func() {
		if err := final(ctx, req); err != nil && req.answer == "" {
			req.answer = msgs.Failed
		}
		_ = r.d.Adapter.AnswerCallback(ctx, cb.ID, req.answer)
	}
}

func (r *Router) setAwaiting(chat, from int64) {
	r.awaitMu.Lock()
	r.awaiting[awaitKey{chat, from}] = struct{}{}
	r.awaitMu.Unlock()
}

func (r *Router) isAwaiting(chat, from int64) bool {
	r.awaitMu.Lock()
	defer r.awaitMu.Unlock()
	_, ok := r.awaiting[awaitKey{chat, from}]
	return ok
}

// stopAwaiting reports whether the user was waiting to enter a value.
func (r *Router) stopAwaiting(chat, from int64) bool {
	r.awaitMu.Lock()
	defer r.awaitMu.Unlock()
	k := awaitKey{chat, from}
	_, ok := r.awaiting[k]
	delete(r.awaiting, k)
	return ok
}

var ridSeq atomic.Uint64

func newReqID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(ridSeq.Add(1), 36)
}
