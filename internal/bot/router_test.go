package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"coefbot/internal/eventbus"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	"coefbot/internal/supplycache"
	"coefbot/internal/transport"
	logx "coefbot/pkg/logx"
)

const (
	chatID = int64(100)
	userID = int64(42)
)

var today = time.Date(2024, 9, 5, 10, 0, 0, 0, time.UTC)

type sentMsg struct {
	ref  transport.MessageRef
	text string
	opt  *transport.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	edits   []sentMsg
	deleted []transport.MessageRef
	answers []string
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	f.sent = append(f.sent, sentMsg{ref: ref, text: text, opt: opt})
	return ref, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMsg{ref: ref, text: text, opt: opt})
	return nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) last() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMsg{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) lastEdit() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return sentMsg{}
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeAdapter) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

type staticSource struct{ snap supply.Snapshot }

func (s staticSource) Fetch(context.Context) (supply.Snapshot, error) { return s.snap, nil }

type fakeChecker struct{ found []supply.Entry }

func (f fakeChecker) CheckNow(context.Context) ([]supply.Entry, error) { return f.found, nil }

func sample() supply.Snapshot {
	d := supply.Day(today)
	return supply.Snapshot{Entries: []supply.Entry{
		{Date: d, Coefficient: 5, WarehouseID: 507, WarehouseName: "Коледино", BoxTypeName: "Короба"},
		{Date: d, Coefficient: 0, WarehouseID: 117986, WarehouseName: "СЦ Казань", BoxTypeName: "Монопаллеты"},
	}}
}

type harness struct {
	r     *Router
	ad    *fakeAdapter
	db    *storage.DB
	cache *supplycache.Cache
}

func newHarness(t *testing.T, snap supply.Snapshot, found []supply.Entry, owners ...int64) *harness {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ad := &fakeAdapter{}
	cache := supplycache.New(db.KV(), staticSource{snap: snap}, logx.Nop(), nil)
	r := New(Deps{
		Adapter:    ad,
		Supply:     cache,
		Checker:    fakeChecker{found: found},
		KV:         db.KV(),
		Warehouses: db.Warehouses(),
		BoxTypes:   db.BoxTypes(),
		Dates:      db.Dates(),
		Bus:        eventbus.New(),
		Owners:     owners,
		Now:        func() time.Time { return today },
	}, logx.Nop())
	return &harness{r: r, ad: ad, db: db, cache: cache}
}

func (h *harness) say(t *testing.T, text string) bool {
	t.Helper()
	job := h.r.prepare(context.Background(), transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ID: 1, ChatID: chatID, FromID: userID, Text: text},
	})
	if job == nil {
		return false
	}
	job()
	return true
}

func (h *harness) click(t *testing.T, data string) {
	t.Helper()
	job := h.r.prepare(context.Background(), transport.Update{
		Kind:     transport.UpdateCallback,
		Callback: &transport.Callback{ID: "cb", ChatID: chatID, FromID: userID, MessageID: 77, Data: data},
	})
	if job == nil {
		t.Fatalf("callback %q ignored", data)
	}
	job()
}

func replyRows(t *testing.T, opt *transport.SendOptions) [][]string {
	t.Helper()
	if opt == nil {
		t.Fatalf("no send options")
	}
	rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("markup = %T", opt.ReplyMarkup)
	}
	var out [][]string
	for _, row := range rm.ReplyKeyboard {
		var r []string
		for _, b := range row {
			r = append(r, b.Text)
		}
		out = append(out, r)
	}
	for _, row := range rm.InlineKeyboard {
		var r []string
		for _, b := range row {
			r = append(r, b.Text+"|"+b.Data)
		}
		out = append(out, r)
	}
	return out
}

func TestStartShowsThreshold(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sample(), nil)
	if err := h.cache.SetThreshold(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	h.say(t, "/start@coef_bot")

	got := h.ad.last()
	if got.text != msgs.Start {
		t.Fatalf("text = %q", got.text)
	}
	rows := replyRows(t, got.opt)
	if len(rows) != 3 || rows[0][0] != btnWarehouses || rows[2][0] != coefButton(7) {
		t.Fatalf("rows = %v", rows)
	}
}

func TestCoefficientConversation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, sample(), nil)

	h.say(t, coefButton(0))
	if h.ad.last().text != msgs.EnterCoefficient {
		t.Fatalf("prompt = %q", h.ad.last().text)
	}
	h.say(t, " 12 ")
	if h.ad.last().text != msgs.CoefficientSuccess {
		t.Fatalf("success = %q", h.ad.last().text)
	}
	if v, ok, _ := h.cache.Threshold(ctx); !ok || v != 12 {
		t.Fatalf("threshold = %d %v", v, ok)
	}
	if rows := replyRows(t, h.ad.last().opt); rows[2][0] != coefButton(12) {
		t.Fatalf("menu not refreshed: %v", rows)
	}

	h.say(t, coefButton(12))
	h.say(t, "twelve")
	if h.ad.last().text != msgs.CoefficientFailure {
		t.Fatalf("failure = %q", h.ad.last().text)
	}
	if v, _, _ := h.cache.Threshold(ctx); v != 12 {
		t.Fatalf("threshold changed to %d", v)
	}
	if h.say(t, "5") {
		t.Fatalf("plain text handled outside the conversation")
	}

	// A command abandons the conversation.
	h.say(t, coefButton(12))
	h.say(t, "/help")
	if h.say(t, "3") {
		t.Fatalf("conversation survived a command")
	}
}

func TestMenuReplacesPrevious(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, sample(), nil)

	h.say(t, btnWarehouses)
	first := h.ad.last()
	if first.text != msgs.WarehouseMenu {
		t.Fatalf("menu text = %q", first.text)
	}
	rows := replyRows(t, first.opt)
	// Sorted ignoring the СЦ prefix: Казань before Коледино.
	if !strings.Contains(rows[0][0], "СЦ Казань|wh:t:117986:0") || !strings.Contains(rows[0][1], "Коледино|wh:t:507:0") {
		t.Fatalf("rows = %v", rows)
	}

	h.say(t, btnWarehouses)
	second := h.ad.last()

	h.ad.mu.Lock()
	deleted := append([]transport.MessageRef(nil), h.ad.deleted...)
	loading := 0
	for _, m := range h.ad.sent {
		if m.text == msgs.Loading {
			loading++
		}
	}
	h.ad.mu.Unlock()

	if loading != 2 {
		t.Fatalf("loading notes = %d", loading)
	}
	var menuDeleted bool
	for _, ref := range deleted {
		if ref == first.ref {
			menuDeleted = true
		}
	}
	if !menuDeleted || len(deleted) != 3 {
		t.Fatalf("deleted = %v, first menu %v", deleted, first.ref)
	}

	var stored transport.MessageRef
	if found, err := h.db.KV().Get(ctx, MenuKey("warehouse"), &stored); err != nil || !found || stored != second.ref {
		t.Fatalf("stored = %v %v %v, want %v", stored, found, err, second.ref)
	}
}

func TestToggleCallbacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, sample(), nil)

	cases := []struct {
		data   string
		answer string
		has    func() bool
	}{
		{"wh:t:507:0", "Warehouse Коледино added to tracking list", func() bool { ok, _ := h.db.Warehouses().Has(ctx, 507); return ok }},
		{"bt:t:Короба", "Box type Короба added to tracking list", func() bool { ok, _ := h.db.BoxTypes().Has(ctx, "Короба"); return ok }},
		{"bt:i:1", "Box type Монопаллеты added to tracking list", func() bool { ok, _ := h.db.BoxTypes().Has(ctx, "Монопаллеты"); return ok }},
		{"dt:t:2024-09-06", "Date 06.09 added to tracking list", func() bool { ok, _ := h.db.Dates().Has(ctx, supply.Day(today).AddDate(0, 0, 1)); return ok }},
	}
	for _, tc := range cases {
		h.click(t, tc.data)
		if got := h.ad.lastAnswer(); got != tc.answer {
			t.Fatalf("%s: answer = %q", tc.data, got)
		}
		if !tc.has() {
			t.Fatalf("%s: not tracked", tc.data)
		}
		if e := h.ad.lastEdit(); e.ref.MessageID != 77 || !strings.HasPrefix(e.text, tc.answer) {
			t.Fatalf("%s: edit = %+v", tc.data, e)
		}
	}

	h.click(t, "wh:t:507:0")
	if got := h.ad.lastAnswer(); got != "Warehouse Коледино removed from tracking list" {
		t.Fatalf("second toggle answer = %q", got)
	}
	if ok, _ := h.db.Warehouses().Has(ctx, 507); ok {
		t.Fatalf("warehouse still tracked")
	}

	h.click(t, "dt:t:someday")
	if got := h.ad.lastAnswer(); got != msgs.Failed {
		t.Fatalf("bad date answer = %q", got)
	}
}

func TestDateMenuMarksTracked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sample(), nil)
	if err := h.db.Dates().Add(context.Background(), supply.Day(today).AddDate(0, 0, 2)); err != nil {
		t.Fatal(err)
	}
	h.say(t, btnDates)

	rows := replyRows(t, h.ad.last().opt)
	var buttons []string
	for _, r := range rows {
		buttons = append(buttons, r...)
	}
	if len(buttons) != menuDays || len(rows[0]) != 3 {
		t.Fatalf("buttons = %v", buttons)
	}
	if buttons[0] != "05.09|dt:t:2024-09-05" || buttons[2] != "✅ 07.09|dt:t:2024-09-07" || buttons[14] != "19.09|dt:t:2024-09-19" {
		t.Fatalf("buttons = %v", buttons)
	}
}

func TestSupplyMatchesAndClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	snap := sample()
	h := newHarness(t, snap, snap.Entries[:1])

	h.say(t, "/supply")
	if got := h.ad.last().text; got != msgs.SupplyHeader+"\n"+supply.Lines(snap.Entries) {
		t.Fatalf("/supply = %q", got)
	}

	h.say(t, "/matches")
	if got := h.ad.last().text; got != msgs.NoThreshold {
		t.Fatalf("/matches without threshold = %q", got)
	}
	_ = h.cache.SetThreshold(ctx, 6)
	h.say(t, "/matches")
	if got := h.ad.last().text; got != msgs.MatchesHeader+"\nКоледино Короба 5 2024-09-05" {
		t.Fatalf("/matches = %q", got)
	}

	_ = h.db.Warehouses().Add(ctx, supply.Warehouse{ID: 507, Name: "Коледино"})
	h.say(t, "/clearall")
	if got := h.ad.last().text; got != msgs.Cleared {
		t.Fatalf("/clearall = %q", got)
	}
	if all, _ := h.db.Warehouses().All(ctx); len(all) != 0 {
		t.Fatalf("warehouses left: %v", all)
	}
	if _, found, _ := h.cache.Peek(ctx); found {
		t.Fatalf("snapshot not cleared")
	}
	if v, ok, _ := h.cache.Threshold(ctx); !ok || v != 6 {
		t.Fatalf("threshold lost: %d %v", v, ok)
	}
}

func TestEmptySnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, supply.Snapshot{}, nil)
	h.say(t, "/supply")
	if got := h.ad.last().text; got != msgs.NoSupply {
		t.Fatalf("/supply = %q", got)
	}
	h.say(t, btnBoxTypes)
	if got := h.ad.last().text; got != msgs.EmptyMenu {
		t.Fatalf("box type menu = %q", got)
	}
}

func TestOwnersOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sample(), nil, 1)
	h.say(t, "/start")
	if got := h.ad.last().text; got != msgs.Unauthorized {
		t.Fatalf("text = %q", got)
	}
	h.click(t, "wh:t:507:0")
	if got := h.ad.lastAnswer(); got != msgs.Unauthorized {
		t.Fatalf("answer = %q", got)
	}

	h.r.SetOwners([]int64{userID})
	h.say(t, "/help")
	if got := h.ad.last().text; got != msgs.Help {
		t.Fatalf("after SetOwners = %q", got)
	}
}

func TestUnknownInputIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sample(), nil)
	for _, text := range []string{"/nope", "hello", "   "} {
		if h.say(t, text) {
			t.Fatalf("%q was handled", text)
		}
	}
}

func TestDispatchLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, sample(), nil)
	updates := make(chan transport.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.r.DispatchLoop(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: chatID, FromID: userID, Text: "/help"}}

	deadline := time.Now().Add(2 * time.Second)
	for h.ad.last().text != msgs.Help {
		if time.Now().After(deadline) {
			t.Fatalf("help not sent")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("DispatchLoop() = %v", err)
	}
}

func TestLoadMessagesStrict(t *testing.T) {
	t.Parallel()

	if _, err := loadMessages([]byte("start: hi\nstrat: typo\n")); err == nil {
		t.Fatalf("unknown key accepted")
	}
	if msgs.Loading != "⏳ Loading..." || msgs.NoSupply == "" {
		t.Fatalf("embedded messages not loaded")
	}
}
