package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"coefbot/internal/eventbus"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	"coefbot/internal/transport"
	logx "coefbot/pkg/logx"
)

// supplyPreview is how many snapshot entries /supply shows.
const supplyPreview = 11

func markup(m any) *transport.SendOptions {
	return &transport.SendOptions{ReplyMarkup: m, DisablePreview: true}
}

func (r *Router) threshold(ctx context.Context) int {
	v, ok, err := r.d.Supply.Threshold(ctx)
	if err != nil || !ok {
		return 0
	}
	return v
}

func (r *Router) handleStart(ctx context.Context, req *Request) error {
	return req.Reply(ctx, msgs.Start, markup(mainMenu(r.threshold(ctx))))
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	return req.Reply(ctx, msgs.Help, nil)
}

func (r *Router) handleSupply(ctx context.Context, req *Request) error {
	snap := r.d.Supply.SupplyData(ctx)
	if snap.IsEmpty() {
		return req.Reply(ctx, msgs.NoSupply, nil)
	}
	head := snap.Entries[:min(supplyPreview, snap.Len())]
	return req.Reply(ctx, msgs.SupplyHeader+"\n"+supply.Lines(head), nil)
}

func (r *Router) handleMatches(ctx context.Context, req *Request) error {
	if _, ok, err := r.d.Supply.Threshold(ctx); err != nil {
		return err
	} else if !ok {
		return req.Reply(ctx, msgs.NoThreshold, nil)
	}
	found, err := r.d.Checker.CheckNow(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return req.Reply(ctx, msgs.NoMatches, nil)
	}
	return req.Reply(ctx, msgs.MatchesHeader+"\n"+supply.Lines(found), nil)
}

func (r *Router) handleClearAll(ctx context.Context, req *Request) error {
	err := errors.Join(
		r.d.Warehouses.Clear(ctx),
		r.d.BoxTypes.Clear(ctx),
		r.d.Dates.Clear(ctx),
		r.d.Supply.Clear(ctx),
	)
	if err != nil {
		return err
	}
	r.publishTracking(req, "all", "", false)
	return req.Reply(ctx, msgs.Cleared, nil)
}

func (r *Router) handleAskCoefficient(ctx context.Context, req *Request) error {
	r.setAwaiting(req.Chat.ChatID, req.FromID)
	return req.Reply(ctx, msgs.EnterCoefficient, nil)
}

// handleCoefficientInput ends the conversation whatever the outcome.
func (r *Router) handleCoefficientInput(ctx context.Context, req *Request) error {
	r.stopAwaiting(req.Chat.ChatID, req.FromID)
	v, err := strconv.Atoi(strings.TrimSpace(req.Text))
	if err != nil {
		return req.Reply(ctx, msgs.CoefficientFailure, nil)
	}
	if err := r.d.Supply.SetThreshold(ctx, v); err != nil {
		return err
	}
	req.Logger.Info("threshold set", logx.Int("threshold", v))
	return req.Reply(ctx, msgs.CoefficientSuccess, markup(mainMenu(v)))
}

// ---- warehouses ----

func (r *Router) trackedWarehouses(ctx context.Context) (map[int64]bool, error) {
	all, err := r.d.Warehouses.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(all))
	for _, wh := range all {
		out[wh.ID] = true
	}
	return out, nil
}

func (r *Router) handleWarehouseMenu(ctx context.Context, req *Request) error {
	whs := r.d.Supply.SupplyData(ctx).Warehouses()
	if len(whs) == 0 {
		return req.Reply(ctx, msgs.EmptyMenu, nil)
	}
	tracked, err := r.trackedWarehouses(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, msgs.WarehouseMenu, markup(warehouseMenu(whs, tracked, 0)))
}

func (r *Router) handleWarehousePage(ctx context.Context, req *Request) error {
	page, err := strconv.Atoi(req.Payload)
	if err != nil {
		return fmt.Errorf("bad page %q", req.Payload)
	}
	tracked, err := r.trackedWarehouses(ctx)
	if err != nil {
		return err
	}
	whs := r.d.Supply.SupplyData(ctx).Warehouses()
	return req.Edit(ctx, msgs.WarehouseMenu, markup(warehouseMenu(whs, tracked, page)))
}

// handleWarehouseToggle expects "<id>:<page>".
func (r *Router) handleWarehouseToggle(ctx context.Context, req *Request) error {
	rawID, rawPage, _ := strings.Cut(req.Payload, ":")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad warehouse id %q", rawID)
	}
	page, _ := strconv.Atoi(rawPage)

	snap := r.d.Supply.SupplyData(ctx)
	name, ok := snap.WarehouseName(id)
	if !ok {
		name = rawID
	}
	on, err := storage.Toggle(ctx, r.d.Warehouses, id, supply.Warehouse{ID: id, Name: name})
	if err != nil {
		return err
	}
	r.publishTracking(req, "warehouses", rawID, on)

	tracked, err := r.trackedWarehouses(ctx)
	if err != nil {
		return err
	}
	note := msgs.toggled(msgs.WarehouseToggled, name, on)
	req.Answer(note)
	return req.Edit(ctx, note+". "+msgs.MoreWarehouses, markup(warehouseMenu(snap.Warehouses(), tracked, page)))
}

// ---- box types ----

func (r *Router) trackedBoxTypes(ctx context.Context) (map[string]bool, error) {
	all, err := r.d.BoxTypes.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(all))
	for _, b := range all {
		out[b] = true
	}
	return out, nil
}

func (r *Router) handleBoxTypeMenu(ctx context.Context, req *Request) error {
	names := r.d.Supply.SupplyData(ctx).BoxTypes()
	if len(names) == 0 {
		return req.Reply(ctx, msgs.EmptyMenu, nil)
	}
	tracked, err := r.trackedBoxTypes(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, msgs.BoxTypeMenu, markup(boxTypeMenu(names, tracked)))
}

func (r *Router) handleBoxTypeToggle(ctx context.Context, req *Request) error {
	names := r.d.Supply.SupplyData(ctx).BoxTypes()
	name := req.Payload
	if req.Action == actIndex {
		i, err := strconv.Atoi(req.Payload)
		if err != nil || i < 0 || i >= len(names) {
			return fmt.Errorf("bad box type index %q", req.Payload)
		}
		name = names[i]
	}
	if name == "" {
		return errors.New("empty box type")
	}
	on, err := storage.Toggle(ctx, r.d.BoxTypes, name, name)
	if err != nil {
		return err
	}
	r.publishTracking(req, "box_types", name, on)

	tracked, err := r.trackedBoxTypes(ctx)
	if err != nil {
		return err
	}
	note := msgs.toggled(msgs.BoxTypeToggled, name, on)
	req.Answer(note)
	return req.Edit(ctx, note+". "+msgs.MoreBoxTypes, markup(boxTypeMenu(names, tracked)))
}

// ---- dates ----

func (r *Router) dateMenuFor(ctx context.Context) (any, error) {
	all, err := r.d.Dates.All(ctx)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]bool, len(all))
	for _, d := range all {
		tracked[supply.FormatDay(d)] = true
	}
	return dateMenu(supply.Upcoming(r.d.Now(), menuDays), tracked), nil
}

func (r *Router) handleDateMenu(ctx context.Context, req *Request) error {
	kb, err := r.dateMenuFor(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, msgs.DateMenu, markup(kb))
}

func (r *Router) handleDateToggle(ctx context.Context, req *Request) error {
	day, err := supply.ParseDay(req.Payload)
	if err != nil {
		return err
	}
	on, err := storage.Toggle(ctx, r.d.Dates, day, day)
	if err != nil {
		return err
	}
	r.publishTracking(req, "dates", supply.FormatDay(day), on)

	kb, err := r.dateMenuFor(ctx)
	if err != nil {
		return err
	}
	note := msgs.toggled(msgs.DateToggled, day.Format(dateDisplay), on)
	req.Answer(note)
	return req.Edit(ctx, note+". "+msgs.MoreDates, markup(kb))
}

func (r *Router) publishTracking(req *Request, registry, key string, on bool) {
	eventbus.Publish(r.d.Bus, eventbus.TrackingChanged, storage.TrackingEvent{
		Registry: registry,
		Key:      key,
		Tracked:  on,
		By:       strconv.FormatInt(req.FromID, 10),
	})
}
