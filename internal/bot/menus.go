package bot

import (
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"coefbot/internal/supply"
	"coefbot/pkg/tgui"
)

func mainMenu(threshold int) *tele.ReplyMarkup {
	return tgui.Reply(
		[]string{btnWarehouses, btnBoxTypes},
		[]string{btnDates},
		[]string{coefButton(threshold)},
	)
}

func warehouseMenu(all []supply.Warehouse, tracked map[int64]bool, page int) *tele.ReplyMarkup {
	p := tgui.Paginate(all, page, whPageSize)
	btns := make([]tele.Btn, 0, len(p.Items))
	for _, wh := range p.Items {
		data := tgui.Data(scopeWarehouse, actToggle, strconv.FormatInt(wh.ID, 10)+":"+itoa(p.Index))
		btns = append(btns, tgui.Btn(tgui.Mark(tgui.TruncRunes(wh.Name, 40), tracked[wh.ID]), data))
	}
	kb := tgui.NewInline().Grid(2, btns)
	if p.Pages() > 1 {
		nav := make([]tele.Btn, 0, 3)
		if p.HasPrev {
			nav = append(nav, tgui.Btn(btnPrev, tgui.Data(scopeWarehouse, actPage, itoa(p.Index-1))))
		}
		nav = append(nav, tgui.Btn(p.Label(), tgui.Data(scopeWarehouse, actNoop, "")))
		if p.HasNext {
			nav = append(nav, tgui.Btn(btnNext, tgui.Data(scopeWarehouse, actPage, itoa(p.Index+1))))
		}
		kb.Row(nav...)
	}
	return kb.Markup()
}

// boxTypeMenu puts the name in the callback data when it fits and falls back
// to the position in names otherwise.
func boxTypeMenu(names []string, tracked map[string]bool) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(names))
	for i, name := range names {
		data, err := tgui.CheckedData(scopeBoxType, actToggle, name)
		if err != nil {
			data = tgui.Data(scopeBoxType, actIndex, itoa(i))
		}
		btns = append(btns, tgui.Btn(tgui.Mark(name, tracked[name]), data))
	}
	return tgui.Grid2(btns)
}

func dateMenu(days []time.Time, tracked map[string]bool) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(days))
	for _, d := range days {
		key := supply.FormatDay(d)
		btns = append(btns, tgui.Btn(tgui.Mark(d.Format(dateDisplay), tracked[key]), tgui.Data(scopeDate, actToggle, key)))
	}
	return tgui.NewInline().Grid(3, btns).Markup()
}
