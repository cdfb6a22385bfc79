package bot

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"strconv"

	yaml "go.yaml.in/yaml/v3"
)

//go:embed messages.yaml
var messagesYAML []byte

// Messages holds every user-facing reply. It is loaded from messages.yaml.
type Messages struct {
	Start              string `yaml:"start"`
	Help               string `yaml:"help"`
	EnterCoefficient   string `yaml:"enter_coefficient"`
	CoefficientSuccess string `yaml:"coefficient_success"`
	CoefficientFailure string `yaml:"coefficient_failure"`
	Loading            string `yaml:"loading"`
	NoSupply           string `yaml:"no_supply"`
	SupplyHeader       string `yaml:"supply_header"`
	NoThreshold        string `yaml:"no_threshold"`
	NoMatches          string `yaml:"no_matches"`
	MatchesHeader      string `yaml:"matches_header"`
	Cleared            string `yaml:"cleared"`
	WarehouseMenu      string `yaml:"warehouse_menu"`
	BoxTypeMenu        string `yaml:"box_type_menu"`
	DateMenu           string `yaml:"date_menu"`
	EmptyMenu          string `yaml:"empty_menu"`
	Unauthorized       string `yaml:"unauthorized"`
	Busy               string `yaml:"busy"`
	Failed             string `yaml:"failed"`
	WarehouseToggled   string `yaml:"warehouse_toggled"`
	BoxTypeToggled     string `yaml:"box_type_toggled"`
	DateToggled        string `yaml:"date_toggled"`
	MoreWarehouses     string `yaml:"select_more_warehouses"`
	MoreBoxTypes       string `yaml:"select_more_box_types"`
	MoreDates          string `yaml:"select_more_dates"`
	AddedTo            string `yaml:"added_to"`
	RemovedFrom        string `yaml:"removed_from"`
}

var msgs = mustLoadMessages(messagesYAML)

func loadMessages(data []byte) (Messages, error) {
	var m Messages
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Messages{}, fmt.Errorf("messages: %w", err)
	}
	return m, nil
}

func mustLoadMessages(data []byte) Messages {
	m, err := loadMessages(data)
	if err != nil {
		panic(err)
	}
	return m
}

// toggled renders "<Kind> <name> added to tracking list".
func (m Messages) toggled(format, name string, tracked bool) string {
	action := m.RemovedFrom
	if tracked {
		action = m.AddedTo
	}
	return fmt.Sprintf(format, name, action)
}

// Reply keyboard labels. Incoming text is matched against them exactly.
const (
	btnWarehouses = "🏫 Добавить склад для отслеживания"
	btnBoxTypes   = "📦 Добавить тип поставки"
	btnDates      = "🗓️ Добавить даты"
	btnCoefFormat = "💵 Установить коэффициент (сейчас %d)"
)

var btnCoefPattern = regexp.MustCompile(`^💵 Установить коэффициент \(сейчас -?\d+\)$`)

func coefButton(threshold int) string { return fmt.Sprintf(btnCoefFormat, threshold) }

// Inline menu marks and navigation.
const (
	btnPrev     = "◀️"
	btnNext     = "▶️"
	dateDisplay = "02.01"
	menuDays    = 15
	whPageSize  = 20
)

// Callback scopes and actions, encoded as scope:action:payload.
const (
	scopeWarehouse = "wh"
	scopeBoxType   = "bt"
	scopeDate      = "dt"

	actToggle = "t"
	actIndex  = "i"
	actPage   = "p"
	actNoop   = "n"
)

func itoa(n int) string { return strconv.Itoa(n) }
