package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"coefbot/pkg/tgui"
)

const (
	alertMaxLen = 3500
	alertValLen = 600
)

// renderAlert turns one zerolog JSON line into a compact HTML chat message:
//
//	<b>[WARN] refresh failed</b>
//	- comp=<code>poller</code>
//	- err=<code>...</code>
func renderAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return tgui.Esc(clip(strings.TrimSpace(string(p)), alertMaxLen)).String()
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	head := msg
	if lvl != "" {
		head = "[" + strings.ToUpper(lvl) + "] " + msg
	}
	lines := []tgui.H{tgui.B(clip(head, alertValLen))}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, tgui.Esc("- "+k+"=")+tgui.Code(clip(fmt.Sprint(m[k]), alertValLen)))
	}
	// Drop whole fields rather than cut through a tag.
	out := tgui.JoinH("\n", lines...)
	for len(out) > alertMaxLen && len(lines) > 1 {
		lines = lines[:len(lines)-1]
		out = tgui.JoinH("\n", lines...)
	}
	return out.String()
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
