// Package tgui provides small Telegram UI helpers: inline and reply
// keyboard builders, "scope:action:payload" callback data, HTML escaping
// and slice pagination for list menus.
package tgui
