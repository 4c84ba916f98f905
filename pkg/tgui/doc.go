// Package tgui holds small Telegram UI helpers: keyboard builders, callback
// data in the "ns:action:payload" shape, an HTML-safe message builder and a
// TTL session map for multi-step dialogs.
package tgui
