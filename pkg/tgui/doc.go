// Package tgui holds small text helpers for Telegram messages: rune-safe
// truncation and HTML parse-mode escaping.
package tgui
