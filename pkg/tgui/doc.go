// Package tgui holds small helpers for Telegram chat output:
// HTML escaping for ParseMode="HTML", callback data "group:action:payload"
// within Telegram's size limit, and rune-safe truncation.
package tgui
