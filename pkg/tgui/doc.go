// Package tgui renders bot text for Telegram's HTML parse mode: escaped
// fragments, line-based reports, inline keyboards and callback data.
package tgui
