package tgui

import "errors"

const (
	// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
	MaxCallbackDataLen = 64
	// MaxMessageLen is the text limit of one message, counted here in runes.
	MaxMessageLen = 4096
)

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
