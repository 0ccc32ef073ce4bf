package tgui

import (
	"slices"

	tele "gopkg.in/telebot.v4"
)

// Keyboard builds an inline keyboard row by row.
type Keyboard struct {
	rows [][]tele.Btn
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func (k *Keyboard) Row(btns ...tele.Btn) *Keyboard {
	if len(btns) > 0 {
		k.rows = append(k.rows, btns)
	}
	return k
}

func (k *Keyboard) Markup() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(k.rows))
	for _, r := range k.rows {
		rows = append(rows, rm.Row(r...))
	}
	rm.Inline(rows...)
	return rm
}

// Btn is a callback button; build data with Data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Grid lays buttons out cols per row.
func Grid(cols int, btns []tele.Btn) *tele.ReplyMarkup {
	k := NewKeyboard()
	for row := range slices.Chunk(btns, max(cols, 1)) {
		k.Row(row...)
	}
	return k.Markup()
}
