// Package callbacks decodes inline button callback data.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Data is a decoded callback: the button namespace and what it carries.
type Data struct {
	Unique  string
	Payload string
}

// Decode splits telebot's "\f<unique>|<payload>" wire form. A value without
// the separator is all namespace.
func Decode(raw string) Data {
	raw = strings.TrimPrefix(raw, "\f")
	raw = strings.TrimPrefix(raw, `\f`)
	unique, payload, _ := strings.Cut(raw, "|")
	return Data{Unique: strings.TrimSpace(unique), Payload: payload}
}

// From returns the callback carried by c. When telebot already routed the
// button by its unique, cb.Data holds only the payload.
func From(c tele.Context) (Data, bool) {
	cb := c.Callback()
	if cb == nil {
		return Data{}, false
	}
	if cb.Unique != "" {
		return Data{Unique: cb.Unique, Payload: cb.Data}, true
	}
	return Decode(cb.Data), true
}
