package telegram

import (
	"strings"

	"github.com/m3rciful/betbot/core/wager"

	tele "gopkg.in/telebot.v4"
)

// CallbackUnique is the inline button namespace for wager postbacks.
const CallbackUnique = "bet"

const stocksPerRow = 2

// Render converts a wager reply into message text and an optional inline keyboard.
func Render(r *wager.Reply) (string, *tele.ReplyMarkup) {
	if r == nil {
		return "", nil
	}
	switch r.Kind {
	case wager.ReplyStockChoices:
		markup := &tele.ReplyMarkup{}
		btns := make([]tele.Btn, 0, len(r.Stocks))
		for _, s := range r.Stocks {
			btns = append(btns, markup.Data(s, CallbackUnique, wager.StockPayload(s)))
		}
		markup.Inline(markup.Split(stocksPerRow, btns)...)
		return r.Text, markup
	case wager.ReplyConfirmation:
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.Data(wager.TextConfirmButton, CallbackUnique, wager.ConfirmPayload)))
		return wager.TextConfirmTitle + "\n" + strings.Join(r.Summary.Lines(), "\n"), markup
	default:
		return r.Text, nil
	}
}
