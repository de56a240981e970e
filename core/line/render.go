package line

import (
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/m3rciful/betbot/core/wager"
)

// Messages renders r as LINE messages: plain text or a Flex bubble with postback buttons.
func Messages(r *wager.Reply) []messaging_api.MessageInterface {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case wager.ReplyStockChoices:
		return []messaging_api.MessageInterface{stockCard(r)}
	case wager.ReplyConfirmation:
		return []messaging_api.MessageInterface{confirmCard(r.Summary)}
	default:
		return []messaging_api.MessageInterface{messaging_api.TextMessage{Text: r.Text}}
	}
}

func stockCard(r *wager.Reply) *messaging_api.FlexMessage {
	title := r.Text
	if title == "" {
		title = wager.TextChooseStock
	}
	contents := []messaging_api.FlexComponentInterface{
		&messaging_api.FlexText{Text: title, Weight: messaging_api.FlexTextWEIGHT_BOLD},
	}
	for _, stock := range r.Stocks {
		contents = append(contents, &messaging_api.FlexButton{
			Action: &messaging_api.PostbackAction{
				Label: stock,
				Data:  wager.StockPayload(stock),
			},
		})
	}
	return bubble(wager.AltChooseStock, contents)
}

func confirmCard(s wager.Summary) *messaging_api.FlexMessage {
	contents := []messaging_api.FlexComponentInterface{
		&messaging_api.FlexText{Text: wager.TextConfirmTitle, Weight: messaging_api.FlexTextWEIGHT_BOLD},
	}
	for _, line := range s.Lines() {
		contents = append(contents, &messaging_api.FlexText{Text: line})
	}
	contents = append(contents, &messaging_api.FlexButton{
		Style: messaging_api.FlexButtonSTYLE_PRIMARY,
		Action: &messaging_api.PostbackAction{
			Label: wager.TextConfirmButton,
			Data:  wager.ConfirmPayload,
		},
	})
	return bubble(wager.AltConfirm, contents)
}

func bubble(alt string, contents []messaging_api.FlexComponentInterface) *messaging_api.FlexMessage {
	return &messaging_api.FlexMessage{
		AltText: alt,
		Contents: &messaging_api.FlexBubble{
			Body: &messaging_api.FlexBox{
				Layout:   messaging_api.FlexBoxLAYOUT_VERTICAL,
				Contents: contents,
			},
		},
	}
}
