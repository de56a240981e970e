package wager

import "fmt"

// User-facing texts shared by every platform renderer.
const (
	TextChooseStock   = "🎯 เลือกหุ้น"
	TextEnterNumber   = "✏️ ใส่เลข 3 ตัว"
	TextEnterAmount   = "💰 ใส่จำนวนเงิน"
	TextOrderAccepted = "✅ รับโพยเรียบร้อย"
	TextOrderFailed   = "⚠️ บันทึกโพยไม่สำเร็จ กรุณากดยืนยันอีกครั้ง"
	TextConfirmTitle  = "🧾 สรุปโพย"
	TextConfirmButton = "ยืนยัน"

	AltChooseStock = "เลือกหุ้น"
	AltConfirm     = "ยืนยันโพย"
)

// Postback payloads understood by the machine.
const (
	stockKey       = "stock"
	ConfirmPayload = "confirm=bet"
)

// StockPayload returns the postback payload that selects stock.
func StockPayload(stock string) string {
	return stockKey + "=" + stock
}

// ReplyKind selects how a Reply is rendered.
type ReplyKind int

const (
	// ReplyText is a plain text message.
	ReplyText ReplyKind = iota
	// ReplyStockChoices presents one button per configured stock.
	ReplyStockChoices
	// ReplyConfirmation presents the order summary with a confirm button.
	ReplyConfirmation
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyText:
		return "text"
	case ReplyStockChoices:
		return "stock_choices"
	case ReplyConfirmation:
		return "confirmation"
	}
	return "unknown"
}

// Summary is the order content shown on the confirmation card.
type Summary struct {
	Stock  string
	Number string
	Amount int64
}

// Lines returns the card body under the title.
func (s Summary) Lines() []string {
	return []string{
		fmt.Sprintf("หุ้น: %s", s.Stock),
		fmt.Sprintf("เลข: %s", s.Number),
		fmt.Sprintf("เงิน: %d บาท", s.Amount),
	}
}

// Reply is a platform-neutral outbound message.
type Reply struct {
	Kind    ReplyKind
	Text    string
	Stocks  []string
	Summary Summary
}

func textReply(s string) *Reply {
	return &Reply{Kind: ReplyText, Text: s}
}
