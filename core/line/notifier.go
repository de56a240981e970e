package line

import (
	"context"
	"fmt"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/m3rciful/betbot/core/store"
	"github.com/m3rciful/betbot/core/wager"
)

// AdminNotifier pushes a summary of every new order to the operator's LINE account.
type AdminNotifier struct {
	client  Client
	adminID string
}

// NewAdminNotifier returns nil when adminID is empty so callers can skip notifications.
func NewAdminNotifier(client Client, adminID string) *AdminNotifier {
	if strings.TrimSpace(adminID) == "" {
		return nil
	}
	return &AdminNotifier{client: client, adminID: adminID}
}

// NotifyOrder implements wager.Notifier.
func (n *AdminNotifier) NotifyOrder(ctx context.Context, o store.Order) error {
	return n.client.Push(ctx, n.adminID, []messaging_api.MessageInterface{
		messaging_api.TextMessage{Text: OrderText(o)},
	})
}

// OrderText formats o for the operator.
func OrderText(o store.Order) string {
	lines := append([]string{"📥 โพยใหม่ #" + o.OrderID},
		wager.Summary{Stock: o.Stock, Number: o.Number, Amount: o.Amount}.Lines()...)
	lines = append(lines, fmt.Sprintf("ผู้แทง: %s", o.UserID), o.CreatedAt)
	return strings.Join(lines, "\n")
}
