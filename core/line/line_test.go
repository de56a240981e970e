package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/betbot/core/conversation"
	"github.com/m3rciful/betbot/core/dispatch"
	"github.com/m3rciful/betbot/core/store"
	"github.com/m3rciful/betbot/core/wager"
)

const testSecret = "channel-secret"

type sent struct {
	token string
	msgs  []messaging_api.MessageInterface
}

type fakeClient struct {
	mu      sync.Mutex
	replies []sent
	pushes  []sent
}

func (f *fakeClient) Reply(_ context.Context, token string, msgs []messaging_api.MessageInterface) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sent{token, msgs})
	return nil
}

func (f *fakeClient) Push(_ context.Context, to string, msgs []messaging_api.MessageInterface) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, sent{to, msgs})
	return nil
}

type memOrders struct {
	mu     sync.Mutex
	orders []store.Order
}

func (m *memOrders) AppendOrder(_ context.Context, o store.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o)
	return nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func textEvent(token, user, text string) string {
	return fmt.Sprintf(`{"type":"message","mode":"active","timestamp":1714559445000,"webhookEventId":"%s","deliveryContext":{"isRedelivery":false},"replyToken":%q,"source":{"type":"user","userId":%q},"message":{"type":"text","id":"m-%s","quoteToken":"q","text":%q}}`,
		token, token, user, token, text)
}

func postbackEvent(token, user, data string) string {
	return fmt.Sprintf(`{"type":"postback","mode":"active","timestamp":1714559445000,"webhookEventId":"%s","deliveryContext":{"isRedelivery":false},"replyToken":%q,"source":{"type":"user","userId":%q},"postback":{"data":%q}}`,
		token, token, user, data)
}

func callback(events ...string) []byte {
	var b bytes.Buffer
	b.WriteString(`{"destination":"Ubot","events":[`)
	for i, e := range events {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e)
	}
	b.WriteString(`]}`)
	return b.Bytes()
}

func post(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Line-Signature", signature)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newHandler(client *fakeClient, orders *memOrders, notifier wager.Notifier) http.Handler {
	opts := wager.Options{
		EntryCommand: "แทงหวย",
		Stocks:       []string{"SET"},
		Now:          func() time.Time { return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC) },
		Notifier:     notifier,
	}
	m := wager.New(orders, conversation.NewMemoryTracker(10, time.Minute), opts)
	return NewWebhookHandler(testSecret, client, dispatch.New(m, time.Second))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	client := &fakeClient{}
	h := newHandler(client, &memOrders{}, nil)
	body := callback(textEvent("r1", "U1", "แทงหวย"))

	rec := post(t, h, body, "bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, client.replies)
}

func TestWebhookConversation(t *testing.T) {
	client := &fakeClient{}
	orders := &memOrders{}
	h := newHandler(client, orders, NewAdminNotifier(client, "Uadmin"))

	steps := []string{
		textEvent("r1", "U1", "แทงหวย"),
		postbackEvent("r2", "U1", "stock=SET"),
		textEvent("r3", "U1", "123"),
		textEvent("r4", "U1", "50"),
		postbackEvent("r5", "U1", "confirm=bet"),
	}
	for _, step := range steps {
		body := callback(step)
		rec := post(t, h, body, sign(body))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Len(t, client.replies, 5)
	for i, r := range client.replies {
		assert.Equal(t, fmt.Sprintf("r%d", i+1), r.token)
	}

	stock, ok := client.replies[0].msgs[0].(*messaging_api.FlexMessage)
	require.True(t, ok)
	assert.Equal(t, wager.AltChooseStock, stock.AltText)

	assert.Equal(t, messaging_api.TextMessage{Text: wager.TextEnterNumber}, client.replies[1].msgs[0])
	assert.Equal(t, messaging_api.TextMessage{Text: wager.TextEnterAmount}, client.replies[2].msgs[0])

	confirm, ok := client.replies[3].msgs[0].(*messaging_api.FlexMessage)
	require.True(t, ok)
	assert.Equal(t, wager.AltConfirm, confirm.AltText)

	assert.Equal(t, messaging_api.TextMessage{Text: wager.TextOrderAccepted}, client.replies[4].msgs[0])

	require.Len(t, orders.orders, 1)
	o := orders.orders[0]
	assert.Equal(t, "123", o.Number)
	assert.Equal(t, int64(50), o.Amount)
	assert.Equal(t, "line", o.Platform)
	assert.Equal(t, "2024-05-01 10:30", o.CreatedAt)

	require.Len(t, client.pushes, 1)
	assert.Equal(t, "Uadmin", client.pushes[0].token)
}

func TestWebhookBatchKeepsOrder(t *testing.T) {
	client := &fakeClient{}
	h := newHandler(client, &memOrders{}, nil)
	body := callback(
		textEvent("r1", "U1", "แทงหวย"),
		`{"type":"follow","mode":"active","timestamp":1,"webhookEventId":"f","deliveryContext":{"isRedelivery":false},"replyToken":"rf","source":{"type":"user","userId":"U2"}}`,
		postbackEvent("r2", "U1", "stock=SET"),
	)
	rec := post(t, h, body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, client.replies, 2, "follow event is dropped")
	assert.Equal(t, "r1", client.replies[0].token)
	assert.Equal(t, "r2", client.replies[1].token)
}

func TestMessagesRendering(t *testing.T) {
	msgs := Messages(&wager.Reply{Kind: wager.ReplyStockChoices, Text: wager.TextChooseStock, Stocks: []string{"SET", "DOW"}})
	require.Len(t, msgs, 1)
	flex := msgs[0].(*messaging_api.FlexMessage)
	body := flex.Contents.(*messaging_api.FlexBubble).Body
	require.Len(t, body.Contents, 3)
	title := body.Contents[0].(*messaging_api.FlexText)
	assert.Equal(t, wager.TextChooseStock, title.Text)
	btn := body.Contents[2].(*messaging_api.FlexButton)
	assert.Equal(t, &messaging_api.PostbackAction{Label: "DOW", Data: "stock=DOW"}, btn.Action)

	msgs = Messages(&wager.Reply{Kind: wager.ReplyConfirmation, Summary: wager.Summary{Stock: "SET", Number: "007", Amount: 20}})
	body = msgs[0].(*messaging_api.FlexMessage).Contents.(*messaging_api.FlexBubble).Body
	require.Len(t, body.Contents, 5)
	assert.Equal(t, "เลข: 007", body.Contents[2].(*messaging_api.FlexText).Text)
	confirm := body.Contents[4].(*messaging_api.FlexButton)
	assert.Equal(t, messaging_api.FlexButtonSTYLE_PRIMARY, confirm.Style)
	assert.Equal(t, &messaging_api.PostbackAction{Label: wager.TextConfirmButton, Data: wager.ConfirmPayload}, confirm.Action)

	assert.Nil(t, Messages(nil))
}

func TestAdminNotifierDisabled(t *testing.T) {
	assert.Nil(t, NewAdminNotifier(&fakeClient{}, " "))
}

func TestOrderText(t *testing.T) {
	text := OrderText(store.Order{OrderID: "9", UserID: "U1", Stock: "SET", Number: "007", Amount: 5, CreatedAt: "2024-05-01 10:30"})
	assert.Equal(t, "📥 โพยใหม่ #9\nหุ้น: SET\nเลข: 007\nเงิน: 5 บาท\nผู้แทง: U1\n2024-05-01 10:30", text)
}
