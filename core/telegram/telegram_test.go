package telegram

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/dispatch"
	"github.com/m3rciful/betbot/core/wager"

	tele "gopkg.in/telebot.v4"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return b
}

type recordingDispatcher struct {
	events []dispatch.Event
	result dispatch.Result
}

func (d *recordingDispatcher) Dispatch(_ context.Context, events []dispatch.Event) dispatch.Result {
	d.events = append(d.events, events...)
	return d.result
}

func TestEventFromText(t *testing.T) {
	c := offlineBot(t).NewContext(tele.Update{
		ID: 1,
		Message: &tele.Message{
			Text:   "แทง",
			Sender: &tele.User{ID: 42},
			Chat:   &tele.Chat{ID: 42},
		},
	})

	ev, ok := EventFrom(c)
	require.True(t, ok)
	assert.Equal(t, dispatch.KindMessage, ev.Kind)
	assert.Equal(t, dispatch.MessageTypeText, ev.MessageType)
	assert.Equal(t, "แทง", ev.Text)
	assert.Equal(t, "42", ev.UserID)
	assert.Equal(t, "telegram", ev.Platform)
	assert.NotNil(t, ev.Responder)
}

func TestEventFromCallback(t *testing.T) {
	b := offlineBot(t)

	registered := b.NewContext(tele.Update{
		Callback: &tele.Callback{Sender: &tele.User{ID: 7}, Unique: CallbackUnique, Data: "stock=SET"},
	})
	ev, ok := EventFrom(registered)
	require.True(t, ok)
	assert.Equal(t, dispatch.KindPostback, ev.Kind)
	assert.Equal(t, "stock=SET", ev.Data)
	assert.Equal(t, "7", ev.UserID)

	raw := b.NewContext(tele.Update{
		Callback: &tele.Callback{Sender: &tele.User{ID: 7}, Data: "\fbet|confirm=bet"},
	})
	ev, ok = EventFrom(raw)
	require.True(t, ok)
	assert.Equal(t, wager.ConfirmPayload, ev.Data)
}

func TestEventFromIgnoresOtherUpdates(t *testing.T) {
	b := offlineBot(t)

	_, ok := EventFrom(b.NewContext(tele.Update{Message: &tele.Message{Text: "x"}}))
	assert.False(t, ok, "no sender")

	_, ok = EventFrom(b.NewContext(tele.Update{Message: &tele.Message{
		Sender: &tele.User{ID: 1},
		Photo:  &tele.Photo{},
	}}))
	assert.False(t, ok, "non-text message")
}

func TestHandlerDispatchesText(t *testing.T) {
	c := offlineBot(t).NewContext(tele.Update{
		ID:      5,
		Message: &tele.Message{Text: "123", Sender: &tele.User{ID: 9}, Chat: &tele.Chat{ID: 9}},
	})

	d := &recordingDispatcher{}
	require.NoError(t, Handler(d)(c))
	require.Len(t, d.events, 1)
	assert.Equal(t, "123", d.events[0].Text)

	d.result = dispatch.Result{Failed: 1}
	assert.Error(t, Handler(d)(c))
}

func TestRenderStockChoices(t *testing.T) {
	text, markup := Render(&wager.Reply{
		Kind:   wager.ReplyStockChoices,
		Text:   wager.TextChooseStock,
		Stocks: []string{"SET", "NIKKEI", "HANGSENG"},
	})
	assert.Equal(t, wager.TextChooseStock, text)
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)

	btn := markup.InlineKeyboard[0][1]
	assert.Equal(t, "NIKKEI", btn.Text)
	assert.Equal(t, CallbackUnique, btn.Unique)
	assert.Equal(t, "stock=NIKKEI", btn.Data)
}

func TestRenderConfirmation(t *testing.T) {
	text, markup := Render(&wager.Reply{
		Kind:    wager.ReplyConfirmation,
		Summary: wager.Summary{Stock: "SET", Number: "007", Amount: 100},
	})
	assert.Contains(t, text, wager.TextConfirmTitle)
	assert.Contains(t, text, "เลข: 007")
	assert.Contains(t, text, "เงิน: 100 บาท")
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, wager.TextConfirmButton, markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, wager.ConfirmPayload, markup.InlineKeyboard[0][0].Data)
}

func TestRenderText(t *testing.T) {
	text, markup := Render(&wager.Reply{Kind: wager.ReplyText, Text: wager.TextEnterAmount})
	assert.Equal(t, wager.TextEnterAmount, text)
	assert.Nil(t, markup)

	text, markup = Render(nil)
	assert.Empty(t, text)
	assert.Nil(t, markup)
}

func TestNewPoller(t *testing.T) {
	p := newPoller(
		coreconfig.TelegramConfig{RunMode: coreconfig.RunModeWebhook},
		coreconfig.WebhookConfig{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com/tg"},
	)
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "bot.example.com", publicHost(wh.Endpoint.PublicURL))

	lp, ok := newPoller(coreconfig.TelegramConfig{RunMode: coreconfig.RunModeLongpoll}, coreconfig.WebhookConfig{}).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, lp.Timeout)

	lp = newPoller(coreconfig.TelegramConfig{LongPollTimeoutSeconds: 25}, coreconfig.WebhookConfig{}).(*tele.LongPoller)
	assert.Equal(t, 25*time.Second, lp.Timeout)
}

type flakyTransport struct {
	calls int
	fails int
}

func (f *flakyTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, io.ErrUnexpectedEOF
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestRetryingTransport(t *testing.T) {
	next := &flakyTransport{fails: 2}
	rt := &retryingTransport{next: next, retries: 3, backoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/getMe", strings.NewReader("a=1"))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, next.calls)

	next = &flakyTransport{fails: 10}
	rt.next = next
	req, err = http.NewRequest(http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 4, next.calls)
}
