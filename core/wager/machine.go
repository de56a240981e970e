// Package wager implements the per-user conversation that turns chat events into pending orders.
package wager

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/betbot/core/conversation"
	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
	"github.com/m3rciful/betbot/core/store"
)

var (
	numberRe = regexp.MustCompile(`^[0-9]{3}$`)
	amountRe = regexp.MustCompile(`^[0-9]+$`)
)

const lockStripes = 64

// OrderAppender is the part of store.Store the machine writes to.
type OrderAppender interface {
	AppendOrder(ctx context.Context, o store.Order) error
}

// Publisher announces persisted orders to other services.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, o store.Order) error
}

// Notifier tells the operator about a persisted order.
type Notifier interface {
	NotifyOrder(ctx context.Context, o store.Order) error
}

// Options configures a Machine.
type Options struct {
	// EntryCommand starts or restarts a conversation. Compared after trimming, case-sensitive.
	EntryCommand string
	// Stocks lists the selectable stock options in display order.
	Stocks []string
	Now    func() time.Time
	// Publisher and Notifier are optional.
	Publisher Publisher
	Notifier  Notifier
	// AnnounceTimeout bounds publishing and notifying one order. Defaults to 5s.
	AnnounceTimeout time.Duration
}

const defaultAnnounceTimeout = 5 * time.Second

// Machine runs the wager conversation for all users.
type Machine struct {
	orders   OrderAppender
	tracker  conversation.Tracker
	entry    string
	stocks   []string
	now      func() time.Time
	ids      store.OrderIDs
	publish  Publisher
	notifier Notifier

	announceTimeout time.Duration
	pending         sync.WaitGroup

	locks [lockStripes]sync.Mutex
}

// New builds a Machine writing orders to orders and keeping conversations in tracker.
func New(orders OrderAppender, tracker conversation.Tracker, opts Options) *Machine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.AnnounceTimeout
	if timeout <= 0 {
		timeout = defaultAnnounceTimeout
	}
	return &Machine{
		announceTimeout: timeout,
		orders:          orders,
		tracker:         tracker,
		entry:           strings.TrimSpace(opts.EntryCommand),
		stocks:          slices.Clone(opts.Stocks),
		now:             now,
		publish:         opts.Publisher,
		notifier:        opts.Notifier,
	}
}

// Stocks returns the configured stock options.
func (m *Machine) Stocks() []string { return slices.Clone(m.stocks) }

func (m *Machine) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// HandleText processes a free-text message. A nil Reply means the message is ignored.
func (m *Machine) HandleText(ctx context.Context, platform, userID, text string) (*Reply, error) {
	if userID == "" {
		return nil, nil
	}
	text = strings.TrimSpace(text)
	defer m.lock(userID)()

	if m.entry != "" && text == m.entry {
		prev, ok, err := m.current(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			prev.Stage = conversation.StageIdle
		}
		if _, err := m.tracker.Begin(ctx, userID); err != nil {
			return nil, fmt.Errorf("wager: begin: %w", err)
		}
		m.logTransition(ctx, prev.Stage, conversation.StageAwaitingStock)
		return &Reply{Kind: ReplyStockChoices, Text: TextChooseStock, Stocks: m.Stocks()}, nil
	}

	b, ok, err := m.current(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	from := b.Stage

	switch {
	case b.Stage == conversation.StageAwaitingNumber && numberRe.MatchString(text):
		b.Number = text
		b.Stage = conversation.StageAwaitingAmount
		if err := m.tracker.Set(ctx, userID, b); err != nil {
			return nil, fmt.Errorf("wager: save number: %w", err)
		}
		m.logTransition(ctx, from, b.Stage)
		return textReply(TextEnterAmount), nil

	case (b.Stage == conversation.StageAwaitingAmount || b.Stage == conversation.StageAwaitingConfirmation) && amountRe.MatchString(text):
		amount, err := strconv.ParseInt(text, 10, 64)
		if err != nil || amount == 0 {
			m.logIgnored(ctx, b.Stage, "amount out of range")
			return nil, nil
		}
		b.Amount = amount
		b.Stage = conversation.StageAwaitingConfirmation
		if err := m.tracker.Set(ctx, userID, b); err != nil {
			return nil, fmt.Errorf("wager: save amount: %w", err)
		}
		m.logTransition(ctx, from, b.Stage)
		return &Reply{Kind: ReplyConfirmation, Summary: summary(b)}, nil
	}

	m.logIgnored(ctx, b.Stage, "text")
	return nil, nil
}

// HandlePostback processes a button payload of the form key=value.
func (m *Machine) HandlePostback(ctx context.Context, platform, userID, data string) (*Reply, error) {
	if userID == "" {
		return nil, nil
	}
	defer m.lock(userID)()

	if data == ConfirmPayload {
		return m.confirm(ctx, platform, userID)
	}

	key, value, found := strings.Cut(data, "=")
	if !found || key != stockKey || !slices.Contains(m.stocks, value) {
		m.logIgnored(ctx, conversation.StageIdle, "postback")
		return nil, nil
	}

	b, ok, err := m.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	from := b.Stage
	if !ok {
		from = conversation.StageIdle
	}
	b = conversation.Builder{Stage: conversation.StageAwaitingNumber, Stock: value}
	if err := m.tracker.Set(ctx, userID, b); err != nil {
		return nil, fmt.Errorf("wager: save stock: %w", err)
	}
	m.logTransition(ctx, from, b.Stage, slog.String("stock", value))
	return textReply(TextEnterNumber), nil
}

func (m *Machine) confirm(ctx context.Context, platform, userID string) (*Reply, error) {
	b, ok, err := m.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok || b.Stage != conversation.StageAwaitingConfirmation || !b.Complete() {
		stage := b.Stage
		if !ok {
			stage = conversation.StageIdle
		}
		m.logIgnored(ctx, stage, "confirm")
		return nil, nil
	}

	now := m.now()
	order := store.Order{
		OrderID:   m.ids.Next(now),
		UserID:    userID,
		Stock:     b.Stock,
		Number:    b.Number,
		Amount:    b.Amount,
		Status:    store.StatusPending,
		CreatedAt: now.Format(store.CreatedAtLayout),
		Platform:  platform,
	}
	if err := m.orders.AppendOrder(ctx, order); err != nil {
		logger.Wager.ErrorContext(ctx, "order not persisted",
			slog.String("event", "wager.confirm"),
			slog.String("outcome", "fail"),
			slog.String("stage", b.Stage.String()),
			slog.String("err", logger.ErrAttr(err)),
		)
		return textReply(TextOrderFailed), fmt.Errorf("wager: append order: %w", err)
	}

	if err := m.tracker.Clear(ctx, userID); err != nil {
		logger.Wager.WarnContext(ctx, "conversation not cleared",
			slog.String("event", "wager.confirm"),
			slog.String("order_id", order.OrderID),
			slog.String("err", logger.ErrAttr(err)),
		)
	}
	metrics.OrderPlaced(order.Stock)
	m.logTransition(ctx, b.Stage, conversation.StageIdle,
		slog.String("order_id", order.OrderID),
		slog.String("stock", order.Stock),
		slog.Int64("amount", order.Amount),
	)
	m.goAnnounce(ctx, order)
	return textReply(TextOrderAccepted), nil
}

// goAnnounce runs announce in the background, detached from the event deadline.
func (m *Machine) goAnnounce(ctx context.Context, o store.Order) {
	if m.publish == nil && m.notifier == nil {
		return
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.announceTimeout)
		defer cancel()
		m.announce(actx, o)
	}()
}

// Wait blocks until every background announcement has finished.
func (m *Machine) Wait() { m.pending.Wait() }

// announce runs the best-effort side effects of a persisted order.
func (m *Machine) announce(ctx context.Context, o store.Order) {
	if m.publish != nil {
		if err := m.publish.PublishOrderPlaced(ctx, o); err != nil {
			logger.Wager.WarnContext(ctx, "order event not published",
				slog.String("event", "wager.publish"),
				slog.String("order_id", o.OrderID),
				slog.String("err", logger.ErrAttr(err)),
			)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyOrder(ctx, o); err != nil {
			logger.Wager.WarnContext(ctx, "admin notification failed",
				slog.String("event", "wager.notify"),
				slog.String("order_id", o.OrderID),
				slog.String("err", logger.ErrAttr(err)),
			)
		}
	}
}

// current loads the user's builder, reporting false when there is none.
func (m *Machine) current(ctx context.Context, userID string) (conversation.Builder, bool, error) {
	b, err := m.tracker.Get(ctx, userID)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return conversation.Builder{}, false, nil
	case err != nil:
		return conversation.Builder{}, false, fmt.Errorf("wager: load conversation: %w", err)
	}
	return b, true, nil
}

func (m *Machine) logTransition(ctx context.Context, from, to conversation.Stage, attrs ...slog.Attr) {
	metrics.Transition(from.String(), to.String())
	attrs = append([]slog.Attr{
		slog.String("event", "wager.transition"),
		slog.String("from_stage", from.String()),
		slog.String("stage", to.String()),
		slog.String("outcome", "ok"),
	}, attrs...)
	logger.Wager.LogAttrs(ctx, slog.LevelDebug, "stage changed", attrs...)
}

func (m *Machine) logIgnored(ctx context.Context, stage conversation.Stage, what string) {
	if !logger.ShouldSampleDebug() {
		return
	}
	logger.Wager.DebugContext(ctx, "input ignored",
		slog.String("event", "wager.ignore"),
		slog.String("stage", stage.String()),
		slog.String("kind", what),
		slog.String("outcome", "ignored"),
	)
}

func summary(b conversation.Builder) Summary {
	return Summary{Stock: b.Stock, Number: b.Number, Amount: b.Amount}
}
