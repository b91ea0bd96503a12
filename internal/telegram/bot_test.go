package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/subscription"
)

// --- Mock implementations ---

type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() { f.stopped = true }

func (f *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent)
	switch m := f.sent[len(f.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.EditMessageTextConfig:
		return m.Text
	}
	t.Fatalf("unexpected message type %T", f.sent[len(f.sent)-1])
	return ""
}

type mockCheckout struct {
	sel      checkout.Selections
	token    string
	canceled bool
	draft    *checkout.Draft
	result   checkout.ChargeResult
	err      error
}

func (m *mockCheckout) Quote(_ context.Context, _ int64, sel checkout.Selections) (*checkout.Draft, error) {
	m.sel = sel
	return m.draft, m.err
}

func (m *mockCheckout) Charge(_ context.Context, _ int64, token string) (checkout.ChargeResult, error) {
	m.token = token
	return m.result, m.err
}

func (m *mockCheckout) Cancel(context.Context, int64) error {
	m.canceled = true
	return nil
}

func (m *mockCheckout) Resume(context.Context, int64) (*checkout.Draft, error) {
	return m.draft, m.err
}

type mockBalances struct{ balance pricing.Money }

func (m mockBalances) Balance(context.Context, int64) (pricing.Money, error) { return m.balance, nil }

type mockUsers struct{ seen map[int64]string }

func (m *mockUsers) Upsert(_ context.Context, id int64, username string) error {
	m.seen[id] = username
	return nil
}

// --- Helpers ---

func testDraft() *checkout.Draft {
	return &checkout.Draft{
		UserID: 42,
		Token:  "tok-1",
		Quote: pricing.Quote{
			Flow: pricing.FlowPurchase,
			Components: []pricing.Component{
				{Name: "period", Category: pricing.CategoryPeriod, TotalPrice: 30000, DiscountedMonthlyPrice: 30000, Months: 1},
				{Name: "servers", Category: pricing.CategoryServers, TotalPrice: 9000, DiscountedMonthlyPrice: 4500, Months: 2, DiscountPercent: 10},
			},
			PromoOfferPercent:  10,
			PromoOfferDiscount: 3900,
			FinalPrice:         35100,
		},
	}
}

func command(text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 42},
		From:     &tgbotapi.User{ID: 42, UserName: "alice"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func callback(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 42},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: 42}},
	}}
}

func newTestBot(c *mockCheckout) (*Bot, *fakeAPI, *mockUsers) {
	api := &fakeAPI{}
	users := &mockUsers{seen: map[int64]string{}}
	return New(api, c, mockBalances{balance: 12345}, users), api, users
}

// --- Tests ---

func TestParseBuy(t *testing.T) {
	tests := []struct {
		args    string
		want    checkout.Selections
		wantErr bool
	}{
		{args: "30", want: checkout.Selections{Flow: pricing.FlowPurchase, PeriodDays: 30}},
		{args: "90 100 3 nl,de", want: checkout.Selections{
			Flow: pricing.FlowPurchase, PeriodDays: 90, TrafficGB: 100, Devices: 3, ServerIDs: []string{"nl", "de"},
		}},
		{args: "30 nl", want: checkout.Selections{Flow: pricing.FlowPurchase, PeriodDays: 30, ServerIDs: []string{"nl"}}},
		{args: "", wantErr: true},
		{args: "month", wantErr: true},
		{args: "30 nl 2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := parseBuy(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddOn(t *testing.T) {
	got, err := parseAddOn("devices=2 servers=nl, traffic=50")
	require.NoError(t, err)
	assert.Equal(t, checkout.Selections{
		Flow: pricing.FlowAddOn, TrafficGB: 50, Devices: 2, ServerIDs: []string{"nl"},
	}, got)

	_, err = parseAddOn("")
	require.Error(t, err)
	_, err = parseAddOn("speed=10")
	require.Error(t, err)
}

func TestParseRenew(t *testing.T) {
	got, err := parseRenew(" 30 ")
	require.NoError(t, err)
	assert.Equal(t, checkout.Selections{Flow: pricing.FlowRenewal, PeriodDays: 30}, got)

	_, err = parseRenew("x")
	require.Error(t, err)
}

func TestBuyCommand_SendsQuoteWithButtons(t *testing.T) {
	c := &mockCheckout{draft: testDraft()}
	b, api, users := newTestBot(c)

	b.handleUpdate(context.Background(), command("/buy 30 0 1 nl"))

	assert.Equal(t, "alice", users.seen[42])
	assert.Equal(t, 30, c.sel.PeriodDays)

	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "Итого: 351.00 ₽")
	assert.Contains(t, msg.Text, "Серверы: 90.00 ₽ (45.00 ₽ × 2 мес.), скидка 10%")
	assert.Contains(t, msg.Text, "Персональная скидка 10%")

	kb := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "confirm:tok-1", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestBuyCommand_InvalidSelection(t *testing.T) {
	c := &mockCheckout{err: &checkout.InvalidSelectionError{Field: "servers", Reason: "server us is unavailable"}}
	b, api, _ := newTestBot(c)

	b.handleUpdate(context.Background(), command("/buy 30 0 1 us"))

	assert.Equal(t, "Нельзя оформить: server us is unavailable", api.lastText(t))
}

func TestBalanceCommand(t *testing.T) {
	b, api, _ := newTestBot(&mockCheckout{})
	b.handleUpdate(context.Background(), command("/balance"))
	assert.Equal(t, "Баланс: 123.45 ₽", api.lastText(t))
}

func TestConfirmCallback(t *testing.T) {
	tests := []struct {
		name   string
		result checkout.ChargeResult
		want   string
	}{
		{
			name: "charged",
			result: checkout.ChargeResult{
				Outcome: checkout.OutcomeCharged, Charged: 35100,
				Subscription: &subscription.Subscription{EndDate: time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)},
			},
			want: "Оплачено 351.00 ₽.\nПодписка активна до 15.07.2025.",
		},
		{
			name:   "insufficient funds",
			result: checkout.ChargeResult{Outcome: checkout.OutcomeInsufficientFunds, MissingAmount: 5100, Balance: 30000},
			want:   "не хватает 51.00 ₽ (баланс 300.00 ₽)",
		},
		{
			name:   "stale",
			result: checkout.ChargeResult{Outcome: checkout.OutcomeStaleQuote},
			want:   "Цена изменилась",
		},
		{
			name:   "already charged",
			result: checkout.ChargeResult{Outcome: checkout.OutcomeAlreadyCharged},
			want:   "уже оплачен",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCheckout{result: tt.result}
			b, api, _ := newTestBot(c)

			b.handleUpdate(context.Background(), callback("confirm:tok-1"))

			assert.Equal(t, "tok-1", c.token)
			assert.Len(t, api.requests, 1, "callback must be answered")
			assert.Contains(t, api.lastText(t), tt.want)
		})
	}
}

func TestCancelCallback(t *testing.T) {
	c := &mockCheckout{}
	b, api, _ := newTestBot(c)

	b.handleUpdate(context.Background(), callback("cancel"))

	assert.True(t, c.canceled)
	assert.Equal(t, "Оформление отменено.", api.lastText(t))
}

func TestOfferResume(t *testing.T) {
	b, api, _ := newTestBot(&mockCheckout{})

	require.NoError(t, b.OfferResume(context.Background(), 42, testDraft(), 50000))

	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "Баланс пополнен: 500.00 ₽")
	kb := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "confirm:tok-1", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestRun_StopsOnCancel(t *testing.T) {
	b, api, _ := newTestBot(&mockCheckout{})
	api.updates = make(chan tgbotapi.Update, 1)
	api.updates <- command("/balance")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, 1) }()

	require.Eventually(t, func() bool { return len(api.updates) == 0 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, api.stopped)
}
