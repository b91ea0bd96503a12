// Package telegram is the Telegram front end of the checkout: it turns chat
// commands and inline buttons into checkout calls and offers resumption after
// a top-up.
package telegram

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/topup"
)

var _ topup.Notifier = (*Bot)(nil)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Checkout is the checkout engine.
type Checkout interface {
	Quote(ctx context.Context, userID int64, sel checkout.Selections) (*checkout.Draft, error)
	Charge(ctx context.Context, userID int64, token string) (checkout.ChargeResult, error)
	Cancel(ctx context.Context, userID int64) error
	Resume(ctx context.Context, userID int64) (*checkout.Draft, error)
}

// Balances reads user balances.
type Balances interface {
	Balance(ctx context.Context, userID int64) (pricing.Money, error)
}

// Users registers Telegram users on first contact.
type Users interface {
	Upsert(ctx context.Context, id int64, username string) error
}

// Bot handles updates. The Telegram user id is the checkout user id and, for
// private chats, the chat id.
type Bot struct {
	api      API
	checkout Checkout
	balances Balances
	users    Users
}

// New creates a Bot.
func New(api API, c Checkout, b Balances, u Users) *Bot {
	return &Bot{api: api, checkout: c, balances: b, users: u}
}

// Run long-polls updates until ctx is done.
func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		lg := zctx.From(ctx).With(zap.Int64("user_id", upd.Message.From.ID))
		ctx = zctx.Base(ctx, lg)
		if err := b.users.Upsert(ctx, upd.Message.From.ID, upd.Message.From.UserName); err != nil {
			lg.Warn("Register user", zap.Error(err))
		}
		if upd.Message.IsCommand() {
			b.handleCommand(ctx, upd.Message)
		}
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		lg := zctx.From(ctx).With(zap.Int64("user_id", upd.CallbackQuery.From.ID))
		b.handleCallback(zctx.Base(ctx, lg), upd.CallbackQuery)
	}
}

// OfferResume sends the re-quoted draft with confirm and cancel buttons.
func (b *Bot) OfferResume(ctx context.Context, userID int64, d *checkout.Draft, balance pricing.Money) error {
	msg := tgbotapi.NewMessage(userID,
		"Баланс пополнен: "+formatMoney(balance)+".\nПродолжить оформление?\n\n"+formatQuote(d.Quote))
	msg.ReplyMarkup = draftKeyboard(d.Token)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) send(ctx context.Context, msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		zctx.From(ctx).Error("Send message", zap.Error(err))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func draftKeyboard(token string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Оплатить", callbackConfirm+token),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", callbackCancel),
		),
	)
}

func resumeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Продолжить", callbackResume),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", callbackCancel),
		),
	)
}
