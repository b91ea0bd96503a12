package telegram

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
)

const (
	callbackConfirm = "confirm:"
	callbackCancel  = "cancel"
	callbackResume  = "resume"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		zctx.From(ctx).Warn("Answer callback", zap.Error(err))
	}
	if cb.Message == nil {
		return
	}
	chatID, userID := cb.Message.Chat.ID, cb.From.ID

	switch data := cb.Data; {
	case strings.HasPrefix(data, callbackConfirm):
		b.charge(ctx, chatID, userID, strings.TrimPrefix(data, callbackConfirm))
	case data == callbackCancel:
		if err := b.checkout.Cancel(ctx, userID); err != nil {
			zctx.From(ctx).Error("Cancel checkout", zap.Error(err))
		}
		b.send(ctx, tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID, "Оформление отменено."))
	case data == callbackResume:
		d, err := b.checkout.Resume(ctx, userID)
		if err != nil {
			b.reply(ctx, chatID, describeError(ctx, err))
			return
		}
		msg := tgbotapi.NewMessage(chatID, formatQuote(d.Quote))
		msg.ReplyMarkup = draftKeyboard(d.Token)
		b.send(ctx, msg)
	}
}

func (b *Bot) charge(ctx context.Context, chatID, userID int64, token string) {
	res, err := b.checkout.Charge(ctx, userID, token)
	if err != nil {
		b.reply(ctx, chatID, describeError(ctx, err))
		return
	}

	switch res.Outcome {
	case checkout.OutcomeCharged:
		b.reply(ctx, chatID, formatCharged(res))
	case checkout.OutcomeInsufficientFunds:
		msg := tgbotapi.NewMessage(chatID,
			"Недостаточно средств: не хватает "+formatMoney(res.MissingAmount)+
				" (баланс "+formatMoney(res.Balance)+").\n"+
				"Пополните баланс, и мы предложим завершить оформление.")
		msg.ReplyMarkup = resumeKeyboard()
		b.send(ctx, msg)
	case checkout.OutcomeLedgerRejected:
		msg := tgbotapi.NewMessage(chatID, "Списание не прошло, баланс изменился. Попробуйте ещё раз.")
		msg.ReplyMarkup = resumeKeyboard()
		b.send(ctx, msg)
	case checkout.OutcomeStaleQuote:
		text := "Цена изменилась, оформите покупку заново."
		if res.Recomputed != nil {
			text = "Цена изменилась.\n\n" + formatQuote(*res.Recomputed) + "\n\nОформите покупку заново."
		}
		b.reply(ctx, chatID, text)
	case checkout.OutcomeAlreadyCharged:
		b.reply(ctx, chatID, "Этот заказ уже оплачен.")
	case checkout.OutcomeDraftNotFound:
		b.reply(ctx, chatID, "Заказ устарел, оформите покупку заново.")
	}
}

// describeError renders errors for the chat. Unexpected errors are logged.
func describeError(ctx context.Context, err error) string {
	var invalid *checkout.InvalidSelectionError
	switch {
	case errors.As(err, &invalid):
		return "Нельзя оформить: " + invalid.Reason
	case errors.Is(err, checkout.ErrDraftNotFound):
		return "Нет незавершённого заказа."
	default:
		zctx.From(ctx).Error("Checkout failed", zap.Error(err))
		return "Что-то пошло не так, попробуйте позже."
	}
}
