package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

const helpText = `Команды:
/buy <дни> [трафик_гб] [устройства] [сервер,...] - новая подписка
/renew <дни> - продлить подписку
/addon traffic=<гб> devices=<n> servers=<a,b> - докупить опции
/balance - баланс`

var errUsage = errors.New("usage")

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	args := msg.CommandArguments()

	var (
		sel checkout.Selections
		err error
	)
	switch msg.Command() {
	case "buy":
		sel, err = parseBuy(args)
	case "renew":
		sel, err = parseRenew(args)
	case "addon":
		sel, err = parseAddOn(args)
	case "balance":
		b.showBalance(ctx, chatID, userID)
		return
	default:
		b.reply(ctx, chatID, helpText)
		return
	}
	if err != nil {
		b.reply(ctx, chatID, "Неверные параметры.\n\n"+helpText)
		return
	}
	b.quote(ctx, chatID, userID, sel)
}

func (b *Bot) quote(ctx context.Context, chatID, userID int64, sel checkout.Selections) {
	d, err := b.checkout.Quote(ctx, userID, sel)
	if err != nil {
		b.reply(ctx, chatID, describeError(ctx, err))
		return
	}
	msg := tgbotapi.NewMessage(chatID, formatQuote(d.Quote))
	msg.ReplyMarkup = draftKeyboard(d.Token)
	b.send(ctx, msg)
}

func (b *Bot) showBalance(ctx context.Context, chatID, userID int64) {
	balance, err := b.balances.Balance(ctx, userID)
	if err != nil {
		zctx.From(ctx).Error("Get balance", zap.Error(err))
		b.reply(ctx, chatID, "Не удалось получить баланс, попробуйте позже.")
		return
	}
	b.reply(ctx, chatID, "Баланс: "+formatMoney(balance))
}

// parseBuy parses "<days> [traffic_gb] [devices] [server,...]".
func parseBuy(args string) (checkout.Selections, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 4 {
		return checkout.Selections{}, errUsage
	}
	sel := checkout.Selections{Flow: pricing.FlowPurchase}
	ints := []*int{&sel.PeriodDays, &sel.TrafficGB, &sel.Devices}
	for i, f := range fields {
		if i == 3 {
			sel.ServerIDs = splitList(f)
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			// Servers may follow the period directly.
			if i == 0 {
				return checkout.Selections{}, errUsage
			}
			if i != len(fields)-1 {
				return checkout.Selections{}, errUsage
			}
			sel.ServerIDs = splitList(f)
			break
		}
		*ints[i] = n
	}
	return sel, nil
}

// parseRenew parses "<days>".
func parseRenew(args string) (checkout.Selections, error) {
	days, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return checkout.Selections{}, errUsage
	}
	return checkout.Selections{Flow: pricing.FlowRenewal, PeriodDays: days}, nil
}

// parseAddOn parses "traffic=<gb> devices=<n> servers=<a,b>" in any order.
func parseAddOn(args string) (checkout.Selections, error) {
	sel := checkout.Selections{Flow: pricing.FlowAddOn}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return sel, errUsage
	}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return sel, errUsage
		}
		var err error
		switch key {
		case "traffic":
			sel.TrafficGB, err = strconv.Atoi(value)
		case "devices":
			sel.Devices, err = strconv.Atoi(value)
		case "servers":
			sel.ServerIDs = splitList(value)
		default:
			err = errUsage
		}
		if err != nil {
			return sel, errUsage
		}
	}
	return sel, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
