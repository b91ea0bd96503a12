package telegram

import (
	"fmt"
	"strings"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

var componentTitles = map[pricing.Category]string{
	pricing.CategoryPeriod:       "Подписка",
	pricing.CategoryTraffic:      "Трафик",
	pricing.CategoryServers:      "Серверы",
	pricing.CategoryDevices:      "Устройства",
	pricing.CategoryAddonGeneric: "Опции",
}

func formatMoney(m pricing.Money) string {
	return m.String() + " ₽"
}

func formatQuote(q pricing.Quote) string {
	var sb strings.Builder
	for _, c := range q.Components {
		title := componentTitles[c.Category]
		if title == "" {
			title = c.Name
		}
		fmt.Fprintf(&sb, "%s: %s", title, formatMoney(c.TotalPrice))
		if c.Months > 1 {
			fmt.Fprintf(&sb, " (%s × %d мес.)", formatMoney(c.DiscountedMonthlyPrice), c.Months)
		}
		if c.DiscountPercent > 0 {
			fmt.Fprintf(&sb, ", скидка %d%%", c.DiscountPercent)
		}
		sb.WriteByte('\n')
	}
	if q.PromoOfferPercent > 0 {
		fmt.Fprintf(&sb, "Персональная скидка %d%%: −%s\n", q.PromoOfferPercent, formatMoney(q.PromoOfferDiscount))
	}
	fmt.Fprintf(&sb, "Итого: %s", formatMoney(q.FinalPrice))
	return sb.String()
}

func formatCharged(res checkout.ChargeResult) string {
	text := "Оплачено " + formatMoney(res.Charged) + "."
	if s := res.Subscription; s != nil {
		text += "\nПодписка активна до " + s.EndDate.Format("02.01.2006") + "."
	}
	return text
}
