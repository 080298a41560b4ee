package dispatch

import (
	"fmt"
	"strings"

	"github.com/k1networth/ugc-offers/internal/order/model"
)

const (
	acceptButtonText = "Готов снять UGC"
	callbackPrefix   = "offer:"
)

// SafetyWarning follows every offer.
const SafetyWarning = "⚠️ Общайтесь с рекламодателем только через бота. " +
	"Не переходите по сторонним ссылкам для оплаты и никому не сообщайте коды из SMS и данные карты."

// Offer is what a recipient sees: the text, an accept button and the
// warning sent right after it.
type Offer struct {
	OrderID      string
	Text         string
	ButtonText   string
	CallbackData string
	Warning      string
}

func NewOffer(o model.Order, advertiserStatus string) Offer {
	return Offer{
		OrderID:      o.ID.String(),
		Text:         FormatOffer(o, advertiserStatus),
		ButtonText:   acceptButtonText,
		CallbackData: callbackPrefix + o.ID.String(),
		Warning:      SafetyWarning,
	}
}

func FormatOffer(o model.Order, advertiserStatus string) string {
	var b strings.Builder
	b.WriteString("Новый оффер:\n")
	fmt.Fprintf(&b, "Ссылка на продукт: %s\n", o.ProductLink)
	fmt.Fprintf(&b, "Описание: %s\n", o.OfferText)
	fmt.Fprintf(&b, "Цена за 1 UGC: %s\n", o.Price.String())
	fmt.Fprintf(&b, "Нужно блогеров: %d\n", o.BloggersNeeded)
	fmt.Fprintf(&b, "Рекламодатель: %s", strings.ToUpper(advertiserStatus))
	return b.String()
}
