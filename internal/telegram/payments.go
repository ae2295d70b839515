package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
)

const (
	payloadTopUp        = "topup_"
	payloadSubscription = "sub_"
)

func (b *Bot) sendTopUpInvoice(ctx context.Context, chatID int64) {
	if b.cfg.PaymentProviderToken == "" {
		b.sendMessage(ctx, chatID, "⚠️ Оплата временно недоступна.", BackKeyboard())
		return
	}

	_, err := b.bot.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:        chatID,
		Title:         "Пополнение баланса",
		Description:   fmt.Sprintf("Зачисление %d ₽ на баланс бота", b.cfg.TopUpAmountRub),
		Payload:       payloadTopUp + uuid.NewString(),
		ProviderToken: b.cfg.PaymentProviderToken,
		Currency:      "RUB",
		Prices: []models.LabeledPrice{
			{Label: "Пополнение баланса", Amount: b.cfg.TopUpAmountRub * 100},
		},
	})
	if err != nil {
		b.log.Error("send topup invoice", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendSubscriptionInvoice(ctx context.Context, chatID int64) {
	if b.cfg.PaymentProviderToken == "" {
		b.sendMessage(ctx, chatID, "⚠️ Оплата временно недоступна.", BackKeyboard())
		return
	}

	_, err := b.bot.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:        chatID,
		Title:         fmt.Sprintf("Подписка на %d дней", b.cfg.SubDurationDays),
		Description:   "Доступ ко всем функциям бота без дневных списаний",
		Payload:       payloadSubscription + uuid.NewString(),
		ProviderToken: b.cfg.PaymentProviderToken,
		Currency:      "RUB",
		Prices: []models.LabeledPrice{
			{Label: "Месячная подписка", Amount: b.cfg.SubPriceRub * 100},
		},
	})
	if err != nil {
		b.log.Error("send subscription invoice", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handlePreCheckout(ctx context.Context, q *models.PreCheckoutQuery) {
	_, err := b.bot.AnswerPreCheckoutQuery(ctx, &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: q.ID,
		OK:                 true,
	})
	if err != nil {
		b.log.Error("answer pre-checkout", "query_id", q.ID, "error", err)
	}
}

// handleSuccessfulPayment applies a confirmed payment to the ledger.
// Telegram's payment charge id keys deduplication, so a redelivered
// update cannot credit or extend twice.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *models.Message) {
	sp := msg.SuccessfulPayment
	userID := msg.From.ID
	chargeID := sp.TelegramPaymentChargeID
	amountRub := sp.TotalAmount / 100

	switch {
	case strings.HasPrefix(sp.InvoicePayload, payloadTopUp):
		newBalance, applied, err := b.ledger.ApplyTopUp(userID, amountRub, chargeID)
		if err != nil {
			b.log.Error("apply topup", "user_id", userID, "charge_id", chargeID, "error", err)
			b.sendMessage(ctx, msg.Chat.ID, "⚠️ Платёж получен, но зачисление не прошло. Напиши в поддержку.", nil)
			return
		}
		if !applied {
			b.log.Warn("duplicate topup confirmation", "user_id", userID, "charge_id", chargeID)
			return
		}

		b.rewardReferrer(userID)
		b.sendMessage(ctx, msg.Chat.ID,
			fmt.Sprintf("✅ Оплата прошла успешно.\nЗачислено: %d ₽\nТекущий баланс: %d ₽", amountRub, newBalance),
			MainKeyboard(),
		)

	case strings.HasPrefix(sp.InvoicePayload, payloadSubscription):
		sub, applied, err := b.ledger.ApplySubscriptionPurchase(userID, b.cfg.SubDurationDays, chargeID)
		if err != nil {
			b.log.Error("apply subscription", "user_id", userID, "charge_id", chargeID, "error", err)
			b.sendMessage(ctx, msg.Chat.ID, "⚠️ Платёж получен, но подписка не активировалась. Напиши в поддержку.", nil)
			return
		}
		if !applied {
			b.log.Warn("duplicate subscription confirmation", "user_id", userID, "charge_id", chargeID)
			return
		}

		b.rewardReferrer(userID)
		b.sendMessage(ctx, msg.Chat.ID,
			fmt.Sprintf("✅ Подписка активна до %s.", sub.EndAt.Format("02.01.2006")),
			MainKeyboard(),
		)

	default:
		b.log.Warn("unknown payment payload", "user_id", userID, "payload", sp.InvoicePayload)
	}
}

func (b *Bot) rewardReferrer(userID int64) {
	paid, err := b.ledger.RewardOnFirstPayment(userID)
	if err != nil {
		b.log.Error("referral payout", "invitee", userID, "error", err)
		return
	}
	if paid {
		b.log.Info("referral bonus paid", "invitee", userID, "bonus_rub", b.cfg.ReferralBonusRub)
	}
}
