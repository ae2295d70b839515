package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "💬 ИИ ассистент", CallbackData: "assistant"},
				{Text: "📷 Фото блюда", CallbackData: "upload_photo"},
			},
			{
				{Text: "💳 Оплата", CallbackData: "pay"},
				{Text: "👥 Рефералы", CallbackData: "referrals"},
			},
			{
				{Text: "ℹ️ Инструкция", CallbackData: "guide"},
				{Text: "🛟 Техподдержка", CallbackData: "support"},
			},
		},
	}
}

// PayKeyboard returns payment options keyboard
func PayKeyboard(topUpAmountRub, subPriceRub int) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: fmt.Sprintf("➕ Пополнить %d ₽", topUpAmountRub), CallbackData: "topup"},
			},
			{
				{Text: fmt.Sprintf("⭐ Подписка на месяц — %d ₽", subPriceRub), CallbackData: "pay_sub"},
			},
			{
				{Text: "⬅️ Назад", CallbackData: "back"},
			},
		},
	}
}

// SkipKeyboard is shown while waiting for optional photo details
func SkipKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⏭ Пропустить", CallbackData: "skip_photo_meta"},
			},
			{
				{Text: "⬅️ Назад", CallbackData: "back"},
			},
		},
	}
}

// BackKeyboard returns a simple back button
func BackKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⬅️ Назад", CallbackData: "back"},
			},
		},
	}
}
