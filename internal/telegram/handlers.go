package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/avdenisov/fitcoach-bot/internal/assistant"
	"github.com/avdenisov/fitcoach-bot/internal/config"
	"github.com/avdenisov/fitcoach-bot/internal/ledger"
)

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot    *bot.Bot
	cfg    *config.Config
	ledger *ledger.Ledger
	ai     *assistant.Client
	states *StateManager
	log    *slog.Logger
}

// New creates a new telegram bot
func New(cfg *config.Config, ldg *ledger.Ledger, ai *assistant.Client, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:    cfg,
		ledger: ldg,
		ai:     ai,
		states: NewStateManager(),
		log:    log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/balance", bot.MatchTypeExact, b.balanceHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID

	// Deep link: /start ref_<tgid>
	args := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/start"))
	inviterTg, ok, err := ParseStartReferral(args)
	if err != nil {
		b.log.Warn("referral token", "user_id", userID, "error", err)
	} else if ok {
		recorded, err := b.ledger.RegisterReferral(userID, inviterTg)
		if err != nil {
			b.log.Error("register referral", "user_id", userID, "error", err)
		} else if recorded {
			b.log.Info("referral recorded", "invitee", userID, "inviter", inviterTg)
		}
	}

	userName := update.Message.From.FirstName
	if userName == "" {
		userName = update.Message.From.Username
	}
	if userName == "" {
		userName = "друг"
	}

	text := fmt.Sprintf(
		"Привет, %s! 👋\n\n"+
			"Я могу:\n"+
			"• Посчитать КБЖУ по фото блюда\n"+
			"• Дать советы по питанию\n"+
			"• Подсказать по тренировкам и фитнесу\n\n"+
			"%s\n\n"+
			"💳 Баланс и пополнение → кнопка «Оплата»\n"+
			"ℹ️ Как пользоваться ботом → кнопка «Инструкция»",
		userName, b.statusLine(userID),
	)

	b.sendMessage(ctx, update.Message.Chat.ID, text, MainKeyboard())
}

func (b *Bot) balanceHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	balance, err := b.ledger.Balance(update.Message.From.ID)
	if err != nil {
		b.log.Error("get balance", "error", err)
		b.sendMessage(ctx, update.Message.Chat.ID, "⚠️ Сервис временно недоступен, попробуй позже.", nil)
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID,
		fmt.Sprintf("💰 Текущий баланс: <b>%d ₽</b>", balance),
		PayKeyboard(b.cfg.TopUpAmountRub, b.cfg.SubPriceRub),
	)
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.PreCheckoutQuery != nil {
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
		return
	}

	if update.Message == nil {
		return
	}

	if update.Message.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, update.Message)
		return
	}

	userID := update.Message.From.ID
	state := b.states.Get(userID)
	if state == nil {
		return
	}

	switch state.State {
	case StateChat:
		if update.Message.Text != "" {
			b.handleChat(ctx, update.Message)
		}
	case StateWaitPhoto:
		if len(update.Message.Photo) > 0 {
			b.handlePhoto(ctx, update.Message, state)
		}
	case StateWaitPhotoMeta:
		if update.Message.Text != "" {
			b.handlePhotoMeta(ctx, update.Message, state)
		}
	}
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	userID := cb.From.ID

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	if cb.Message.Message == nil {
		return
	}
	chatID := cb.Message.Message.Chat.ID

	switch cb.Data {
	case "back":
		b.states.Clear(userID)
		b.editMessage(ctx, cb.Message, "📋 Главное меню\n\n"+b.statusLine(userID), MainKeyboard())

	case "guide":
		b.editMessage(ctx, cb.Message,
			"ℹ️ <b>Как пользоваться ботом</b>\n\n"+
				"1️⃣ «Фото блюда» — отправь фото, и бот оценит калории, белки, жиры и углеводы.\n"+
				"2️⃣ «ИИ ассистент» — задавай вопросы про тренировки, питание и ЗОЖ.\n"+
				"3️⃣ «Назад» — отменяет текущее действие.",
			BackKeyboard(),
		)

	case "support":
		b.editMessage(ctx, cb.Message,
			"🛟 <b>Техподдержка</b>\n\nНапиши нам: @fitcoach_support",
			BackKeyboard(),
		)

	case "assistant":
		if !b.requireAccess(ctx, chatID, userID) {
			return
		}
		b.states.Set(userID, StateChat, nil)
		b.sendMessage(ctx, chatID, "Напиши свой вопрос про питание, диету или тренировки 👇", BackKeyboard())

	case "upload_photo":
		if !b.requireAccess(ctx, chatID, userID) {
			return
		}
		b.states.Set(userID, StateWaitPhoto, nil)
		b.sendMessage(ctx, chatID, "Отправь фото блюда, я посчитаю КБЖУ.", BackKeyboard())

	case "skip_photo_meta":
		state := b.states.Get(userID)
		if state == nil || state.State != StateWaitPhotoMeta {
			return
		}
		fileID, _ := state.Data["file_id"].(string)
		b.states.Clear(userID)
		b.processPhoto(ctx, chatID, fileID, "")

	case "pay":
		balance, err := b.ledger.Balance(userID)
		if err != nil {
			b.log.Error("get balance", "error", err)
			b.sendMessage(ctx, chatID, "⚠️ Сервис временно недоступен, попробуй позже.", nil)
			return
		}
		text := fmt.Sprintf(
			"💳 <b>Оплата и баланс</b>\n\n"+
				"Текущий баланс: <b>%d ₽</b>\n"+
				"Стоимость дня: %d ₽ (списывается раз в день при использовании)\n\n"+
				"Подписка на месяц отключает дневные списания.",
			balance, b.ledger.DailyChargeRub(),
		)
		b.editMessage(ctx, cb.Message, text, PayKeyboard(b.cfg.TopUpAmountRub, b.cfg.SubPriceRub))

	case "topup":
		b.sendTopUpInvoice(ctx, chatID)

	case "pay_sub":
		b.sendSubscriptionInvoice(ctx, chatID)

	case "referrals":
		b.showReferrals(ctx, cb)
	}
}

func (b *Bot) showReferrals(ctx context.Context, cb *models.CallbackQuery) {
	userID := cb.From.ID

	balance, err := b.ledger.Balance(userID)
	if err != nil {
		b.log.Error("get balance", "error", err)
		b.sendMessage(ctx, cb.Message.Message.Chat.ID, "⚠️ Сервис временно недоступен, попробуй позже.", nil)
		return
	}

	link := fmt.Sprintf("https://t.me/%s?start=ref_%d", b.cfg.BotUsername, userID)
	text := fmt.Sprintf(
		"👥 <b>Реферальная программа</b>\n\n"+
			"Твоя личная ссылка:\n%s\n\n"+
			"За каждого приглашённого, кто оплатит бота, ты получишь +%d ₽ на баланс.\n\n"+
			"Текущий баланс: <b>%d ₽</b>",
		link, b.cfg.ReferralBonusRub, balance,
	)

	b.editMessage(ctx, cb.Message, text, BackKeyboard())
}

// requireAccess runs the daily charge gate and, when access is denied,
// shows the payment screen. Returns whether the caller may proceed.
func (b *Bot) requireAccess(ctx context.Context, chatID, userID int64) bool {
	res, err := b.ledger.CheckAccess(userID)
	if err != nil {
		b.log.Error("check access", "user_id", userID, "error", err)
		b.sendMessage(ctx, chatID, "⚠️ Сервис временно недоступен, попробуй позже.", nil)
		return false
	}

	if !res.Allowed {
		b.sendMessage(ctx, chatID,
			fmt.Sprintf(
				"Недостаточно средств на балансе.\n"+
					"Пополни баланс на %d ₽ в разделе «Оплата», чтобы пользоваться ботом.",
				b.cfg.TopUpAmountRub,
			),
			PayKeyboard(b.cfg.TopUpAmountRub, b.cfg.SubPriceRub),
		)
		return false
	}

	if res.Reason == ledger.ReasonCharged {
		b.log.Info("daily charge taken", "user_id", userID, "amount_rub", b.ledger.DailyChargeRub())
	}
	return true
}

func (b *Bot) handleChat(ctx context.Context, msg *models.Message) {
	b.sendTyping(ctx, msg.Chat.ID)

	answer, err := b.ai.Chat(ctx, msg.Text)
	if err != nil {
		b.log.Error("assistant chat", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "⚠️ Не получилось сгенерировать ответ, попробуй ещё раз.", MainKeyboard())
		b.states.Clear(msg.From.ID)
		return
	}

	b.states.Clear(msg.From.ID)
	b.sendMessage(ctx, msg.Chat.ID, answer, MainKeyboard())
}

func (b *Bot) handlePhoto(ctx context.Context, msg *models.Message, state *UserState) {
	// Largest size is the last one
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	b.states.Set(msg.From.ID, StateWaitPhotoMeta, map[string]interface{}{"file_id": fileID})
	b.sendMessage(ctx, msg.Chat.ID,
		"Можешь уточнить состав и граммовку или нажми «Пропустить».",
		SkipKeyboard(),
	)
}

func (b *Bot) handlePhotoMeta(ctx context.Context, msg *models.Message, state *UserState) {
	fileID, _ := state.Data["file_id"].(string)
	b.states.Clear(msg.From.ID)
	b.processPhoto(ctx, msg.Chat.ID, fileID, strings.TrimSpace(msg.Text))
}

func (b *Bot) processPhoto(ctx context.Context, chatID int64, fileID, extra string) {
	if fileID == "" {
		b.sendMessage(ctx, chatID, "Фото потерялось, отправь его ещё раз.", MainKeyboard())
		return
	}

	b.sendTyping(ctx, chatID)
	b.sendMessage(ctx, chatID, "Обрабатываю фото… ⏳", nil)

	photo, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.log.Error("download photo", "error", err)
		b.sendMessage(ctx, chatID, "⚠️ Не удалось загрузить фото, попробуй ещё раз.", MainKeyboard())
		return
	}

	answer, err := b.ai.AnalyzeMealPhoto(ctx, photo, extra)
	if err != nil {
		b.log.Error("analyze photo", "error", err)
		b.sendMessage(ctx, chatID, "⚠️ Не получилось обработать фото, попробуй ещё раз.", MainKeyboard())
		return
	}

	b.sendMessage(ctx, chatID, answer, MainKeyboard())
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("download: " + resp.Status)
	}

	return io.ReadAll(resp.Body)
}

func (b *Bot) statusLine(userID int64) string {
	ok, err := b.ledger.HasAccess(userID)
	if err != nil {
		b.log.Error("access status", "user_id", userID, "error", err)
		return "⚪ Статус доступа недоступен"
	}
	if ok {
		return "🟢 Доступ: оплачен"
	}
	return "🔴 Доступ не оплачен"
}

func (b *Bot) sendTyping(ctx context.Context, chatID int64) {
	b.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	if _, err := b.bot.SendMessage(ctx, params); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	if _, err := b.bot.EditMessageText(ctx, params); err != nil {
		b.log.Error("edit message", "error", err)
	}
}
