package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avdenisov/fitcoach-bot/internal/assistant"
	"github.com/avdenisov/fitcoach-bot/internal/config"
	"github.com/avdenisov/fitcoach-bot/internal/ledger"
	"github.com/avdenisov/fitcoach-bot/internal/storage"
	"github.com/avdenisov/fitcoach-bot/internal/telegram"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize ledger
	ldg := ledger.New(cfg, store)
	log.Info("ledger initialized",
		"daily_charge_rub", ldg.DailyChargeRub(),
		"sub_price_rub", cfg.SubPriceRub,
		"referral_bonus_rub", cfg.ReferralBonusRub,
	)

	// Initialize assistant client
	ai := assistant.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	log.Info("assistant client initialized", "base_url", cfg.OpenAIBaseURL, "model", cfg.OpenAIModel)

	// Initialize telegram bot
	bot, err := telegram.New(cfg, ldg, ai, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)
}
