package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Telegram
	BotToken    string
	BotUsername string

	// Payments
	PaymentProviderToken string

	// Database
	DBPath string

	// Pricing (integer currency only: kopecks for the daily price,
	// whole rubles everywhere else)
	DailyPriceKop    int
	SubPriceRub      int
	SubDurationDays  int
	ReferralBonusRub int
	TopUpAmountRub   int

	// Assistant
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		BotUsername: getEnv("BOT_USERNAME", "fitcoach_bot"),

		// Payments
		PaymentProviderToken: getEnv("PAYMENT_PROVIDER_TOKEN", ""),

		// Database
		DBPath: getEnv("DB_PATH", "./fitcoach.db"),

		// Pricing
		DailyPriceKop:    getEnvInt("DAILY_PRICE_KOP", 300),
		SubPriceRub:      getEnvInt("SUB_PRICE_RUB", 100),
		SubDurationDays:  getEnvInt("SUB_DURATION_DAYS", 30),
		ReferralBonusRub: getEnvInt("REFERRAL_BONUS_RUB", 50),
		TopUpAmountRub:   getEnvInt("TOPUP_AMOUNT_RUB", 100),

		// Assistant
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: strings.TrimSuffix(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
