package config

import (
	"os"
	"strings"
)

// EnvTelegramToken overrides telegram.token so the secret can stay out of
// the config file.
const EnvTelegramToken = "BRIGHTSCHED_TELEGRAM_TOKEN"

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
}
