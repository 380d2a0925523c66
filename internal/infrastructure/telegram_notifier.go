package infrastructure

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier pings agents on their Telegram chat when a customer is
// waiting. Purely best-effort: agents still get the full briefing on WhatsApp,
// this is only a faster buzz on a second device.
type TelegramNotifier struct {
	Bot *tgbotapi.BotAPI
	log zerolog.Logger
}

func NewTelegramNotifier(token string, log zerolog.Logger) *TelegramNotifier {
	n := &TelegramNotifier{log: log.With().Str("component", "telegram").Logger()}
	if token == "" {
		return n
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		n.log.Warn().Err(err).Msg("telegram token invalid, agent alerts disabled")
		return n
	}
	n.Bot = bot
	return n
}

// NotifyAgent sends text to the agent's Telegram chat. No-op when the bot is
// disabled or the agent has no chat id on file.
func (n *TelegramNotifier) NotifyAgent(chatID int64, text string) {
	if n.Bot == nil || chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.Bot.Send(msg); err != nil {
		n.log.Error().Err(err).Int64("chat_id", chatID).Msg("agent alert failed")
	}
}
