package api

import (
	"context"
	"fmt"
	"log"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/usecases"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts a message to a chat whenever a station receives new readings
type TelegramNotifier struct {
	sender messageSender
	chatID int64
}

// NewTelegramNotifier creates a new notifier posting to chatID
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &TelegramNotifier{sender: bot, chatID: chatID}, nil
}

// Notify sends the new data message for station
func (n *TelegramNotifier) Notify(_ context.Context, station entities.Station, outcome usecases.Outcome, latest entities.Reading) error {
	msg := tgbotapi.NewMessage(n.chatID, notificationText(station, outcome, latest))
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	log.Printf("Notified chat %d about %s", n.chatID, station.ID)
	return nil
}

func notificationText(station entities.Station, outcome usecases.Outcome, latest entities.Reading) string {
	var source string
	switch outcome.Mode {
	case usecases.ModeBackfill:
		source = "archive"
	default:
		source = "live feed"
	}

	text := fmt.Sprintf("🌊 %s: %d new reading(s) from the %s\n💧 Latest level %s m at %s",
		station.Label(), outcome.NewReadings, source,
		latest.Level.StringFixed(2), latest.Timestamp.Format("2006-01-02 15:04 MST"))

	switch {
	case !station.HighWater.IsZero() && latest.Level.GreaterThanOrEqual(station.HighWater):
		text += "\n⚠️ Above high water mark"
	case !station.LowWater.IsZero() && latest.Level.LessThanOrEqual(station.LowWater):
		text += "\n⚠️ Below low water mark"
	}
	return text
}
