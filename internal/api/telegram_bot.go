// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/usecases"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramBot answers questions about the stored gauge series
type TelegramBot struct {
	bot     *tgbotapi.BotAPI
	useCase *usecases.GaugeUseCase
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, useCase *usecases.GaugeUseCase) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &TelegramBot{
		bot:     bot,
		useCase: useCase,
	}, nil
}

// Start begins listening for and handling Telegram messages until ctx is cancelled
func (t *TelegramBot) Start(ctx context.Context) {
	log.Printf("Authorized on Telegram account %s", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	log.Println("Bot is now listening for messages...")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}

			log.Printf("Received message from %s (ID: %d): %s",
				userName(update.Message), update.Message.Chat.ID, update.Message.Text)

			msg := tgbotapi.NewMessage(update.Message.Chat.ID, t.respond(ctx, update.Message))
			if _, err := t.bot.Send(msg); err != nil {
				log.Printf("Error sending message: %v", err)
			}
		}
	}
}

// respond builds the reply text for a message
func (t *TelegramBot) respond(ctx context.Context, message *tgbotapi.Message) string {
	if !message.IsCommand() {
		log.Printf("Received non-command message from user %s: %s", userName(message), message.Text)
		reply, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text)
		if err != nil {
			log.Printf("Error handling query: %v", err)
			return "I don't understand. Use /help to see available commands."
		}
		return reply
	}

	args := strings.TrimSpace(message.CommandArguments())
	switch message.Command() {
	case "start":
		return "Welcome to the River Levels bot! Use /stations to see the monitored gauges or /help for more information."

	case "help":
		return "Available commands:\n" +
			"/start - Start the bot\n" +
			"/stations - Show the monitored stations\n" +
			"/level [station] - Show the latest water level\n" +
			"/history [station] - Show the readings of the last 24 hours\n" +
			"/help - Show this help message"

	case "stations":
		return t.stationsReply()

	case "level":
		log.Printf("Handling /level command with args '%s' for user %s", args, userName(message))
		return t.levelReply(ctx, args)

	case "history":
		log.Printf("Handling /history command with args '%s' for user %s", args, userName(message))
		return t.historyReply(ctx, args)

	default:
		log.Printf("Received unknown command /%s from user %s", message.Command(), userName(message))
		return "Unknown command. Use /help to see available commands."
	}
}

func (t *TelegramBot) stationsReply() string {
	stations := t.useCase.Stations()
	if len(stations) == 0 {
		return "No stations are configured."
	}

	var b strings.Builder
	b.WriteString("Monitored stations:\n\n")
	for _, s := range stations {
		b.WriteString(fmt.Sprintf("• %s (%s)\n", s.Label(), s.ID))
	}
	b.WriteString("\nUse /level [station] to get the latest reading.")
	return b.String()
}

// lookup resolves the station argument, defaulting to the only configured station
func (t *TelegramBot) lookup(args string) (entities.Station, string) {
	if args == "" {
		if stations := t.useCase.Stations(); len(stations) == 1 {
			return stations[0], ""
		}
		return entities.Station{}, "Please specify a station. Example: /level Flesk"
	}

	station, ok := t.useCase.FindStation(args)
	if !ok {
		return entities.Station{}, fmt.Sprintf("No station '%s'. Use /stations to see the monitored stations.", args)
	}
	return station, ""
}

func (t *TelegramBot) levelReply(ctx context.Context, args string) string {
	station, problem := t.lookup(args)
	if problem != "" {
		return problem
	}
	return t.useCase.StationLevelReply(ctx, station)
}

func (t *TelegramBot) historyReply(ctx context.Context, args string) string {
	station, problem := t.lookup(args)
	if problem != "" {
		return problem
	}
	return t.useCase.StationHistoryReply(ctx, station)
}

func userName(message *tgbotapi.Message) string {
	if message.From == nil {
		return "unknown"
	}
	return message.From.UserName
}
