package api

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/integration/openai"
	"github.com/abelzeko/river-levels/internal/repository"
	"github.com/abelzeko/river-levels/internal/usecases"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	flesk = entities.Station{
		ID:        "22039",
		Name:      "Flesk",
		LowWater:  decimal.RequireFromString("0.7"),
		HighWater: decimal.RequireFromString("1.5"),
	}
	laune = entities.Station{ID: "23002", Name: "Laune"}
	now   = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func command(text string) *tgbotapi.Message {
	name := strings.SplitN(text, " ", 2)[0]
	return &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{UserName: "tester"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func newTestBot(t *testing.T, stations ...entities.Station) (*TelegramBot, *repository.MemoryReadingRepository) {
	t.Helper()
	repo := repository.NewMemoryReadingRepository()
	uc := usecases.NewGaugeUseCase(repo, nil, stations, nil, nil)
	uc.Now = func() time.Time { return now }
	return &TelegramBot{useCase: uc}, repo
}

func store(t *testing.T, repo repository.ReadingRepository, station entities.Station, ago time.Duration, level string) {
	t.Helper()
	_, err := repo.PutReadingIfAbsent(context.Background(),
		entities.NewReading(station.ID, now.Add(-ago), decimal.RequireFromString(level)))
	require.NoError(t, err)
}

func TestBotStations(t *testing.T) {
	bot, _ := newTestBot(t, flesk, laune)
	reply := bot.respond(context.Background(), command("/stations"))
	assert.Contains(t, reply, "• Flesk (22039)")
	assert.Contains(t, reply, "• Laune (23002)")
}

func TestBotLevel(t *testing.T) {
	bot, repo := newTestBot(t, flesk, laune)
	store(t, repo, flesk, time.Hour, "1.10")
	store(t, repo, flesk, 0, "1.62")

	reply := bot.respond(context.Background(), command("/level flesk"))
	assert.Contains(t, reply, "Water Level: 1.62 m")
	assert.Contains(t, reply, "Above high water mark")

	reply = bot.respond(context.Background(), command("/level 23002"))
	assert.Equal(t, "No readings stored for Laune yet.", reply)
}

func TestBotLevelFallsBackToFullSeries(t *testing.T) {
	bot, repo := newTestBot(t, flesk)
	store(t, repo, flesk, 90*24*time.Hour, "0.65")

	reply := bot.respond(context.Background(), command("/level"))
	assert.Contains(t, reply, "Water Level: 0.65 m")
	assert.Contains(t, reply, "Below low water mark")
}

func TestBotLevelRequiresKnownStation(t *testing.T) {
	bot, _ := newTestBot(t, flesk, laune)

	assert.Contains(t, bot.respond(context.Background(), command("/level")), "Please specify a station")
	assert.Contains(t, bot.respond(context.Background(), command("/level Shannon")), "No station 'Shannon'")
}

func TestBotHistory(t *testing.T) {
	bot, repo := newTestBot(t, flesk)
	store(t, repo, flesk, 48*time.Hour, "2.00")
	for i := 0; i < 16; i++ {
		store(t, repo, flesk, time.Duration(i)*time.Hour, fmt.Sprintf("1.%02d", i))
	}

	reply := bot.respond(context.Background(), command("/history Flesk"))
	lines := strings.Split(reply, "\n")
	assert.Equal(t, "📈 Flesk, last 24 hours (16 readings)", lines[0])
	assert.Equal(t, "Min 1.00 m, max 1.15 m", lines[1])
	assert.Len(t, lines, 15)
	assert.Equal(t, "01-01 12:00  1.00 m", lines[len(lines)-1])
}

func TestBotHistoryEmpty(t *testing.T) {
	bot, _ := newTestBot(t, flesk)
	assert.Equal(t, "No readings for Flesk in the last 24 hours.", bot.respond(context.Background(), command("/history")))
}

func TestBotUnknownInput(t *testing.T) {
	bot, _ := newTestBot(t, flesk)
	assert.Contains(t, bot.respond(context.Background(), command("/rivers")), "Unknown command")
	assert.Contains(t, bot.respond(context.Background(), &tgbotapi.Message{Text: "hello"}), "I don't understand")
}

type fixedInterpreter struct {
	resp *openai.AgentResponse
}

func (f fixedInterpreter) InterpretUserQuery(context.Context, string, []string) (*openai.AgentResponse, error) {
	return f.resp, nil
}

func TestBotFreeTextUsesInterpreter(t *testing.T) {
	bot, repo := newTestBot(t, flesk)
	store(t, repo, flesk, 0, "1.22")
	bot.useCase.SetInterpreter(fixedInterpreter{resp: &openai.AgentResponse{
		CommandName: openai.CommandStationLevel,
		StationName: "Flesk",
	}})

	reply := bot.respond(context.Background(), &tgbotapi.Message{Text: "is the flesk up?"})
	assert.Contains(t, reply, "Water Level: 1.22 m")
}
