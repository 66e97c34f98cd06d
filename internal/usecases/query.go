package usecases

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/integration/openai"
)

const (
	// HistoryPeriod is the span answered by history lookups
	HistoryPeriod  = 24 * time.Hour
	historyEntries = 12
)

// QueryInterpreter turns a free-text question into a structured command
type QueryInterpreter interface {
	InterpretUserQuery(ctx context.Context, userMessage string, stations []string) (*openai.AgentResponse, error)
}

// SetInterpreter enables free-text queries
func (uc *GaugeUseCase) SetInterpreter(interpreter QueryInterpreter) {
	uc.interpreter = interpreter
}

// CanInterpret reports whether free-text queries are enabled
func (uc *GaugeUseCase) CanInterpret() bool {
	return uc.interpreter != nil
}

// StationLevelReply answers a latest level lookup for display
func (uc *GaugeUseCase) StationLevelReply(ctx context.Context, station entities.Station) string {
	latest, found, err := uc.LatestReading(ctx, station)
	if err != nil {
		log.Printf("Error fetching readings for %s: %v", station.ID, err)
		return "Error fetching river data. Please try again later."
	}
	if !found {
		return fmt.Sprintf("No readings stored for %s yet.", station.Label())
	}
	return uc.FormatStationInfo(station, latest)
}

// StationHistoryReply answers a history lookup for display
func (uc *GaugeUseCase) StationHistoryReply(ctx context.Context, station entities.Station) string {
	readings, err := uc.RecentReadings(ctx, station, HistoryPeriod)
	if err != nil {
		log.Printf("Error fetching readings for %s: %v", station.ID, err)
		return "Error fetching river data. Please try again later."
	}
	if len(readings) == 0 {
		return fmt.Sprintf("No readings for %s in the last 24 hours.", station.Label())
	}
	return FormatHistory(station, readings)
}

// FormatHistory summarizes a series and lists its newest readings
func FormatHistory(station entities.Station, readings []entities.Reading) string {
	lowest, highest := readings[0].Level, readings[0].Level
	for _, r := range readings[1:] {
		if r.Level.LessThan(lowest) {
			lowest = r.Level
		}
		if r.Level.GreaterThan(highest) {
			highest = r.Level
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 %s, last 24 hours (%d readings)\n", station.Label(), len(readings)))
	b.WriteString(fmt.Sprintf("Min %s m, max %s m\n\n", lowest.StringFixed(2), highest.StringFixed(2)))

	shown := readings
	if len(shown) > historyEntries {
		shown = shown[len(shown)-historyEntries:]
	}
	for _, r := range shown {
		b.WriteString(fmt.Sprintf("%s  %s m\n", r.Timestamp.Format("01-02 15:04"), r.Level.StringFixed(2)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string.
func (uc *GaugeUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	if !uc.CanInterpret() {
		return "I don't understand. Use /help to see available commands.", nil
	}
	log.Printf("Interpreting natural language query: %s", query)

	names := make([]string, len(uc.stations))
	for i, s := range uc.stations {
		names[i] = s.Label()
	}

	agentResp, err := uc.interpreter.InterpretUserQuery(ctx, query, names)
	if err != nil {
		log.Printf("Error interpreting user query via OpenAI: %v", err)
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	log.Printf("Agent response: Command='%s', Station='%s', Message='%s'",
		agentResp.CommandName, agentResp.StationName, agentResp.UserMessage)

	switch agentResp.CommandName {
	case openai.CommandStationLevel, openai.CommandStationHistory:
		if agentResp.StationName == "" {
			return agentResp.UserMessage, nil
		}
		station, ok := uc.FindStation(agentResp.StationName)
		if !ok {
			return withPrefix(agentResp.UserMessage,
				fmt.Sprintf("However, I couldn't find station '%s'. Use /stations to see the monitored ones.", agentResp.StationName)), nil
		}
		if agentResp.CommandName == openai.CommandStationHistory {
			return withPrefix(agentResp.UserMessage, uc.StationHistoryReply(ctx, station)), nil
		}
		return withPrefix(agentResp.UserMessage, uc.StationLevelReply(ctx, station)), nil
	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil
	default:
		log.Printf("Agent returned unexpected command: %s", agentResp.CommandName)
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}

func withPrefix(prefix, text string) string {
	if prefix == "" {
		return text
	}
	return prefix + "\n\n" + text
}
