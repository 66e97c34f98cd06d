package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/abelzeko/river-levels/internal/api"
	"github.com/abelzeko/river-levels/internal/config"
	"github.com/abelzeko/river-levels/internal/integration/openai"
	"github.com/abelzeko/river-levels/internal/repository"
	"github.com/abelzeko/river-levels/internal/usecases"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting River Levels Bot...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.TelegramBotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize repository
	repo, err := repository.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// The bot only reads the series, ingestion runs in the scraper
	useCase := usecases.NewGaugeUseCase(repo, nil, cfg.Stations, nil, nil)
	useCase.Window = cfg.BackfillWindow

	if cfg.OpenAIAPIKey != "" {
		openAIService, err := openai.NewOpenAIService(cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to initialize OpenAI service: %v", err)
		}
		useCase.SetInterpreter(openAIService)
	} else {
		log.Println("OPENAI_API_KEY is not set, free-text queries disabled")
	}

	telegramBot, err := api.NewTelegramBot(cfg.TelegramBotToken, useCase)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot: %v", err)
	}

	// Start the bot
	telegramBot.Start(ctx)
}
