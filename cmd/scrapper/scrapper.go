package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/abelzeko/river-levels/internal/api"
	"github.com/abelzeko/river-levels/internal/config"
	"github.com/abelzeko/river-levels/internal/integration"
	"github.com/abelzeko/river-levels/internal/publish"
	"github.com/abelzeko/river-levels/internal/repository"
	"github.com/abelzeko/river-levels/internal/usecases"
	"github.com/robfig/cron/v3"
)

const (
	liveEvent     = `{"current":{}}`
	backfillEvent = `{"past":{}}`
)

func main() {
	event := flag.String("event", "", `handle a single event payload, e.g. '{"past":{}}', and exit`)
	flag.Parse()

	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting River Levels Scraper...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize repository
	repo, err := repository.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	useCase, err := newGaugeUseCase(cfg, repo)
	if err != nil {
		log.Fatalf("Failed to initialize use case: %v", err)
	}

	if *event != "" {
		ingested, err := useCase.HandleEvent(ctx, []byte(*event))
		if err != nil {
			log.Fatalf("Invocation failed: %v", err)
		}
		log.Printf("Invocation finished, new data: %t", ingested)
		return
	}

	// Run the live poll immediately on startup
	if _, err := useCase.HandleEvent(ctx, []byte(liveEvent)); err != nil {
		log.Printf("Initial live poll failed: %v", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.LiveSchedule, func() {
		if _, err := useCase.HandleEvent(ctx, []byte(liveEvent)); err != nil {
			log.Printf("Scheduled live poll failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to set up live cron job: %v", err)
	}
	if _, err := c.AddFunc(cfg.BackfillSchedule, func() {
		if _, err := useCase.HandleEvent(ctx, []byte(backfillEvent)); err != nil {
			log.Printf("Scheduled backfill failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to set up backfill cron job: %v", err)
	}

	log.Printf("Scraper scheduled: live %q, backfill %q", cfg.LiveSchedule, cfg.BackfillSchedule)
	c.Start()

	if cfg.TriggerAddr != "" {
		server := api.NewTriggerServer(cfg.TriggerAddr, useCase)
		go func() {
			if err := server.ListenAndServe(ctx); err != nil {
				log.Printf("Trigger server stopped: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down, waiting for running jobs")
	<-c.Stop().Done()
}

// newGaugeUseCase wires the ingestion pipeline and its optional collaborators
func newGaugeUseCase(cfg *config.Config, repo repository.ReadingRepository) (*usecases.GaugeUseCase, error) {
	poller := integration.NewLivePoller(cfg.LiveFeedURL, cfg.HTTPTimeout)
	importer := integration.NewArchiveImporter(cfg.HTTPTimeout, cfg.ArchiveLocation)

	reconciler := usecases.NewReconciler(repo, poller, importer)
	reconciler.BackfillCount = cfg.BackfillCount
	reconciler.BackfillWindow = cfg.BackfillWindow

	var publisher usecases.Publisher
	if cfg.Publish.Host != "" {
		scp, err := publish.NewSCPPublisher(cfg.Publish)
		if err != nil {
			return nil, err
		}
		publisher = scp
	} else {
		log.Println("PUBLISH_HOST is not set, website publishing disabled")
	}

	var notifier usecases.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		telegram, err := api.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		notifier = telegram
	}

	useCase := usecases.NewGaugeUseCase(repo, reconciler, cfg.Stations, publisher, notifier)
	useCase.Window = cfg.BackfillWindow
	return useCase, nil
}
