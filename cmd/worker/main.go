package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/hireflow/internal/config"
	"github.com/ignite/hireflow/internal/mailer"
	"github.com/ignite/hireflow/internal/pipeline"
	"github.com/ignite/hireflow/internal/stagemail"
	"github.com/ignite/hireflow/internal/template"
	"github.com/ignite/hireflow/internal/tracking"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	defer db.Close()

	var transport mailer.Transport
	if cfg.SES.Enabled {
		transport, err = mailer.NewSESTransport(context.Background(), cfg.SES)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
	} else {
		log.Println("SES disabled, using log transport")
		transport = mailer.LogTransport{}
	}

	store := stagemail.NewStore(db)
	candidates := pipeline.NewStore(db)
	codec := tracking.NewCodec(cfg.Tracking.SigningKey)
	injector := tracking.NewInjector(codec, cfg.Tracking.BaseURL)

	worker := stagemail.NewDeliveryWorker(store, candidates, transport,
		template.NewLayoutEngine(), injector,
		cfg.SES.FromName, cfg.SES.FromEmail, cfg.SES.ReplyTo,
		cfg.Worker.PollInterval(), cfg.Worker.NumWorkers)
	worker.Start()

	var scheduler *stagemail.ReminderScheduler
	if cfg.Reminders.Enabled {
		scheduler = stagemail.NewReminderScheduler(store, candidates, transport,
			cfg.SES.FromName, cfg.SES.FromEmail, cfg.Reminders.PollInterval())
		scheduler.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	worker.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}
}
