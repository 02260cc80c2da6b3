package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mohans/remindx"
	"github.com/mohans/remindx/config"
	"github.com/mohans/remindx/journal"
	"github.com/mohans/remindx/logging"
	"github.com/mohans/remindx/notify"
	"github.com/mohans/remindx/reminder"
	"github.com/mohans/remindx/sheets"
	"github.com/mohans/remindx/tasks"
	"github.com/mohans/remindx/telegram"
)

var version = "dev"

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	once := flag.Bool("once", false, "run a single reminder pass, print its report and exit")
	sync := flag.Bool("sync", false, "ask the sheet backend to sync tasks before the first pass")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Options{
		System:   "remindx",
		File:     cfg.LogFile,
		Level:    cfg.LogLevel,
		Location: cfg.Location,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once, *sync); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("remindx: %v", err)
	}
}

func run(ctx context.Context, cfg config.Runtime, logger *logrus.Logger, once, sync bool) error {
	store := sheets.NewClient(sheets.Options{
		BaseURL:  cfg.StoreURL,
		Timeout:  cfg.StoreTimeout,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})
	repo := tasks.NewRepository(store, tasks.Options{Location: cfg.Location, Logger: logger})
	members := notify.NewDirectory(store, cfg.AdminChatIDs, logger)
	templates := notify.NewTemplates(store, nil, logger)
	bot := telegram.NewClient(telegram.Options{Token: cfg.BotToken, Rate: cfg.SendRate, Logger: logger})
	engine := reminder.NewEngine(repo, members, templates, bot, reminder.Options{
		EscalateToTeam: cfg.EscalateToTeam,
		Logger:         logger,
	})

	db, err := sql.Open("sqlite", cfg.JournalDSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()
	passes := journal.NewSQLStore(db)
	if err := passes.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}

	if sync && !store.SyncTasks(ctx) {
		logger.Warn("task sync failed; continuing with the current sheet")
	}

	redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	processor := remindx.NewProcessor(redis, passes, engine, remindx.ProcessorConfig{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
	})

	if once {
		rep, err := processor.RunNow(ctx, remindx.TriggerManual)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	if err := processor.Start(); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}
	defer processor.Shutdown()

	client := remindx.NewClient(redis, passes, remindx.ClientOptions{Logger: logger})
	defer client.Close()

	scheduler := remindx.NewScheduler(client, cfg.Location, logger)
	if err := scheduler.Add(cfg.ReminderCron, remindx.TriggerCron); err != nil {
		return err
	}
	if err := scheduler.Every(cfg.ReminderInterval); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	if _, err := client.EnqueuePass(ctx, remindx.TriggerStartup); err != nil {
		logger.Warnf("startup pass: %v", err)
	}

	hook := telegram.NewWebhook(telegram.WebhookOptions{
		Tasks:   repo,
		Members: members,
		Bot:     bot,
		Passes:  client,
		Journal: passes,
		Version: version,
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           hook.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
