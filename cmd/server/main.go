package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead-nurture/internal/api"
	"lead-nurture/internal/automation"
	"lead-nurture/internal/config"
	"lead-nurture/internal/database"
	"lead-nurture/internal/notify"
	"lead-nurture/internal/store"
	"lead-nurture/internal/webhook"
	"lead-nurture/internal/ws"
	"lead-nurture/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	sqlxDB, err := database.SQLX(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open sqlx handle")
	}

	rules := store.NewRuleStore(db)
	leads := store.NewLeadStore(db)
	ledger := store.NewLedger(db)
	activities := store.NewActivityLog(db)
	directory := store.NewDirectory(db, cfg.AdminCacheTTL)
	followUps := store.NewFollowUps(sqlxDB)

	hub := ws.NewHub()
	publishers := notify.ExecutionFanOut{hub}
	if cfg.RabbitMQURL != "" {
		rabbit, err := notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer rabbit.Close()
		publishers = append(notify.ExecutionFanOut{rabbit}, publishers...)
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, execution events will only reach WebSocket clients")
	}
	notifier := notify.NewReplyNotifier(cfg.ReplyWebhookURL, 10*time.Second)

	engine := automation.NewEngine(automation.Deps{
		Rules:       rules,
		Leads:       leads,
		Ledger:      ledger,
		Activities:  activities,
		Directory:   directory,
		FollowUps:   followUps,
		Publisher:   publishers,
		RuleTimeout: cfg.RuleTimeout,
	})
	scheduler := automation.NewScheduler(engine, automation.SchedulerOptions{
		AutomationInterval: cfg.AutomationInterval,
		FollowUpInterval:   cfg.FollowUpInterval,
		CycleTimeout:       cfg.CycleTimeout,
	})
	replies := automation.NewReplies(ledger, rules, activities, directory, notifier)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Handlers{
		Automation: api.NewAutomationHandler(rules, ledger, replies, scheduler),
		Dashboard:  api.NewDashboardHandler(leads, followUps, activities),
		Leads:      api.NewLeadHandler(leads),
		Webhook:    webhook.NewHandler(cfg.VerifyToken, leads, ledger, replies),
		Events:     hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.SchedulerEnabled {
		if err := scheduler.Start(gctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	} else {
		log.Warn().Msg("Scheduler disabled, automations run only on demand")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		scheduler.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server stopped")
}
