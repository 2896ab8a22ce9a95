package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"

	"github.com/courierclub/courier/internal/mongo"
	"github.com/courierclub/courier/internal/notification"
	"github.com/courierclub/courier/internal/verification"
	"github.com/courierclub/courier/pkg"
)

const (
	appNamespace = "COURIER"
	appName      = "courier-backend"
	appVersion   = "0.1.0"
)

func main() {
	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	seedCtx, cancelSeeds := context.WithCancel(ctx)
	defer cancelSeeds()

	baseRepo := mongo.NewBaseRepo(config, logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	db := baseRepo.GetDatabase()
	if db == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}

	proposalRepo := mongo.NewProposalRepo(db)
	notificationRepo := mongo.NewNotificationRepo(db)
	riderNotificationRepo := mongo.NewRiderNotificationRepo(db)

	if err := baseRepo.EnsureIndexes(ctx, proposalRepo, notificationRepo, riderNotificationRepo); err != nil {
		log.Fatalf("%s(%s) cannot ensure indexes: %v", appName, appVersion, err)
	}

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	pub, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
	}

	publisherLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	}

	verificationHandler := verification.NewHandler(verification.HandlerDeps{
		ProposalRepo: proposalRepo,
		CustomerRepo: notificationRepo,
		RiderRepo:    riderNotificationRepo,
		Publisher:    pub,
	}, config, logger)

	notificationHandler := notification.NewHandler(notification.HandlerDeps{
		CustomerRepo: notificationRepo,
		RiderRepo:    riderNotificationRepo,
	}, config, logger)

	sweepInterval := time.Duration(0)
	if raw, _ := config.GetString("verification.sweep.interval"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			sweepInterval = parsed
		}
	}
	sweeper := verification.NewSweeper(proposalRepo, pub, sweepInterval, logger)

	purgeInterval := time.Duration(0)
	if raw, _ := config.GetString("notification.purge.interval"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			purgeInterval = parsed
		}
	}
	purger := notification.NewPurger(notificationRepo, riderNotificationRepo, purgeInterval, logger)

	// Setup demo seeding if enabled
	demoEnabled, _ := config.GetString("seeding.demo")
	var seedHooks apt.LifecycleHooks
	if demoEnabled == "true" {
		logger.Info("Demo seeding enabled for courier backend")
		demoRepos := verification.DemoRepos{
			Proposals: proposalRepo,
			Customers: notificationRepo,
			Riders:    riderNotificationRepo,
		}
		seedHooks = apt.LifecycleHooks{
			OnStart: verification.DemoSeedingFunc(seedCtx, demoRepos, db, logger),
			OnStop: func(context.Context) error {
				cancelSeeds()
				return nil
			},
		}
	}

	// CORS stays on: customer and rider tabs call this API from the browser.
	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: logger,
	})

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: baseRepo.Stop},
		apt.LifecycleHooks{OnStart: sweeper.Start, OnStop: sweeper.Stop},
		apt.LifecycleHooks{OnStart: purger.Start, OnStop: purger.Stop},
		publisherLifecycle,
	}
	if demoEnabled == "true" {
		lifecycles = append(lifecycles, seedHooks)
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", verificationHandler, notificationHandler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}
