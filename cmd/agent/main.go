package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/inbox"
	"github.com/courierclub/courier/internal/kv"
	"github.com/courierclub/courier/internal/registry"
	"github.com/courierclub/courier/internal/resilience"
	"github.com/courierclub/courier/internal/sched"
	"github.com/courierclub/courier/internal/verification"
	"github.com/courierclub/courier/pkg"
	"github.com/courierclub/courier/pkg/event"
)

// courier-agent is a headless customer device: it keeps a verification
// registry and the notification badge in sync against the backend, replaying
// the durable event stream on startup and mirroring decisions made on
// sibling devices. It stands in for the customer app shell in development.

const (
	appNamespace = "COURIER"
	appName      = "courier-agent"
	appVersion   = "0.1.0"
)

const verificationsStream = "VERIFICATION_EVENTS"

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

	customerID, err := uuid.Parse(config.GetStringOrDef("agent.customer_id", verification.DemoCustomerID.String()))
	if err != nil {
		log.Fatalf("%s(%s) invalid agent.customer_id: %v", appName, appVersion, err)
	}
	backendURL := config.GetStringOrDef("services.backend.url", "http://localhost:8080")
	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	store := openStore(config, customerID, logger)

	client := resilience.NewClient(resilience.ClientConfig{
		Headers: map[string]string{"X-Customer-ID": customerID.String()},
	}, logger)

	pub, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
	}
	defer pub.Close()

	sub, err := pkg.NewNATSSubscriber(natsURL, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS subscriber: %v", appName, appVersion, err)
	}
	defer sub.Close()

	reg := registry.New(registry.Deps{
		Logger:    logger,
		Store:     store,
		Backend:   registry.NewHTTPBackend(backendURL, client),
		Publisher: pub,
	})
	if err := reg.Load(ctx); err != nil {
		log.Fatalf("%s(%s) cannot load registry state: %v", appName, appVersion, err)
	}

	lifecycle := registry.NewSubscriber(reg, customerID)
	replayFromStream(ctx, config, lifecycle, reg, natsURL, logger)

	if err := lifecycle.Start(ctx, sub); err != nil {
		log.Fatalf("%s(%s) cannot subscribe to verification events: %v", appName, appVersion, err)
	}
	if err := reg.SubscribeTabDecisions(ctx, sub); err != nil {
		log.Fatalf("%s(%s) cannot subscribe to tab decisions: %v", appName, appVersion, err)
	}

	counter := inbox.NewCounter(inbox.NewHTTPCount(backendURL, client), store, logger).
		WithMinFetchGap(inbox.CustomerMinFetchGap)
	counter.Start(inbox.CustomerPollInterval)
	defer counter.Stop()

	report := sched.Every(15*time.Second, func(ctx context.Context) {
		now := time.Now()
		pending := reg.Pending(now)
		count, known := counter.Count()
		logger.Info("device state",
			"pending_verifications", len(pending),
			"unread_known", known,
			"unread_count", count,
		)
		if next := reg.Next(now); next != nil {
			logger.Info("awaiting customer decision",
				"verification_id", next.ID.String(),
				"order_id", next.OrderID.String(),
				"price_change", next.PriceChange,
				"expires_at", next.ExpiresAt.Format(time.RFC3339),
			)
		}
	})
	defer report.Stop()

	logger.Infof("Starting %s(%s) for customer %s", appName, appVersion, customerID)
	<-ctx.Done()
	logger.Infof("%s(%s) stopped", appName, appVersion)
}

// openStore binds the durable device store. Without a configured redis the
// agent falls back to memory, which loses offline decisions on restart.
func openStore(config *apt.Config, customerID uuid.UUID, logger apt.Logger) kv.Store {
	addr, _ := config.GetString("redis.addr")
	if addr == "" {
		logger.Info("no redis.addr configured, device state is in-memory only")
		return kv.NewMemory()
	}

	password, _ := config.GetString("redis.password")
	db, _ := strconv.Atoi(config.GetStringOrDef("redis.db", "0"))

	store, err := kv.NewRedis(addr, password, db, "courier:"+customerID.String())
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to redis: %v", appName, appVersion, err)
	}
	return store
}

// replayFromStream catches up on lifecycle events missed while the agent was
// down. A missing JetStream setup is not fatal: a plain refresh restores the
// pending list, only cross-gap decision mirroring is lost.
func replayFromStream(ctx context.Context, config *apt.Config, lifecycle *registry.Subscriber, reg *registry.Registry, natsURL string, logger apt.Logger) {
	deviceID := config.GetStringOrDef("agent.device_id", reg.TabID())

	stream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
		URL:          natsURL,
		StreamName:   verificationsStream,
		Topic:        event.VerificationsTopic,
		ConsumerName: "agent-" + deviceID,
	})
	if err != nil {
		logger.Info("event stream unavailable, refreshing from backend only", "error", err)
		if err := reg.Refresh(ctx); err != nil {
			logger.Error("startup refresh failed", "error", err)
		}
		return
	}
	defer stream.Close()

	if err := lifecycle.Replay(ctx, stream, 10000); err != nil {
		logger.Error("event replay failed", "error", err)
	}
}
