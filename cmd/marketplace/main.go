package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/rebooked/marketplace/app/controllers"
	"github.com/rebooked/marketplace/app/repository"
	apiv1 "github.com/rebooked/marketplace/internal/api/v1"
	"github.com/rebooked/marketplace/internal/pkg/archive"
	"github.com/rebooked/marketplace/internal/pkg/cache"
	"github.com/rebooked/marketplace/internal/pkg/commitment"
	"github.com/rebooked/marketplace/internal/pkg/courier"
	"github.com/rebooked/marketplace/internal/pkg/database"
	"github.com/rebooked/marketplace/internal/pkg/env"
	"github.com/rebooked/marketplace/internal/pkg/jobqueue"
	"github.com/rebooked/marketplace/internal/pkg/mail"
	"github.com/rebooked/marketplace/internal/pkg/metrics/counter"
	"github.com/rebooked/marketplace/internal/pkg/middleware"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/payout"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
	"github.com/rebooked/marketplace/internal/pkg/policy"
	"github.com/rebooked/marketplace/internal/pkg/purchase"
	"github.com/rebooked/marketplace/internal/pkg/router"
	"github.com/rebooked/marketplace/internal/pkg/security"
	"github.com/rebooked/marketplace/internal/pkg/webhook"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		manager.Stop()
		_ = app.ShutdownWithTimeout(30 * time.Second)
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	pol, err := policy.Load()
	if err != nil {
		log.Fatalf("invalid business policy: %v", err)
	}
	cipher, err := security.NewCipherFromEnv()
	if err != nil {
		log.Fatalf("banking cipher: %v", err)
	}
	renderer, err := mail.NewTemplateRenderer()
	if err != nil {
		log.Fatalf("mail templates: %v", err)
	}
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		log.Fatalf("archive config: %v", err)
	}
	archiver, err := archive.New(context.Background(), archiveCfg)
	if err != nil {
		log.Fatalf("archive: %v", err)
	}

	rdb := cache.GetClient()
	repository.InitializeFactory(database.GetDB(), rdb)
	repos := repository.GetGlobalRepositories()

	mailSendTimeout := time.Duration(env.GetEnvInt("MAIL_SEND_TIMEOUT_SECONDS", 10)) * time.Second
	dispatcher := notify.NewDispatcher(
		mail.NewSMTPSenderFromEnv(),
		renderer,
		repos,
		notify.MultiSink{notify.LogSink{}, notify.NewRedisSink(rdb)},
		notify.Config{OpsEmail: pol.OpsEmail, SendTimeout: mailSendTimeout},
	)
	payments := paystack.NewClientFromEnv()
	queue := jobqueue.NewQueue(rdb, env.GetEnvInt("JOBQUEUE_WORKERS", 4))

	processor := purchase.NewProcessor(repos, dispatcher, cipher, pol)

	deps := commitment.Deps{
		Repos:    repos,
		Notifier: dispatcher,
		Courier:  courier.NewClientFromEnv(),
		Refunds:  queue,
		Payments: payments,
		Cipher:   cipher,
		Policy:   pol,
	}
	// A nil *RemoteCommitter must not become a non-nil interface.
	if remote := commitment.NewRemoteCommitterFromEnv(); remote != nil {
		deps.Primary = remote
	}
	commitments := commitment.NewService(deps)

	payouts := payout.NewService(payout.Deps{
		Repos:     repos,
		Provider:  payments,
		Cipher:    cipher,
		Locker:    cache.NewLocker(rdb),
		Archiver:  archiver,
		Escalator: dispatcher,
		Policy:    pol,
		DevMode:   env.IsDev(),
	})

	ingestor := webhook.NewIngestor(repos, processor, dispatcher, archiver, webhook.Config{
		Secret:            payments.SecretKey,
		AllowTestPayloads: !env.IsProd(),
	})

	manager := jobqueue.NewManager(queue, jobqueue.ConfigFromEnv(pol.MailMaxRetries, mailSendTimeout), commitments, commitments, dispatcher)

	app := fiber.New(fiber.Config{
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	adminUsers := middleware.AdminUsers()

	// fiber metrics
	if len(adminUsers) > 0 {
		app.Get("/metrics", basicauth.New(basicauth.Config{Users: adminUsers}), monitor.New())
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// SWAGGER / OPENAPI
	if path := apiv1.FindDocument(); path == "" {
		log.Warn("[Startup] OpenAPI document not found, /docs/api disabled")
	} else if _, err := apiv1.Load(context.Background(), path); err != nil {
		log.Warnf("[Startup] OpenAPI document invalid, /docs/api disabled: %v", err)
	} else {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: path,
			Path:     "v1",
		}))
	}

	purchaseOutcomes := counter.New(rdb, counter.PurchaseOutcomesKey)
	webhookOutcomes := counter.New(rdb, counter.WebhookOutcomesKey)

	// ROUTER
	router.InstallRouter(app, router.Options{
		Purchase: controllers.NewPurchaseController(processor).WithOutcomeCounter(purchaseOutcomes),
		Webhook:  controllers.NewWebhookController(ingestor).WithOutcomeCounter(webhookOutcomes),
		Order:    controllers.NewOrderController(commitments),
		Payout:   controllers.NewPayoutController(payouts),
		AdminQueue: controllers.NewAdminQueueController(repos.Queue, repos.MailQueue, queue).
			WithOutcomes(purchaseOutcomes, webhookOutcomes),
		LimiterStorage: redisstorage.New(redisstorage.Config{
			Host:     cache.Host(),
			Port:     cache.Port(),
			Password: cache.Password(),
			Database: 2, // cache uses DB 0
		}),
		RateLimit:    env.GetEnvInt("API_RATE_LIMIT_PER_MINUTE", 60),
		AdminUsers:   adminUsers,
		ServiceToken: env.GetEnv("COURIER_WEBHOOK_TOKEN", ""),
	})

	return app, manager
}
