package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veloramed/telehealth-backend/api/routes"
	"github.com/veloramed/telehealth-backend/internal/approvals"
	checkoutsvc "github.com/veloramed/telehealth-backend/internal/checkout"
	orderssvc "github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/internal/paymentmethods"
	paymentssvc "github.com/veloramed/telehealth-backend/internal/payments"
	"github.com/veloramed/telehealth-backend/internal/recommendations"
	geniewebhook "github.com/veloramed/telehealth-backend/internal/webhooks"
	"github.com/veloramed/telehealth-backend/pkg/clinical"
	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/db"
	"github.com/veloramed/telehealth-backend/pkg/genie"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/metrics"
	"github.com/veloramed/telehealth-backend/pkg/migrate"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
	"github.com/veloramed/telehealth-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	genieClient, err := genie.NewClient(context.Background(), cfg.Genie, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create genie client", err)
		os.Exit(1)
	}

	var clinicalClient *clinical.Client
	if cfg.Clinical.BaseURL != "" {
		clinicalClient, err = clinical.NewClient(cfg.Clinical, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create clinical client", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "clinical base url not set, review submissions disabled")
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	sessionRepo := checkoutsvc.NewRepository(dbClient.DB())
	ordersRepo := orderssvc.NewRepository(dbClient.DB())
	refsRepo := paymentssvc.NewRefRepository(dbClient.DB())
	methodsRepo := paymentmethods.NewRepository(dbClient.DB())

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Repo:   sessionRepo,
		Tx:     dbClient,
		Outbox: outboxService,
		Logger: logg,
		Config: cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	methodsService, err := paymentmethods.NewService(paymentmethods.ServiceParams{
		Repo:    methodsRepo,
		Gateway: genieClient,
		Tx:      dbClient,
		Outbox:  outboxService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment method service", err)
		os.Exit(1)
	}

	paymentsParams := paymentssvc.ServiceParams{
		Orders:         ordersRepo,
		Refs:           refsRepo,
		Tokens:         methodsService,
		Gateway:        genieClient,
		Tx:             dbClient,
		Outbox:         outboxService,
		Logger:         logg,
		Checkout:       cfg.Checkout,
		GatewayTimeout: cfg.Genie.Timeout,
	}
	if clinicalClient != nil {
		paymentsParams.Clinical = clinicalClient
	}
	paymentsService, err := paymentssvc.NewService(paymentsParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment orchestrator", err)
		os.Exit(1)
	}

	ordersService, err := orderssvc.NewService(orderssvc.ServiceParams{
		Repo:   ordersRepo,
		Tx:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	webhookService, err := geniewebhook.NewService(geniewebhook.ServiceParams{
		Orders:   ordersRepo,
		Refs:     refsRepo,
		Sessions: sessionRepo,
		Payments: paymentsService,
		Methods:  methodsService,
		Guard:    geniewebhook.NewGuard(redisClient, 0),
		Tx:       dbClient,
		Outbox:   outboxService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dispatcher", err)
		os.Exit(1)
	}

	approvalService, err := approvals.NewService(approvals.ServiceParams{
		Orders:   ordersRepo,
		Payments: paymentsService,
		Tx:       dbClient,
		Outbox:   outboxService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create approval service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.Deps{
		Config:          cfg,
		Logger:          logg,
		DB:              dbClient,
		Redis:           redisClient,
		Genie:           genieClient,
		Metrics:         metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Checkout:        checkoutService,
		Payments:        paymentsService,
		PaymentMethods:  methodsService,
		Orders:          ordersService,
		GenieWebhooks:   webhookService,
		Approvals:       approvalService,
		Recommendations: recommendations.NewRegistry(recommendations.DefaultFuncs()),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
