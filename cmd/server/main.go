package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invoice-service/config"
	"invoice-service/internal/api"
	"invoice-service/internal/broker"
	"invoice-service/internal/email"
	"invoice-service/internal/invoice"
	"invoice-service/internal/redisclient"
	"invoice-service/internal/service"
	"invoice-service/internal/storage"
	"invoice-service/internal/store"
	"invoice-service/internal/util"
	"invoice-service/internal/webhook"
	"invoice-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "invoice-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting invoice service")

	tp, err := util.InitTracer("invoice-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()
	if err := db.EnsureSchema(startupCtx); err != nil {
		logger.Fatal("Failed to ensure schema", zap.Error(err))
	}
	logger.Info("Database connected")

	var guard service.DeliveryGuard
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, email dedupe disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		guard = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBillingEvents)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicBillingEvents))

	docs, err := newDocumentStore(startupCtx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize document storage", zap.Error(err))
	}

	sender := email.NewCompositeEmailSender(email.NewSMTPSender(cfg.Email))
	if cfg.Email.LogFile != "" {
		fileSender, err := email.NewFileEmailSender(cfg.Email.LogFile)
		if err != nil {
			logger.Fatal("Failed to open email log file", zap.Error(err))
		}
		sender.AddSender(fileSender)
	}

	policy := invoice.TaxPolicy{
		Enabled:          cfg.Tax.Enabled,
		RatePercent:      decimal.NewFromFloat(cfg.Tax.RatePercent),
		PricesIncludeTax: cfg.Tax.PricesIncludeTax,
	}
	issuer := invoice.Issuer{
		Name:         cfg.Issuer.Name,
		AddressLines: cfg.Issuer.AddressLines,
		Email:        cfg.Issuer.Email,
		Phone:        cfg.Issuer.Phone,
		Registration: cfg.Issuer.Registration,
	}

	dispatcher := service.NewDispatcher(docs, sender, guard, cfg.Email.FromAddress, cfg.Issuer.Name, cfg.Email.DedupeTTL)
	invoiceService := service.NewInvoiceService(invoice.NewRenderer(), policy, issuer, cfg.Invoice.DefaultCurrency, dispatcher, eventPublisher)
	reconciler := service.NewReconciler(db, service.NewProcessorClient(cfg.Webhook.ProcessorAPIURL, cfg.Webhook.ProcessorAPIKey))
	pipeline := service.NewPipeline(
		webhook.NewVerifier(cfg.Webhook.SigningSecret, cfg.Webhook.Tolerance),
		service.NewEventLedger(db),
		reconciler,
		invoiceService,
		eventPublisher,
	)

	if cfg.Webhook.SigningSecret == "" {
		logger.Warn("WEBHOOK_SIGNING_SECRET is empty, every payment event will be rejected")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	deadLetters := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDeadLetter)
	defer deadLetters.Close()

	requestConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicInvoiceRequests, cfg.Kafka.ConsumerGroup).
		WithDeadLetter(deadLetters)
	requestWorker := worker.NewInvoiceRequestWorker(requestConsumer, invoiceService)
	go func() {
		if err := requestWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Invoice request worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	limiter := api.NewRateLimiter(cfg.Invoice.RateLimitRPS, cfg.Invoice.RateLimitBurst)
	handler := api.NewHandler(pipeline, invoiceService, db, cfg.Invoice.APISecret, limiter)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := requestWorker.Stop(); err != nil {
		logger.Error("Error stopping invoice request worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newDocumentStore(ctx context.Context, cfg config.StorageConfig) (storage.DocumentStore, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Store(ctx, cfg)
	case "local", "":
		return storage.NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
