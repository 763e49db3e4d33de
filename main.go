package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"homebid/internal/api"
	"homebid/internal/cache"
	"homebid/internal/config"
	"homebid/internal/db"
	"homebid/internal/email"
	"homebid/internal/notify"
	"homebid/internal/payments"
	"homebid/internal/realtime"
	"homebid/internal/scheduler"
	"homebid/internal/services"
	"homebid/internal/tasks"

	"github.com/hibiken/asynq"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (scheduler + notification workers), 'all' (default)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		cancelIndexes()
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIndexes()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	// Initialize Email Sender
	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg)
	} else if cfg.SmtpHost != "" {
		primaryEmailSender = email.NewSMTPSender(cfg)
	} else {
		log.Println("SMTP_HOST not set: Using logging email sender.")
		primaryEmailSender = &email.LoggingSender{}
	}
	finalEmailSender := email.Sender(email.NewCompositeEmailSender(primaryEmailSender))

	// Realtime hub: the event bus the services publish through.
	hub := realtime.NewHub()
	go hub.Run()

	// Notification dispatch through asynq.
	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	dispatcher := notify.NewQueueDispatcher(taskClient)

	// Service graph. The scheduler depends on the deadline service and vice
	// versa, so the scheduler is bound after construction.
	listingService := services.NewListingService(mongoDb, cfg)
	userService := services.NewUserService(mongoDb)
	deadlineService := services.NewDeadlineService(mongoDb, listingService, nil)
	bidService := services.NewBidService(mongoDb, cfg, listingService, userService, deadlineService, hub)
	provider := payments.NewClient(cfg)
	paymentService := services.NewPaymentService(mongoDb, cfg, provider, bidService)
	resolutionService := services.NewResolutionService(mongoDb, cfg, bidService, paymentService, listingService, userService, dispatcher, hub)

	deadlineScheduler := scheduler.New(cfg, deadlineService, resolutionService)
	deadlineService.SetScheduler(deadlineScheduler)

	// Task Processor for the notification workers
	taskProcessor := tasks.NewTaskProcessor(cfg, finalEmailSender, notify.LoggingSMSSender{})

	// WaitGroup for managing goroutines
	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	// Start Service API (always runs)
	serviceRouter := api.SetupServiceRouter(cfg, redisClient, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	schedulerRunning := false

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		mainApiRouter := api.SetupRouter(cfg, api.Deps{
			ListingService:  listingService,
			UserService:     userService,
			DeadlineService: deadlineService,
			BidService:      bidService,
			PaymentService:  paymentService,
			Hub:             hub,
		})
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting deadline scheduler and notification worker...")
		startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
		if err := deadlineScheduler.Start(startCtx); err != nil {
			cancelStart()
			log.Fatalf("Failed to start deadline scheduler: %v", err)
		}
		cancelStart()
		schedulerRunning = true

		backgroundTaskSrv = tasks.SetupServer(redisClient)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := backgroundTaskSrv.Run(tasks.NewMux(taskProcessor)); err != nil {
				log.Fatalf("Background task server error: %v", err)
			}
			fmt.Println("Background task server stopped.")
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}

	if schedulerRunning {
		fmt.Println("Shutting down deadline scheduler...")
		deadlineScheduler.Shutdown()
	}
	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}
	hub.Shutdown()

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}
