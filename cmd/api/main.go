package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-checkout-api/internal/config"
	"github.com/flicky/go-checkout-api/internal/handler"
	"github.com/flicky/go-checkout-api/internal/metrics"
	"github.com/flicky/go-checkout-api/internal/middleware"
	"github.com/flicky/go-checkout-api/internal/notify"
	"github.com/flicky/go-checkout-api/internal/repository"
	"github.com/flicky/go-checkout-api/internal/service"
	"github.com/flicky/go-checkout-api/internal/worker"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis")

	m := metrics.New()

	// Notifications
	processor := worker.NewProcessor(worker.NewRedisStore(redisClient), log)
	notifs, err := setupNotifications(cfg, processor, log)
	if err != nil {
		log.Error("setup notifications", "error", err)
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(notifs.publisher, cfg.Notify.Workers, cfg.Notify.QueueSize, log, m)

	// Repositories
	tx := repository.NewTransactor(dbPool, cfg.DB.TxRetries)
	userRepo := repository.NewUserRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)
	paymentRepo := repository.NewPaymentRepository(dbPool)

	// Services
	authSvc := service.NewAuthService(userRepo, dispatcher, cfg.JWT.Secret, cfg.JWT.Expiration, log)
	productSvc := service.NewProductService(productRepo, redisClient, log)
	cartSvc := service.NewCartService(cartRepo, productRepo, userRepo, log)
	orderSvc := service.NewOrderService(service.OrderDeps{
		Tx:          tx,
		UserRepo:    userRepo,
		CartRepo:    cartRepo,
		ProductRepo: productRepo,
		OrderRepo:   orderRepo,
		Notifier:    dispatcher,
		Cache:       productSvc,
		Metrics:     m,
		Log:         log,
	})
	paymentSvc := service.NewPaymentService(service.PaymentDeps{
		Tx:          tx,
		OrderRepo:   orderRepo,
		PaymentRepo: paymentRepo,
		ProductRepo: productRepo,
		Carts:       cartSvc,
		Decider:     service.RandomOutcome{FailureRate: cfg.Payment.FailureRate},
		Notifier:    dispatcher,
		Cache:       productSvc,
		Metrics:     m,
		Log:         log,
	})

	// Handlers
	authH := handler.NewAuthHandler(authSvc, handler.SessionCookie{Name: cfg.JWT.CookieName, Secure: cfg.JWT.Secure}, log)
	productH := handler.NewProductHandler(productSvc, log)
	cartH := handler.NewCartHandler(cartSvc, log)
	orderH := handler.NewOrderHandler(orderSvc, log)
	paymentH := handler.NewPaymentHandler(paymentSvc, log)
	healthH := handler.NewHealthHandler(append([]handler.Check{
		{Name: "postgres", Ping: dbPool.Ping},
		{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}, notifs.checks...)...)

	authenticate := middleware.Authenticate(middleware.NewTokenResolver(cfg.JWT.Secret, cfg.JWT.CookieName))

	// Router
	router := gin.Default()
	router.Use(m.Middleware(), cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	auth := router.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)

	products := router.Group("/produtos")
	products.GET("", productH.List)
	products.GET("/:id", productH.GetByID)

	admin := products.Group("", authenticate, middleware.AdminOnly())
	admin.POST("", productH.Create)
	admin.PUT("/:id", productH.Update)
	admin.DELETE("/:id", productH.Delete)

	cart := router.Group("/carrinho", authenticate)
	cart.GET("", cartH.GetCart)
	cart.DELETE("", cartH.ClearCart)
	cart.POST("/itens", cartH.AddItem)
	cart.DELETE("/itens/:productId", cartH.RemoveItem)

	orders := router.Group("/pedido", authenticate)
	orders.POST("/checkout", orderH.Checkout)
	orders.GET("/usuario", orderH.ListOrders)
	orders.GET("/:id", orderH.GetOrder)

	payments := router.Group("/pagamento", authenticate)
	payments.POST("/:orderId", paymentH.Simulate)
	payments.GET("/:orderId", paymentH.Status)

	dispatcher.Start(ctx)
	if err := notifs.start(ctx); err != nil {
		log.Error("start notification consumer", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port, "broker", cfg.Notify.Broker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	// No request can enqueue after Shutdown, so the queue drains before the
	// broker goes away.
	dispatcher.Close()
	notifs.stop()
	cancel()
	log.Info("server stopped")
}
