package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GiftCodeKiosk/internal/bot"
	"GiftCodeKiosk/internal/chat"
	"GiftCodeKiosk/internal/config"
	"GiftCodeKiosk/internal/db"
	"GiftCodeKiosk/internal/gateway"
	internalhttp "GiftCodeKiosk/internal/http"
	"GiftCodeKiosk/internal/locks"
	"GiftCodeKiosk/internal/logging"
	"GiftCodeKiosk/internal/metrics"
	"GiftCodeKiosk/internal/services"
	"GiftCodeKiosk/internal/session"
	"GiftCodeKiosk/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ledger store.Ledger
	var inventory store.Inventory
	if cfg.DB.DSN != "" {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("db connect failed", zap.Error(err))
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		ledger, inventory = pg, pg
	} else {
		logger.Warn("no db dsn configured, using in-memory store (state lost on restart)")
		mem := store.NewMemory()
		ledger, inventory = mem, mem
	}

	sender := chat.NewAPIClient(cfg.Chat.APIBase, cfg.Chat.Token)
	m := metrics.New()

	orders := &services.OrderService{
		Ledger:    ledger,
		Inventory: inventory,
		Gateway: gateway.NewClient(
			cfg.Gateway.BaseURL,
			cfg.Gateway.APIKey,
			cfg.Gateway.Currency,
			cfg.Gateway.CallbackURL,
		),
		Chat:     sender,
		Secret:   cfg.Gateway.Secret,
		AdminIDs: cfg.Chat.AdminIDs,
		Locks:    locks.NewKeyMutex(256),
		Metrics:  m,
		Log:      logger,
	}

	sessions := session.NewManager(
		cfg.Shop.Denoms,
		cfg.Shop.MaxQuantity,
		time.Duration(cfg.Shop.SessionTTLMinutes)*time.Minute,
	)

	kioskBot := bot.New(sessions, orders, sender, cfg.Shop.Cards, cfg.Shop.Denoms, cfg.Chat.AdminIDs, logger)
	stream := chat.NewStream(cfg.Chat.WSEndpoint, cfg.Chat.Token, logger)
	go kioskBot.Run(ctx, stream)

	h := internalhttp.NewHandler(orders, cfg.Gateway.Secret, logger)
	srv := internalhttp.NewServer(h, m.Registry)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("kiosk listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
}
