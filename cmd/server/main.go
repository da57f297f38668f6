package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soaringjerry/synap-respond/internal/api"
	"github.com/soaringjerry/synap-respond/internal/config"
	"github.com/soaringjerry/synap-respond/internal/logging"
	"github.com/soaringjerry/synap-respond/internal/middleware"
	"github.com/soaringjerry/synap-respond/internal/utils"
)

func main() {
	configPath := flag.String("config", utils.SafeEnv("SYNAP_CONFIG", ""), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(logging.Config{}).Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "synap-respond-server"})
	if cfg.ReceiptSecret == "" {
		log.Warn("SYNAP_RECEIPT_SECRET not set, receipts use the development secret")
	}

	rt := api.NewRouter(api.Options{
		Logger:      log,
		SessionTTL:  cfg.SessionTTL,
		Receipts:    middleware.NewReceipts(cfg.ReceiptSecret, 0),
		CORSOrigins: cfg.CORSOrigins,
		Commit:      os.Getenv("SYNAP_COMMIT"),
		BuildTime:   os.Getenv("SYNAP_BUILD_TIME"),
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", "err", err)
		}
	}()

	log.Info("session endpoint listening", "addr", cfg.Addr, "session_ttl", cfg.SessionTTL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}
