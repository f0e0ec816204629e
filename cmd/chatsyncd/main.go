package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatsync/internal/infra/config"
	"chatsync/internal/infra/devserver"
	"chatsync/internal/infra/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	tokens := parseTokens(os.Getenv("DEV_TOKENS"))
	if cfg.Token != "" {
		tokens[cfg.Token] = cfg.SelfID
	}
	if len(tokens) == 0 {
		logger.Error("no tokens configured, set CHAT_TOKEN or DEV_TOKENS")
		os.Exit(1)
	}

	srv := devserver.New(devserver.Config{
		Env:            cfg.Env,
		Tokens:         tokens,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("reference chat backend starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("reference chat backend stopped")
}

// parseTokens reads "token=userID" pairs separated by commas.
func parseTokens(raw string) map[string]int64 {
	tokens := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, idStr, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			continue
		}
		tokens[strings.TrimSpace(token)] = id
	}
	return tokens
}
