package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/evently/eventchat/internal/api"
	"github.com/evently/eventchat/server"
	"github.com/evently/eventchat/store"
	"github.com/evently/eventchat/ws"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	serverCtx, _ := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	config, err := server.LoadConfig()
	if err != nil {
		logger.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", "file:"+config.SQLite.File)
	if err != nil {
		logger.Error("open db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	goose.SetBaseFS(os.DirFS(config.SQLite.Migrations))
	if err := goose.SetDialect("sqlite3"); err != nil {
		logger.Error("set dialect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := goose.Up(db, "."); err != nil {
		logger.Error("migrate up", slog.String("error", err.Error()))
		os.Exit(1)
	}

	chatStore := store.NewSQLiteChatStore(db)
	registry := ws.NewRegistry(ws.WithRegistryLogger(logger))
	wsRouter := ws.NewRouter(registry, chatStore,
		ws.NewJWTAuthenticator(config.Auth.Secret),
		ws.WithRouterLogger(logger),
		ws.WithBaseContext(serverCtx))

	chatApi := api.NewApi(chatStore, api.ApiConfig{
		TokenSecret:    config.Auth.Secret,
		AllowedOrigins: config.AllowedOrigins,
	})

	r := chi.NewRouter()
	r.Mount("/api", chatApi.Mux())
	r.Get("/ws/events/{eventID}/chat", wsRouter.ServeHTTP)

	srv := server.Server{
		Server: &http.Server{
			Handler: r,
			Addr:    config.Addr(),
		},
		Logger: logger,
	}

	srv.Start(serverCtx)
}
