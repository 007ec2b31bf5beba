// Package main runs the tic-tac-toe matchmaking and game server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/config"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/hub"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/matchmaking"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/observability"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/room"
	"github.com/Pranay-ai/tic-tac-toe-be/internal/stats"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Statistics collaborators
	var (
		reporters   stats.Multi
		leaderboard stats.Leaderboard
		records     hub.RecordReader
		feed        *stats.Feed
	)
	if cfg.Redis.Enabled() {
		rdb, err := stats.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		defer rdb.Close()
		logger.Info("redis connected", zap.String("addr", rdb.Options().Addr))

		recorder := stats.NewRedisRecorder(rdb)
		reporters = append(reporters, recorder)
		leaderboard = recorder
		records = recorder
		feed = stats.NewFeed(rdb, recorder, cfg.Game.LeaderboardSize, logger)
	}
	if cfg.Stats.URL != "" {
		reporters = append(reporters, stats.NewHTTPReporter(cfg.Stats.URL, cfg.Stats.Timeout))
		logger.Info("reporting results", zap.String("url", cfg.Stats.URL))
	}

	opts := hub.Options{
		AllowRoomCreate: cfg.Rooms.AllowCreate,
		RematchPolicy:   room.RematchPolicy(cfg.Game.RematchPolicy),
		ReconnectGrace:  cfg.Rooms.ReconnectGrace,
		Leaderboard:     leaderboard,
		Records:         records,
		LeaderboardSize: cfg.Game.LeaderboardSize,
	}
	var dispatcher *stats.Dispatcher
	if len(reporters) > 0 {
		dispatcher = stats.NewDispatcher(reporters, cfg.Stats.Buffer, cfg.Stats.Timeout, logger)
		dispatcher.Start()
		opts.Results = dispatcher
	}

	queue := matchmaking.NewQueue(matchmaking.DuplicatePolicy(cfg.Matchmaking.DuplicatePolicy))
	registry := room.NewRegistry(room.WithRematchPolicy(opts.RematchPolicy))
	ctrl := hub.NewController(queue, registry, logger, opts)

	pump := hub.PumpConfig{
		WriteWait:      cfg.Websocket.WriteWait,
		PongWait:       cfg.Websocket.PongWait,
		PingPeriod:     cfg.Websocket.PingPeriod,
		MaxMessageSize: cfg.Websocket.MaxMessageSize,
		SendBuffer:     cfg.Websocket.SendBuffer,
	}
	ws := hub.NewServer(ctx, ctrl, pump, logger)

	if feed != nil {
		go func() {
			if err := feed.Run(ctx, ctrl.PushLeaderboard); err != nil {
				logger.Error("leaderboard feed stopped", zap.Error(err))
			}
		}()
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(ws.Routes())

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("duplicate_policy", string(queue.Policy())),
			zap.String("rematch_policy", cfg.Game.RematchPolicy),
			zap.Bool("allow_room_create", cfg.Rooms.AllowCreate),
			zap.Duration("reconnect_grace", cfg.Rooms.ReconnectGrace),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	ctrl.Shutdown()
	if dispatcher != nil {
		dispatcher.Stop()
	}
	logger.Info("server stopped")
}
