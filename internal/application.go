package application

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/config"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/repository"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-duplex/transport/rest"
	"github.com/rocketscienceinc/tictactoe-duplex/transport/tcp"
)

// RunApp - runs the coordinator until SIGINT or SIGTERM.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Run(ctx, logger, conf)
}

// Run - serves the control channel and the status API until ctx is done or one of them fails.
func Run(ctx context.Context, logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	matchRepo, closeRepo, err := newMatchRepository(ctx, logger, conf)
	if err != nil {
		return err
	}
	defer closeRepo()

	// the match lives in memory only, a restart starts from an empty mirror
	if err = matchRepo.Reset(ctx); err != nil {
		return fmt.Errorf("could not reset match mirror: %w", err)
	}

	coordinator := usecase.NewCoordinator(logger, matchRepo)
	router := rest.NewRouter(rest.NewPingHandler(), rest.NewMatchHandler(logger, matchRepo))

	group, groupCtx := errgroup.WithContext(ctx)

	// run control channel server
	group.Go(func() error {
		log.Info("Starting coordinator", "port", conf.Coordinator.Port)
		tcpServer := tcp.New(logger, coordinator, conf.Coordinator.OutboxSize)
		if tcpErr := tcpServer.Start(groupCtx, conf.Coordinator.Addr()); tcpErr != nil {
			return fmt.Errorf("coordinator error: %w", tcpErr)
		}
		return nil
	})

	// run HTTP server
	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.Coordinator.HTTPPort)
		if httpErr := rest.Start(groupCtx, conf.Coordinator.HTTPPort, router); httpErr != nil {
			return fmt.Errorf("HTTP server error: %w", httpErr)
		}
		return nil
	})

	err = group.Wait()
	log.Info("Application stopped", "error", err)

	return err
}

func newMatchRepository(ctx context.Context, logger *slog.Logger, conf *config.Config) (repository.MatchRepository, func(), error) {
	log := logger.With("component", "app")

	if !conf.Redis.Enabled {
		log.Info("Using in-memory match mirror")
		return repository.NewMemoryMatchRepository(int(conf.Redis.ChatHistory)), func() {}, nil
	}

	redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	closeRepo := func() {
		if err := redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}

	return repository.NewMatchRepository(redisStorage.Connection, conf.Redis.ChatHistory), closeRepo, nil
}
