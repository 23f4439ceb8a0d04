package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/call"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/capture"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/config"
	"github.com/rocketscienceinc/tictactoe-duplex/internal/participant"
	"github.com/spf13/cobra"
)

const (
	patternWidth  = 320
	patternHeight = 240
)

var (
	cfgFile    string
	serverAddr string
	playerName string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "participant",
	Short: "Play tic-tac-toe against another participant and call them over video",
	Long: `participant connects to a match coordinator, plays one game of tic-tac-toe
and can open a peer-to-peer video call with the opponent.

Commands are read from standard input, one per line. Type "help" for the list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file")
	rootCmd.Flags().StringVarP(&serverAddr, "server", "s", "", "coordinator address host:port (overrides config)")
	rootCmd.Flags().StringVarP(&playerName, "name", "n", "", "display name announced to the opponent")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

func run(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	if serverAddr != "" {
		conf.Participant.Server = serverAddr
	}
	if playerName != "" {
		conf.Participant.Name = playerName
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}

	logger := initLogger(conf)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := capture.NewPattern(patternWidth, patternHeight, conf.Call.FrameInterval())
	p := participant.New(logger, source, call.OptionsFromConfig(conf.Call))
	defer func() {
		if err = p.Close(); err != nil {
			logger.Error("failed to close participant", "error", err)
		}
	}()

	if err = p.Connect(ctx, conf.Participant.Server); err != nil {
		return fmt.Errorf("could not reach coordinator %s: %w", conf.Participant.Server, err)
	}

	if conf.Participant.Name != "" {
		if err = p.SendName(conf.Participant.Name); err != nil {
			return fmt.Errorf("could not announce name: %w", err)
		}
	}

	console := newConsole(p, cmd.OutOrStdout())

	return console.Run(ctx, cmd.InOrStdin(), p.Events())
}

// loadConfig reads path when it exists and falls back to defaults and the environment.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return config.MustLoad(path), nil
}

func initLogger(conf *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: conf.SlogLevel()}))
}
