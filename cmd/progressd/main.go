// Package main - точка входа сервиса учебного прогресса.
//
// progressd принимает события завершённых учебных сессий, начисляет XP,
// ведёт серии дней и открывает значки. Подкоманды:
//
//	serve            - HTTP API
//	migrate up|down|status
//	catalog check|dump
//	levels           - таблица порогов уровней
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alem-hub/study-progress/config"
	"github.com/alem-hub/study-progress/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "progressd",
		Short:         "Study progress engine: XP, levels, streaks and badges",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load before the process environment")

	root.AddCommand(newServeCmd(&envFiles))
	root.AddCommand(newMigrateCmd(&envFiles))
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newLevelsCmd())
	return root
}

// loadConfig читает конфигурацию с учётом --env-file.
func loadConfig(envFiles []string) (*config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogging строит логгер приложения и делает его же обработчик
// логгером slog по умолчанию, чтобы шина событий и обработчики писали в тот
// же поток и в том же формате.
func setupLogging(cfg *config.Config) (*logger.Logger, *slog.Logger) {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		Format:    logger.Format(cfg.Observability.LogFormat),
		AddCaller: cfg.Observability.LogCaller,
		Service:   cfg.App.Name,
	})

	sl := log.Slog()
	slog.SetDefault(sl)
	return log, sl
}
