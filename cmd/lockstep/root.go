package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:          "lockstep",
	Short:        "Синхронное воспроизведение тактильных паттернов на двух узлах.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		quiet, _ := cmd.Flags().GetBool("quiet")
		debug, _ := cmd.Flags().GetBool("debug")
		logger.SetQuiet(quiet)
		logger.SetDebug(debug)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "путь к YAML конфигу (по умолчанию "+config.DefaultPath+")")
	f.String("env-file", config.DefaultEnvFile, "файл с переменными LOCKSTEP_*")
	f.Bool("quiet", false, "меньше вывода")
	f.Bool("debug", false, "отладочный вывод")
}

// loadConfig: файл, затем окружение (.env и LOCKSTEP_*), затем флаги команды.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	envFile, _ := cmd.Flags().GetString("env-file")
	lookup, err := config.EnvLookup(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("role"); v != "" {
		cfg.Role = v
	}
	if v, _ := flags.GetString("port"); v != "" {
		cfg.Link.Port = v
	}
	if v, _ := flags.GetInt("baud"); v != 0 {
		cfg.Link.Baud = v
	}
	if v, _ := flags.GetString("status"); flags.Changed("status") {
		cfg.Status.Listen = v
	}
	return cfg, nil
}

// signalContext отменяется по SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("получен сигнал %v, завершение...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
