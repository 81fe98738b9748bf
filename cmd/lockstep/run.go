package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/pkg/lockstep"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запуск узла: синхронизация часов, приём или рассылка пакетов, исполнение.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		n, err := lockstep.Build(cfg)
		if err != nil {
			return err
		}
		// моторы гасятся и при аварийном выходе через atexit.Exit
		atexit.Register(n.SafetyShutdown)
		defer func() {
			if err := n.Close(); err != nil {
				logger.Warn("close: %v", err)
			}
		}()

		ctx, cancel := signalContext()
		defer cancel()
		return n.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.String("role", "", "primary | secondary (переопределяет config)")
	f.String("port", "", "последовательный порт (переопределяет config)")
	f.Int("baud", 0, "скорость порта (переопределяет config)")
	f.String("status", "", "адрес HTTP API состояния, пусто — выключен")
}
