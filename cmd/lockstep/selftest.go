package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/shiwa/lockstep/pkg/lockstep"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Включить по очереди каждый палец и выйти.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		act, closer, err := lockstep.OpenActuator(cfg.Haptic)
		if err != nil {
			return err
		}
		atexit.Register(func() { _ = act.StopAll() })
		if closer != nil {
			defer closer.Close()
		}

		pulse, _ := cmd.Flags().GetDuration("pulse")
		gap, _ := cmd.Flags().GetDuration("gap")
		ctx, cancel := signalContext()
		defer cancel()
		return lockstep.SelfTest(ctx, act, cfg.Haptic.DefaultFrequencyHz, cfg.Cycle.Amplitude, pulse, gap)
	},
}

func init() {
	rootCmd.AddCommand(selftestCmd)
	selftestCmd.Flags().Duration("pulse", 300*time.Millisecond, "длительность импульса")
	selftestCmd.Flags().Duration("gap", 200*time.Millisecond, "пауза между пальцами")
}
