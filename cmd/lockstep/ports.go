package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Список последовательных портов (радиомост обычно USB-UART).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "порты не найдены")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Fprintf(out, "%s\tUSB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
			} else {
				fmt.Fprintln(out, p.Name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
