// lockstep — синхронное воспроизведение тактильных паттернов на двух узлах
// (PRIMARY и SECONDARY), связанных последовательным радиомостом или UDP.
//
// Использование:
//
//	lockstep run --config lockstep.yml       — запуск узла
//	lockstep run --role secondary --port /dev/ttyUSB1
//	lockstep selftest                        — по очереди включить каждый палец
//	lockstep ports                           — список последовательных портов
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
