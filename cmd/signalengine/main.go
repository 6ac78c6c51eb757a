// Command signalengine runs intraday option strategies on Indian index
// feeds: live or paper trading, tick recording, replay and backtests.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
