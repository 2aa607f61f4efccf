// Command publisher generates synthetic station test records and writes
// them to a station database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var (
	cfgFile    string
	sinkKind   string
	limitsFile string
	motorTypes []string
	seed       int64
	serialPort string
	noBanner   bool
)

var rootCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Synthetic end-of-line station test records",
	Long: `publisher walks a device through every test station of the line, writes one
record per station with values drawn from the station limits and, now and
then, a few tests pushed out of bounds.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml)")
	pf.StringVar(&sinkKind, "sink", "", "sink: pocketbase, mqtt, kafka or local (overrides config)")
	pf.StringVar(&limitsFile, "limits", "", "limit table file (default is the embedded table)")
	pf.StringSliceVar(&motorTypes, "motor-type", nil, "motor types to draw from (overrides config)")
	pf.Int64Var(&seed, "seed", 0, "random seed, 0 seeds from the clock")
	pf.BoolVar(&noBanner, "no-banner", false, "do not print the banner")

	runCmd.Flags().StringVar(&serialPort, "serial-port", "", "serial port whose lines skip the pause")

	rootCmd.AddCommand(runCmd, tickCmd, seedLimitsCmd, limitsCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
