package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/stationsim/internal/console"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish a device every few minutes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		r, err := a.runner()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		skip := make(chan struct{}, 1)
		go readLines(os.Stdin, skip)
		if port := a.cfg.Loop.SerialPort; port != "" {
			if err := startSerialTrigger(port, a.cfg.Loop.SerialBaud, skip, a.log); err != nil {
				return fmt.Errorf("serial trigger: %w", err)
			}
		}

		a.log.Info("publisher started", "sink", a.cfg.Sink.Kind, "motor_types", a.cfg.MotorTypes, "seed", a.seed)
		err = r.Run(ctx, skip)
		if errors.Is(err, context.Canceled) {
			a.log.Info("publisher stopped")
			return nil
		}
		return err
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Publish one device through every station and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		r, err := a.runner()
		if err != nil {
			return err
		}
		sum, err := r.Tick(cmd.Context())
		if err != nil {
			return err
		}
		return console.Summary("Tick", [][]string{
			{"Device code", sum.DeviceCode},
			{"Motor type", sum.MotorType},
			{"Written", fmt.Sprint(sum.Written)},
			{"Failed", fmt.Sprint(sum.Failed)},
			{"Skipped", fmt.Sprint(sum.Skipped)},
		})
	},
}

var seedLimitsCmd = &cobra.Command{
	Use:   "seed-limits",
	Short: "Write the limit table to the station_<code>_limits collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		s, err := a.sink()
		if err != nil {
			return err
		}
		n, err := seedLimits(cmd.Context(), s, a.table)
		if err != nil {
			pterm.Error.Printf("Seeding stopped after %d records: %v\n", n, err)
			return err
		}
		pterm.Success.Printf("Wrote %d limits records\n", n)
		return nil
	},
}

var stationFilter string

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Print the limit table",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if stationFilter != "" {
			s, err := a.table.Station(stationFilter)
			if err != nil {
				return err
			}
			return console.LimitsTable(s)
		}
		for _, s := range a.table.Stations {
			if err := console.LimitsTable(s); err != nil {
				return err
			}
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
			{"Component", "Version"},
			{"publisher", version},
		}).Render()
	},
}

func init() {
	limitsCmd.Flags().StringVar(&stationFilter, "station", "", "only print this station")
}
