// Package console prints the human readable progress lines of the publisher.
package console

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/models"
)

// Printer writes to the terminal through pterm.
type Printer struct{}

func (Printer) Banner(version string) {
	pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("STATION", pterm.NewStyle(pterm.FgLightCyan)),
		pterm.NewLettersFromStringWithStyle("SIM", pterm.NewStyle(pterm.FgLightMagenta)),
	).Render()
	pterm.DefaultCenter.Printf("v%s - synthetic end-of-line test records\n", version)
	pterm.Println()
}

// Written reports a record the sink accepted.
func (Printer) Written(collection string, rec models.Record) {
	flag := pterm.LightGreen(rec.FailFlag())
	if rec.TestFail {
		flag = pterm.LightRed(rec.FailFlag())
	}
	pterm.Success.Printf("%s  %s  device_code: %s, test_fail: %s\n",
		rec.Time.Format(models.TimeLayout), collection, rec.DeviceCode, flag)
}

// Failed reports a record the sink rejected, with the record itself.
func (Printer) Failed(collection string, rec models.Record, err error) {
	pterm.Error.Printf("Failed to write %s record: %v\n%s\n", collection, err, rec)
}

func (Printer) Skipped(station, motorType string) {
	pterm.Warning.Printf("Station %s has no limits for motor type %s, skipped\n", station, motorType)
}

func (Printer) Sleeping(d time.Duration) {
	pterm.Info.Printf("Sleeping for %s (press Enter to skip)\n", d.Round(time.Second))
}

func (Printer) Woken(reason string) {
	pterm.Info.Printf("Woken up: %s\n", reason)
}

// LimitsTable renders one station's profiles.
func LimitsTable(s limits.Station) error {
	pterm.DefaultSection.Println("Station " + s.Code)
	data := pterm.TableData{{"Motor type", "Field", "Min", "Max"}}
	for _, motor := range s.MotorTypeNames() {
		p := s.MotorTypes[motor]
		for _, field := range p.Fields() {
			lo, hi := p[field].Bounds()
			data = append(data, []string{motor, field, fmt.Sprint(lo), fmt.Sprint(hi)})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// Summary renders a key/value table, e.g. the result of seeding limits.
func Summary(title string, rows [][]string) error {
	pterm.DefaultSection.Println(title)
	data := pterm.TableData{{"Key", "Value"}}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
