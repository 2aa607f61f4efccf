//go:build !no_serial
// +build !no_serial

package main

import (
	"log/slog"

	"github.com/tarm/serial"
)

// startSerialTrigger opens the serial port of the test stand; every line it
// sends ends the current pause.
func startSerialTrigger(port string, baud int, skip chan<- struct{}, log *slog.Logger) error {
	c := &serial.Config{Name: port, Baud: baud}
	s, err := serial.OpenPort(c)
	if err != nil {
		return err
	}
	log.Info("serial trigger listening", "port", port, "baud", baud)
	go func() {
		defer s.Close()
		readLines(s, skip)
		log.Warn("serial trigger closed", "port", port)
	}()
	return nil
}
