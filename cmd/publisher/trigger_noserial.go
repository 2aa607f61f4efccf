//go:build no_serial
// +build no_serial

package main

import (
	"errors"
	"log/slog"
)

func startSerialTrigger(port string, baud int, skip chan<- struct{}, log *slog.Logger) error {
	return errors.New("built without serial support (no_serial tag)")
}
