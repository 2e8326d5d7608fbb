package main

import (
	"log/slog"
	"os"

	"ticket-checkout/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
