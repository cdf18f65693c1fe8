package main

import (
	"fmt"
	"os"

	"fabricbill/backend/internal/logger"
)

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		log := logger.WithComponent("ledgerctl")
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
