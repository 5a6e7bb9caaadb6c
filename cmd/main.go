/**
 * @description
 * Main entry point for the rental-finance service. It loads local environment overrides,
 * installs the structured logger and hands control to the command tree (serve, scheduler,
 * migrate, penalties run, installments extend).
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/cli: Command definitions and component wiring.
 */
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/immotopia/rental-finance-service/internal/cli"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := cli.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
