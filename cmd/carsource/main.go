package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		slog.Error("carsource failed", "error", err)
		os.Exit(1)
	}
}
