package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quanttide/breakout-bot/internal/config"
)

func main() {
	configFile := flag.String("config", "bot.json", "Config file name (e.g., bot.json), looked up under configs/")
	statusEvery := flag.Duration("status-interval", 30*time.Second, "How often to print the status table")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to assemble bot: %v\n", err)
		os.Exit(1)
	}

	os.Exit(app.run(*statusEvery))
}
