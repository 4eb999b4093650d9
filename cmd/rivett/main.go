package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/biaogd/rivett/internal/config"
	"github.com/biaogd/rivett/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rivett: %v (using defaults)\n", err)
		cfg = config.Defaults()
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rivett: %v\n", err)
	}

	app := NewApp(cfg, closer)

	isDev := os.Getenv("WAILS_DEV") != "" || Version == "0.1.0-dev"
	logLevel := logger.INFO
	if isDev {
		logLevel = logger.DEBUG
	}

	err = wails.Run(&options.App{
		Title:  "rivett",
		Width:  1024,
		Height: 768,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 24, G: 24, B: 27, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
		LogLevel:           logLevel,
		LogLevelProduction: logger.ERROR,
		Debug: options.Debug{
			OpenInspectorOnStartup: isDev,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("application exited with error")
		os.Exit(1)
	}
}
