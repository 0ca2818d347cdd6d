package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"toolrun/internal/config"
	"toolrun/internal/tools"
)

var (
	debugMode  = flag.Bool("d", false, "Enable debug mode")
	logFile    = flag.String("log-file", "", "Log file path (logs disabled by default)")
	configPath = flag.String("config", "", "Config file path (JSON)")
	workDir    = flag.String("C", "", "Working directory for tool execution (default: current)")
	toolName   = flag.String("t", "", "Run a single tool and exit; payload from argv or stdin")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *debugMode {
		cfg.Debug = true
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	logger := initLogger(cfg.Debug, cfg.LogFile)
	logger.Info().Msg("toolrun starting")

	workdir := *workDir
	if workdir == "" {
		if workdir, err = os.Getwd(); err != nil {
			log.Fatalf("Failed to determine working directory: %v", err)
		}
	}

	registry := tools.NewRegistry(logger, workdir, cfg)
	defer registry.Sessions().Close()

	if *toolName != "" {
		runOnce(registry, *toolName, flag.Args())
		return
	}

	runREPL(registry, logger)
}

func runOnce(registry *tools.Registry, name string, args []string) {
	payload := strings.Join(args, " ")
	if payload == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read payload from stdin: %v", err)
		}
		payload = string(data)
	}
	fmt.Print(registry.Dispatch(context.Background(), name, payload))
}

func initLogger(debug bool, logFilePath string) zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var output io.Writer
	switch {
	case logFilePath != "":
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		output = file
	case debug && term.IsTerminal(int(os.Stderr.Fd())):
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		// No logging to console by default.
		output = io.Discard
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
