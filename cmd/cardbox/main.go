package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/cardbox/internal/config"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"rebuild": true, "list": true, "get": true, "count": true,
	"watch": true, "serve": true, "select-dir": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// Global flags and --help/--version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "--graph-dir" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ __ _ _ __ __| | |__   _____  __
  / __/ _' | '__/ _' | '_ \ / _ \ \/ /
 | (_| (_| | | | (_| | |_) | (_) >  <
  \___\__,_|_|  \__,_|_.__/ \___/_/\_\

  Page summary cards for your notes graph

  Usage: cardbox <command> [options]
         cardbox --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion(os.Args) {
		app := newCLIApp(&runtime{logger: zap.NewNop()})
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".cardbox")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Init(baseDir)
	if err != nil {
		logger.Error("failed to initialize database", zap.Error(err))
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	rt := &runtime{db: database, cfg: cfg, logger: logger}
	defer rt.close()

	// CLI mode: known subcommand
	if isCLIMode(os.Args) {
		app := newCLIApp(rt)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'cardbox --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default). Without a configured graph the read tools
	// still serve whatever is already indexed.
	sessions, err := rt.live(cfg.GraphDir)
	if err != nil {
		logger.Warn("live graph session unavailable", zap.Error(err))
	}
	if err := mcp.Run(database, cfg, sessions, Version); err != nil {
		logger.Error("mcp server stopped", zap.Error(err))
		os.Exit(1)
	}
}
