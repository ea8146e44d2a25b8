package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// homeEnv overrides the base directory holding config.json and the run ledger.
const homeEnv = "BAGSPLIT_HOME"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"splitcheck": true, "split": true, "unsplit": true, "history": true,
	"web": true, "help": true,
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
	// Global flags (--help, --version, --config, --verbose, ...) → CLI
	return len(arg) > 1 && arg[0] == '-'
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _                           _ _ _
  | |__   __ _  __ _ ___ _ __ | (_) |_
  | '_ \ / _' |/ _' / __| '_ \| | | __|
  | |_) | (_| | (_| \__ \ |_) | | | |_
  |_.__/ \__,_|\__, |___/ .__/|_|_|\__|
               |___/    |_|

  Verify and reassemble split BagIt bags

  Usage: bagsplit <command> [options]
         bagsplit --help

  MCP server mode requires piped input.`)
}

// defaultBaseDir returns $BAGSPLIT_HOME or ~/.bagsplit.
func defaultBaseDir() (string, error) {
	if dir := os.Getenv(homeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".bagsplit"), nil
}

// loadConfig reads baseDir/config.json overlaid by the nearest repo config
// above the working directory.
func loadConfig(baseDir string) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}
	cfg, err := config.LoadWithRepo(baseDir, wd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI mode: the app opens config and ledger itself so --config applies
	if isCLIMode(os.Args) {
		app := newCLIApp(nil, nil)
		if err := app.RunContext(ctx, hoistFlags(app, os.Args)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'bagsplit --help' for usage.\n")
		os.Exit(1)
	}

	baseDir, err := defaultBaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown tools in disabled_tools: %v\n", unknown)
	}

	database, err := openLedger(baseDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if database != nil {
		defer database.Close()
	}

	// MCP server mode (default). Logs go to stderr; stdout is the protocol.
	installLogger(os.Stderr, false, false)
	if err := mcp.Run(database, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
