package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/ops"
	"github.com/hpungsan/bagsplit/internal/splitset"
	"github.com/hpungsan/bagsplit/internal/web"
)

// appState is shared by every command. When newCLIApp is given a config the
// app uses it as is; otherwise Before loads config and ledger from --config.
type appState struct {
	db     *sql.DB
	cfg    *config.Config
	log    *slog.Logger
	opened bool
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config) *cli.App {
	st := &appState{db: database, cfg: cfg}
	app := &cli.App{
		Name:    "bagsplit",
		Usage:   "Verify and reassemble split BagIt bags",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", EnvVars: []string{homeEnv}, Usage: "Base directory for config.json and the run ledger (default ~/.bagsplit)"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log debug details"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Log errors only"},
		},
		Before: st.before,
		After:  st.after,
		Commands: []*cli.Command{
			splitCheckCmd(st),
			unsplitCmd(st),
			historyCmd(st),
			webCmd(st),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func (st *appState) before(c *cli.Context) error {
	st.log = installLogger(os.Stderr, c.Bool("verbose"), c.Bool("quiet"))
	if st.cfg != nil || c.Args().First() == "help" {
		return nil
	}

	baseDir := c.String("config")
	if baseDir == "" {
		var err error
		if baseDir, err = defaultBaseDir(); err != nil {
			return err
		}
	}
	cfg, err := loadConfig(baseDir)
	if err != nil {
		return err
	}
	st.cfg = cfg

	database, err := openLedger(baseDir, cfg)
	if err != nil {
		return err
	}
	st.db = database
	st.opened = database != nil
	return nil
}

func (st *appState) after(_ *cli.Context) error {
	if st.opened {
		st.opened = false
		return st.db.Close()
	}
	return nil
}

// openLedger opens the run ledger unless history is disabled.
func openLedger(baseDir string, cfg *config.Config) (*sql.DB, error) {
	if cfg.HistoryDisabled {
		return nil, nil
	}
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

// installLogger sets the process-wide slog text logger on w.
func installLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// splitCheckCmd creates the splitcheck command.
func splitCheckCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:      "splitcheck",
		Aliases:   []string{"split"},
		Usage:     "Verify a bag's sub-bags against it and save its tag files in a metadata bag",
		ArgsUsage: "<bag>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "split-dir", Aliases: []string{"s"}, Usage: "Directory holding the sub-bags (default <bag>_split)"},
			&cli.BoolFlag{Name: "no-verify", Usage: "Skip checksum validation"},
			&cli.BoolFlag{Name: "no-metadata-bag", Usage: "Don't create the metadata bag"},
			&cli.StringFlag{Name: "report", Aliases: []string{"r"}, Usage: "Write a .md or .html report"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one bag path is required"))
			}

			output, err := ops.SplitCheck(c.Context, st.db, st.cfg, ops.SplitCheckInput{
				BagPath:       c.Args().First(),
				SplitDir:      c.String("split-dir"),
				NoVerify:      c.Bool("no-verify"),
				NoMetadataBag: c.Bool("no-metadata-bag"),
				ReportPath:    c.String("report"),
				Logger:        st.log,
			})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(output); err != nil {
				return err
			}
			if !output.OK {
				return outputError(errors.NewValidationFailure(failedBags(output), "split does not match the original bag"))
			}
			return nil
		},
	}
}

// unsplitCmd creates the unsplit command.
func unsplitCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:      "unsplit",
		Usage:     "Merge a directory of sub-bags into one bag",
		ArgsUsage: "<split-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "Destination bag (default derived from <split-dir>)"},
			&cli.BoolFlag{Name: "no-verify", Usage: "Skip checksum validation of sub-bags and the result"},
			&cli.StringFlag{Name: "report", Aliases: []string{"r"}, Usage: "Write a .md or .html report"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one sub-bags directory is required"))
			}

			output, err := ops.Unsplit(c.Context, st.db, st.cfg, ops.UnsplitInput{
				SplitDir:   c.Args().First(),
				OutputDir:  c.String("output-dir"),
				NoVerify:   c.Bool("no-verify"),
				ReportPath: c.String("report"),
				Logger:     st.log,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded runs, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "operation", Usage: "Only splitcheck or unsplit runs"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultHistoryLimit, Usage: "Maximum runs to show"},
			&cli.IntFlag{Name: "offset", Usage: "Runs to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(st.db, ops.HistoryInput{
				Operation: c.String("operation"),
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// webCmd creates the web command.
func webCmd(st *appState) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Browse the run ledger in a web browser",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to listen on"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8790, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			if st.db == nil {
				return outputError(errors.NewInvalidRequest("run history is disabled"))
			}
			srv, err := web.NewServer(st.db, st.cfg, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(c.Context, srv, st.log); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// hoistFlags moves a command's flags that follow its positional argument in
// front of it, so "unsplit <dir> -o out" parses like "unsplit -o out <dir>".
// urfave/cli stops parsing flags at the first argument. A "--" ends the
// flags as usual.
func hoistFlags(app *cli.App, args []string) []string {
	i := 1
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		if takesValue(app.Flags, args[i]) {
			i++
		}
		i++
	}
	if i >= len(args) {
		return args
	}
	cmd := app.Command(args[i])
	if cmd == nil {
		return args
	}

	out := append([]string(nil), args[:i+1]...)
	var positional []string
	rest := args[i+1:]
	for j := 0; j < len(rest); j++ {
		arg := rest[j]
		if arg == "--" {
			positional = append(positional, rest[j:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			positional = append(positional, arg)
			continue
		}
		out = append(out, arg)
		if takesValue(cmd.Flags, arg) && j+1 < len(rest) {
			j++
			out = append(out, rest[j])
		}
	}
	return append(out, positional...)
}

// takesValue reports whether arg names a non-boolean flag given without "=value".
func takesValue(flags []cli.Flag, arg string) bool {
	if strings.Contains(arg, "=") {
		return false
	}
	name := strings.TrimLeft(arg, "-")
	for _, f := range flags {
		if !slices.Contains(f.Names(), name) {
			continue
		}
		_, isBool := f.(*cli.BoolFlag)
		return !isBool
	}
	return false
}

// failedBags names the bags behind a failed check, or the split directory
// when every bag validated but the payloads disagree.
func failedBags(out *ops.SplitCheckOutput) []string {
	var paths []string
	if out.Original.Validity == splitset.Invalid.String() {
		paths = append(paths, out.Original.Path)
	}
	for _, p := range out.SubPackages {
		if p.Validity == splitset.Invalid.String() {
			paths = append(paths, p.Path)
		}
	}
	if len(paths) == 0 {
		paths = []string{out.SplitDir}
	}
	return paths
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if bagErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", bagErr.Code, bagErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
