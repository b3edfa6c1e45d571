// minivsfs builds and edits MiniVSFS images: flat, single-directory
// filesystem images with a superblock, two allocation bitmaps, an inode table
// and a data region.
//
// Usage:
//
//	minivsfs mkfs --image <file> --size-kib <n> --inodes <n>
//	minivsfs add --image <file> --source <file> --dest <name>
//	minivsfs check --image <file>
//
// Every subcommand also accepts --config, --debug and --no-lock.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/mit-pdos/go-minivsfs/config"
	"github.com/mit-pdos/go-minivsfs/util"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

// exitError ends the process with Code after the command has already
// reported why.
type exitError struct {
	Code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

type command struct {
	name  string
	usage string
	flags func(fs *pflag.FlagSet)
	run   func(env *env) error
}

// env is what a subcommand runs with once flags and config are resolved.
type env struct {
	fs     *pflag.FlagSet
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
}

func commands() []*command {
	return []*command{mkfsCommand(), addCommand(), checkCommand()}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return &exitError{Code: 2}
		}
		return nil
	}

	var cmd *command
	for _, c := range commands() {
		if c.name == args[0] {
			cmd = c
		}
	}
	if cmd == nil {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: minivsfs %s %s\n\n", cmd.name, cmd.usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file (default $"+config.EnvVar+")")
	debug := fs.Uint64("debug", 0, "debug output level")
	noLock := fs.Bool("no-lock", false, "do not take the advisory lock on the image")
	cmd.flags(fs)

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{Code: 2}
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("debug") {
		cfg.Debug = *debug
	}
	if *noLock {
		cfg.Lock = false
	}
	util.Debug = cfg.Debug

	return cmd.run(&env{
		fs:     fs,
		cfg:    cfg,
		logger: newLogger(stderr, cfg.Debug).With("command", cmd.name),
		stdout: stdout,
	})
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(w io.Writer, debug uint64) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug > 0 {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: minivsfs <command> [flags]\n\nCommands:\n")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-6s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(w, "\nGlobal flags: --config <file>, --debug <level>, --no-lock\n")
}

// imagePath returns --image, falling back to the config file's image.
func (e *env) imagePath() (string, error) {
	path, _ := e.fs.GetString("image")
	if path == "" {
		path = e.cfg.Image
	}
	if path == "" {
		return "", errors.New("--image is required")
	}
	return path, nil
}
