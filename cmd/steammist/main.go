// Steammist talks to Source dedicated servers over RCON and to the Steam
// Web API.
//
//	steammist [-config file] [-log-level level] rcon  [flags] [command ...]
//	steammist [-config file] [-log-level level] api   [flags] <interface> <method>
//	steammist [-config file] [-log-level level] serve [flags]
//
// rcon authenticates and runs each command (or each line of stdin), api
// performs one Web API call and prints the JSON reply, serve runs a local
// RCON server for testing clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/medcat/steam-mist/config"
	"github.com/medcat/steam-mist/logger"
)

var version = "dev"

// errUsage means the arguments were wrong and usage has been printed.
var errUsage = errors.New("usage")

// app carries what every subcommand needs.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("steammist", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigFile, "configuration file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "steammist %s\n", version)
		return 0
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer log.Close()

	a := &app{cfg: cfg, log: log, stdin: stdin, stdout: stdout, stderr: stderr}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "rcon":
		err = a.runRCON(ctx, rest)
	case "api":
		err = a.runAPI(ctx, rest)
	case "serve":
		err = a.runServe(ctx, rest)
	default:
		printError(stderr, fmt.Errorf("unknown command %q", cmd))
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		log.Error("command failed", logger.Field{Key: "command", Value: cmd}, logger.Field{Key: "error", Value: err.Error()})
		printError(stderr, err)
		return 1
	}
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "usage: steammist [flags] <rcon|api|serve> [command flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  rcon   authenticate to a server and run console commands")
	fmt.Fprintln(w, "  api    call a Steam Web API method and print the reply")
	fmt.Fprintln(w, "  serve  run a local RCON server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fs.PrintDefaults()
}

// newLogger builds the process logger from the logging section: a console
// writer on stderr, a JSON file, or nothing when both are off.
func newLogger(cfg config.LoggingConfig, stderr io.Writer) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Level)

	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return logger.NewWriterLogger(f, "steammist", level), nil
	case cfg.Console:
		return logger.NewConsoleWriterLogger(stderr, "steammist", level), nil
	default:
		return logger.NewNopLogger(), nil
	}
}

func printError(w io.Writer, err error) {
	pterm.Error.WithWriter(w).Println(err.Error())
}
