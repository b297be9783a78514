//go:build linux

package main

import (
	"fmt"
	"os"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/sandbox"

	flags "github.com/jessevdk/go-flags"
)

const (
	exitCodeFailure = 1
	exitCodeUsage   = 2
)

type globalOptions struct {
	LogLevel   string `long:"log-level" description:"debug, info, warn or error; overrides the configuration file"`
	LogBackend string `long:"log-backend" choice:"zap" choice:"std" default:"zap" description:"logging backend"`
	LogFormat  string `long:"log-format" choice:"console" choice:"json" description:"zap encoding; overrides the configuration file"`
}

// cli carries the global options to the commands and the status to exit with.
type cli struct {
	opts     globalOptions
	exitCode int
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

// newLogger builds the command's logger from the flags, falling back to the
// configuration file's logging section. The returned function flushes it.
func (c *cli) newLogger(fallback logging.ZapConfig) (logging.Logger, func()) {
	config := fallback
	if c.opts.LogLevel != "" {
		config.Level = c.opts.LogLevel
	}
	if c.opts.LogFormat != "" {
		config.Format = c.opts.LogFormat
	}

	if c.opts.LogBackend == "std" {
		level, err := logging.ParseLevel(config.Level)
		if err != nil {
			level = logging.LogLevelInfo
		}
		std := sprintfLogging.NewStdSprintfLogger()
		return logging.NewLogger(logPrefix("izoli"), levelFuncs(level, logging.LogFuncs{
			Debugf: std.Debugf,
			Infof:  std.Infof,
			Warnf:  std.Warnf,
			Errorf: std.Errorf,
		})), func() {}
	}

	logger, sync := logging.NewZapLogger(config)
	return logger, func() { _ = sync() }
}

// levelFuncs drops the functions below level.
func levelFuncs(level int, funcs logging.LogFuncs) logging.LogFuncs {
	if level > logging.LogLevelDebug {
		funcs.Debugf = nil
	}
	if level > logging.LogLevelInfo {
		funcs.Infof = nil
	}
	if level > logging.LogLevelWarn {
		funcs.Warnf = nil
	}
	return funcs
}

func newParser(c *cli) *flags.Parser {
	parser := flags.NewParser(&c.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "izoli"

	mustAddCommand(parser, "run", "Run a command in a box",
		"Enters a box described by the configuration file, runs the command given after -- (or the configured one) and exits with its status.",
		&runCommand{boxCommand: boxCommand{cli: c}})
	mustAddCommand(parser, "start", "Start a command in a detached box",
		"Like run, but records the box pid in the state directory and returns at once.",
		&startCommand{boxCommand: boxCommand{cli: c}})
	mustAddCommand(parser, "kill", "Stop a detached box",
		"Sends SIGTERM to a box started with start, then SIGKILL once the grace period is over.",
		&killCommand{cli: c})
	mustAddCommand(parser, "cgroup", "Show a cgroup node",
		"Prints the type, controllers, members, limits and usage of a cgroup v2 node.",
		&cgroupCommand{cli: c})

	return parser
}

func mustAddCommand(parser *flags.Parser, name, short, long string, data interface{}) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}

func main() {
	// Inside a box this runs the box and never returns.
	sandbox.Init()

	c := &cli{}
	parser := newParser(c)

	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
			os.Exit(exitCodeUsage)
		}
		fmt.Fprintf(os.Stderr, "izoli: %v\n", err)
		if c.exitCode == 0 {
			c.exitCode = exitCodeFailure
		}
	}

	os.Exit(c.exitCode)
}
