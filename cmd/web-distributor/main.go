package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	webdistributor "github.com/csmith/webdistributor"
)

var GitSHA string

func createLogger(debug bool) *zap.SugaredLogger {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.DisableCaller = true
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if !debug {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapConfig.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func main() {
	env := &environment{
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		config:       createConfig(),
		createLogger: createLogger,
		readPassword: readPassword,
	}
	os.Exit(run(os.Args[1:], env))
}

// environment holds everything run needs from the outside world, so tests can substitute it.
type environment struct {
	stdout       io.Writer
	stderr       io.Writer
	config       *Config
	createLogger func(debug bool) *zap.SugaredLogger
	readPassword func() (string, error)
}

// run executes one invocation and returns the process exit status.
func run(args []string, env *environment) int {
	fs := pflag.NewFlagSet("web-distributor", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(env.stderr)
	configPath := fs.StringP("config", "c", env.config.RegistryPath, "Path to the registry file")
	debug := fs.Bool("debug", env.config.Debug, "Enable debug logging")
	version := fs.Bool("version", false, "Print the version and exit")
	fs.Usage = func() { printUsage(env.stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	if *version {
		_, _ = fmt.Fprintf(env.stdout, "web-distributor %s\n", GitSHA)
		return 0
	}

	inv, err := parseCommand(fs.Args(), env.stderr)
	if err != nil {
		if err != pflag.ErrHelp {
			_, _ = fmt.Fprintf(env.stderr, "Error: %v\n", err)
			printUsage(env.stderr, fs)
			return 1
		}
		return 0
	}

	logger := env.createLogger(*debug)
	defer func() {
		_ = logger.Sync()
	}()

	d, err := webdistributor.Open(logger, *configPath)
	if err == nil {
		inv.distributor = d
		inv.stdout = env.stdout
		inv.readPassword = env.readPassword
		err = inv.command.run(inv)
	}

	if err != nil {
		if webdistributor.IsPrecondition(err) {
			_, _ = fmt.Fprintln(env.stderr, err.Error())
		} else {
			_, _ = fmt.Fprintf(env.stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// readPassword prompts on the terminal with echo disabled.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for interactive password prompt (pass the password as an argument)")
	}

	_, _ = fmt.Fprint(os.Stderr, "Enter password: ")
	b, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintln(w, "Usage:\n  web-distributor [--config PATH] <command>\n\nCommands:")
	for _, c := range commands {
		_, _ = fmt.Fprintf(w, "  %-58s %s\n", c.usage, c.description)
	}
	_, _ = fmt.Fprintln(w, "\nFlags:")
	_, _ = fmt.Fprint(w, fs.FlagUsages())
}
