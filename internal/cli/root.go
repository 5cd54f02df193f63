package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	envConfig     = "REMOTELAUNCH_CONFIG"
	envAPIAddr    = "REMOTELAUNCH_API_ADDR"
	envStatusFile = "REMOTELAUNCH_STATUS_FILE"
	envTick       = "REMOTELAUNCH_TICK"
	envLogLevel   = "REMOTELAUNCH_LOG_LEVEL"

	defaultConfigFile = "launch.yaml"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		configFile: envOr(envConfig, defaultConfigFile),
		apiAddr:    os.Getenv(envAPIAddr),
		logLevel:   envOr(envLogLevel, "info"),
		logFormat:  "text",
	}

	root := &cobra.Command{
		Use:   "remotelaunch",
		Short: "Start and stop configured commands on this host over a control API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), ctx.logLevel, ctx.logFormat)
			if err != nil {
				return err
			}
			ctx.logger = logger
			return nil
		},
	}

	root.PersistentFlags().
		StringVarP(&ctx.configFile, "file", "f", ctx.configFile, "Path to the launch file (YAML, or legacy CSV)")
	root.PersistentFlags().
		StringVar(&ctx.apiAddr, "api", ctx.apiAddr, "Address of the HTTP control API")
	root.PersistentFlags().
		StringVar(&ctx.logLevel, "log-level", ctx.logLevel, "Log level: debug, info, warn or error")
	root.PersistentFlags().
		StringVar(&ctx.logFormat, "log-format", ctx.logFormat, "Log format: text or json")

	root.AddCommand(newServeCmd(ctx))
	root.AddCommand(newStartCmd(ctx))
	root.AddCommand(newStopCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newWatchCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// context carries flag values shared by every subcommand.
type context struct {
	configFile string
	apiAddr    string
	logLevel   string
	logFormat  string
	logger     *slog.Logger
}

func (c *context) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
