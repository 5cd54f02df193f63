package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"vawter.tech/stopper"

	apihttp "github.com/Paintersrp/remotelaunch/internal/api/http"
	"github.com/Paintersrp/remotelaunch/internal/config"
	"github.com/Paintersrp/remotelaunch/internal/control"
	"github.com/Paintersrp/remotelaunch/internal/process"
	"github.com/Paintersrp/remotelaunch/internal/registry"
	"github.com/Paintersrp/remotelaunch/internal/status"
)

var newAPIServer = apihttp.NewServer

const defaultShutdownGrace = 5 * time.Second

type serveOptions struct {
	statusFile    string
	tick          time.Duration
	entryOutput   string
	shutdownGrace time.Duration
	watchConfig   bool
}

func newServeCmd(ctx *context) *cobra.Command {
	opts := serveOptions{
		statusFile:    envOr(envStatusFile, ""),
		tick:          time.Second,
		entryOutput:   "log",
		shutdownGrace: defaultShutdownGrace,
		watchConfig:   true,
	}
	if value := envOr(envTick, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			opts.tick = d
		}
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and its HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.statusFile, "status-file", opts.statusFile, "Also write every status snapshot to this file")
	cmd.Flags().DurationVar(&opts.tick, "tick", opts.tick, "Status reporting period")
	cmd.Flags().StringVar(&opts.entryOutput, "entry-output", opts.entryOutput, "Where entry output goes: log, inherit or discard")
	cmd.Flags().BoolVar(&opts.watchConfig, "watch-config", opts.watchConfig, "Warn when the launch file changes on disk")
	cmd.Flags().DurationVar(&opts.shutdownGrace, "shutdown-grace", opts.shutdownGrace, "Time allowed for the API and reporter to stop")
	return cmd
}

func entryOutput(mode string, ctx *context) (control.OutputFunc, error) {
	switch mode {
	case "log":
		return control.LogOutput(ctx.log()), nil
	case "inherit":
		return control.InheritOutput(), nil
	case "discard":
		return func(uint, registry.Spec) (io.Writer, io.Writer) { return io.Discard, io.Discard }, nil
	default:
		return nil, fmt.Errorf("invalid entry output %q (want log, inherit or discard)", mode)
	}
}

func runServe(cmd *cobra.Command, ctx *context, opts serveOptions) error {
	logger := ctx.log()
	output, err := entryOutput(opts.entryOutput, ctx)
	if err != nil {
		return err
	}

	// A broken launch file leaves the registry empty; the API still answers.
	reg, err := registry.Load(config.Source{Path: ctx.configFile})
	if err != nil {
		logger.Error("launch file not loaded; serving no entries", "path", ctx.configFile, "err", err)
	} else {
		logger.Info("launch file loaded", "path", ctx.configFile, "entries", reg.Len())
	}

	supervisor := &process.Supervisor{Logger: logger}
	svc := control.New(reg, supervisor, control.WithLogger(logger), control.WithOutput(output))

	stream := status.NewStream()
	reporterOpts := []status.Option{
		status.WithInterval(opts.tick),
		status.WithPublisher(stream),
		status.WithLogger(logger),
	}
	if opts.statusFile != "" {
		reporterOpts = append(reporterOpts, status.WithPublisher(status.FilePublisher{Path: opts.statusFile}))
	}
	reporter := status.NewReporter(reg, reporterOpts...)

	listener, err := apihttp.Listen(ctx.apiAddr)
	if err != nil {
		reg.Close()
		return fmt.Errorf("listen: %w", err)
	}
	server, err := newAPIServer(apihttp.Config{
		Addr:       ctx.apiAddr,
		Listener:   listener,
		Controller: NewControlAPI(svc, stream.Latest),
		Logger:     logger.With("component", "api"),
	})
	if err != nil {
		listener.Close()
		reg.Close()
		return err
	}

	sctx := stopper.WithContext(stdcontext.Background())
	sctx.Defer(stream.Close)

	errCh := make(chan error, 2)
	sctx.Go(func(sctx *stopper.Context) error {
		runCtx, cancel := untilStopping(sctx)
		defer cancel()
		return reporter.Run(runCtx)
	})
	sctx.Go(func(sctx *stopper.Context) error {
		runCtx, cancel := untilStopping(sctx)
		defer cancel()
		if err := server.Run(runCtx); err != nil {
			errCh <- err
			return err
		}
		return nil
	})

	if opts.watchConfig {
		sctx.Go(func(sctx *stopper.Context) error {
			runCtx, cancel := untilStopping(sctx)
			defer cancel()
			// The registry is fixed for the life of the process.
			err := config.Watch(runCtx, ctx.configFile, func() {
				logger.Warn("launch file changed; restart serve to apply", "path", ctx.configFile)
			})
			if err != nil {
				logger.Warn("launch file watch stopped", "err", err)
			}
			return nil
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())

	var runErr error
	select {
	case <-cmd.Context().Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("control API failed", "err", runErr)
	}

	sctx.Stop(opts.shutdownGrace)
	if err := sctx.Wait(); err != nil && runErr == nil && !errors.Is(err, stdcontext.Canceled) {
		runErr = err
	}

	reg.Close()
	svc.Wait()
	reporter.Wait()
	return runErr
}

// untilStopping returns a context cancelled once sctx begins stopping.
func untilStopping(sctx *stopper.Context) (stdcontext.Context, stdcontext.CancelFunc) {
	ctx, cancel := stdcontext.WithCancel(sctx)
	go func() {
		select {
		case <-sctx.Stopping():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
