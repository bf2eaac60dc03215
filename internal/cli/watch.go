package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/resource/fsresource"
	"github.com/roach88/incr/internal/tracing"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Debounce    time.Duration
	MetricsAddr string
	Tags        []string

	// listening receives the metrics server address once it listens.
	listening func(addr string)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build, then update on every file change",
		Long: `Build every target, then watch the project directory and run an update
for every batch of changed files until interrupted.

Changes are batched until no event arrives for the debounce window. With
--metrics-addr engine metrics are served in the Prometheus format at
/metrics. Configuration changes are not picked up; restart watch after
editing incr.yaml.

Examples:
  incr watch
  incr watch --debounce 250ms --tag release
  incr watch --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 100*time.Millisecond, "quiet period before a batch of changes is built")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "active tags for every update")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) (err error) {
	ctx, stop := signal.NotifyContext(contextOrBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := formatter(opts.RootOptions, cmd)

	var tracers []engine.Tracer
	var registry *prometheus.Registry
	if opts.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		tracers = append(tracers, tracing.NewMetrics(registry))
	}

	p, err := openProject(ctx, opts.RootOptions, cmd, out, tracers...)
	if err != nil {
		return err
	}
	defer closeProject(context.Background(), p, &err)

	if registry != nil {
		shutdown, err := serveMetrics(opts, registry, p.logger)
		if err != nil {
			return out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to serve metrics", err), nil)
		}
		defer shutdown()
	}

	// A failed initial build is reported but does not stop watching; the
	// next change may fix it.
	buildErr := p.session(ctx, func(s *engine.Session) error {
		_, err := p.pipeline.Build(ctx, s)
		return err
	})
	reportPass(out, "build", p.executed(), buildErr)

	watcherOpts := fsresource.DefaultWatcherOptions()
	watcherOpts.DebounceWindow = opts.Debounce
	watcherOpts.Logger = p.logger
	w, err := fsresource.NewWatcher(p.cfg.Root, func(changed []resource.Key) {
		err := p.session(ctx, func(s *engine.Session) error {
			return s.UpdateAffectedBy(ctx, changed, opts.Tags...)
		})
		reportPass(out, "update", p.executed(), err)
	}, &watcherOpts)
	if err != nil {
		return out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to watch project", err), nil)
	}
	if err := w.Start(ctx); err != nil {
		return out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to watch project", err), nil)
	}
	defer w.Stop()

	p.logger.Info("watching", "root", p.cfg.Root, "debounce", opts.Debounce)
	<-ctx.Done()
	p.logger.Info("watch stopped")
	return nil
}

// reportPass writes one line per build or update pass. In json mode every
// pass is one JSON object.
func reportPass(out *OutputFormatter, kind string, executed []string, err error) {
	result := BuildResult{Executed: executed}
	if err != nil {
		_ = out.Error(CodeBuild, fmt.Sprintf("%s failed: %v", kind, err), result)
		return
	}
	_ = out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: ", kind)
		writeExecuted(w, executed)
	})
}

// serveMetrics starts the metrics server and returns its shutdown.
func serveMetrics(opts *WatchOptions, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", opts.MetricsAddr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	if opts.listening != nil {
		opts.listening(ln.Addr().String())
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
