package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// ready, when set, receives the bound address once the server listens
	// (for testing).
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background sync scheduler and local API",
		Long: `Run the sync scheduler and a local HTTP API until interrupted.

Every site is synced on start and then periodically. While the remote stays
unreachable the interval backs off up to sync.max_interval. POST
/connectivity tells the scheduler the network is back.

Example:
  learnsync serve
  learnsync serve --listen 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address for the local API (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	return withApp(cmd, opts.RootOptions, func(parentCtx context.Context, a *app) error {
		ctx, cancel := context.WithCancel(parentCtx)
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			select {
			case sig := <-sigChan:
				a.logger.Info("received signal, shutting down", "signal", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		listen := a.cfg.Listen
		if opts.Listen != "" {
			listen = opts.Listen
		}
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return opts.formatter(cmd).Fail("listen", err)
		}

		sched := engine.NewScheduler(a.engine, a.cfg.Sync.Interval, a.cfg.Sync.MaxInterval, a.logger)
		srv := &http.Server{
			Handler:           httpapi.NewServer(a.engine, sched, a.logger).Router(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		a.logger.Info("serving", "addr", ln.Addr().String(), "data_dir", a.cfg.DataDir)
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())
		if opts.ready != nil {
			opts.ready(ln.Addr().String())
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sched.Run(gctx)
		})
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "serve", err)
		}
		a.logger.Info("stopped gracefully")
		return nil
	})
}
