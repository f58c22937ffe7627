package cmd

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

	"github.com/KaramelBytes/mpie/internal/utils"
	"github.com/KaramelBytes/mpie/internal/web"
)

const shutdownGrace = 15 * time.Second

var (
	serveHost       string
	servePort       int
	serveNoPrefetch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload dashboard and JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		f := cmd.Flags()
		if f.Changed("host") {
			c.Host = serveHost
		}
		if f.Changed("port") {
			c.Port = servePort
		}
		if err := c.Validate(); err != nil {
			return err
		}

		a, err := buildApp(c)
		if err != nil {
			return err
		}
		defer a.close()
		if err := utils.EnsureDir(a.uploadDir()); err != nil {
			return fmt.Errorf("upload dir: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a)
	},
}

// serve blocks until ctx is done or the listener fails.
func serve(ctx context.Context, a *app) error {
	log := a.log.WithField("component", "serve")
	if !serveNoPrefetch {
		// Prefetch in the background; the first upload waits on the same fetch.
		go func() {
			snap, err := a.fetcher.Ensure(ctx)
			if err != nil {
				log.WithError(err).Warn("model prefetch failed, will retry on first upload")
				return
			}
			log.WithField("revision", snap.Commit).Info("model snapshot ready")
		}()
	}
	go a.engine.Janitor(ctx, a.cfg.JanitorInterval())

	srv := &http.Server{
		Handler: web.NewServer(a.engine, a.metrics, web.Options{
			UploadDir:      a.uploadDir(),
			MaxUploadBytes: a.cfg.MaxUploadBytes(),
		}, a.log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.WithField("addr", ln.Addr().String()).Info("serving dashboard")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config and PORT)")
	serveCmd.Flags().BoolVar(&serveNoPrefetch, "no-prefetch", false, "skip downloading the model at startup")
}
