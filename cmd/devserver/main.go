// Command devserver is a local stand-in for the analytics and remote data
// backends. It accepts event batches and serves remote data from a YAML
// fixture, reloading the fixture on SIGHUP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-telemetry-kit/logging"
)

var (
	addr        string
	fixturePath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:          "devserver",
	Short:        "Serve fake analytics and remote data endpoints",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logCfg := logging.GetConfigFromEnv()
		logCfg.Format = "text"
		if verbose {
			logCfg.Level = "debug"
		}
		logging.Init(logCfg)
		logger := logging.WithComponent(logging.Component("devserver"))

		f := &Fixture{}
		if fixturePath != "" {
			var err error
			if f, err = LoadFixture(fixturePath); err != nil {
				return err
			}
		}

		gin.SetMode(gin.ReleaseMode)
		s := newServer(f, logger)
		return serve(cmd.Context(), s, logger)
	},
}

func serve(ctx context.Context, s *server, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	srv := &http.Server{Addr: addr, Handler: s.router(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("fixture", fixturePath))
		errc <- srv.ListenAndServe()
	}()

	for {
		select {
		case <-hup:
			if fixturePath == "" {
				continue
			}
			f, err := LoadFixture(fixturePath)
			if err != nil {
				logger.LogError(ctx, err, "fixture reload failed")
				continue
			}
			s.setFixture(f)
			logger.Info("fixture reloaded", slog.Int("payloads", len(f.Payloads)))
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "YAML fixture with remote data payloads and tuning")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every event body")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
