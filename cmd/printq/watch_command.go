package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	httpAdapter "github.com/cwygoda/printq/internal/adapter/http"
	"github.com/cwygoda/printq/internal/logging"
	"github.com/cwygoda/printq/internal/queue"
	"github.com/cwygoda/printq/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var listen string
	var noServer bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Queue files dropped into the inbox or posted to the share endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				receiver, err := a.receiver()
				if err != nil {
					return err
				}

				addr := a.cfg.Share.Listen
				if cmd.Flags().Changed("listen") {
					addr = listen
				}
				if noServer {
					addr = ""
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				events, unsubscribe := a.events.Subscribe(32)
				defer unsubscribe()
				go logEvents(events, logging.Component(a.logger, "events"))

				w := worker.New(a.cfg.Share.InboxDir, receiver, a.queue, a.cfg.Share.PollInterval.Duration, logging.Component(a.logger, "worker"))

				var wg sync.WaitGroup
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.Run(runCtx)
				}()

				serverErr := make(chan error, 1)
				var srv *httpAdapter.Server
				if addr != "" {
					srv = httpAdapter.NewServer(receiver, a.queue, a.events, addr, a.cfg.Share.Secret, logging.Component(a.logger, "server"))
					go func() {
						a.logger.WithField("addr", addr).Info("share endpoint listening")
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							serverErr <- err
						}
					}()
				}

				var runErr error
				select {
				case <-runCtx.Done():
					a.logger.Info("received signal, shutting down")
				case err := <-serverErr:
					runErr = fmt.Errorf("share endpoint: %w", err)
				}
				stop()

				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.logger.WithError(err).Warn("share endpoint shutdown")
					}
				}
				wg.Wait()

				a.logger.Info("shutdown complete")
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Share endpoint address (overrides share.listen)")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "Only watch the inbox directory")
	return cmd
}

func logEvents(events <-chan queue.Event, logger logrus.FieldLogger) {
	for event := range events {
		logger.WithFields(logrus.Fields{
			"seq":  event.Seq,
			"type": event.Type,
			"jobs": len(event.Jobs),
		}).Debug("queue changed")
	}
}
