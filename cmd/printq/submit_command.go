package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cwygoda/printq/internal/domain"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var phone string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload every queued document to the print server",
		Long: "Upload every queued copy in parallel. The queue is cleared only when " +
			"every copy was accepted; on failure or interrupt it is left as it was.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				number := strings.TrimSpace(phone)
				if number == "" {
					number = a.cfg.User.PhoneNumber
				}
				if number == "" {
					return errors.New("no phone number: pass --phone or set user.phone_number")
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				reporter := newProgressReporter(cmd.ErrOrStderr(), a.logger)
				progress, err := a.uploadService().Submit(runCtx, domain.Credential{PhoneNumber: number}, reporter.update)
				reporter.finish()

				out := cmd.OutOrStdout()
				switch {
				case err == nil:
					fmt.Fprintf(out, "Uploaded %s\n", copies(progress.SuccessCount))
					return nil
				case domain.IsCancelled(err):
					fmt.Fprintf(cmd.ErrOrStderr(), "Upload cancelled after %d of %d copies; the queue was kept\n",
						progress.SuccessCount, progress.TotalCount)
					return fmt.Errorf("submit: %w", context.Canceled)
				default:
					a.logger.WithError(err).Debug("submit failed")
					return errors.New(domain.UserMessage(err))
				}
			})
		},
	}

	cmd.Flags().StringVarP(&phone, "phone", "p", "", "Phone number sent with the upload (overrides user.phone_number)")
	return cmd
}

// progressReporter draws a progress bar on terminals and logs otherwise.
// update is called from a single goroutine.
type progressReporter struct {
	out    io.Writer
	bar    *progressbar.ProgressBar
	logger logrus.FieldLogger
}

func newProgressReporter(w io.Writer, logger logrus.FieldLogger) *progressReporter {
	r := &progressReporter{logger: logger}
	if isTerminal(w) {
		r.out = w
	}
	return r
}

func (r *progressReporter) update(p domain.UploadProgress) {
	if r.out == nil {
		r.logger.WithFields(logrus.Fields{
			"uploaded": p.SuccessCount,
			"total":    p.TotalCount,
		}).Info("upload progress")
		return
	}
	if r.bar == nil {
		r.bar = progressbar.NewOptions(p.TotalCount,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionSetDescription("Uploading"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = r.bar.Set(p.SuccessCount)
}

func (r *progressReporter) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
