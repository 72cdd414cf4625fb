package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
)

const (
	defaultSettle = 500 * time.Millisecond
	failedDir     = "failed"
)

// Receiver spools and queues one file.
type Receiver interface {
	Receive(ctx context.Context, path string) ([]domain.Descriptor, error)
}

// Reloader refreshes the queue from its store.
type Reloader interface {
	Reload()
}

// Worker polls an inbox directory and hands new files to a Receiver.
// Received files are removed from the inbox; files that cannot be received
// are moved to the inbox's failed/ subdirectory.
type Worker struct {
	inboxDir     string
	receiver     Receiver
	queue        Reloader
	pollInterval time.Duration
	settle       time.Duration
	logger       logrus.FieldLogger
}

// New creates a new worker.
func New(inboxDir string, receiver Receiver, queue Reloader, pollInterval time.Duration, logger logrus.FieldLogger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		inboxDir:     inboxDir,
		receiver:     receiver,
		queue:        queue,
		pollInterval: pollInterval,
		settle:       defaultSettle,
		logger:       logger,
	}
}

// Run starts the worker loop until context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.WithFields(logrus.Fields{
		"inbox":    w.inboxDir,
		"interval": w.pollInterval.String(),
	}).Info("worker started")
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll receives every settled file in the inbox and returns how many were queued.
func (w *Worker) poll(ctx context.Context) int {
	if err := os.MkdirAll(w.inboxDir, 0o755); err != nil {
		w.logger.WithError(err).Error("create inbox")
		return 0
	}
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		w.logger.WithError(err).Error("poll error")
		return 0
	}

	var ready []string
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || skipName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Still being written.
		if now.Sub(info.ModTime()) < w.settle {
			continue
		}
		ready = append(ready, filepath.Join(w.inboxDir, entry.Name()))
	}
	if len(ready) == 0 {
		return 0
	}

	// Another process may have changed the queue since we last looked.
	w.queue.Reload()

	received := 0
	for _, path := range ready {
		if ctx.Err() != nil {
			return received
		}
		if w.receive(ctx, path) {
			received++
		}
	}
	return received
}

func (w *Worker) receive(ctx context.Context, path string) bool {
	log := w.logger.WithField("file", filepath.Base(path))

	descriptors, err := w.receiver.Receive(ctx, path)
	if err != nil {
		log.WithError(err).Warn("receive failed")
		w.quarantine(path)
		return false
	}

	if err := os.Remove(path); err != nil {
		log.WithError(err).Warn("remove received file")
	}
	log.WithField("queued", len(descriptors)).Info("received")
	return true
}

func (w *Worker) quarantine(path string) {
	dir := filepath.Join(w.inboxDir, failedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.WithError(err).Error("create failed dir")
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		w.logger.WithError(err).WithField("file", filepath.Base(path)).Error("move to failed dir")
	}
}

func skipName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range []string{".part", ".tmp", ".crdownload"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
