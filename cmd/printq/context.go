package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cwygoda/printq/internal/adapter/converter"
	"github.com/cwygoda/printq/internal/adapter/filestore"
	httpAdapter "github.com/cwygoda/printq/internal/adapter/http"
	"github.com/cwygoda/printq/internal/adapter/sqlite"
	"github.com/cwygoda/printq/internal/config"
	"github.com/cwygoda/printq/internal/domain"
	"github.com/cwygoda/printq/internal/logging"
	"github.com/cwygoda/printq/internal/queue"
	"github.com/cwygoda/printq/internal/share"
	"github.com/cwygoda/printq/internal/upload"
)

const userAgent = "printq"

type commandContext struct {
	configFlag   string
	dbFlag       string
	backendFlag  string
	logLevelFlag string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.configFlag)
		if path == "" {
			path = config.DefaultPath()
		} else {
			path = config.ExpandPath(path)
		}
		c.configPath = path

		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.dbFlag != "" {
			cfg.Storage.Path = config.ExpandPath(c.dbFlag)
		}
		if c.backendFlag != "" {
			cfg.Storage.Backend = c.backendFlag
		}
		if c.logLevelFlag != "" {
			cfg.Logging.Level = c.logLevelFlag
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid config %s: %w", path, err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// queueStore is a domain.QueueStore that holds resources and supports raw appends.
type queueStore interface {
	domain.QueueStore
	AppendQueue(ctx context.Context, identifier string) error
	Close() error
}

// app is the wired set of components one command works with.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  queueStore
	events *queue.EventBus
	queue  *queue.Queue
}

func (c *commandContext) openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"backend": cfg.Storage.Backend,
		"path":    cfg.Storage.Path,
	}).Debug("opened queue store")

	events := queue.NewEventBus(0)
	q := queue.New(store,
		queue.WithLogger(logging.Component(logger, "queue")),
		queue.WithEventBus(events),
	)

	return &app{cfg: cfg, logger: logger, store: store, events: events, queue: q}, nil
}

func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app) error) error {
	a, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func openStore(cfg config.StorageConfig) (queueStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := filestore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open queue file: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open queue database: %w", err)
		}
		return store, nil
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) uploadService() *upload.Service {
	client := httpAdapter.NewClient(httpAdapter.ClientConfig{
		Endpoint:  a.cfg.Upload.Endpoint,
		Timeout:   a.cfg.Upload.Timeout.Duration,
		UserAgent: userAgent,
	}, logging.Component(a.logger, "client"))
	return upload.NewService(a.queue, client, logging.Component(a.logger, "upload"))
}

func (a *app) receiver() (*share.Receiver, error) {
	return a.receiverFor(a.queue)
}

// appendingReceiver queues received files with raw store appends, leaving
// duplicate merging to the next reload.
func (a *app) appendingReceiver(ctx context.Context) (*share.Receiver, error) {
	return a.receiverFor(&storeAppender{ctx: ctx, store: a.store, logger: a.logger})
}

func (a *app) receiverFor(jobs share.Adder) (*share.Receiver, error) {
	registry, err := converter.FromConfig(a.cfg.Converters)
	if err != nil {
		return nil, err
	}
	return share.NewReceiver(a.cfg.Share.SpoolDir, jobs, registry, logging.Component(a.logger, "share")), nil
}

// storeAppender adapts a store's raw append to share.Adder.
type storeAppender struct {
	ctx    context.Context
	store  queueStore
	logger logrus.FieldLogger
}

func (s *storeAppender) AddJob(identifier string) domain.Descriptor {
	if err := s.store.AppendQueue(s.ctx, identifier); err != nil {
		s.logger.WithError(err).WithField("identifier", identifier).Warn("append to queue store")
	}
	return domain.Descriptor{Identifier: identifier, Quantity: domain.DefaultSettings.Quantity}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
