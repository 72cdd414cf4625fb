package upload

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ProgressFunc receives progress snapshots. Calls are never concurrent and
// SuccessCount never decreases between calls.
type ProgressFunc func(domain.UploadProgress)

type unitResult struct {
	unit domain.UploadUnit
	err  error
}

// Session uploads one fixed set of units. A Session is single use: calling
// Start more than once panics.
type Session struct {
	id     string
	client domain.UploadClient
	logger logrus.FieldLogger

	mu        sync.Mutex
	state     State
	started   bool
	cancelled bool
	cancel    context.CancelFunc
}

// NewSession creates an idle session that uploads through client.
func NewSession(client domain.UploadClient, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		client: client,
		logger: logger.WithField("session", id),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel stops a running session. In-flight uploads see their context
// cancelled and Start resolves with domain.ErrCancelled. Cancelling before
// Start makes Start return domain.ErrCancelled without uploading; cancelling
// a finished session does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Start uploads every unit concurrently and blocks until the session reaches
// a terminal state. It returns the final progress on success. On failure it
// returns the last reported progress with the first unit error; on
// cancellation, including cancellation of ctx, with domain.ErrCancelled.
// The first unit failure cancels every other in-flight upload.
func (s *Session) Start(ctx context.Context, units []domain.UploadUnit, cred domain.Credential, onProgress ProgressFunc) (domain.UploadProgress, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("upload: session started twice")
	}
	s.started = true

	if len(units) == 0 {
		s.mu.Unlock()
		return domain.UploadProgress{}, domain.ErrEmptyQueue
	}
	if s.cancelled {
		s.state = StateCancelled
		s.mu.Unlock()
		return domain.UploadProgress{TotalCount: len(units)}, domain.ErrCancelled
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()

	progress := domain.UploadProgress{
		TotalCount:        len(units),
		CompletedPerGroup: make(map[string]int),
	}
	for _, u := range units {
		progress.CompletedPerGroup[u.GroupID] = 0
	}

	s.logger.WithField("units", len(units)).Info("upload session started")

	results := make(chan unitResult, len(units))
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u domain.UploadUnit) {
			defer wg.Done()
			results <- unitResult{unit: u, err: s.client.Upload(runCtx, u, cred)}
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single aggregator: only this loop touches progress.
	var outcome error
	for r := range results {
		if outcome != nil {
			continue
		}

		if r.err != nil {
			if runCtx.Err() != nil || domain.IsCancelled(r.err) {
				outcome = domain.ErrCancelled
			} else {
				outcome = r.err
				s.logger.WithError(r.err).WithFields(logrus.Fields{
					"group": r.unit.GroupID,
					"file":  r.unit.FileLocation,
				}).Warn("unit upload failed, cancelling session")
			}
			cancel()
			continue
		}

		if runCtx.Err() != nil {
			outcome = domain.ErrCancelled
			continue
		}

		progress.SuccessCount++
		progress.CompletedPerGroup[r.unit.GroupID]++
		if onProgress != nil {
			onProgress(progress.Clone())
		}
	}

	final := StateSucceeded
	switch {
	case outcome == nil && !progress.Done():
		outcome = domain.ErrCancelled
		final = StateCancelled
	case domain.IsCancelled(outcome):
		final = StateCancelled
	case outcome != nil:
		final = StateFailed
	}

	s.mu.Lock()
	s.state = final
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"state":     final.String(),
		"succeeded": progress.SuccessCount,
		"total":     progress.TotalCount,
	}).Info("upload session finished")

	return progress.Clone(), outcome
}
