package upload

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
)

// ErrSubmissionInProgress is returned when Submit is called while another
// submission is still running.
var ErrSubmissionInProgress = errors.New("a submission is already in progress")

// Jobs is the part of the print queue a submission needs.
type Jobs interface {
	JobDescriptors() []domain.Descriptor
	CompleteJobs(submitted []domain.Descriptor) []string
}

// Service submits the whole queue as one upload session and clears the
// submitted documents once every copy has been uploaded.
type Service struct {
	jobs   Jobs
	client domain.UploadClient
	logger logrus.FieldLogger

	mu      sync.Mutex
	current *Session
}

// NewService creates a Service.
func NewService(jobs Jobs, client domain.UploadClient, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{jobs: jobs, client: client, logger: logger}
}

// Submit validates the credential, plans the current queue and uploads it.
// Planning errors are returned before any upload starts. The queue is left
// untouched unless the session succeeds.
func (s *Service) Submit(ctx context.Context, cred domain.Credential, onProgress ProgressFunc) (domain.UploadProgress, error) {
	if err := cred.Validate(); err != nil {
		return domain.UploadProgress{}, err
	}

	submitted := s.jobs.JobDescriptors()
	plan, err := MakePlan(submitted)
	if err != nil {
		return domain.UploadProgress{}, err
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return domain.UploadProgress{}, ErrSubmissionInProgress
	}
	session := NewSession(s.client, s.logger)
	s.current = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	if onProgress != nil {
		onProgress(plan.InitialProgress())
	}

	progress, err := session.Start(ctx, plan.Units, cred, onProgress)
	if err != nil {
		return progress, err
	}

	s.clearSubmitted(submitted)
	return progress, nil
}

// Cancel cancels the running submission. It reports whether one was running.
func (s *Service) Cancel() bool {
	s.mu.Lock()
	session := s.current
	s.mu.Unlock()

	if session == nil {
		return false
	}
	session.Cancel()
	return true
}

// clearSubmitted takes the uploaded copies off the queue. Documents and
// copies added while the upload was running stay queued.
func (s *Service) clearSubmitted(submitted []domain.Descriptor) {
	removed := s.jobs.CompleteJobs(submitted)
	if len(removed) == len(submitted) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"submitted": len(submitted),
		"removed":   len(removed),
	}).Info("queue changed during upload, kept added copies")
}
