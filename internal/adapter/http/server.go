package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
	"github.com/cwygoda/printq/internal/queue"
	"github.com/cwygoda/printq/internal/share"
)

const (
	maxUploadBytes   = 64 << 20
	maxFormMemory    = 8 << 20
	maxTimestampSkew = 5 * time.Minute
)

// Receiver spools a streamed document and queues it.
type Receiver interface {
	ReceiveReader(ctx context.Context, name string, body io.Reader) ([]domain.Descriptor, error)
}

// JobLister lists the queue.
type JobLister interface {
	JobDescriptors() []domain.Descriptor
}

// EventSource returns queue events after a sequence number.
type EventSource interface {
	Since(seq int64) []queue.Event
}

// Server is the HTTP adapter for the share endpoint.
type Server struct {
	receiver Receiver
	jobs     JobLister
	events   EventSource
	mux      *http.ServeMux
	server   *http.Server
	secret   string
	logger   logrus.FieldLogger
}

// NewServer creates a new HTTP server. events may be nil.
func NewServer(receiver Receiver, jobs JobLister, events EventSource, addr string, secret string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		receiver: receiver,
		jobs:     jobs,
		events:   events,
		mux:      http.NewServeMux(),
		secret:   secret,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /share", s.handleShare)
	s.mux.HandleFunc("GET /jobs", s.handleJobs)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// jobResponse is the JSON form of one queue entry.
type jobResponse struct {
	Position   int    `json:"position,omitempty"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	A3         bool   `json:"a3"`
}

type jobsResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

type eventsResponse struct {
	Events []queue.Event `json:"events"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	// Read body for verification and parsing
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Verify signature if secret is configured
	if s.secret != "" {
		if err := s.verifySignature(r, body); err != nil {
			s.logger.WithError(err).Warn("share verification failed")
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	descriptors, err := s.receiver.ReceiveReader(r.Context(), header.Filename, file)
	if err != nil {
		if errors.Is(err, share.ErrInvalidName) {
			s.writeError(w, http.StatusBadRequest, "invalid file name")
			return
		}
		s.logger.WithError(err).WithField("file", header.Filename).Error("share error")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, jobsResponse{Jobs: toResponses(descriptors, 0)})
}

func (s *Server) verifySignature(r *http.Request, body []byte) error {
	// Check X-Timestamp header
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be ISO8601/RFC3339 format")
	}

	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew: %v, max: %v)", skew.Truncate(time.Second), maxTimestampSkew)
	}

	// Check X-Signature header
	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}

	if signature != Sign(timestamp, body, s.secret) {
		return fmt.Errorf("invalid signature")
	}

	return nil
}

// Sign computes the X-Signature value for a share request:
// SHA256("${timestamp}\n${body}\n${secret}") in hex.
func Sign(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, jobsResponse{Jobs: toResponses(s.jobs.JobDescriptors(), 1)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusNotFound, "events not enabled")
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = n
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{Events: s.events.Since(since)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// toResponses numbers entries from first; first 0 omits positions.
func toResponses(descriptors []domain.Descriptor, first int) []jobResponse {
	out := make([]jobResponse, 0, len(descriptors))
	for i, d := range descriptors {
		resp := jobResponse{
			Identifier: d.Identifier,
			Name:       displayName(d.Identifier),
			Quantity:   d.Quantity,
			A3:         d.IsA3,
		}
		if first > 0 {
			resp.Position = first + i
		}
		out = append(out, resp)
	}
	return out
}

func displayName(identifier string) string {
	if path, err := domain.ParseLocation(identifier); err == nil {
		identifier = path
	}
	return filepath.Base(identifier)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
