// Package share receives documents from outside the queue, places them in
// the spool directory and queues them.
package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
)

var (
	// ErrNoOutput is returned when a converter succeeds without producing a file.
	ErrNoOutput = errors.New("converter produced no files")
	// ErrInvalidName is returned for streamed documents without a usable file name.
	ErrInvalidName = errors.New("invalid file name")
)

// Adder is the part of the print queue a receiver needs.
type Adder interface {
	AddJob(identifier string) domain.Descriptor
}

// ConverterMatcher picks a converter for a file name, or nil for none.
type ConverterMatcher interface {
	Match(filename string) domain.Converter
}

// Receiver copies received files into the spool directory and adds them to
// the queue. A file received twice replaces the spooled copy and adds one
// more copy to the existing queue entry.
type Receiver struct {
	spoolDir   string
	jobs       Adder
	converters ConverterMatcher
	logger     logrus.FieldLogger
}

// NewReceiver creates a Receiver. converters may be nil.
func NewReceiver(spoolDir string, jobs Adder, converters ConverterMatcher, logger logrus.FieldLogger) *Receiver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Receiver{
		spoolDir:   spoolDir,
		jobs:       jobs,
		converters: converters,
		logger:     logger,
	}
}

// SpoolDir returns the directory holding queued files.
func (r *Receiver) SpoolDir() string { return r.spoolDir }

// Receive spools the file at src, converting it first when a converter
// matches, and queues every resulting file.
func (r *Receiver) Receive(ctx context.Context, src string) ([]domain.Descriptor, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, &domain.FileError{Path: src, Err: err}
	}
	if info.IsDir() {
		return nil, &domain.FileError{Path: src, Err: fmt.Errorf("%s is a directory", src)}
	}
	if err := os.MkdirAll(r.spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	name := filepath.Base(src)
	var spooled []string
	if conv := r.match(name); conv != nil {
		spooled, err = r.convert(ctx, conv, src)
	} else {
		var dst string
		dst, err = r.place(src, name)
		spooled = []string{dst}
	}
	if err != nil {
		return nil, err
	}

	descriptors := make([]domain.Descriptor, 0, len(spooled))
	for _, path := range spooled {
		abs, err := filepath.Abs(path)
		if err != nil {
			return descriptors, err
		}
		d := r.jobs.AddJob(domain.FileURL(abs))
		r.logger.WithFields(logrus.Fields{
			"file":     filepath.Base(abs),
			"quantity": d.Quantity,
		}).Info("queued document")
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// ReceiveReader spools a document streamed from body under name.
func (r *Receiver) ReceiveReader(ctx context.Context, name string, body io.Reader) ([]domain.Descriptor, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "printq-receive-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return r.Receive(ctx, path)
}

func (r *Receiver) match(name string) domain.Converter {
	if r.converters == nil {
		return nil
	}
	return r.converters.Match(name)
}

// convert runs conv in a temp dir and moves its outputs into the spool.
func (r *Receiver) convert(ctx context.Context, conv domain.Converter, src string) ([]string, error) {
	tempDir, err := os.MkdirTemp("", "printq-convert-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	log := r.logger.WithFields(logrus.Fields{"converter": conv.Name(), "file": filepath.Base(src)})
	log.Debug("converting")
	if err := conv.Convert(ctx, src, tempDir); err != nil {
		return nil, fmt.Errorf("convert %s: %w", filepath.Base(src), err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return nil, err
	}

	var moved []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		dst, err := r.place(filepath.Join(tempDir, entry.Name()), entry.Name())
		if err != nil {
			return nil, err
		}
		moved = append(moved, dst)
	}
	if len(moved) == 0 {
		return nil, fmt.Errorf("convert %s: %w", filepath.Base(src), ErrNoOutput)
	}
	log.WithField("outputs", len(moved)).Info("converted document")
	return moved, nil
}

// place copies src into the spool as name, replacing any existing file.
func (r *Receiver) place(src, name string) (string, error) {
	dst := filepath.Join(r.spoolDir, name)
	if filepath.Clean(src) == filepath.Clean(dst) {
		return dst, nil
	}

	tmp, err := os.CreateTemp(r.spoolDir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := copyInto(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("replace %s: %w", name, err)
	}
	return dst, nil
}

func copyInto(dst io.Writer, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(dst, in)
	return err
}

func cleanName(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return name, nil
}
