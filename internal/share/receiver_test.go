package share

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/printq/internal/domain"
)

// fakeQueue counts adds per identifier.
type fakeQueue struct {
	order  []string
	counts map[string]int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{counts: make(map[string]int)}
}

func (f *fakeQueue) AddJob(identifier string) domain.Descriptor {
	if f.counts[identifier] == 0 {
		f.order = append(f.order, identifier)
	}
	f.counts[identifier]++
	return domain.Descriptor{Identifier: identifier, Quantity: f.counts[identifier]}
}

// fakeConverter writes fixed outputs into outDir.
type fakeConverter struct {
	outputs map[string]string
	err     error
}

func (f *fakeConverter) Name() string               { return "fake" }
func (f *fakeConverter) Match(filename string) bool { return strings.HasSuffix(filename, ".docx") }
func (f *fakeConverter) Convert(ctx context.Context, src, outDir string) error {
	if f.err != nil {
		return f.err
	}
	for name, content := range f.outputs {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type singleMatcher struct{ c domain.Converter }

func (m singleMatcher) Match(filename string) domain.Converter {
	if m.c.Match(filename) {
		return m.c
	}
	return nil
}

func newTestReceiver(t *testing.T, q Adder, converters ConverterMatcher) *Receiver {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewReceiver(filepath.Join(t.TempDir(), "spool"), q, converters, logger)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReceiver_Receive(t *testing.T) {
	q := newFakeQueue()
	r := newTestReceiver(t, q, nil)
	src := writeFile(t, t.TempDir(), "invoice.pdf", "v1")

	got, err := r.Receive(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 1)

	spooled := filepath.Join(r.SpoolDir(), "invoice.pdf")
	assert.Equal(t, domain.FileURL(spooled), got[0].Identifier)
	assert.Equal(t, 1, got[0].Quantity)

	path, err := domain.ParseLocation(got[0].Identifier)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	// The source is left in place.
	assert.FileExists(t, src)
}

func TestReceiver_ReceiveTwiceReplacesAndIncrements(t *testing.T) {
	q := newFakeQueue()
	r := newTestReceiver(t, q, nil)
	dir := t.TempDir()

	_, err := r.Receive(context.Background(), writeFile(t, dir, "a.pdf", "old"))
	require.NoError(t, err)
	got, err := r.Receive(context.Background(), writeFile(t, dir, "a.pdf", "new"))
	require.NoError(t, err)

	assert.Equal(t, 2, got[0].Quantity)
	assert.Len(t, q.order, 1)

	data, err := os.ReadFile(filepath.Join(r.SpoolDir(), "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(r.SpoolDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestReceiver_ReceiveMissing(t *testing.T) {
	r := newTestReceiver(t, newFakeQueue(), nil)

	_, err := r.Receive(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	_, err = r.Receive(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestReceiver_Convert(t *testing.T) {
	q := newFakeQueue()
	conv := &fakeConverter{outputs: map[string]string{"report.pdf": "converted"}}
	r := newTestReceiver(t, q, singleMatcher{conv})

	got, err := r.Receive(context.Background(), writeFile(t, t.TempDir(), "report.docx", "doc"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, domain.FileURL(filepath.Join(r.SpoolDir(), "report.pdf")), got[0].Identifier)
	assert.NoFileExists(t, filepath.Join(r.SpoolDir(), "report.docx"))
}

func TestReceiver_ConvertErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		conv    *fakeConverter
		wantErr error
	}{
		{"command fails", &fakeConverter{err: boom}, boom},
		{"no output", &fakeConverter{}, ErrNoOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQueue()
			r := newTestReceiver(t, q, singleMatcher{tt.conv})

			_, err := r.Receive(context.Background(), writeFile(t, t.TempDir(), "x.docx", "doc"))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, q.order)
		})
	}
}

func TestReceiver_ReceiveReader(t *testing.T) {
	q := newFakeQueue()
	r := newTestReceiver(t, q, nil)

	got, err := r.ReceiveReader(context.Background(), "../../etc/scan.pdf", strings.NewReader("scan"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.FileURL(filepath.Join(r.SpoolDir(), "scan.pdf")), got[0].Identifier)

	for _, bad := range []string{"", ".", "..", "/"} {
		_, err := r.ReceiveReader(context.Background(), bad, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", bad)
	}
}
