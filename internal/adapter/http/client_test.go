package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cwygoda/printq/internal/domain"
)

var testCred = domain.Credential{PhoneNumber: "01012345678"}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestClient(endpoint string) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient(ClientConfig{Endpoint: endpoint, Timeout: 5 * time.Second}, logger)
}

func TestClient_UploadSendsMultipartForm(t *testing.T) {
	type received struct {
		method, phone, isA3, filename, content string
		err                                    error
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			got <- received{err: err}
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			got <- received{err: err}
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		got <- received{
			method:   r.Method,
			phone:    r.FormValue("phone_number"),
			isA3:     r.FormValue("is_a3"),
			filename: header.Filename,
			content:  string(data),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := writeTestFile(t, "report.pdf", "%PDF-1.4")
	unit := domain.UploadUnit{GroupID: domain.FileURL(path), FileLocation: path, IsA3: true}

	if err := newTestClient(srv.URL).Upload(context.Background(), unit, testCred); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	r := <-got
	if r.err != nil {
		t.Fatalf("server could not read form: %v", r.err)
	}
	want := received{method: http.MethodPost, phone: "01012345678", isA3: "true", filename: "report.pdf", content: "%PDF-1.4"}
	if r != want {
		t.Errorf("received %+v, want %+v", r, want)
	}
}

func TestClient_UploadStatusError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"plain message", http.StatusInternalServerError, "  queue\r\nfull  ", "queue  full"},
		{"html page", http.StatusBadGateway, "<HTML><body>Bad gateway</body></HTML>", ""},
		{"empty body", http.StatusNotFound, "", ""},
		{"long message", http.StatusBadRequest, strings.Repeat("x", 130), strings.Repeat("x", 120) + "…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			path := writeTestFile(t, "a.pdf", "data")
			err := newTestClient(srv.URL).Upload(context.Background(), domain.UploadUnit{GroupID: "a", FileLocation: path}, testCred)

			var statusErr *domain.StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Upload() error = %v, want *domain.StatusError", err)
			}
			if statusErr.Code != tt.status {
				t.Errorf("Code = %d, want %d", statusErr.Code, tt.status)
			}
			if statusErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", statusErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestClient_UploadPreflight(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	dir := t.TempDir()

	tests := []struct {
		name    string
		unit    domain.UploadUnit
		wantErr error
	}{
		{"no location", domain.UploadUnit{GroupID: "a"}, domain.ErrInvalidLocation},
		{"missing file", domain.UploadUnit{GroupID: "a", FileLocation: filepath.Join(dir, "missing.pdf")}, domain.ErrFileNotFound},
		{"directory", domain.UploadUnit{GroupID: "a", FileLocation: dir}, domain.ErrFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Upload(context.Background(), tt.unit, testCred)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Upload() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_UploadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	path := writeTestFile(t, "a.pdf", "data")
	err := newTestClient(endpoint).Upload(context.Background(), domain.UploadUnit{GroupID: "a", FileLocation: path}, testCred)

	if !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("Upload() error = %v, want ErrNetwork", err)
	}
	if domain.IsCancelled(err) {
		t.Error("network error reported as cancelled")
	}
}

func TestClient_UploadCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	path := writeTestFile(t, "a.pdf", "data")
	err := newTestClient(srv.URL).Upload(ctx, domain.UploadUnit{GroupID: "a", FileLocation: path}, testCred)

	if !domain.IsCancelled(err) {
		t.Errorf("Upload() error = %v, want cancellation", err)
	}
	if msg := domain.UserMessage(err); msg != "" {
		t.Errorf("UserMessage() = %q, want empty", msg)
	}
}

func TestServerMessage(t *testing.T) {
	tests := []struct {
		body []byte
		want string
	}{
		{nil, ""},
		{[]byte("\nok\n"), "ok"},
		{[]byte("<!doctype html><html></html>"), ""},
		{[]byte(strings.Repeat("가", 121)), strings.Repeat("가", 120) + "…"},
	}

	for _, tt := range tests {
		if got := serverMessage(tt.body); got != tt.want {
			t.Errorf("serverMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
