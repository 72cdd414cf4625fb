package http

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
)

// DefaultEndpoint is the print server upload URL.
const DefaultEndpoint = "https://print.kksoft.kr/upload_file/"

const (
	defaultTimeout   = 2 * time.Minute
	maxMessageLength = 120
)

// ClientConfig configures the upload client.
type ClientConfig struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// Client implements domain.UploadClient as a multipart form POST.
type Client struct {
	rest     *resty.Client
	endpoint string
	logger   logrus.FieldLogger
}

// NewClient creates an upload client.
func NewClient(cfg ClientConfig, logger logrus.FieldLogger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	rest := resty.New().SetTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		rest.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{rest: rest, endpoint: cfg.Endpoint, logger: logger}
}

// Upload sends one copy of unit's file. Errors are *domain.LocationError,
// *domain.FileError, *domain.StatusError, *domain.NetworkError or
// domain.ErrCancelled.
func (c *Client) Upload(ctx context.Context, unit domain.UploadUnit, cred domain.Credential) error {
	if unit.FileLocation == "" {
		return &domain.LocationError{Identifier: unit.GroupID, Err: errors.New("empty file location")}
	}
	info, err := os.Stat(unit.FileLocation)
	if err != nil {
		return &domain.FileError{Path: unit.FileLocation, Err: err}
	}
	if info.IsDir() {
		return &domain.FileError{Path: unit.FileLocation, Err: fmt.Errorf("%s is a directory", unit.FileLocation)}
	}

	log := c.logger.WithFields(logrus.Fields{
		"group": unit.GroupID,
		"file":  unit.FileLocation,
		"a3":    unit.IsA3,
	})
	log.Debug("uploading")

	resp, err := c.rest.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"phone_number": cred.PhoneNumber,
			"is_a3":        strconv.FormatBool(unit.IsA3),
		}).
		SetFile("file", unit.FileLocation).
		Post(c.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ErrCancelled
		}
		if errors.Is(err, os.ErrNotExist) {
			return &domain.FileError{Path: unit.FileLocation, Err: err}
		}
		return &domain.NetworkError{Err: err}
	}

	if !resp.IsSuccess() {
		return &domain.StatusError{
			Code:    resp.StatusCode(),
			Message: serverMessage(resp.Body()),
		}
	}

	log.WithField("status", resp.StatusCode()).Debug("uploaded")
	return nil
}

// serverMessage turns an error body into a single short line. HTML pages
// produce no message.
func serverMessage(body []byte) string {
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(string(body))
	msg = strings.TrimSpace(msg)

	if strings.Contains(strings.ToLower(msg), "<html") {
		return ""
	}
	if !utf8.ValidString(msg) {
		return ""
	}
	if utf8.RuneCountInString(msg) > maxMessageLength {
		runes := []rune(msg)
		return string(runes[:maxMessageLength]) + "…"
	}
	return msg
}
