package domain

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ParseLocation resolves a queue identifier into a local file path.
// Identifiers are file URLs ("file:///path/doc.pdf") or bare paths.
func ParseLocation(identifier string) (string, error) {
	if strings.TrimSpace(identifier) == "" {
		return "", &LocationError{Identifier: identifier, Err: errors.New("empty identifier")}
	}

	u, err := url.Parse(identifier)
	if err != nil {
		return "", &LocationError{Identifier: identifier, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "":
		return filepath.FromSlash(identifier), nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", &LocationError{Identifier: identifier, Err: fmt.Errorf("remote host %q", u.Host)}
		}
		if u.Path == "" {
			return "", &LocationError{Identifier: identifier, Err: errors.New("empty path")}
		}
		return filepath.FromSlash(u.Path), nil
	default:
		return "", &LocationError{Identifier: identifier, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

// FileURL builds the identifier for an absolute local path.
func FileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
