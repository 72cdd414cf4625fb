package domain

import "context"

// QueueStore is the driven port for durable queue persistence.
// The stored sequence may contain duplicates written by independent producers.
type QueueStore interface {
	LoadQueue(ctx context.Context) ([]string, error)
	SaveQueue(ctx context.Context, queue []string) error
	ClearQueue(ctx context.Context) error
	LoadSettings(ctx context.Context) (map[string]DocumentSettings, error)
	SaveSettings(ctx context.Context, settings map[string]DocumentSettings) error
	ClearSettings(ctx context.Context) error
}

// UploadClient is the driven port that uploads a single unit to the print server.
// Implementations must return promptly once ctx is cancelled.
type UploadClient interface {
	Upload(ctx context.Context, unit UploadUnit, cred Credential) error
}

// Converter turns a received file into one or more printable files written to outDir.
type Converter interface {
	Name() string
	Match(filename string) bool
	Convert(ctx context.Context, src, outDir string) error
}
