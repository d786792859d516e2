package remote

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a remote file does not exist.
	ErrNotFound = errors.New("remote file not found")
	// ErrUnknownServer is returned for a server id with no configured address.
	ErrUnknownServer = errors.New("unknown media server")
	// ErrNoHostKeyPolicy is returned when neither a known hosts file nor
	// insecure host key mode is configured.
	ErrNoHostKeyPolicy = errors.New("ssh known hosts file is required (or enable insecure host key mode)")
	// ErrUnexpectedOutput is returned when a helper command prints neither
	// of its expected sentinels.
	ErrUnexpectedOutput = errors.New("unexpected remote output")
)

// Output is the captured result of a remote command. Callers decide success
// from sentinel tokens in Stdout, never from an exit status.
type Output struct {
	Stdout string
	Stderr string
}

// FileInfo describes a remote file.
type FileInfo struct {
	Exists bool
	Size   int64
}

// Gateway runs commands and file operations on a media server.
type Gateway interface {
	Execute(ctx context.Context, serverID int64, cmd string) (Output, error)
	StatFile(ctx context.Context, serverID int64, path string) (FileInfo, error)
	// DeleteFile removes path, returning ErrNotFound if it does not exist.
	DeleteFile(ctx context.Context, serverID int64, path string) error
	UploadFile(ctx context.Context, serverID int64, localPath, remotePath string) error
	// EnsureDirectory creates path and its parents. It is idempotent.
	EnsureDirectory(ctx context.Context, serverID int64, path string) error
}

// Observer records gateway metrics. Implementations are provided by the
// metrics package to break the import cycle between remote and metrics.
type Observer interface {
	ObserveCall(operation string, durationSeconds float64, err error)
	ObserveRetryAttempt(operation string)
	ObserveRetrySuccess(operation string)
	ObserveRetryFailure(operation string)
}

// defaultObserver is the package-level observer set at startup.
// If nil, metric recording is silently skipped.
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
func SetObserver(o Observer) {
	defaultObserver = o
}

func observe() Observer {
	return defaultObserver
}
