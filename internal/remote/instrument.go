package remote

import (
	"context"
	"time"

	"media-converter/internal/logging"
)

type instrumented struct {
	next Gateway
}

// Instrument wraps gw so that every call is timed and reported to the
// package observer.
func Instrument(gw Gateway) Gateway {
	return &instrumented{next: gw}
}

func record(operation string, serverID int64, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		logging.Debug("Gateway %s on server %d failed after %v: %v", operation, serverID, elapsed, err)
	}
	if o := observe(); o != nil {
		o.ObserveCall(operation, elapsed.Seconds(), err)
	}
}

func (i *instrumented) Execute(ctx context.Context, serverID int64, cmd string) (Output, error) {
	start := time.Now()
	out, err := i.next.Execute(ctx, serverID, cmd)
	record("execute", serverID, start, err)
	return out, err
}

func (i *instrumented) StatFile(ctx context.Context, serverID int64, path string) (FileInfo, error) {
	start := time.Now()
	info, err := i.next.StatFile(ctx, serverID, path)
	record("stat", serverID, start, err)
	return info, err
}

func (i *instrumented) DeleteFile(ctx context.Context, serverID int64, path string) error {
	start := time.Now()
	err := i.next.DeleteFile(ctx, serverID, path)
	record("delete", serverID, start, err)
	return err
}

func (i *instrumented) UploadFile(ctx context.Context, serverID int64, localPath, remotePath string) error {
	start := time.Now()
	err := i.next.UploadFile(ctx, serverID, localPath, remotePath)
	record("upload", serverID, start, err)
	return err
}

func (i *instrumented) EnsureDirectory(ctx context.Context, serverID int64, path string) error {
	start := time.Now()
	err := i.next.EnsureDirectory(ctx, serverID, path)
	record("mkdir", serverID, start, err)
	return err
}
