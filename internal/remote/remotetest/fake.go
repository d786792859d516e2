// Package remotetest provides an in-memory remote.Gateway for tests.
package remotetest

import (
	"context"
	"os"
	"path"
	"sync"

	"media-converter/internal/remote"
)

// Operation names recorded in Call.Op.
const (
	OpExecute = "execute"
	OpStat    = "stat"
	OpDelete  = "delete"
	OpUpload  = "upload"
	OpMkdir   = "mkdir"
)

// Call is one recorded gateway invocation. Arg is the command for Execute,
// the remote path for every other operation.
type Call struct {
	Op       string
	ServerID int64
	Arg      string
}

// Fake is a scriptable gateway backed by an in-memory file table.
// ExecuteFunc, when set, answers Execute; it may call SetFile to simulate
// files produced by the command.
type Fake struct {
	ExecuteFunc func(ctx context.Context, f *Fake, serverID int64, cmd string) (remote.Output, error)

	StatErr   error
	DeleteErr error
	UploadErr error
	MkdirErr  error

	mu    sync.Mutex
	files map[string]int64
	dirs  map[string]bool
	calls []Call
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		files: make(map[string]int64),
		dirs:  make(map[string]bool),
	}
}

// SetFile creates or replaces a remote file of the given size.
func (f *Fake) SetFile(p string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = size
}

// HasFile reports whether a remote file exists.
func (f *Fake) HasFile(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

// HasDir reports whether EnsureDirectory was called for p.
func (f *Fake) HasDir(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[p]
}

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns the number of calls for op, or all calls when op is empty.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) record(op string, serverID int64, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, ServerID: serverID, Arg: arg})
}

func (f *Fake) Execute(ctx context.Context, serverID int64, cmd string) (remote.Output, error) {
	f.record(OpExecute, serverID, cmd)
	if f.ExecuteFunc == nil {
		return remote.Output{}, nil
	}
	return f.ExecuteFunc(ctx, f, serverID, cmd)
}

func (f *Fake) StatFile(_ context.Context, serverID int64, p string) (remote.FileInfo, error) {
	f.record(OpStat, serverID, p)
	if f.StatErr != nil {
		return remote.FileInfo{}, f.StatErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.files[p]
	return remote.FileInfo{Exists: ok, Size: size}, nil
}

func (f *Fake) DeleteFile(_ context.Context, serverID int64, p string) error {
	f.record(OpDelete, serverID, p)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[p]; !ok {
		return remote.ErrNotFound
	}
	delete(f.files, p)
	return nil
}

func (f *Fake) UploadFile(_ context.Context, serverID int64, localPath, remotePath string) error {
	f.record(OpUpload, serverID, remotePath)
	if f.UploadErr != nil {
		return f.UploadErr
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirs[path.Dir(remotePath)] {
		return remote.ErrNotFound
	}
	f.files[remotePath] = info.Size()
	return nil
}

func (f *Fake) EnsureDirectory(_ context.Context, serverID int64, p string) error {
	f.record(OpMkdir, serverID, p)
	if f.MkdirErr != nil {
		return f.MkdirErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path.Clean(p)] = true
	return nil
}
