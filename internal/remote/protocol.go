package remote

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentinel tokens echoed by remote commands.
const (
	ConversionSuccess = "CONVERSION_SUCCESS"
	ConversionError   = "CONVERSION_ERROR"
	NoProbe           = "NO_PROBE"

	fileMissing = "NOT_FOUND"
	fileDeleted = "DELETED"
	dirReady    = "DIR_READY"
	uploadDone  = "UPLOAD_OK"
)

// Status is the outcome signalled by a pair of sentinels.
type Status int

const (
	// StatusUnknown means neither sentinel was printed.
	StatusUnknown Status = iota
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// HasSentinel reports whether token appears as a whole line of stdout.
func HasSentinel(stdout, token string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == token {
			return true
		}
	}
	return false
}

// ParseSentinel reads the last sentinel printed in stdout. The last one wins
// so that noise from the wrapped command cannot mask the final verdict.
func ParseSentinel(stdout, success, failure string) Status {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		switch strings.TrimSpace(lines[i]) {
		case success:
			return StatusSuccess
		case failure:
			return StatusFailure
		}
	}
	return StatusUnknown
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StatCommand prints the size of path in bytes, or NOT_FOUND.
func StatCommand(path string) string {
	return fmt.Sprintf("stat -c%%s %s 2>/dev/null || echo %s", Quote(path), fileMissing)
}

// ParseStat interprets the output of StatCommand.
func ParseStat(stdout string) (FileInfo, error) {
	out := strings.TrimSpace(stdout)
	if HasSentinel(out, fileMissing) {
		return FileInfo{}, nil
	}
	size, err := strconv.ParseInt(out, 10, 64)
	if err != nil || size < 0 {
		return FileInfo{}, fmt.Errorf("%w: stat printed %q", ErrUnexpectedOutput, out)
	}
	return FileInfo{Exists: true, Size: size}, nil
}

// DeleteCommand removes a regular file and reports DELETED or NOT_FOUND.
func DeleteCommand(path string) string {
	q := Quote(path)
	return fmt.Sprintf("if [ -e %s ]; then rm -f -- %s && echo %s; else echo %s; fi", q, q, fileDeleted, fileMissing)
}

// ParseDelete interprets the output of DeleteCommand.
func ParseDelete(stdout string) error {
	switch ParseSentinel(stdout, fileDeleted, fileMissing) {
	case StatusSuccess:
		return nil
	case StatusFailure:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: delete printed %q", ErrUnexpectedOutput, strings.TrimSpace(stdout))
	}
}

// MkdirCommand creates path and its parents.
func MkdirCommand(path string) string {
	return fmt.Sprintf("mkdir -p -- %s && echo %s", Quote(path), dirReady)
}

// UploadCommand writes stdin to path.
func UploadCommand(path string) string {
	return fmt.Sprintf("cat > %s && echo %s", Quote(path), uploadDone)
}

func expectSentinel(op, stdout, token string) error {
	if HasSentinel(stdout, token) {
		return nil
	}
	return fmt.Errorf("%w: %s printed %q", ErrUnexpectedOutput, op, strings.TrimSpace(stdout))
}
