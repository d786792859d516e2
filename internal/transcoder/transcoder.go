package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"sync"

	"media-converter/internal/logging"
	"media-converter/internal/quality"
	"media-converter/internal/remote"
)

var (
	// ErrConversionFailed is returned when ffmpeg reports failure or prints
	// no verdict at all.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrProbeUnavailable is returned when ffprobe could not describe a file.
	ErrProbeUnavailable = errors.New("probe unavailable")
)

// Transcoder drives ffmpeg and ffprobe on media servers through a gateway,
// and ffprobe locally for freshly uploaded files.
type Transcoder struct {
	gateway     remote.Gateway
	retry       remote.RetryConfig
	ffprobePath string

	processes map[string]*exec.Cmd
	processMu sync.Mutex
}

// New creates a Transcoder. ffprobePath is the local binary used by
// ProbeLocal; an empty value means "ffprobe" from PATH.
func New(gateway remote.Gateway, retry remote.RetryConfig, ffprobePath string) *Transcoder {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Transcoder{
		gateway:     gateway,
		retry:       retry,
		ffprobePath: ffprobePath,
		processes:   make(map[string]*exec.Cmd),
	}
}

// VideoInfo is the subset of ffprobe output the catalog records.
type VideoInfo struct {
	DurationSeconds int    `json:"duration"`
	BitrateKbps     int    `json:"bitrate"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Format          string `json:"format"`
	Codec           string `json:"codec"`
}

// UnknownVideoInfo is recorded for files ffprobe cannot read.
func UnknownVideoInfo() *VideoInfo {
	return &VideoInfo{Format: "unknown", Codec: "unknown"}
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ParseProbe parses ffprobe JSON. Duration is truncated to whole seconds and
// the container bitrate converted to whole kbps. Output carrying the NO_PROBE
// sentinel, or that is not JSON, yields ErrProbeUnavailable.
func ParseProbe(stdout string) (*VideoInfo, error) {
	if remote.HasSentinel(stdout, remote.NoProbe) {
		return nil, ErrProbeUnavailable
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}

	info := &VideoInfo{Format: "unknown", Codec: "unknown"}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		info.DurationSeconds = int(math.Floor(d))
	}
	if b, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil && b > 0 {
		info.BitrateKbps = int(b / 1000)
	}
	if out.Format.FormatName != "" {
		info.Format = out.Format.FormatName
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}

// OutputPath returns where a conversion of input with preset p is written:
// same directory, "<stem>_<preset>.mp4", or "<stem>_<bitrate>k.mp4" for
// custom settings.
func OutputPath(input string, p quality.Preset) string {
	dir, file := path.Split(input)
	stem := strings.TrimSuffix(file, path.Ext(file))

	suffix := p.Name
	if p.IsCustom() {
		suffix = fmt.Sprintf("%dk", p.BitrateKbps)
	}
	return dir + stem + "_" + suffix + ".mp4"
}

// TranscodeCommand builds the single composite ffmpeg invocation. It prints
// CONVERSION_SUCCESS or CONVERSION_ERROR.
func TranscodeCommand(input, output string, p quality.Preset) string {
	return fmt.Sprintf(
		"ffmpeg -i %s -c:v libx264 -preset medium -crf %d -b:v %dk -maxrate %dk -bufsize %dk "+
			"-vf %s -c:a aac -b:a 128k -movflags +faststart %s -y 2>/dev/null && echo %s || echo %s",
		remote.Quote(input), p.CRF, p.BitrateKbps, p.BitrateKbps, p.BitrateKbps*2,
		remote.Quote("scale="+p.Resolution.String()), remote.Quote(output),
		remote.ConversionSuccess, remote.ConversionError,
	)
}

// ProbeCommand builds the ffprobe invocation. It prints NO_PROBE on failure.
func ProbeCommand(file string) string {
	return fmt.Sprintf("ffprobe -v quiet -print_format json -show_format -show_streams %s 2>/dev/null || echo %s",
		remote.Quote(file), remote.NoProbe)
}

// Transcode runs ffmpeg on the server and waits for its verdict. Gateway
// errors, including context cancellation, are returned as-is.
func (t *Transcoder) Transcode(ctx context.Context, serverID int64, input, output string, p quality.Preset) error {
	logging.Info("Transcoding %s -> %s (%s, %d kbps) on server %d", input, output, p.Name, p.BitrateKbps, serverID)

	out, err := t.gateway.Execute(ctx, serverID, TranscodeCommand(input, output, p))
	if err != nil {
		return err
	}

	switch status := remote.ParseSentinel(out.Stdout, remote.ConversionSuccess, remote.ConversionError); status {
	case remote.StatusSuccess:
		return nil
	case remote.StatusFailure:
		return fmt.Errorf("%w: ffmpeg reported an error", ErrConversionFailed)
	default:
		return fmt.Errorf("%w: ffmpeg printed no verdict", ErrConversionFailed)
	}
}

// Stat returns the size of a remote file and whether it exists.
func (t *Transcoder) Stat(ctx context.Context, serverID int64, file string) (remote.FileInfo, error) {
	return t.gateway.StatFile(ctx, serverID, file)
}

// Probe runs ffprobe on a remote file. Transport errors are retried;
// ErrProbeUnavailable means the file could not be described.
func (t *Transcoder) Probe(ctx context.Context, serverID int64, file string) (*VideoInfo, error) {
	var out remote.Output
	err := remote.Retry(ctx, t.retry, "probe", func() error {
		var err error
		out, err = t.gateway.Execute(ctx, serverID, ProbeCommand(file))
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseProbe(out.Stdout)
}

// ProbeLocal runs ffprobe on a local file.
func (t *Transcoder) ProbeLocal(ctx context.Context, file string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		file,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.processMu.Lock()
	t.processes[file] = cmd
	t.processMu.Unlock()

	defer func() {
		t.processMu.Lock()
		delete(t.processes, file)
		t.processMu.Unlock()
	}()

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffprobe error: %v - %s", ErrProbeUnavailable, err, stderr.String())
	}
	return ParseProbe(stdout.String())
}

// Cleanup stops all running local probes.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	for file, cmd := range t.processes {
		if cmd.Process != nil {
			logging.Info("Killing ffprobe process for: %s", file)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill ffprobe process for %s: %v", file, err)
			}
		}
	}
}

// Discard removes a partial or orphaned output file. A missing file is not an
// error.
func (t *Transcoder) Discard(ctx context.Context, serverID int64, file string) error {
	err := t.gateway.DeleteFile(ctx, serverID, file)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	return nil
}
