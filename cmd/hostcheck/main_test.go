package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"media-converter/internal/database"
	"media-converter/internal/metrics"
	"media-converter/internal/remote"
	"media-converter/internal/remote/remotetest"
	"media-converter/internal/startup"
)

func TestPrintUsageContent(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)

	for _, want := range []string{"Usage: hostcheck", "servers", "check <id>", "status"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"check", "check"},
		{"status-2_x", "status-2_x"},
		{"rm -rf /", "rm_-rf__"},
		{"\x1b[31mred\n", "__31mred_"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeCommand(tt.in); got != tt.want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListServers(t *testing.T) {
	var buf bytes.Buffer
	listServers(&buf, map[int64]string{2: "media2:22", 1: "media1:2222"})

	want := "  1  media1:2222\n  2  media2:22\n"
	if buf.String() != want {
		t.Errorf("listServers =\n%q\nwant\n%q", buf.String(), want)
	}

	buf.Reset()
	listServers(&buf, nil)
	if !strings.Contains(buf.String(), "No servers configured") {
		t.Errorf("unexpected output for no servers: %q", buf.String())
	}
}

func TestRunChecksAllPass(t *testing.T) {
	gw := remotetest.New()
	gw.ExecuteFunc = func(context.Context, *remotetest.Fake, int64, string) (remote.Output, error) {
		return remote.Output{Stdout: checkOK + "\n"}, nil
	}

	var buf bytes.Buffer
	if !runChecks(context.Background(), gw, 1, "/content", &buf) {
		t.Fatalf("Expected all checks to pass:\n%s", buf.String())
	}
	if gw.Count(remotetest.OpExecute) != 3 {
		t.Errorf("Expected 3 remote commands, got %d", gw.Count(remotetest.OpExecute))
	}
	if strings.Contains(buf.String(), "[FAIL]") {
		t.Errorf("unexpected failure:\n%s", buf.String())
	}
}

func TestRunChecksReportsFailures(t *testing.T) {
	gw := remotetest.New()
	gw.ExecuteFunc = func(_ context.Context, _ *remotetest.Fake, _ int64, cmd string) (remote.Output, error) {
		switch {
		case strings.HasPrefix(cmd, "ffprobe"):
			return remote.Output{Stdout: checkFail + "\n"}, nil
		case strings.HasPrefix(cmd, "test -d"):
			return remote.Output{}, errors.New("connection reset")
		}
		return remote.Output{Stdout: checkOK + "\n"}, nil
	}

	var buf bytes.Buffer
	if runChecks(context.Background(), gw, 1, "/content", &buf) {
		t.Fatal("Expected checks to fail")
	}
	out := buf.String()
	if !strings.Contains(out, "[OK]   ffmpeg") {
		t.Errorf("ffmpeg should pass:\n%s", out)
	}
	if !strings.Contains(out, "ffprobe -version failed") {
		t.Errorf("ffprobe failure not reported:\n%s", out)
	}
	if !strings.Contains(out, "connection reset") {
		t.Errorf("gateway error not reported:\n%s", out)
	}
}

func TestHostChecksQuoteContentRoot(t *testing.T) {
	checks := hostChecks("/srv/it's here")
	last := checks[len(checks)-1]
	if !strings.Contains(last.cmd, `'/srv/it'\''s here'`) {
		t.Errorf("content root not quoted: %s", last.cmd)
	}
}

func TestCheckRejectsBadArguments(t *testing.T) {
	config := &startup.Config{ServerAddrs: map[int64]string{1: "media1:22"}}
	ctx := context.Background()

	if check(ctx, config, nil) {
		t.Error("Expected failure without a server id")
	}
	if check(ctx, config, []string{"abc"}) {
		t.Error("Expected failure for a non-numeric id")
	}
	if check(ctx, config, []string{"7"}) {
		t.Error("Expected failure for an unconfigured server")
	}
}

func TestStatusIntegration(t *testing.T) {
	dir := t.TempDir()
	config := &startup.Config{DatabaseDir: dir, DatabasePath: filepath.Join(dir, "media-converter.db")}

	db, err := database.New(context.Background(), config.DatabasePath, database.Options{})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := db.CreateAccount(context.Background(), "alice", 2500); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if !status(context.Background(), config) {
		t.Error("Expected status to succeed on an existing catalog")
	}

	missing := &startup.Config{DatabaseDir: "/nonexistent", DatabasePath: "/nonexistent/media-converter.db"}
	if status(context.Background(), missing) {
		t.Error("Expected status to fail without a database directory")
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, metrics.Stats{OriginalAssets: 3, ConvertedAssets: 1, UsedMB: 40, AllottedMB: 100, JobsInProgress: 2})

	for _, want := range []string{"Original videos:     3", "Storage:             40 / 100 MB", "Jobs in progress:    2"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}
